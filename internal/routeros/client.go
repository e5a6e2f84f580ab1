// Package routeros implements the thin Router Client: one authenticated
// RouterOS binary API session per invocation, the few RPCs the poller needs
// and a small error taxonomy on top.
//
// Sessions are deliberately short-lived. The scheduler opens one connection
// per poll cycle and closes it afterwards; flaky embedded-device firmware
// tolerates that far better than long-lived connection pools.
package routeros

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	ros "github.com/go-routeros/routeros"
	"github.com/mikronoc/mikronoc/internal/model"
)

// PasswordDecrypter decrypts credentials stored encrypted at rest. A nil
// decrypter treats stored passwords as plaintext (tests, demo mode).
type PasswordDecrypter interface {
	DecryptString(ciphertext string) (string, error)
}

// Dialer opens authenticated sessions to routers. It owns no connections;
// every Fetch* call dials, runs its RPCs and closes.
type Dialer struct {
	decrypter PasswordDecrypter
	timeout   time.Duration
	logger    *slog.Logger
}

// NewDialer creates a Dialer with the given per-call timeout.
func NewDialer(decrypter PasswordDecrypter, timeout time.Duration, logger *slog.Logger) *Dialer {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &Dialer{
		decrypter: decrypter,
		timeout:   timeout,
		logger:    logger.With("component", "routeros"),
	}
}

// session is one live authenticated connection.
type session struct {
	cl   *ros.Client
	conn net.Conn
}

func (s *session) close() {
	s.cl.Close()
}

// connect dials, optionally wraps in TLS, and logs in. The connection
// deadline is derived from ctx so a hung device cannot stall the caller
// beyond its own timeout.
func (d *Dialer) connect(ctx context.Context, r *model.Router) (*session, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(callCtx, "tcp", r.Address())
	if err != nil {
		return nil, newError(KindConnection, "connect", err)
	}

	deadline, ok := callCtx.Deadline()
	if !ok {
		deadline = time.Now().Add(d.timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, newError(KindConnection, "connect", err)
	}

	if r.UseTLS {
		// RouterOS API-SSL almost always runs with a self-signed
		// certificate, so verification is skipped like every MikroTik
		// tool does for this port.
		tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
		if err := tlsConn.HandshakeContext(callCtx); err != nil {
			conn.Close()
			return nil, newError(KindConnection, "tls handshake", err)
		}
		conn = tlsConn
	}

	cl, err := ros.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, newError(KindProtocol, "handshake", err)
	}

	password := r.Password
	if d.decrypter != nil {
		password, err = d.decrypter.DecryptString(r.Password)
		if err != nil {
			cl.Close()
			return nil, newError(KindAuth, "decrypt credentials", err)
		}
	}

	if err := cl.Login(r.Username, password); err != nil {
		cl.Close()
		if isDeviceError(err) {
			return nil, newError(KindAuth, "login", err)
		}
		return nil, newError(KindConnection, "login", err)
	}

	return &session{cl: cl, conn: conn}, nil
}

func isDeviceError(err error) bool {
	_, ok := err.(*ros.DeviceError)
	return ok
}

// run executes one command sentence and classifies failures.
func (s *session) run(op string, sentence ...string) (*ros.Reply, error) {
	reply, err := s.cl.Run(sentence...)
	if err != nil {
		if isDeviceError(err) {
			return nil, newError(KindProtocol, op, err)
		}
		return nil, newError(KindConnection, op, err)
	}
	return reply, nil
}

// FetchSnapshot polls identity, system resources and the interface table in
// one short-lived session. Latency is the session establishment time, which
// tracks network round-trip far better than total transfer time.
func (d *Dialer) FetchSnapshot(ctx context.Context, r *model.Router) (*model.RouterSnapshot, error) {
	start := time.Now()
	sess, err := d.connect(ctx, r)
	if err != nil {
		return nil, err
	}
	defer sess.close()
	latency := time.Since(start)

	identity, err := d.fetchIdentity(sess)
	if err != nil {
		return nil, err
	}

	reply, err := sess.run("system resource", "/system/resource/print")
	if err != nil {
		return nil, err
	}
	if len(reply.Re) == 0 {
		return nil, newError(KindProtocol, "system resource", fmt.Errorf("empty reply"))
	}
	resource := parseSystemResource(reply.Re[0].Map)

	ifReply, err := sess.run("interface list", "/interface/print")
	if err != nil {
		return nil, err
	}

	snap := &model.RouterSnapshot{
		Identity:   identity,
		RosVersion: resource.Version,
		Resource:   resource,
		Latency:    latency,
	}
	for _, re := range ifReply.Re {
		snap.Interfaces = append(snap.Interfaces, parseInterfaceStatus(re.Map))
		snap.Counters = append(snap.Counters, parseInterfaceCounters(re.Map))
	}

	d.logger.Debug("snapshot fetched",
		"router_id", r.ID,
		"identity", identity,
		"interfaces", len(snap.Interfaces),
		"latency_ms", latency.Milliseconds(),
	)

	return snap, nil
}

// FetchCounters fetches raw cumulative byte counters for the named
// interfaces. An empty names slice returns all interfaces.
func (d *Dialer) FetchCounters(ctx context.Context, r *model.Router, names []string) ([]model.InterfaceCounters, error) {
	sess, err := d.connect(ctx, r)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	reply, err := sess.run("interface counters", "/interface/print")
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	counters := make([]model.InterfaceCounters, 0, len(reply.Re))
	for _, re := range reply.Re {
		c := parseInterfaceCounters(re.Map)
		if len(wanted) > 0 && !wanted[c.Name] {
			continue
		}
		counters = append(counters, c)
	}
	return counters, nil
}

func (d *Dialer) fetchIdentity(sess *session) (string, error) {
	reply, err := sess.run("identity", "/system/identity/print")
	if err != nil {
		return "", err
	}
	if len(reply.Re) == 0 {
		return "", newError(KindProtocol, "identity", fmt.Errorf("empty reply"))
	}
	return reply.Re[0].Map["name"], nil
}
