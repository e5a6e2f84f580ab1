// Package probe runs pre-provisioning reachability checks: a TCP dial
// against the RouterOS API port and an optional SNMP identity probe. Probes
// never use the stored credentials; they answer "is something listening
// there" before the router joins the polling set.
package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/mikronoc/mikronoc/internal/model"
)

const sysDescrOID = "1.3.6.1.2.1.1.1.0"

// Result is the outcome of one probe.
type Result struct {
	Reachable  bool          `json:"reachable"`
	Method     string        `json:"method"`
	Latency    time.Duration `json:"-"`
	LatencyMS  int64         `json:"latency_ms"`
	SysDescr   string        `json:"sys_descr,omitempty"`
	IsMikroTik bool          `json:"is_mikrotik"`
	Error      string        `json:"error,omitempty"`
}

// TCP dials the router's API port and reports reachability and dial latency.
func TCP(ctx context.Context, r *model.Router, timeout time.Duration) *Result {
	target := r.Address()
	start := time.Now()

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return &Result{Method: "tcp", Error: fmt.Sprintf("dial %s: %v", target, err)}
	}
	conn.Close()

	latency := time.Since(start)
	return &Result{
		Reachable: true,
		Method:    "tcp",
		Latency:   latency,
		LatencyMS: latency.Milliseconds(),
	}
}

// SNMP reads sysDescr over SNMPv2c and reports whether the device identifies
// as RouterOS. Most MikroTik devices ship with SNMP disabled, so a failed
// SNMP probe is informational, never a verification failure.
func SNMP(ctx context.Context, host, community string, timeout time.Duration) *Result {
	if community == "" {
		community = "public"
	}
	g := &gosnmp.GoSNMP{
		Target:    host,
		Port:      161,
		Version:   gosnmp.Version2c,
		Community: community,
		Timeout:   timeout,
		Context:   ctx,
	}

	if err := g.Connect(); err != nil {
		return &Result{Method: "snmp", Error: fmt.Sprintf("snmp connect: %v", err)}
	}
	defer g.Close()

	start := time.Now()
	pkt, err := g.Get([]string{sysDescrOID})
	if err != nil {
		return &Result{Method: "snmp", Error: fmt.Sprintf("snmp get sysDescr: %v", err)}
	}
	latency := time.Since(start)

	var sysDescr string
	if len(pkt.Variables) > 0 {
		switch v := pkt.Variables[0].Value.(type) {
		case []byte:
			sysDescr = string(v)
		default:
			sysDescr = fmt.Sprintf("%v", v)
		}
	}

	return &Result{
		Reachable:  true,
		Method:     "snmp",
		Latency:    latency,
		LatencyMS:  latency.Milliseconds(),
		SysDescr:   sysDescr,
		IsMikroTik: IsRouterOS(sysDescr),
	}
}

// IsRouterOS reports whether a sysDescr string identifies a RouterOS device.
func IsRouterOS(sysDescr string) bool {
	s := strings.ToLower(sysDescr)
	return strings.Contains(s, "routeros") || strings.Contains(s, "mikrotik")
}
