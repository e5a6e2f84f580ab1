package routeros

import (
	"errors"
	"fmt"
)

// ErrorKind classifies client failures so the scheduler can distinguish
// "device unreachable" from "bad credentials" from "firmware said something
// we did not expect".
type ErrorKind int

const (
	// KindConnection covers dial timeouts, refused connections and broken
	// sessions. Transient: drives scheduler backoff.
	KindConnection ErrorKind = iota
	// KindAuth covers login rejections. Persistent until credentials change.
	KindAuth
	// KindProtocol covers traps and malformed or unexpected replies.
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuth:
		return "auth"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error wraps a client failure with its classification and the operation
// that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("routeros: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func kindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// IsConnectionError reports whether err is a transient connection failure.
func IsConnectionError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConnection
}

// IsAuthError reports whether err is a credential rejection.
func IsAuthError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAuth
}

// IsProtocolError reports whether err is a malformed or unexpected response.
func IsProtocolError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindProtocol
}
