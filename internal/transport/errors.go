package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Kind classifies a transport failure.
// The set is closed: every error returned by this package carries exactly
// one Kind, and callers branch on it with errors.Is against the sentinels
// below instead of inspecting error text.
type Kind int

const (
	// KindArgument is a caller mistake: bad port, unknown method, missing body.
	KindArgument Kind = iota + 1

	// KindTLSRejected means the TLS handshake failed for trust reasons,
	// either locally (peer certificate not pinned) or remotely (our
	// certificate was refused).
	KindTLSRejected

	// KindTunnelRejected means the SOCKS4a proxy refused the CONNECT request.
	KindTunnelRejected

	// KindTimeout means a connect or read deadline expired.
	KindTimeout

	// KindProtocol means the peer answered but not with status 200.
	KindProtocol

	// KindIO is any other socket or stream failure.
	KindIO
)

// String returns a short, stable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindArgument:
		return "argument"
	case KindTLSRejected:
		return "tls_rejected"
	case KindTunnelRejected:
		return "tunnel_rejected"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Sentinel returns the sentinel error matching this kind.
func (k Kind) Sentinel() error {
	switch k {
	case KindArgument:
		return ErrArgument
	case KindTLSRejected:
		return ErrTLSRejected
	case KindTunnelRejected:
		return ErrTunnelRejected
	case KindTimeout:
		return ErrTimeout
	case KindProtocol:
		return ErrProtocol
	case KindIO:
		return ErrIO
	default:
		return nil
	}
}

// Failure sentinels. Match with errors.Is.
var (
	// ErrArgument is matched by failures caused by invalid caller input.
	ErrArgument = errors.New("invalid argument")

	// ErrTLSRejected is matched when the peer and local certificates could
	// not be mutually accepted.
	ErrTLSRejected = errors.New("No peer certificate accepted")

	// ErrTunnelRejected is matched when the SOCKS4a proxy refused the tunnel.
	ErrTunnelRejected = errors.New("SOCKS4a connect failed")

	// ErrTimeout is matched when a connect or read timeout expired.
	ErrTimeout = errors.New("timed out")

	// ErrProtocol is matched when the response status was not 200.
	ErrProtocol = errors.New("unexpected response")

	// ErrIO is matched by any other socket or stream failure.
	ErrIO = errors.New("i/o failure")
)

// Error is the structured failure returned by every transport operation.
type Error struct {
	// Component names the part of the stack that failed, e.g. "socks4a",
	// "tls" or "http".
	Component string

	// Kind is the failure classification.
	Kind Kind

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Component + ": " + e.Kind.Sentinel().Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.Sentinel()
}

// newError builds an *Error. A nil cause is allowed.
func newError(component string, kind Kind, err error) *Error {
	return &Error{Component: component, Kind: kind, Err: err}
}

// argumentError builds a KindArgument error from a formatted message.
func argumentError(format string, args ...any) *Error {
	return newError("request", KindArgument, fmt.Errorf(format, args...))
}

// KindOf returns the Kind carried by err, or zero when err is nil or not a
// transport failure.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// errUntrustedPeer is returned from VerifyPeerCertificate when the presented
// certificate is not in the trust set.
var errUntrustedPeer = errors.New("peer certificate is not in the trust set")

// errNoPeerCertificate is returned from VerifyPeerCertificate when the peer
// sent no certificate at all.
var errNoPeerCertificate = errors.New("peer presented no certificate")

// classify wraps err into an *Error tagged with component. Errors that are
// already classified pass through unchanged so the innermost component wins.
func classify(component string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}

	switch {
	case errors.Is(err, errUntrustedPeer), errors.Is(err, errNoPeerCertificate):
		return newError(component, KindTLSRejected, err)
	case isRemoteCertificateAlert(err):
		return newError(component, KindTLSRejected, err)
	case isTimeout(err):
		return newError(component, KindTimeout, err)
	default:
		return newError(component, KindIO, err)
	}
}

// isTimeout reports whether err is a deadline expiry of any flavour.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isRemoteCertificateAlert reports whether err is a TLS alert sent by the
// peer because it refused our certificate. With TLS 1.3 the client finishes
// its handshake before the server has checked the client certificate, so the
// alert shows up on the first read rather than from Handshake.
func isRemoteCertificateAlert(err error) bool {
	var alert tls.AlertError
	if errors.As(err, &alert) {
		return strings.Contains(alert.Error(), "certificate")
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "remote error" && opErr.Err != nil {
		return strings.Contains(opErr.Err.Error(), "certificate")
	}
	return false
}
