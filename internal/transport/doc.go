// Package transport implements the authenticated peer-to-peer HTTPS client.
//
// A request is sent either directly to a physical host:port or through the
// SOCKS4a port of a local anonymity-network process, which then reaches a
// hidden service by hostname. In both cases the stream is secured with mutual
// TLS in which each side trusts an explicit, exact set of peer certificates.
// There is no certificate authority and no hostname verification.
//
// The building blocks are composed rather than layered by inheritance:
//
//   - Dialer opens the raw stream (proxy.Direct or Socks4aDialer)
//   - Upgrader turns it into a pinned TLS stream (PinnedUpgrader)
//   - Transport.Do drives one HTTP exchange over it
//
// Every Do call owns its connection manager and releases it before
// returning, whether the call succeeded or not. Failures are *Error values
// carrying a Kind; match them with errors.Is against ErrTLSRejected,
// ErrTunnelRejected, ErrTimeout and the other sentinels.
//
// # Usage
//
//	tr := transport.New(transport.WithLogger(logger))
//	creds := transport.Credentials{Certificate: cert, Peers: trust}
//	target := transport.TunneledTarget("xyz...onion", 443, socksPort)
//	body, err := tr.GetString(ctx, creds, target, "/status", nil)
//	if errors.Is(err, transport.ErrTunnelRejected) {
//	    // the proxy refused the circuit
//	}
package transport
