// Package tor runs the anonymity-network side of a peer: a Tor daemon that
// exposes a client SOCKS port and publishes one private v3 hidden service.
//
// The daemon is launched through tornago. Publishing uses the control port
// directly because the service key is fixed by the peer's identity and the
// service admits only clients that hold its auth cookie. Both halves of the
// v3 client-authorization key pair are derived from that cookie, so the
// service and a friend that was handed the cookie agree without exchanging
// keys.
//
// A Service is started in the background; AwaitStarted blocks until the
// daemon is bootstrapped and its SOCKS port answers a SOCKS4a probe.
package tor
