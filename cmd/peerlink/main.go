// Package main provides the entry point for the peerlink CLI.
//
// peerlink runs a conformance scenario for peer-to-peer messaging over
// anonymity-network hidden services: pinned mutual TLS, SOCKS4a tunnels and
// client-authorized services. It also issues one-shot calls to configured
// peers.
//
// Usage:
//
//	peerlink run --network sim
//	peerlink get <peer> <path>
//
// See --help for all available options.
package main

func main() {
	Execute()
}
