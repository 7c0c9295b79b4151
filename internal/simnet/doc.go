// Package simnet is an in-process stand-in for the Tor network.
//
// A Registry plays the role of the hidden-service directory: services become
// reachable a configurable delay after they are published, and only to
// clients holding the service's auth cookie. Each Node publishes one service
// and runs a SOCKS4a proxy on loopback that relays to the services in its
// ServiceSpec.Auths. Nodes take the same tor.ServiceSpec and have the same
// lifecycle as tor.Service, so a conformance run can use either.
package simnet
