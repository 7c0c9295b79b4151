// Package harness is the end-to-end conformance run for the transport and
// its collaborators.
//
// A run creates four participants. self and friend trust each other and each
// run a listener with a mock request handler; otherFriend is trusted by both
// listeners but runs nothing; unfriendly is trusted by no one. The phases,
// in order:
//
//	identities     key material for every participant
//	listeners      mock handler and pinned-TLS listener for self and friend
//	direct         repeated GET and POST over loopback, both directions
//	tunnels        start each trusting participant's network process
//	await-publish  poll tunneled GETs until both hidden services answer
//	tunneled       repeated tunneled GETs, bodies equal to the direct ones
//	negative-cert  tunneled GET as unfriendly, must fail TLS rejected
//	reconfigure    restart friend's network with a wrong auth cookie
//	negative-auth  tunneled GET from friend, must fail tunnel rejected
//
// Whatever happens, teardown stops every started network, then every
// listener, then every handler pool, each exactly once.
//
// Batch repeats whole runs with bounded concurrency, each on a fresh
// Harness. Schedule postpones a run by a settle delay and can cancel it
// until it starts.
package harness
