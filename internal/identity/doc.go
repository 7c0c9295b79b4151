// Package identity creates and stores the key material of one participant:
// a self-signed TLS certificate used for pinned mutual TLS, and the ed25519
// key and auth cookie of its private hidden service.
//
// The certificate's common name is the hidden-service hostname. The signed
// PublicIdentity is what a participant hands to a friend; its signature is
// made with the hidden-service key, so it verifies against the hostname
// alone.
package identity
