// Package config provides the run configuration of peerlink and the peers
// file that names the remote participants one-shot requests can reach.
package config
