package config

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrPeerNotFound is returned when a peer name is not in the peers file.
	ErrPeerNotFound = errors.New("peer not found in configuration file")

	// ErrInvalidPeer is returned when a peer entry cannot be called.
	ErrInvalidPeer = errors.New("invalid peer")
)

// PeerConfig describes how to reach one remote participant.
type PeerConfig struct {
	// Hostname is the peer's hidden-service hostname.
	Hostname string `yaml:"hostname,omitempty"`

	// Certificate is the path of the peer's PEM certificate. It is the only
	// certificate trusted when talking to this peer.
	Certificate string `yaml:"certificate,omitempty"`

	// AuthCookie is the cookie the peer issued for its hidden service.
	AuthCookie string `yaml:"authCookie,omitempty"`

	// Address is a host:port reachable without a tunnel. When set and
	// ProxyPort is zero, calls go direct.
	Address string `yaml:"address,omitempty"`

	// ProxyPort is the local SOCKS port to tunnel through.
	ProxyPort int `yaml:"proxyPort,omitempty"`

	// VirtualPort overrides the hidden-service port.
	VirtualPort int `yaml:"virtualPort,omitempty"`
}

// File represents the structure of the .peerlink peers file.
type File struct {
	// Identity is the directory of this node's key material.
	Identity string `yaml:"identity,omitempty"`

	// Peers maps peer names to how they are reached.
	Peers map[string]PeerConfig `yaml:"peers,omitempty"`

	// Defaults apply to every peer unless overridden.
	Defaults PeerConfig `yaml:"defaults,omitempty"`
}

// GetPeerConfig returns the configuration for a peer merged over the
// defaults. A peer that sets its own Address does not inherit the default
// ProxyPort.
func (cf *File) GetPeerConfig(name string) (PeerConfig, error) {
	peer, ok := cf.Peers[name]
	if !ok {
		return PeerConfig{}, ErrPeerNotFound
	}

	result := cf.Defaults
	if peer.Hostname != "" {
		result.Hostname = peer.Hostname
	}
	if peer.Certificate != "" {
		result.Certificate = peer.Certificate
	}
	if peer.AuthCookie != "" {
		result.AuthCookie = peer.AuthCookie
	}
	if peer.Address != "" {
		// A peer with its own address is direct unless it names a proxy.
		result.Address = peer.Address
		result.ProxyPort = 0
	}
	if peer.ProxyPort != 0 {
		result.ProxyPort = peer.ProxyPort
	}
	if peer.VirtualPort != 0 {
		result.VirtualPort = peer.VirtualPort
	}
	return result, nil
}

// PeerNames returns the names of all configured peers, sorted.
func (cf *File) PeerNames() []string {
	names := make([]string, 0, len(cf.Peers))
	for name := range cf.Peers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks every peer, merged over the defaults, names a certificate
// and a hostname or an address.
func (cf *File) Validate() error {
	for _, name := range cf.PeerNames() {
		p, err := cf.GetPeerConfig(name)
		if err != nil {
			return err
		}
		if p.Certificate == "" {
			return fmt.Errorf("%w %s: no certificate", ErrInvalidPeer, name)
		}
		if p.Hostname == "" && p.Address == "" {
			return fmt.Errorf("%w %s: needs a hostname or an address", ErrInvalidPeer, name)
		}
		if p.ProxyPort < 0 || p.ProxyPort > 65535 || p.VirtualPort < 0 || p.VirtualPort > 65535 {
			return fmt.Errorf("%w %s: port out of range", ErrInvalidPeer, name)
		}
	}
	return nil
}
