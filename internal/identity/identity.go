package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/nao1215/peerlink/internal/tor"
	"github.com/nao1215/peerlink/internal/transport"
)

// certificateLifetime is how long a generated TLS certificate is valid.
// Peers pin the exact certificate, so expiry only matters to tooling that
// inspects it.
const certificateLifetime = 20 * 365 * 24 * time.Hour

// Identity errors.
var (
	// ErrInvalidIdentity is returned when key material is incomplete.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrBadSignature is returned when a public identity's signature does
	// not verify against its hostname.
	ErrBadSignature = errors.New("public identity signature does not verify")
)

// KeyMaterial is everything one participant needs: a TLS certificate and
// key for pinned mutual TLS, and the key and cookie behind its private
// hidden service.
type KeyMaterial struct {
	// Nickname is a display name.
	Nickname string

	// Certificate is the self-signed TLS certificate and its private key.
	Certificate tls.Certificate

	// HiddenServiceKey is the ed25519 key the hidden service is published with.
	HiddenServiceKey ed25519.PrivateKey

	// Hostname is the onion hostname derived from HiddenServiceKey.
	Hostname string

	// AuthCookie is what a friend needs to reach the hidden service.
	AuthCookie string
}

// Generate creates fresh key material. The TLS certificate's common name is
// the hidden-service hostname.
func Generate(nickname string) (*KeyMaterial, error) {
	_, serviceKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate hidden service key: %w", err)
	}
	hostname, err := tor.AddressFromServiceKey(serviceKey)
	if err != nil {
		return nil, err
	}
	cookie, err := tor.NewAuthCookie()
	if err != nil {
		return nil, err
	}
	cert, err := newCertificate(hostname)
	if err != nil {
		return nil, err
	}

	return &KeyMaterial{
		Nickname:         nickname,
		Certificate:      cert,
		HiddenServiceKey: serviceKey,
		Hostname:         hostname,
		AuthCookie:       cookie,
	}, nil
}

// newCertificate creates a self-signed ed25519 certificate for commonName,
// usable by both sides of a mutual TLS handshake.
func newCertificate(commonName string) (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate TLS key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(certificateLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{commonName},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: leaf}, nil
}

// Validate checks that every field is present and consistent.
func (k *KeyMaterial) Validate() error {
	if k == nil {
		return fmt.Errorf("%w: nil key material", ErrInvalidIdentity)
	}
	if k.Leaf() == nil || k.Certificate.PrivateKey == nil {
		return fmt.Errorf("%w: missing TLS certificate or key", ErrInvalidIdentity)
	}
	hostname, err := tor.AddressFromServiceKey(k.HiddenServiceKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	if hostname != k.Hostname {
		return fmt.Errorf("%w: hostname does not match hidden service key", ErrInvalidIdentity)
	}
	if err := tor.ValidateAuthCookie(k.AuthCookie); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	return nil
}

// Leaf returns the parsed TLS certificate.
func (k *KeyMaterial) Leaf() *x509.Certificate {
	if k.Certificate.Leaf != nil {
		return k.Certificate.Leaf
	}
	if len(k.Certificate.Certificate) == 0 {
		return nil
	}
	leaf, err := x509.ParseCertificate(k.Certificate.Certificate[0])
	if err != nil {
		return nil
	}
	k.Certificate.Leaf = leaf
	return leaf
}

// ID returns the peer id other participants know this identity by: the hex
// SHA-256 of its certificate.
func (k *KeyMaterial) ID() string {
	leaf := k.Leaf()
	if leaf == nil {
		return ""
	}
	return transport.CertificateID(leaf.Raw)
}

// Credentials pairs this identity's certificate with the peers it trusts.
func (k *KeyMaterial) Credentials(peers ...*x509.Certificate) (transport.Credentials, error) {
	trust, err := transport.NewTrustSet(peers...)
	if err != nil {
		return transport.Credentials{}, err
	}
	return transport.Credentials{Certificate: k.Certificate, Peers: trust}, nil
}

// ServiceAuth is what a friend configures to reach this identity's service.
func (k *KeyMaterial) ServiceAuth() tor.HiddenServiceAuth {
	return tor.HiddenServiceAuth{Hostname: k.Hostname, Cookie: k.AuthCookie}
}

// PublicIdentity is the part of an identity that is handed to friends. It
// is signed with the hidden-service key, so anyone holding the hostname can
// check that the certificate and cookie belong to it.
type PublicIdentity struct {
	Nickname    string `yaml:"nickname"    json:"nickname"`
	Certificate []byte `yaml:"certificate" json:"certificate"`
	Hostname    string `yaml:"hostname"    json:"hostname"`
	AuthCookie  string `yaml:"authCookie"  json:"auth_cookie"`
	Signature   []byte `yaml:"signature"   json:"signature"`
}

// Public returns the signed public identity.
func (k *KeyMaterial) Public() (*PublicIdentity, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	p := &PublicIdentity{
		Nickname:    k.Nickname,
		Certificate: bytes.Clone(k.Leaf().Raw),
		Hostname:    k.Hostname,
		AuthCookie:  k.AuthCookie,
	}
	p.Signature = ed25519.Sign(k.HiddenServiceKey, p.signedBytes())
	return p, nil
}

// signedBytes is the message covered by the signature.
func (p *PublicIdentity) signedBytes() []byte {
	var buf bytes.Buffer
	for _, field := range [][]byte{
		[]byte("peerlink public identity v1"),
		[]byte(p.Nickname),
		p.Certificate,
		[]byte(p.Hostname),
		[]byte(p.AuthCookie),
	} {
		fmt.Fprintf(&buf, "%d:", len(field))
		buf.Write(field)
	}
	return buf.Bytes()
}

// Verify checks the signature against the key embedded in the hostname.
func (p *PublicIdentity) Verify() error {
	pub, err := tor.PublicKeyFromAddress(p.Hostname)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if !ed25519.Verify(pub, p.signedBytes(), p.Signature) {
		return ErrBadSignature
	}
	return nil
}

// ParseCertificate parses the embedded TLS certificate.
func (p *PublicIdentity) ParseCertificate() (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(p.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	return cert, nil
}
