package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"net"
)

// TrustSet is the exact set of peer certificates a party accepts. Membership
// is a byte-for-byte comparison of DER encodings; there is no chain building
// and no certificate authority.
type TrustSet struct {
	certs [][]byte
}

// NewTrustSet returns a TrustSet containing certs. It is an argument error to
// pass no certificates.
func NewTrustSet(certs ...*x509.Certificate) (*TrustSet, error) {
	if len(certs) == 0 {
		return nil, argumentError("trust set requires at least one certificate")
	}
	ts := &TrustSet{certs: make([][]byte, 0, len(certs))}
	for _, c := range certs {
		if c == nil {
			return nil, argumentError("nil certificate in trust set")
		}
		ts.certs = append(ts.certs, bytes.Clone(c.Raw))
	}
	return ts, nil
}

// CertificateID returns the hex SHA-256 of a DER certificate. Peers are
// known by this id.
func CertificateID(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// Contains reports whether der is exactly one of the trusted certificates.
func (ts *TrustSet) Contains(der []byte) bool {
	if ts == nil {
		return false
	}
	for _, c := range ts.certs {
		if bytes.Equal(c, der) {
			return true
		}
	}
	return false
}

// Len returns the number of trusted certificates.
func (ts *TrustSet) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.certs)
}

// verify is installed as tls.Config.VerifyPeerCertificate. Only the leaf is
// checked.
func (ts *TrustSet) verify(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errNoPeerCertificate
	}
	if !ts.Contains(rawCerts[0]) {
		return errUntrustedPeer
	}
	return nil
}

// Credentials are the key material presented by the local side and the peers
// it trusts.
type Credentials struct {
	Certificate tls.Certificate
	Peers       *TrustSet
}

// Validate checks that both halves are present.
func (c Credentials) Validate() error {
	if len(c.Certificate.Certificate) == 0 || c.Certificate.PrivateKey == nil {
		return argumentError("missing local certificate or key")
	}
	if c.Peers.Len() == 0 {
		return argumentError("empty peer trust set")
	}
	return nil
}

// ClientTLSConfig returns a client config that presents creds.Certificate and
// accepts only servers whose certificate is in creds.Peers. The standard chain
// validator is switched off; VerifyPeerCertificate does all the checking.
//
// The client is capped at TLS 1.2 so that a server refusing our certificate
// fails the handshake itself. Under TLS 1.3 the refusal only arrives with the
// first read, racing the server's close.
func ClientTLSConfig(creds Credentials, serverName string) *tls.Config {
	return &tls.Config{
		MinVersion:            tls.VersionTLS12,
		MaxVersion:            tls.VersionTLS12,
		Certificates:          []tls.Certificate{creds.Certificate},
		ServerName:            serverName,
		InsecureSkipVerify:    true, //nolint:gosec // pinned by VerifyPeerCertificate
		VerifyPeerCertificate: creds.Peers.verify,
		NextProtos:            []string{"http/1.1"},
	}
}

// ServerTLSConfig returns a server config that requires a client certificate
// and accepts only those in creds.Peers.
func ServerTLSConfig(creds Credentials) *tls.Config {
	return &tls.Config{
		MinVersion:            tls.VersionTLS12,
		Certificates:          []tls.Certificate{creds.Certificate},
		ClientAuth:            tls.RequireAnyClientCert,
		VerifyPeerCertificate: creds.Peers.verify,
		NextProtos:            []string{"http/1.1"},
	}
}

// Upgrader layers TLS over an already connected stream.
type Upgrader interface {
	Upgrade(ctx context.Context, conn net.Conn, serverName string) (net.Conn, error)
}

// PinnedUpgrader performs a client handshake with ClientTLSConfig.
type PinnedUpgrader struct {
	Credentials Credentials
}

// Upgrade runs the handshake. On failure the TLS layer and conn are both
// closed.
func (u PinnedUpgrader) Upgrade(ctx context.Context, conn net.Conn, serverName string) (net.Conn, error) {
	tlsConn := tls.Client(conn, ClientTLSConfig(u.Credentials, serverName))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tlsConn.Close() //nolint:errcheck // closes conn as well
		_ = conn.Close()    //nolint:errcheck // already closed in the common case
		return nil, classify("tls", err)
	}
	return tlsConn, nil
}
