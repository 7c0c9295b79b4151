package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// newTestCertificate returns a self-signed ed25519 certificate for cn.
func newTestCertificate(t *testing.T, cn string) tls.Certificate {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		t.Fatalf("failed to generate serial: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: leaf}
}

// newTestCredentials builds Credentials presenting own and trusting peers.
func newTestCredentials(t *testing.T, own tls.Certificate, peers ...tls.Certificate) Credentials {
	t.Helper()

	leaves := make([]*x509.Certificate, 0, len(peers))
	for _, p := range peers {
		leaves = append(leaves, p.Leaf)
	}
	trust, err := NewTrustSet(leaves...)
	if err != nil {
		t.Fatalf("failed to build trust set: %v", err)
	}
	return Credentials{Certificate: own, Peers: trust}
}

// pinnedServer is an httptest server using ServerTLSConfig. It records how
// many connections were opened and closed.
type pinnedServer struct {
	*httptest.Server

	mu     sync.Mutex
	opened int
	closed int
}

func startPinnedServer(t *testing.T, creds Credentials, handler http.Handler) *pinnedServer {
	t.Helper()

	ps := &pinnedServer{}
	srv := httptest.NewUnstartedServer(handler)
	srv.TLS = ServerTLSConfig(creds)
	srv.Config.ErrorLog = log.New(io.Discard, "", 0)
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		switch state {
		case http.StateNew:
			ps.opened++
		case http.StateClosed, http.StateHijacked:
			ps.closed++
		}
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	ps.Server = srv
	return ps
}

func (ps *pinnedServer) port(t *testing.T) int {
	t.Helper()

	_, portText, err := net.SplitHostPort(ps.Listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to split server address: %v", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatalf("failed to parse server port: %v", err)
	}
	return port
}

func (ps *pinnedServer) connCounts() (int, int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.opened, ps.closed
}

// startSocksRelay runs a minimal SOCKS4a server. route maps the requested
// host and port to a backend address; an empty result rejects the request.
func startSocksRelay(t *testing.T, route func(host string, port uint16) string) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start relay: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSocks(conn, route)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func serveSocks(conn net.Conn, route func(host string, port uint16) string) {
	defer conn.Close()

	host, port, err := ReadConnect(conn)
	if err != nil {
		return
	}
	backendAddr := route(host, port)
	if backendAddr == "" {
		_ = WriteReply(conn, false)
		return
	}
	backend, err := net.Dial("tcp", backendAddr) //nolint:noctx // test code
	if err != nil {
		_ = WriteReply(conn, false)
		return
	}
	defer backend.Close()
	if err := WriteReply(conn, true); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(backend, conn)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(conn, backend)
		done <- struct{}{}
	}()
	<-done
}

// countingDialer counts dials made through it.
type countingDialer struct {
	mu    sync.Mutex
	dials int
	next  Dialer
}

func (d *countingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	return d.next.DialContext(ctx, network, addr)
}

func (d *countingDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
