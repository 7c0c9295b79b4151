package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// SOCKS4a wire constants.
const (
	socks4Version       = 0x04
	socks4CmdConnect    = 0x01
	socks4ReplyVersion  = 0x00
	socks4Granted       = 0x5A
	socks4Rejected      = 0x5B
	socks4ReplyLength   = 8
	socks4MaxHostLength = 255
)

// socks4aMarkerIP is the 0.0.0.1 destination that tells a SOCKS4a server to
// resolve the trailing hostname itself.
var socks4aMarkerIP = [4]byte{0, 0, 0, 1}

// Dialer opens a raw stream to addr. It has the same shape as
// proxy.ContextDialer, so proxy.Direct satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

var _ Dialer = proxy.Direct

// Socks4aDialer is the tunnel connector. It opens a TCP connection to the
// local anonymity-network SOCKS port and asks it to CONNECT to the
// destination by hostname. Hostnames are never resolved locally.
type Socks4aDialer struct {
	// ProxyHost is the proxy's host. 127.0.0.1 when empty.
	ProxyHost string

	// ProxyPort is the proxy's SOCKS4a port.
	ProxyPort int

	// ConnectTimeout bounds the TCP connect plus the CONNECT exchange.
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for the 8-byte reply.
	ReadTimeout time.Duration

	// Forward opens the connection to the proxy. proxy.Direct when nil.
	Forward proxy.ContextDialer
}

// NewSocks4aDialer returns a dialer for the proxy on 127.0.0.1:proxyPort.
func NewSocks4aDialer(proxyPort int, connectTimeout, readTimeout time.Duration) *Socks4aDialer {
	return &Socks4aDialer{
		ProxyPort:      proxyPort,
		ConnectTimeout: connectTimeout,
		ReadTimeout:    readTimeout,
		Forward:        proxy.Direct,
	}
}

// ProxyAddress returns "host:port" of the proxy.
func (d *Socks4aDialer) ProxyAddress() string {
	host := d.ProxyHost
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(d.ProxyPort))
}

// Dial implements proxy.Dialer.
func (d *Socks4aDialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}

// DialContext connects to addr ("host:port") through the proxy. On any failure
// the proxy socket is closed before the error is returned.
func (d *Socks4aDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, argumentError("socks4a supports tcp only, got %q", network)
	}
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, argumentError("bad destination %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port < 1 || port > 65535 {
		return nil, argumentError("bad destination port %q", portText)
	}
	frame, err := EncodeConnect(host, uint16(port))
	if err != nil {
		return nil, err
	}

	if d.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.ConnectTimeout)
		defer cancel()
	}

	forward := d.Forward
	if forward == nil {
		forward = proxy.Direct
	}
	conn, err := forward.DialContext(ctx, "tcp", d.ProxyAddress())
	if err != nil {
		return nil, classify("socks4a", err)
	}

	if err := d.handshake(ctx, conn, frame); err != nil {
		_ = conn.Close() //nolint:errcheck // the handshake error is what matters
		return nil, err
	}
	return conn, nil
}

// handshake writes the CONNECT frame and checks the reply.
func (d *Socks4aDialer) handshake(ctx context.Context, conn net.Conn, frame []byte) error {
	// An expired deadline unblocks the read when ctx ends first.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now()) //nolint:errcheck // best effort interrupt
	})
	defer stop()

	if _, err := conn.Write(frame); err != nil {
		return classify("socks4a", err)
	}

	if d.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(d.ReadTimeout)); err != nil {
			return classify("socks4a", err)
		}
	}
	granted, err := ReadReply(conn)
	if errors.Is(err, errBadReplyVersion) {
		return newError("socks4a", KindTunnelRejected, err)
	}
	if err != nil {
		if ctx.Err() != nil {
			return classify("socks4a", ctx.Err())
		}
		return classify("socks4a", err)
	}
	if !granted {
		return newError("socks4a", KindTunnelRejected, nil)
	}
	return classify("socks4a", conn.SetDeadline(time.Time{}))
}

// EncodeConnect builds a SOCKS4a CONNECT request for host:port with an empty
// user id.
func EncodeConnect(host string, port uint16) ([]byte, error) {
	if host == "" || len(host) > socks4MaxHostLength || strings.IndexByte(host, 0) >= 0 {
		return nil, argumentError("bad socks4a hostname %q", host)
	}
	frame := make([]byte, 0, 9+len(host)+1)
	frame = append(frame, socks4Version, socks4CmdConnect, byte(port>>8), byte(port))
	frame = append(frame, socks4aMarkerIP[:]...)
	frame = append(frame, 0x00) // empty user id
	frame = append(frame, host...)
	frame = append(frame, 0x00)
	return frame, nil
}

// errMalformedConnect is returned by ReadConnect for frames that are not
// SOCKS4a CONNECT requests.
var errMalformedConnect = errors.New("malformed socks4a connect request")

// ReadConnect reads one SOCKS4a CONNECT request from r and returns the
// requested hostname and port. It is the server-side inverse of EncodeConnect.
func ReadConnect(r io.Reader) (string, uint16, error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return "", 0, err
	}
	if head[0] != socks4Version || head[1] != socks4CmdConnect {
		return "", 0, errMalformedConnect
	}
	port := uint16(head[2])<<8 | uint16(head[3])

	if _, err := readCString(r); err != nil { // user id
		return "", 0, err
	}
	if !bytes.Equal(head[4:8], socks4aMarkerIP[:]) {
		// Plain SOCKS4 with a literal IPv4 destination.
		return net.IP(head[4:8]).String(), port, nil
	}
	host, err := readCString(r)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, errMalformedConnect
	}
	return host, port, nil
}

// readCString reads a NUL-terminated string of at most socks4MaxHostLength bytes.
func readCString(r io.Reader) (string, error) {
	var (
		buf [1]byte
		out []byte
	)
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return "", err
		}
		if buf[0] == 0 {
			return string(out), nil
		}
		if len(out) == socks4MaxHostLength {
			return "", errMalformedConnect
		}
		out = append(out, buf[0])
	}
}

// WriteReply writes the 8-byte SOCKS4 reply.
func WriteReply(w io.Writer, granted bool) error {
	reply := [socks4ReplyLength]byte{socks4ReplyVersion, socks4Rejected}
	if granted {
		reply[1] = socks4Granted
	}
	_, err := w.Write(reply[:])
	return err
}

// errBadReplyVersion is returned by ReadReply when the first reply byte is
// not 0x00.
var errBadReplyVersion = errors.New("unexpected socks4 reply version")

// ReadReply reads the SOCKS4 reply and reports whether the request was
// granted. The verdict is taken from the first two bytes; the remaining six
// are read only for a grant, so a proxy that rejects and hangs up is still a
// rejection. A reply whose first byte is not 0x00 is a protocol error.
func ReadReply(r io.Reader) (bool, error) {
	var reply [socks4ReplyLength]byte
	if _, err := io.ReadFull(r, reply[:2]); err != nil {
		return false, err
	}
	if reply[0] != socks4ReplyVersion {
		return false, fmt.Errorf("%w: 0x%02x", errBadReplyVersion, reply[0])
	}
	if reply[1] != socks4Granted {
		return false, nil
	}
	if _, err := io.ReadFull(r, reply[2:]); err != nil {
		return false, err
	}
	return true, nil
}

func init() {
	proxy.RegisterDialerType("socks4a", func(u *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
		port, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("socks4a url %q: %w", u.String(), err)
		}
		d := NewSocks4aDialer(port, DefaultConnectTimeout, DefaultReadTimeout)
		d.ProxyHost = u.Hostname()
		if cd, ok := forward.(proxy.ContextDialer); ok {
			d.Forward = cd
		}
		return d, nil
	})
}
