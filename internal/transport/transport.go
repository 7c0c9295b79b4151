package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// Default timeouts. Both apply to tunneled and direct requests.
const (
	// DefaultConnectTimeout bounds TCP connect, the SOCKS4a exchange and the
	// TLS handshake together.
	DefaultConnectTimeout = 60 * time.Second

	// DefaultReadTimeout bounds every individual read from the socket.
	DefaultReadTimeout = 60 * time.Second
)

// StatusError is the cause carried by a KindProtocol failure.
type StatusError struct {
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Observer receives one call per Do, including calls refused before any
// dial. kind is zero on success.
type Observer interface {
	ObserveRequest(method string, tunneled bool, kind Kind, elapsed time.Duration)
}

// Transport issues authenticated HTTPS requests to peers, either directly or
// through a SOCKS4a tunnel. A Transport holds no connections between calls:
// every Do builds its own connection manager and tears it down before
// returning.
type Transport struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	dialerFor      func(Target) Dialer
	upgraderFor    func(Credentials) Upgrader
	logger         *slog.Logger
	observer       Observer
}

// Option configures a Transport.
type Option func(*Transport)

// WithTimeouts overrides the connect and read timeouts. Non-positive values
// keep the defaults.
func WithTimeouts(connect, read time.Duration) Option {
	return func(t *Transport) {
		if connect > 0 {
			t.connectTimeout = connect
		}
		if read > 0 {
			t.readTimeout = read
		}
	}
}

// WithDialerFunc replaces the dialer selection. The default uses proxy.Direct
// for direct targets and a Socks4aDialer for tunneled ones.
func WithDialerFunc(fn func(Target) Dialer) Option {
	return func(t *Transport) {
		t.dialerFor = fn
	}
}

// WithUpgraderFunc replaces the TLS layer. The default is PinnedUpgrader.
func WithUpgraderFunc(fn func(Credentials) Upgrader) Option {
	return func(t *Transport) {
		t.upgraderFor = fn
	}
}

// WithLogger sets the logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(t *Transport) {
		t.observer = o
	}
}

// New creates a Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.dialerFor == nil {
		t.dialerFor = t.defaultDialer
	}
	if t.upgraderFor == nil {
		t.upgraderFor = func(c Credentials) Upgrader { return PinnedUpgrader{Credentials: c} }
	}
	return t
}

// ConnectTimeout returns the effective connect timeout.
func (t *Transport) ConnectTimeout() time.Duration { return t.connectTimeout }

// ReadTimeout returns the effective read timeout.
func (t *Transport) ReadTimeout() time.Duration { return t.readTimeout }

func (t *Transport) defaultDialer(target Target) Dialer {
	if target.Tunneled() {
		return NewSocks4aDialer(target.ProxyPort, t.connectTimeout, t.readTimeout)
	}
	return proxy.Direct
}

// Do performs one request. A status of 200 is the only success. The response
// body is copied into sink, or drained when sink is nil.
//
// Whatever the outcome, the in-flight request is aborted and then the
// connection manager is shut down before Do returns.
func (t *Transport) Do(ctx context.Context, creds Credentials, target Target, req *Request, sink io.Writer) (err error) {
	start := time.Now()
	defer func() {
		var method Method
		if req != nil {
			method = req.Method
		}
		t.observe(method, target.Tunneled(), err, time.Since(start))
	}()

	if err := req.Validate(); err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return err
	}
	if err := creds.Validate(); err != nil {
		return err
	}

	ctx, abort := context.WithCancel(ctx)
	manager := t.newConnectionManager(creds, target)
	defer func() {
		abort()
		manager.CloseIdleConnections()
	}()

	httpReq, err := newHTTPRequest(ctx, target, req)
	if err != nil {
		return err
	}

	t.logger.Debug("sending request",
		"method", string(req.Method),
		"url", httpReq.URL.String(),
		"tunneled", target.Tunneled())

	resp, err := manager.RoundTrip(httpReq)
	if err != nil {
		return classify("http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newError("http", KindProtocol, &StatusError{StatusCode: resp.StatusCode})
	}

	if sink == nil {
		sink = io.Discard
	}
	if _, err := io.Copy(sink, resp.Body); err != nil {
		return classify("http", err)
	}
	return nil
}

// newConnectionManager returns a single-use http.Transport whose only way of
// reaching the network is dialTLS.
func (t *Transport) newConnectionManager(creds Credentials, target Target) *http.Transport {
	return &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return t.dialTLS(ctx, creds, target, network, addr)
		},
		MaxIdleConnsPerHost:   1,
		ResponseHeaderTimeout: t.readTimeout,
		DisableCompression:    true,
		// An empty map disables HTTP/2.
		TLSNextProto: map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
}

// dialTLS opens the raw stream (direct or tunneled), applies the per-read
// timeout and layers pinned TLS on top.
func (t *Transport) dialTLS(ctx context.Context, creds Credentials, target Target, network, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()

	raw, err := t.dialerFor(target).DialContext(ctx, network, addr)
	if err != nil {
		return nil, classify("dial", err)
	}
	conn := &readTimeoutConn{Conn: raw, timeout: t.readTimeout}

	secured, err := t.upgraderFor(creds).Upgrade(ctx, conn, target.Host)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // the upgrade error is what matters
		return nil, classify("tls", err)
	}
	return secured, nil
}

func (t *Transport) observe(method Method, tunneled bool, err error, elapsed time.Duration) {
	if t.observer == nil {
		return
	}
	t.observer.ObserveRequest(string(method), tunneled, KindOf(err), elapsed)
}

// newHTTPRequest converts a Request into an *http.Request bound to ctx.
func newHTTPRequest(ctx context.Context, target Target, req *Request) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = req.Body.Reader
	}
	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), target.URL(req.Path, req.Params), body)
	if err != nil {
		return nil, argumentError("build request: %v", err)
	}
	if req.Body != nil {
		httpReq.ContentLength = req.Body.Length
		if req.Body.Length == 0 {
			httpReq.Body = http.NoBody
		}
		if req.Body.MIMEType != "" {
			httpReq.Header.Set("Content-Type", req.Body.MIMEType)
		}
	}
	if req.Range != nil {
		httpReq.Header.Set("Range", req.Range.Header())
	}
	return httpReq, nil
}

// readTimeoutConn pushes the read deadline forward before every Read, so the
// timeout bounds idle time between bytes rather than the whole exchange.
type readTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *readTimeoutConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

// GetString performs a GET and returns the body as a string.
func (t *Transport) GetString(ctx context.Context, creds Credentials, target Target, path string, params []Param) (string, error) {
	var buf bytes.Buffer
	if err := t.Do(ctx, creds, target, &Request{Method: MethodGet, Path: path, Params: params}, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Get performs a GET, optionally ranged, streaming the body into sink.
func (t *Transport) Get(ctx context.Context, creds Credentials, target Target, path string, params []Param, rng *ByteRange, sink io.Writer) error {
	return t.Do(ctx, creds, target, &Request{Method: MethodGet, Path: path, Params: params, Range: rng}, sink)
}

// Post performs a POST with a streamed body. The response body goes to sink.
func (t *Transport) Post(ctx context.Context, creds Credentials, target Target, path string, params []Param, body Body, sink io.Writer) error {
	return t.Do(ctx, creds, target, &Request{Method: MethodPost, Path: path, Params: params, Body: &body}, sink)
}

// PostJSON posts an already encoded JSON document and discards the response.
func (t *Transport) PostJSON(ctx context.Context, creds Credentials, target Target, path string, params []Param, document []byte) error {
	body := Body{
		Reader:   bytes.NewReader(document),
		Length:   int64(len(document)),
		MIMEType: MIMETypeJSON,
	}
	return t.Post(ctx, creds, target, path, params, body, nil)
}
