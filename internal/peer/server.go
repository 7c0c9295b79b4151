package peer

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nao1215/peerlink/internal/model"
	"github.com/nao1215/peerlink/internal/transport"
)

// Routes served by a listener.
const (
	PathStatus     = "/status"
	PathStatusPush = "/status/push"
	PathDownload   = "/download"

	// ParamResourceID names the resource on PathDownload.
	ParamResourceID = "id"
)

const (
	// maxPushBytes caps a pushed status document.
	maxPushBytes = 1 << 20

	defaultShutdownTimeout   = 5 * time.Second
	defaultReadHeaderTimeout = 60 * time.Second
)

// ErrNotRunning is returned by ListeningPort before Start or after Stop.
var ErrNotRunning = errors.New("listener not running")

// Server is a peer's web listener: HTTP over pinned mutual TLS on loopback.
// Only clients whose certificate is in the credentials' trust set complete
// the handshake.
type Server struct {
	creds           transport.Credentials
	handler         RequestHandler
	logger          *slog.Logger
	address         string
	shutdownTimeout time.Duration

	mu       sync.Mutex
	started  bool
	stopped  bool
	listener net.Listener
	server   *http.Server
	serveErr chan error
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAddress sets the listen address. 127.0.0.1:0 by default.
func WithAddress(address string) ServerOption {
	return func(s *Server) {
		s.address = address
	}
}

// WithShutdownTimeout bounds how long Stop waits for in-flight requests.
func WithShutdownTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// NewServer creates a listener that serves handler to the peers in creds.
func NewServer(creds transport.Credentials, handler RequestHandler, opts ...ServerOption) *Server {
	s := &Server{
		creds:           creds,
		handler:         handler,
		logger:          slog.New(slog.DiscardHandler),
		address:         "127.0.0.1:0",
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "listener")
	return s
}

// Start opens the TLS listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if err := s.creds.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("listener already started")
	}
	if s.stopped {
		return errors.New("listener stopped")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.listener = tls.NewListener(ln, transport.ServerTLSConfig(s.creds))
	s.serveErr = make(chan error, 1)
	s.started = true

	go func() {
		s.serveErr <- s.server.Serve(s.listener)
	}()
	s.logger.Info("listener started", "address", ln.Addr().String(), "trusted_peers", s.creds.Peers.Len())
	return nil
}

// Stop closes the listener and waits for in-flight requests up to the
// shutdown timeout. It is idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	server, serveErr := s.server, s.serveErr
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	err := server.Shutdown(ctx)
	if err != nil {
		err = errors.Join(err, server.Close())
	}
	if serveResult := <-serveErr; !errors.Is(serveResult, http.ErrServerClosed) {
		err = errors.Join(err, serveResult)
	}
	s.logger.Info("listener stopped")
	return err
}

// ListeningPort returns the bound TCP port.
func (s *Server) ListeningPort() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.stopped {
		return 0, ErrNotRunning
	}
	return s.listener.Addr().(*net.TCPAddr).Port, nil //nolint:forcetypeassert // tcp listener
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+PathStatus, s.dispatch(s.handlePullStatus))
	mux.Handle("POST "+PathStatusPush, s.dispatch(s.handlePushStatus))
	mux.Handle("GET "+PathDownload, s.dispatch(s.handleDownload))
	return mux
}

// dispatch runs h on a request-handler task and waits for it, so the pool
// bounds how many requests are worked on at once.
func (s *Server) dispatch(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := make(chan struct{})
		err := s.handler.SubmitWebRequestTask(func() {
			defer close(done)
			h(w, r)
		})
		if err != nil {
			s.logger.Debug("request refused", "path", r.URL.Path, "error", err)
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		<-done
	})
}

// peerCertificate returns the verified client certificate.
func peerCertificate(r *http.Request) (*tls.ConnectionState, bool) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil, false
	}
	return r.TLS, true
}

func (s *Server) peerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	state, ok := peerCertificate(r)
	if !ok {
		http.Error(w, "no peer certificate", http.StatusForbidden)
		return "", false
	}
	return transport.CertificateID(state.PeerCertificates[0].Raw), true
}

func (s *Server) handlePullStatus(w http.ResponseWriter, r *http.Request) {
	peerID, ok := s.peerID(w, r)
	if !ok {
		return
	}
	status, err := s.handler.HandlePullStatusRequest(r.Context(), peerID)
	if err != nil {
		s.logger.Warn("pull status failed", "peer", peerID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	body, err := json.Marshal(status)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", transport.MIMETypeJSON)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write(body) //nolint:errcheck // client gone
	s.logger.Debug("served status", "peer", peerID)
}

func (s *Server) handlePushStatus(w http.ResponseWriter, r *http.Request) {
	peerID, ok := s.peerID(w, r)
	if !ok {
		return
	}
	var status model.Status
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBytes)).Decode(&status); err != nil {
		http.Error(w, "malformed status", http.StatusBadRequest)
		return
	}
	if err := model.ValidateStatus(&status); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.handler.HandlePushStatusRequest(r.Context(), peerID, &status); err != nil {
		s.logger.Warn("push status failed", "peer", peerID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleDownload answers ranged requests with 200 and only the requested
// bytes; 200 is the only status peers treat as success.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	state, ok := peerCertificate(r)
	if !ok {
		http.Error(w, "no peer certificate", http.StatusForbidden)
		return
	}
	resourceID := r.URL.Query().Get(ParamResourceID)
	if resourceID == "" {
		http.Error(w, "missing resource id", http.StatusBadRequest)
		return
	}
	rng, err := transport.ParseRangeHeader(r.Header.Get("Range"))
	if err != nil {
		http.Error(w, "malformed range", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	resp, err := s.handler.HandleDownloadRequest(r.Context(), state.PeerCertificates[0], resourceID, rng)
	if err != nil {
		s.logger.Warn("download failed", "resource", resourceID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if resp == nil {
		http.NotFound(w, r)
		return
	}
	defer resp.Content.Close()

	mimeType := resp.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(resp.Length, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.CopyN(w, resp.Content, resp.Length); err != nil {
		s.logger.Debug("download interrupted", "resource", resourceID, "error", err)
	}
}
