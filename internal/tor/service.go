package tor

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/nao1215/tornago"
)

// Mode selects what a Tor process is started for.
type Mode int

const (
	// ModeRunServices runs a client SOCKS port and publishes the local
	// hidden service from the same process.
	ModeRunServices Mode = iota + 1
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeRunServices:
		return "run-services"
	default:
		return "unknown"
	}
}

// ServiceSpec describes one anonymity-network process: the service it
// publishes and the peer services it may reach.
type ServiceSpec struct {
	Mode Mode

	// Tag labels the process in logs.
	Tag string

	// Auths are the peer services this process can reach, each with the
	// cookie that service issued.
	Auths []HiddenServiceAuth

	// ServiceKey is the ed25519 key behind the published hostname.
	ServiceKey ed25519.PrivateKey

	// ServiceAuthCookie restricts who can reach the published service.
	ServiceAuthCookie string

	// VirtualPort is the port peers connect to on the hidden hostname.
	VirtualPort int

	// LocalPort is the 127.0.0.1 port the service forwards to.
	LocalPort int
}

// Validate checks the ServiceSpec for missing or malformed fields.
func (s ServiceSpec) Validate() error {
	if s.Mode != ModeRunServices {
		return fmt.Errorf("%w: unsupported mode %d", ErrInvalidServiceSpec, s.Mode)
	}
	if len(s.ServiceKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: %w", ErrInvalidServiceSpec, ErrInvalidServiceKey)
	}
	if err := ValidateAuthCookie(s.ServiceAuthCookie); err != nil {
		return fmt.Errorf("%w: service cookie: %w", ErrInvalidServiceSpec, err)
	}
	if s.VirtualPort < 1 || s.VirtualPort > 65535 || s.LocalPort < 1 || s.LocalPort > 65535 {
		return fmt.Errorf("%w: ports out of range", ErrInvalidServiceSpec)
	}
	for _, a := range s.Auths {
		if !IsValidV3Address(a.Hostname) {
			return fmt.Errorf("%w: peer %q: %w", ErrInvalidServiceSpec, a.Hostname, ErrInvalidOnionAddress)
		}
		if err := ValidateAuthCookie(a.Cookie); err != nil {
			return fmt.Errorf("%w: peer %q: %w", ErrInvalidServiceSpec, a.Hostname, err)
		}
	}
	return nil
}

// Hostname returns the onion hostname the ServiceSpec publishes.
func (s ServiceSpec) Hostname() (string, error) {
	return AddressFromServiceKey(s.ServiceKey)
}

// Default timeouts for a Service.
const (
	// DefaultStartupTimeout bounds Tor's bootstrap.
	DefaultStartupTimeout = 3 * time.Minute

	// defaultControlTimeout bounds the control-port session after bootstrap.
	defaultControlTimeout = 30 * time.Second
)

// Service runs one Tor daemon through tornago and publishes a private v3
// hidden service from it. Start returns immediately; bootstrap happens in
// the background and AwaitStarted waits for it.
type Service struct {
	spec           ServiceSpec
	startupTimeout time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	launched  bool
	stopped   bool
	process   *tornago.TorProcess
	socksPort int
	serviceID string
	startErr  error
	ready     chan struct{}
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
func WithStartupTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.startupTimeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a Service for spec. Nothing is launched until Start.
func NewService(spec ServiceSpec, opts ...ServiceOption) *Service {
	s := &Service{
		spec:           spec,
		startupTimeout: DefaultStartupTimeout,
		logger:         slog.New(slog.DiscardHandler),
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tor", "tag", spec.Tag)
	return s
}

// Start validates the ServiceSpec and launches Tor in the background.
func (s *Service) Start(ctx context.Context) error {
	if err := s.spec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.launched {
		return ErrAlreadyStarted
	}
	if s.stopped {
		return ErrStopped
	}
	s.launched = true

	go s.run(context.WithoutCancel(ctx))
	return nil
}

// run bootstraps Tor, then configures the service over the control port.
func (s *Service) run(ctx context.Context) {
	defer close(s.ready)

	s.logger.Info("starting tor", "mode", s.spec.Mode.String())
	process, err := s.launch()
	if err != nil {
		s.fail(err)
		return
	}

	serviceID, err := s.configure(ctx, process)
	if err != nil {
		_ = process.Stop() //nolint:errcheck // best effort cleanup
		s.fail(err)
		return
	}
	socksPort, err := portOf(process.SocksAddr())
	if err != nil {
		_ = process.Stop() //nolint:errcheck // best effort cleanup
		s.fail(err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		_ = process.Stop() //nolint:errcheck // Stop already returned to its caller
		s.startErr = ErrStopped
		return
	}
	s.process = process
	s.socksPort = socksPort
	s.serviceID = serviceID
	s.logger.Info("tor started", "socks", process.SocksAddr())
}

func (s *Service) launch() (*tornago.TorProcess, error) {
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(s.startupTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tor launch config: %w", err)
	}
	process, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start Tor daemon: %w", err)
	}
	return process, nil
}

// configure publishes the local service and registers client keys for the
// peer services.
func (s *Service) configure(ctx context.Context, process *tornago.TorProcess) (string, error) {
	keyBlob, err := ServiceKeyBlob(s.spec.ServiceKey)
	if err != nil {
		return "", err
	}
	clientAuthKey, err := ClientAuthPublicKey(s.spec.ServiceAuthCookie)
	if err != nil {
		return "", err
	}

	var serviceID string
	cookiePath := filepath.Join(process.DataDir(), controlCookieFile)
	err = withControl(ctx, process.ControlAddr(), cookiePath, defaultControlTimeout, func(ctrl *controlConn) error {
		id, err := ctrl.addOnion(keyBlob, s.spec.VirtualPort, s.spec.LocalPort, clientAuthKey)
		if err != nil {
			return err
		}
		serviceID = id

		for _, auth := range s.spec.Auths {
			privateKey, err := ClientAuthPrivateKey(auth.Cookie)
			if err != nil {
				return err
			}
			if err := ctrl.addClientAuth(ServiceID(auth.Hostname), privateKey); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("hidden service published", "service_id", serviceID, "peers", len(s.spec.Auths))
	return serviceID, nil
}

func (s *Service) fail(err error) {
	s.logger.Error("tor failed to start", "error", err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

// AwaitStarted blocks until bootstrap finished and the SOCKS port answers.
func (s *Service) AwaitStarted(ctx context.Context) error {
	s.mu.Lock()
	launched := s.launched
	s.mu.Unlock()
	if !launched {
		return ErrNotStarted
	}

	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	startErr, port := s.startErr, s.socksPort
	s.mu.Unlock()
	if startErr != nil {
		return startErr
	}

	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	if status := CheckConnection(ctx, address); status != ProxyStatusOK {
		return fmt.Errorf("tor socks port %s: %w", address, status.Error())
	}
	return nil
}

// Stop shuts Tor down. It waits for an in-flight startup to settle first.
// Calling Stop more than once, or before Start, is a no-op.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	launched := s.launched
	s.mu.Unlock()

	if launched {
		<-s.ready
	}

	s.mu.Lock()
	process, serviceID := s.process, s.serviceID
	s.process = nil
	s.mu.Unlock()
	if process == nil {
		return nil
	}

	cookiePath := filepath.Join(process.DataDir(), controlCookieFile)
	err := withControl(context.Background(), process.ControlAddr(), cookiePath, defaultControlTimeout, func(ctrl *controlConn) error {
		return ctrl.delOnion(serviceID)
	})
	if err != nil {
		s.logger.Debug("failed to remove hidden service", "error", err)
	}

	s.logger.Info("stopping tor")
	return process.Stop()
}

// SocksProxyPort returns the local SOCKS port, or 0 before startup finished.
func (s *Service) SocksProxyPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socksPort
}

// IsRunning reports whether the daemon is up.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.process != nil
}

// portOf extracts the port from "host:port".
func portOf(address string) (int, error) {
	_, portText, err := net.SplitHostPort(address)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return 0, fmt.Errorf("bad port in %q: %w", address, err)
	}
	return port, nil
}
