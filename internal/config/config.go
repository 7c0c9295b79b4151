package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Network backends a run can use.
const (
	// NetworkSim runs the in-process simulated anonymity network.
	NetworkSim = "sim"

	// NetworkTor launches one Tor daemon per participant.
	NetworkTor = "tor"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "peerlink"

	// DefaultConnectTimeout bounds dial, SOCKS4a handshake and TLS handshake.
	DefaultConnectTimeout = 60 * time.Second

	// DefaultReadTimeout bounds every read from an established connection.
	DefaultReadTimeout = 60 * time.Second

	// DefaultDirectRepeat is how many times the direct GET/POST pair runs.
	// Four calls are enough to show every call gets a fresh connection.
	DefaultDirectRepeat = 4

	// DefaultTunneledRepeat is how many tunneled GETs the positive phase runs.
	DefaultTunneledRepeat = 4

	// DefaultWorkerPoolSize bounds concurrent request tasks per handler.
	DefaultWorkerPoolSize = 8

	// DefaultVirtualPort is the hidden-service port peers connect to.
	DefaultVirtualPort = 443

	// DefaultProxyPort is the standard Tor SOCKS port, used by one-shot calls.
	DefaultProxyPort = 9050

	// DefaultPublishTimeout bounds the wait for hidden-service publication.
	// Descriptor upload on the live network regularly takes a few minutes.
	DefaultPublishTimeout = 5 * time.Minute

	// DefaultPublishPollInterval is the pause between publication probes.
	DefaultPublishPollInterval = 5 * time.Second

	// DefaultSimPublishDelay is how long the simulated network takes to
	// publish a service.
	DefaultSimPublishDelay = 500 * time.Millisecond

	// DefaultTorStartupTimeout is the maximum time to wait for a Tor daemon
	// to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultRuns is how many conformance runs one invocation performs.
	DefaultRuns = 1

	// DefaultParallel is how many of those runs may be in progress at once.
	DefaultParallel = 1
)

// Config holds all options of a peerlink run or one-shot request.
// It is populated from CLI flags and the peers file and passed down
// explicitly; nothing reads global state.
//
// Design decision: a single flat struct, as the options are few and every
// command uses a different slice of them.
type Config struct {
	// Network selects the anonymity-network backend: NetworkSim or NetworkTor.
	Network string

	// ConnectTimeout bounds connection setup for every transport call.
	ConnectTimeout time.Duration

	// ReadTimeout bounds each read for every transport call.
	ReadTimeout time.Duration

	// DirectRepeat is the number of direct GET/POST pairs.
	DirectRepeat int

	// TunneledRepeat is the number of tunneled GETs in the positive phase.
	TunneledRepeat int

	// WorkerPoolSize bounds the mock handler's worker pool.
	WorkerPoolSize int

	// VirtualPort is the hidden-service port peers dial through the tunnel.
	VirtualPort int

	// PublishTimeout bounds the poll for hidden-service publication.
	PublishTimeout time.Duration

	// PublishPollInterval is the pause between publication probes.
	PublishPollInterval time.Duration

	// SimPublishDelay is the publication delay of the simulated network.
	SimPublishDelay time.Duration

	// TorStartupTimeout bounds each Tor daemon's bootstrap.
	TorStartupTimeout time.Duration

	// SettleDelay postpones the run; zero starts immediately.
	SettleDelay time.Duration

	// Runs is the number of independent conformance runs.
	Runs int

	// Parallel bounds how many runs are in progress at once.
	Parallel int

	// Verbose enables debug logging. When false only warnings and errors
	// are logged.
	Verbose bool

	// LogFile, when set, receives logs through a size-rotated writer
	// instead of stderr.
	LogFile string

	// JSONReport selects the JSON report. Mutually exclusive with
	// MarkdownReport.
	JSONReport bool

	// MarkdownReport selects the Markdown report.
	MarkdownReport bool

	// ReportFile is where the report is written; stdout when empty.
	ReportFile string

	// DBDir is the directory of the run-history database.
	DBDir string

	// SaveToDB stores each run report in the database.
	SaveToDB bool

	// MetricsAddr, when set, serves Prometheus metrics on this address
	// for the duration of the run.
	MetricsAddr string

	// IdentityDir holds this node's key material for one-shot calls.
	IdentityDir string

	// ConfigFilePath is the path to the peers file. When empty the file is
	// looked up in the current and home directories.
	ConfigFilePath string

	// Peers holds the peers file, if one was loaded.
	Peers *File
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Network:             NetworkSim,
		ConnectTimeout:      DefaultConnectTimeout,
		ReadTimeout:         DefaultReadTimeout,
		DirectRepeat:        DefaultDirectRepeat,
		TunneledRepeat:      DefaultTunneledRepeat,
		WorkerPoolSize:      DefaultWorkerPoolSize,
		VirtualPort:         DefaultVirtualPort,
		PublishTimeout:      DefaultPublishTimeout,
		PublishPollInterval: DefaultPublishPollInterval,
		SimPublishDelay:     DefaultSimPublishDelay,
		TorStartupTimeout:   DefaultTorStartupTimeout,
		Runs:                DefaultRuns,
		Parallel:            DefaultParallel,
		DBDir:               XDGDataDir(),
		IdentityDir:         filepath.Join(XDGDataDir(), "identity"),
	}
}

// XDGDataDir returns the XDG data directory for peerlink.
// On Linux: ~/.local/share/peerlink
// On macOS: ~/Library/Application Support/peerlink
// On Windows: %LOCALAPPDATA%\peerlink
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for peerlink.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGStateDir returns the XDG state directory, where log files go.
func XDGStateDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// Validate checks the configuration and returns the first problem found.
//
// Design decision: validation happens once after flag parsing so a bad
// value fails before any listener or daemon is started.
func (c *Config) Validate() error {
	if c.Network != NetworkSim && c.Network != NetworkTor {
		return ErrInvalidNetwork
	}
	if c.ConnectTimeout <= 0 || c.ReadTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.DirectRepeat < 1 || c.TunneledRepeat < 1 {
		return ErrInvalidRepeat
	}
	if c.WorkerPoolSize < 1 {
		return ErrInvalidWorkerPoolSize
	}
	if c.VirtualPort < 1 || c.VirtualPort > 65535 {
		return ErrInvalidVirtualPort
	}
	if c.PublishTimeout <= 0 || c.PublishPollInterval <= 0 {
		return ErrInvalidPublishTimeout
	}
	if c.SimPublishDelay < 0 || c.SettleDelay < 0 {
		return ErrInvalidDelay
	}
	if c.TorStartupTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Runs < 1 || c.Parallel < 1 {
		return ErrInvalidRuns
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}
