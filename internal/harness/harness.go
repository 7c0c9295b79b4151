package harness

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/peerlink/internal/config"
	"github.com/nao1215/peerlink/internal/model"
	"github.com/nao1215/peerlink/internal/pipeline"
	"github.com/nao1215/peerlink/internal/transport"
)

// Settings tune a conformance run.
type Settings struct {
	// DirectRepeat is how many times each direct call is repeated.
	DirectRepeat int

	// TunneledRepeat is how many times the tunneled GET is repeated.
	TunneledRepeat int

	// WorkerPoolSize bounds each mock handler's pool.
	WorkerPoolSize int

	// VirtualPort is the hidden-service port listeners are published on.
	VirtualPort int

	// PublishTimeout bounds the wait for hidden services to answer.
	PublishTimeout time.Duration

	// PublishPollInterval is the pause between publication probes.
	PublishPollInterval time.Duration

	// ConnectTimeout and ReadTimeout configure the transport.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// SettingsFromConfig copies the run settings out of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		DirectRepeat:        cfg.DirectRepeat,
		TunneledRepeat:      cfg.TunneledRepeat,
		WorkerPoolSize:      cfg.WorkerPoolSize,
		VirtualPort:         cfg.VirtualPort,
		PublishTimeout:      cfg.PublishTimeout,
		PublishPollInterval: cfg.PublishPollInterval,
		ConnectTimeout:      cfg.ConnectTimeout,
		ReadTimeout:         cfg.ReadTimeout,
	}
}

// Harness runs the conformance scenario: two trusting participants talk
// directly and through their anonymity-network processes, and two negative
// cases check that an untrusted certificate and a wrong auth cookie are
// refused with the right failure kind.
type Harness struct {
	networkName string
	networks    NetworkFactory
	settings    Settings
	logger      *slog.Logger
	observer    pipeline.Observer
	transport   []transport.Option
	newRunID    func() string
	now         func() time.Time
}

// Option configures a Harness.
type Option func(*Harness)

// WithSettings replaces the defaults taken from config.NewConfig.
func WithSettings(s Settings) Option {
	return func(h *Harness) {
		h.settings = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithPhaseObserver is notified after every phase.
func WithPhaseObserver(o pipeline.Observer) Option {
	return func(h *Harness) {
		h.observer = o
	}
}

// WithTransportOptions adds options to the transport the run uses.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(h *Harness) {
		h.transport = append(h.transport, opts...)
	}
}

// New creates a harness whose participants run networks built by networks.
// networkName labels the run report.
func New(networkName string, networks NetworkFactory, opts ...Option) *Harness {
	h := &Harness{
		networkName: networkName,
		networks:    networks,
		settings:    SettingsFromConfig(config.NewConfig()),
		logger:      slog.New(slog.DiscardHandler),
		newRunID:    uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes every phase and then tears down whatever was started. The
// report is complete even when an error is returned; its Teardown lists
// every stop call in the order made.
func (h *Harness) Run(ctx context.Context) (report *model.RunReport, err error) {
	report = model.NewRunReport(h.newRunID(), h.networkName, h.now())
	logger := h.logger.With("component", "harness", "run_id", report.RunID)

	r := &run{
		settings: h.settings,
		networks: h.networks,
		logger:   logger,
		ledger:   newLedger(logger),
		client: transport.New(append([]transport.Option{
			transport.WithTimeouts(h.settings.ConnectTimeout, h.settings.ReadTimeout),
			transport.WithLogger(logger),
		}, h.transport...)...),
	}

	defer func() {
		report.Teardown = append(report.Teardown, r.ledger.teardown()...)
		report.FinishedAt = h.now()
		logger.Info("run finished", "state", report.State, "teardown", len(report.Teardown))
	}()

	p := pipeline.New(pipeline.WithLogger(logger), pipeline.WithObserver(h.observer))
	p.AddSteps(r.steps()...)
	logger.Info("run started", "network", h.networkName, "phases", p.StepCount())
	return report, p.Execute(ctx, report)
}
