package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/peerlink/internal/model"
	"github.com/nao1215/peerlink/internal/pipeline"
	"github.com/nao1215/peerlink/internal/transport"
)

const namespace = "peerlink"

// Metrics holds the collectors of one process on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	PhasesTotal     *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
	RunsTotal       *prometheus.CounterVec
}

var (
	_ transport.Observer = (*Metrics)(nil)
	_ pipeline.Observer  = (*Metrics)(nil)
)

// New creates the collectors and registers them.
func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Transport calls by method, mode and result",
		}, []string{"method", "mode", "result"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Transport call duration",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"method", "mode"}),
		PhasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phases_total",
			Help:      "Conformance phases by name and outcome",
		}, []string{"phase", "outcome"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Conformance phase duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"phase"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Conformance runs by final state",
		}, []string{"state"}),
	}
	r.MustRegister(m.RequestsTotal, m.RequestDuration, m.PhasesTotal, m.PhaseDuration, m.RunsTotal)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRequest implements transport.Observer.
func (m *Metrics) ObserveRequest(method string, tunneled bool, kind transport.Kind, elapsed time.Duration) {
	mode := "direct"
	if tunneled {
		mode = "tunneled"
	}
	result := "ok"
	if kind != 0 {
		result = kind.String()
	}
	m.RequestsTotal.WithLabelValues(method, mode, result).Inc()
	m.RequestDuration.WithLabelValues(method, mode).Observe(elapsed.Seconds())
}

// ObservePhase implements pipeline.Observer. Skipped phases are counted but
// not timed.
func (m *Metrics) ObservePhase(name string, outcome model.Outcome, elapsed time.Duration) {
	m.PhasesTotal.WithLabelValues(name, string(outcome)).Inc()
	if outcome != model.OutcomeSkipped {
		m.PhaseDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
}

// ObserveRun counts a finished run.
func (m *Metrics) ObserveRun(report *model.RunReport) {
	m.RunsTotal.WithLabelValues(report.State.String()).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server exposes /metrics on an address.
type Server struct {
	server   *http.Server
	listener net.Listener
	done     chan error
	logger   *slog.Logger
}

// Serve starts serving /metrics on address in the background.
func (m *Metrics) Serve(ctx context.Context, address string, logger *slog.Logger) (*Server, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	s := &Server{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
		},
		listener: ln,
		done:     make(chan error, 1),
		logger:   logger,
	}
	go func() {
		s.done <- s.server.Serve(ln)
	}()
	logger.Info("metrics listening", "address", ln.Addr().String())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops the metrics server.
func (s *Server) Close(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if serveErr := <-s.done; !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	return err
}
