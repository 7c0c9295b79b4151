package peer

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/peerlink/internal/model"
	"github.com/nao1215/peerlink/internal/transport"
	"github.com/nao1215/peerlink/internal/workerpool"
)

// MockHandler is a RequestHandler that serves one fixed status, records
// pushes, and serves in-memory resources. Requests run on a bounded worker
// pool that Stop drains.
type MockHandler struct {
	pool   *workerpool.Pool
	status model.Status
	logger *slog.Logger

	mu        sync.Mutex
	resources map[string][]byte
	pushed    map[string]model.Status

	pulls     atomic.Int64
	pushes    atomic.Int64
	downloads atomic.Int64
}

// MockOption configures a MockHandler.
type MockOption func(*mockSettings)

type mockSettings struct {
	name      string
	poolSize  int
	now       time.Time
	rand      *rand.Rand
	logger    *slog.Logger
	resources map[string][]byte
}

// WithPoolSize bounds the number of requests handled at once.
func WithPoolSize(n int) MockOption {
	return func(s *mockSettings) {
		s.poolSize = n
	}
}

// WithName labels the handler's pool in logs.
func WithName(name string) MockOption {
	return func(s *mockSettings) {
		s.name = name
	}
}

// WithMockTime fixes the status timestamp.
func WithMockTime(now time.Time) MockOption {
	return func(s *mockSettings) {
		s.now = now
	}
}

// WithRand sets the source of the mock location.
func WithRand(r *rand.Rand) MockOption {
	return func(s *mockSettings) {
		s.rand = r
	}
}

// WithMockLogger sets the logger.
func WithMockLogger(logger *slog.Logger) MockOption {
	return func(s *mockSettings) {
		s.logger = logger
	}
}

// WithResource makes data downloadable as id.
func WithResource(id string, data []byte) MockOption {
	return func(s *mockSettings) {
		s.resources[id] = bytes.Clone(data)
	}
}

// NewMockHandler creates a handler whose status is fixed at creation.
func NewMockHandler(opts ...MockOption) *MockHandler {
	settings := mockSettings{
		name:      "mock",
		poolSize:  workerpool.DefaultSize,
		now:       time.Now(),
		logger:    slog.New(slog.DiscardHandler),
		resources: make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.rand == nil {
		settings.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // mock data
	}

	return &MockHandler{
		pool: workerpool.New(settings.name,
			workerpool.WithSize(settings.poolSize),
			workerpool.WithLogger(settings.logger),
		),
		status:    model.NewMockStatus(settings.now, settings.rand),
		logger:    settings.logger.With("component", "mock_handler", "name", settings.name),
		resources: settings.resources,
		pushed:    make(map[string]model.Status),
	}
}

// SubmitWebRequestTask runs task on the handler's pool.
func (m *MockHandler) SubmitWebRequestTask(task func()) error {
	return m.pool.Submit(task)
}

// HandlePullStatusRequest returns the mock status.
func (m *MockHandler) HandlePullStatusRequest(_ context.Context, peerID string) (*model.Status, error) {
	m.pulls.Add(1)
	m.logger.Debug("pull status", "peer", peerID)
	status := m.status
	return &status, nil
}

// HandlePushStatusRequest records the pushed status per peer.
func (m *MockHandler) HandlePushStatusRequest(_ context.Context, peerID string, status *model.Status) error {
	m.pushes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed[peerID] = *status
	return nil
}

// HandleDownloadRequest serves an in-memory resource. A range past the end is
// clamped to an empty body.
func (m *MockHandler) HandleDownloadRequest(_ context.Context, _ *x509.Certificate, resourceID string, rng *transport.ByteRange) (*DownloadResponse, error) {
	m.downloads.Add(1)
	m.mu.Lock()
	data, ok := m.resources[resourceID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	if rng != nil {
		start := min(rng.Start, int64(len(data)))
		end := int64(len(data))
		if rng.End != transport.OpenEnded {
			end = min(rng.End+1, end)
		}
		data = data[start:max(start, end)]
	}
	return &DownloadResponse{
		Content: io.NopCloser(bytes.NewReader(data)),
		Length:  int64(len(data)),
	}, nil
}

// Status returns the mock status.
func (m *MockHandler) Status() model.Status {
	return m.status
}

// ExpectedStatusJSON is the exact body a listener serves for the mock status.
func (m *MockHandler) ExpectedStatusJSON() ([]byte, error) {
	return json.Marshal(m.status)
}

// Pushed returns the last status pushed by peerID.
func (m *MockHandler) Pushed(peerID string) (model.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.pushed[peerID]
	return s, ok
}

// Counts returns how many pull, push and download requests were handled.
func (m *MockHandler) Counts() (pulls, pushes, downloads int64) {
	return m.pulls.Load(), m.pushes.Load(), m.downloads.Load()
}

// Pool returns the handler's worker pool.
func (m *MockHandler) Pool() *workerpool.Pool {
	return m.pool
}

// Stop drains the worker pool.
func (m *MockHandler) Stop() {
	m.pool.Stop()
}
