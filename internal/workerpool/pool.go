package workerpool

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultSize is the number of tasks run at once when no size is given.
const DefaultSize = 8

// ErrPoolStopped is returned by Submit once Stop has been called.
var ErrPoolStopped = errors.New("worker pool stopped")

// Pool runs submitted tasks with bounded concurrency.
//
// Design decision: errgroup.SetLimit provides the bound. Submit blocks while
// every slot is busy, which pushes back on the caller instead of queueing
// without limit. Stop refuses new work and waits for everything already
// accepted, so a stopped pool has no goroutines left.
type Pool struct {
	name   string
	size   int
	logger *slog.Logger

	// mu is held shared by Submit and exclusively by Stop, so no task is
	// added to the group after Stop starts waiting on it.
	mu      sync.RWMutex
	stopped bool
	group   errgroup.Group

	inFlight  atomic.Int64
	completed atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithSize sets the maximum number of concurrent tasks. Non-positive values
// are ignored.
func WithSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New creates a pool labelled name.
func New(name string, opts ...Option) *Pool {
	p := &Pool{
		name:   name,
		size:   DefaultSize,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.group.SetLimit(p.size)
	p.logger = p.logger.With("component", "workerpool", "pool", name)
	return p
}

// Submit runs task on a pool goroutine. It blocks while the pool is full and
// returns ErrPoolStopped after Stop.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	p.inFlight.Add(1)
	p.group.Go(func() error {
		defer func() {
			p.inFlight.Add(-1)
			p.completed.Add(1)
		}()
		task()
		return nil
	})
	return nil
}

// Stop refuses new tasks and waits for accepted ones to finish. Calling it
// again is a no-op.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.logger.Debug("draining worker pool", "in_flight", p.inFlight.Load())
	_ = p.group.Wait() //nolint:errcheck // tasks never return errors
	p.logger.Debug("worker pool stopped", "completed", p.completed.Load())
}

// Stopped reports whether Stop has been called.
func (p *Pool) Stopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}

// Name returns the pool label.
func (p *Pool) Name() string { return p.name }

// Size returns the concurrency bound.
func (p *Pool) Size() int { return p.size }

// InFlight returns the number of tasks accepted but not finished.
func (p *Pool) InFlight() int64 { return p.inFlight.Load() }

// Completed returns the number of finished tasks.
func (p *Pool) Completed() int64 { return p.completed.Load() }
