package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/peerlink/internal/model"
)

// Batch performs several independent conformance runs with bounded
// concurrency.
//
// Design decision: every run gets a fresh Harness from the factory rather
// than sharing one, because:
// 1. Participants, listeners and networks of one run must never be reachable
// from another
// 2. A failed run cannot leave state behind that skews the next one
type Batch struct {
	factory     func(index int) *Harness
	concurrency int
	logger      *slog.Logger
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithConcurrency bounds how many runs are in progress at once. Values
// below one are ignored.
func WithConcurrency(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithBatchLogger sets the logger.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *Batch) {
		b.logger = logger
	}
}

// NewBatch creates a Batch whose runs use harnesses built by factory. Runs
// are sequential unless WithConcurrency says otherwise.
func NewBatch(factory func(index int) *Harness, opts ...BatchOption) *Batch {
	b := &Batch{
		factory:     factory,
		concurrency: 1,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run performs count runs and returns their reports in run order. A failed
// run does not stop the others; the returned error joins every run's error.
// Runs that had not started when ctx ended have a nil report.
//
// onDone, when not nil, is called once per finished run from the goroutine
// that ran it, so it must be safe for concurrent use.
func (b *Batch) Run(ctx context.Context, count int, onDone func(index int, report *model.RunReport, err error)) ([]*model.RunReport, error) {
	b.logger.Info("starting batch", "runs", count, "concurrency", b.concurrency)
	start := time.Now()

	reports := make([]*model.RunReport, count)
	errs := make([]error, count)

	// A plain group: one failed run must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(b.concurrency)

	for i := range count {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = fmt.Errorf("run %d not started: %w", i+1, err)
				return nil
			}

			b.logger.Info("starting run", "index", i+1, "total", count)
			report, err := b.factory(i).Run(ctx)
			reports[i] = report
			if err != nil {
				errs[i] = fmt.Errorf("run %d: %w", i+1, err)
				b.logger.Warn("run failed", "index", i+1, "error", err)
			}
			if onDone != nil {
				onDone(i, report, err)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // every goroutine returns nil

	b.logger.Info("batch complete", "runs", count, "elapsed", time.Since(start))
	return reports, errors.Join(errs...)
}
