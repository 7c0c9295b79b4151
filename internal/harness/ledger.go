package harness

import (
	"log/slog"
	"sync"

	"github.com/nao1215/peerlink/internal/model"
)

// teardownOrder is the order resources are stopped in.
var teardownOrder = []model.ResourceKind{model.ResourceTunnel, model.ResourceListener, model.ResourcePool}

type resource struct {
	kind    model.ResourceKind
	name    string
	stop    func() error
	stopped bool
}

// ledger tracks every started resource so each one is stopped exactly once.
type ledger struct {
	logger *slog.Logger

	mu        sync.Mutex
	resources []*resource
	entries   []model.TeardownEntry
}

func newLedger(logger *slog.Logger) *ledger {
	return &ledger{logger: logger}
}

// register records a started resource.
func (l *ledger) register(kind model.ResourceKind, name string, stop func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resources = append(l.resources, &resource{kind: kind, name: name, stop: stop})
}

// stopNow stops one resource ahead of teardown. Unknown or already stopped
// resources are ignored.
func (l *ledger) stopNow(kind model.ResourceKind, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.resources {
		if r.kind == kind && r.name == name && !r.stopped {
			return l.stopLocked(r)
		}
	}
	return nil
}

// teardown stops every remaining resource, tunnels first, then listeners,
// then pools, and returns every stop made over the ledger's life.
func (l *ledger) teardown() []model.TeardownEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, kind := range teardownOrder {
		for _, r := range l.resources {
			if r.kind == kind && !r.stopped {
				_ = l.stopLocked(r) //nolint:errcheck // recorded in the entry
			}
		}
	}
	return append([]model.TeardownEntry(nil), l.entries...)
}

func (l *ledger) stopLocked(r *resource) error {
	r.stopped = true
	err := r.stop()
	entry := model.TeardownEntry{Kind: r.kind, Name: r.name}
	if err != nil {
		entry.Error = err.Error()
		l.logger.Warn("stop failed", "kind", r.kind, "name", r.name, "error", err)
	} else {
		l.logger.Debug("stopped", "kind", r.kind, "name", r.name)
	}
	l.entries = append(l.entries, entry)
	return err
}
