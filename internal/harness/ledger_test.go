package harness

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/nao1215/peerlink/internal/model"
)

func TestLedgerTeardown(t *testing.T) {
	t.Parallel()

	l := newLedger(slog.New(slog.DiscardHandler))
	var order []string
	stopCounts := make(map[string]int)
	add := func(kind model.ResourceKind, name string, err error) {
		l.register(kind, name, func() error {
			order = append(order, string(kind)+":"+name)
			stopCounts[string(kind)+":"+name]++
			return err
		})
	}

	add(model.ResourcePool, "self", nil)
	add(model.ResourceListener, "self", nil)
	add(model.ResourcePool, "friend", nil)
	add(model.ResourceListener, "friend", errors.New("boom"))
	add(model.ResourceTunnel, "self", nil)
	add(model.ResourceTunnel, "friend", nil)

	if err := l.stopNow(model.ResourceTunnel, "friend"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.stopNow(model.ResourceTunnel, "friend"); err != nil {
		t.Fatalf("second early stop: %v", err)
	}
	if err := l.stopNow(model.ResourceTunnel, "unknown"); err != nil {
		t.Fatalf("unknown resource: %v", err)
	}

	entries := l.teardown()
	want := []string{
		"tunnel:friend",
		"tunnel:self",
		"listener:self",
		"listener:friend",
		"pool:self",
		"pool:friend",
	}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("stop %d: expected %s, got %s", i, want[i], order[i])
		}
	}
	for name, n := range stopCounts {
		if n != 1 {
			t.Errorf("%s stopped %d times", name, n)
		}
	}

	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	if entries[3].Error != "boom" {
		t.Errorf("stop error not recorded: %+v", entries[3])
	}

	if again := l.teardown(); len(again) != len(want) {
		t.Errorf("second teardown stopped more resources: %d entries", len(again))
	}
	if len(order) != len(want) {
		t.Errorf("second teardown made stop calls: %v", order)
	}
}
