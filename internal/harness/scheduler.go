package harness

import (
	"context"
	"sync"
	"time"
)

// Task is a function scheduled to run once after a delay. The caller owns it
// and may cancel it until it starts.
type Task struct {
	timer *time.Timer
	done  chan struct{}

	mu        sync.Mutex
	started   bool
	cancelled bool
}

// Schedule runs fn on its own goroutine after delay.
func Schedule(delay time.Duration, fn func()) *Task {
	t := &Task{done: make(chan struct{})}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return
		}
		t.started = true
		t.mu.Unlock()

		defer close(t.done)
		fn()
	})
	return t
}

// Cancel prevents the task from running. It reports whether it did; false
// means the task already started or was already cancelled.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.cancelled {
		return false
	}
	t.cancelled = true
	t.timer.Stop()
	close(t.done)
	return true
}

// Done is closed when the task finished running or was cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finished. It returns ErrTaskCancelled when the
// task was cancelled instead, and ctx's error when ctx ends first.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return ErrTaskCancelled
	}
	return nil
}
