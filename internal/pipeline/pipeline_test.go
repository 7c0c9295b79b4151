package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/peerlink/internal/model"
)

// mockStep is a test helper that implements the Step interface.
type mockStep struct {
	name      string
	state     model.RunState
	calls     int
	doFunc    func(ctx context.Context) error
	callCount int
}

// Do implements Step.Do.
func (m *mockStep) Do(ctx context.Context, phase *Phase) error {
	m.callCount++
	for range m.calls {
		phase.CountCall()
	}
	if m.doFunc != nil {
		return m.doFunc(ctx)
	}
	return nil
}

// Name implements Step.Name.
func (m *mockStep) Name() string {
	return m.name
}

// State implements Step.State.
func (m *mockStep) State() model.RunState {
	return m.state
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]model.Outcome
}

func (o *recordingObserver) ObservePhase(name string, outcome model.Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]model.Outcome)
	}
	o.outcomes[name] = outcome
}

func newReport() *model.RunReport {
	return model.NewRunReport("run", "sim", time.Now())
}

// TestPipelineAddStep tests adding steps to the pipeline.
func TestPipelineAddStep(t *testing.T) {
	t.Parallel()

	t.Run("creates empty pipeline", func(t *testing.T) {
		t.Parallel()

		if p := New(); p.StepCount() != 0 {
			t.Errorf("expected 0 steps, got %d", p.StepCount())
		}
	})

	t.Run("maintains step order", func(t *testing.T) {
		t.Parallel()

		p := New()
		p.AddStep(&mockStep{name: "first"})
		p.AddSteps(&mockStep{name: "second"}, &mockStep{name: "third"})

		names := p.StepNames()
		expected := []string{"first", "second", "third"}
		if len(names) != len(expected) {
			t.Fatalf("expected %d names, got %v", len(expected), names)
		}
		for i, name := range names {
			if name != expected[i] {
				t.Errorf("step %d: got %q, expected %q", i, name, expected[i])
			}
		}
	})
}

// TestPipelineExecute tests pipeline execution.
func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("advances state and reaches done", func(t *testing.T) {
		t.Parallel()

		var states []model.RunState
		report := newReport()
		p := New()
		p.AddSteps(
			&mockStep{name: "identities", state: model.StateIdentitiesCreated, doFunc: func(context.Context) error {
				states = append(states, report.State)
				return nil
			}},
			&mockStep{name: "listeners", state: model.StateListenersStarted, doFunc: func(context.Context) error {
				states = append(states, report.State)
				return nil
			}},
		)

		if err := p.Execute(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if states[0] != model.StateInit || states[1] != model.StateIdentitiesCreated {
			t.Errorf("unexpected states seen by steps: %v", states)
		}
		if report.State != model.StateDone {
			t.Errorf("expected DONE, got %v", report.State)
		}
		if len(report.Phases) != 2 || report.Phases[1].State != model.StateListenersStarted {
			t.Errorf("unexpected phases %+v", report.Phases)
		}
	})

	t.Run("records calls", func(t *testing.T) {
		t.Parallel()

		p := New()
		p.AddStep(&mockStep{name: "direct", calls: 8})
		report := newReport()
		if err := p.Execute(context.Background(), report); err != nil {
			t.Fatal(err)
		}
		if report.Phases[0].Calls != 8 {
			t.Errorf("expected 8 calls, got %d", report.Phases[0].Calls)
		}
	})

	t.Run("stops on first error and skips the rest", func(t *testing.T) {
		t.Parallel()

		expectedErr := errors.New("step failed")
		last := &mockStep{name: "should-not-run", state: model.StateDirectTestsRun}

		p := New()
		p.AddSteps(
			&mockStep{name: "ok", state: model.StateIdentitiesCreated},
			&mockStep{name: "failing", state: model.StateListenersStarted, doFunc: func(context.Context) error {
				return expectedErr
			}},
			last,
		)

		report := newReport()
		err := p.Execute(context.Background(), report)
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if last.callCount != 0 {
			t.Error("step after the failure should not have been called")
		}
		if report.State != model.StateFailed || report.FailedState != model.StateIdentitiesCreated {
			t.Errorf("unexpected states %v / %v", report.State, report.FailedState)
		}
		if report.Error != expectedErr.Error() {
			t.Errorf("unexpected report error %q", report.Error)
		}
		counts := report.CountOutcomes()
		if counts[model.OutcomePassed] != 1 || counts[model.OutcomeFailed] != 1 || counts[model.OutcomeSkipped] != 1 {
			t.Errorf("unexpected outcomes %v", counts)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		step := &mockStep{name: "should-not-run"}
		p := New()
		p.AddStep(step)

		report := newReport()
		err := p.Execute(ctx, report)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if step.callCount != 0 {
			t.Error("step should not have been called")
		}
		if report.State != model.StateFailed {
			t.Errorf("expected FAILED, got %v", report.State)
		}
		if phase, ok := report.Phase("should-not-run"); !ok || phase.Outcome != model.OutcomeSkipped {
			t.Errorf("expected skipped phase, got %+v", phase)
		}
	})

	t.Run("notifies observer", func(t *testing.T) {
		t.Parallel()

		obs := &recordingObserver{}
		p := New(WithObserver(obs), WithLogger(nil))
		p.AddSteps(
			&mockStep{name: "a"},
			&mockStep{name: "b", doFunc: func(context.Context) error { return errors.New("x") }},
			&mockStep{name: "c"},
		)
		_ = p.Execute(context.Background(), newReport()) //nolint:errcheck // outcome checked via observer

		want := map[string]model.Outcome{"a": model.OutcomePassed, "b": model.OutcomeFailed, "c": model.OutcomeSkipped}
		for name, outcome := range want {
			if obs.outcomes[name] != outcome {
				t.Errorf("%s: expected %s, got %s", name, outcome, obs.outcomes[name])
			}
		}
	})
}

// TestFunc tests the function step adapter.
func TestFunc(t *testing.T) {
	t.Parallel()

	called := false
	step := Func("tunnels", model.StateTunnelsStarted, func(_ context.Context, phase *Phase) error {
		called = true
		if phase.Name() != "tunnels" {
			t.Errorf("unexpected phase name %q", phase.Name())
		}
		phase.CountCall()
		return nil
	})

	if step.Name() != "tunnels" || step.State() != model.StateTunnelsStarted {
		t.Errorf("unexpected step %s/%v", step.Name(), step.State())
	}
	phase := &Phase{name: "tunnels"}
	if err := step.Do(context.Background(), phase); err != nil {
		t.Fatal(err)
	}
	if !called || phase.Calls() != 1 {
		t.Errorf("step not run or call not counted")
	}
}
