package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/peerlink/internal/model"
)

// Step defines the interface that all pipeline steps must implement.
// Steps are executed in sequence; each one that passes moves the run to the
// state returned by State.
//
// Design decision: We use an interface rather than function types because:
// 1. It allows steps to carry configuration state
// 2. It provides Name() and State() for logging and the run report
// Func adapts a plain function for steps that need neither.
type Step interface {
	// Do executes the pipeline step. The phase records how many transport
	// calls the step made.
	Do(ctx context.Context, phase *Phase) error

	// Name returns the step's name for logging and the run report.
	Name() string

	// State returns the run state reached when the step passes.
	State() model.RunState
}

// Phase is handed to a running step.
type Phase struct {
	name  string
	calls int
}

// Name returns the running step's name.
func (p *Phase) Name() string { return p.name }

// CountCall records one transport call.
func (p *Phase) CountCall() { p.calls++ }

// Calls returns the number of recorded calls.
func (p *Phase) Calls() int { return p.calls }

// Observer is notified after every step, skipped steps included.
type Observer interface {
	ObservePhase(name string, outcome model.Outcome, elapsed time.Duration)
}

// funcStep is the Step returned by Func.
type funcStep struct {
	name  string
	state model.RunState
	fn    func(ctx context.Context, phase *Phase) error
}

// Func returns a step named name that runs fn and reaches state on success.
func Func(name string, state model.RunState, fn func(ctx context.Context, phase *Phase) error) Step {
	return &funcStep{name: name, state: state, fn: fn}
}

func (s *funcStep) Do(ctx context.Context, phase *Phase) error { return s.fn(ctx, phase) }
func (s *funcStep) Name() string                               { return s.name }
func (s *funcStep) State() model.RunState                      { return s.state }

// Pipeline orchestrates the execution of multiple steps.
// It maintains a list of steps and executes them in order. The first failing
// step ends the run; later steps are recorded as skipped.
type Pipeline struct {
	// steps contains the ordered list of steps to execute.
	steps []Step

	// logger is used for structured logging during execution.
	logger *slog.Logger

	observer Observer
}

// Option is a function that configures a Pipeline.
// This follows the functional options pattern for clean API design.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
// If not set, slog.Default is used.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithObserver sets the observer notified after each step.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// New creates a new Pipeline with the given options.
// Steps should be added using AddStep after creation.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// AddStep appends a step to the pipeline.
// Steps are executed in the order they are added.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all pipeline steps in sequence and records each one in
// report.Phases.
//
// Design decision: We check context.Done() before each step rather than
// during, because steps should handle their own timeouts. A cancelled run
// fails like any other: the state moves to StateFailed and the remaining
// steps are skipped.
//
// Returns the error of the failing step, or nil when every step passed and
// the report reached StateDone.
func (p *Pipeline) Execute(ctx context.Context, report *model.RunReport) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("pipeline cancelled", "step", step.Name(), "reason", err)
			p.fail(report, err)
			p.skip(report, p.steps[i:])
			return err
		}

		p.logger.Info("executing step", "step", step.Name(), "run_id", report.RunID)

		phase := &Phase{name: step.Name()}
		started := time.Now()
		err := step.Do(ctx, phase)
		elapsed := time.Since(started)

		result := model.PhaseResult{
			Name:      step.Name(),
			State:     step.State(),
			Outcome:   model.OutcomePassed,
			Calls:     phase.calls,
			StartedAt: started,
			Duration:  elapsed,
		}

		if err != nil {
			p.logger.Error("step failed", "step", step.Name(), "run_id", report.RunID, "error", err)
			result.Outcome = model.OutcomeFailed
			result.Error = err.Error()
			report.Phases = append(report.Phases, result)
			p.observe(result.Name, result.Outcome, elapsed)
			p.fail(report, err)
			p.skip(report, p.steps[i+1:])
			return err
		}

		p.logger.Debug("step completed", "step", step.Name(), "calls", phase.calls, "elapsed", elapsed)
		report.Phases = append(report.Phases, result)
		report.State = step.State()
		p.observe(result.Name, result.Outcome, elapsed)
	}

	report.State = model.StateDone
	return nil
}

func (p *Pipeline) fail(report *model.RunReport, err error) {
	report.FailedState = report.State
	report.State = model.StateFailed
	report.Error = err.Error()
}

func (p *Pipeline) skip(report *model.RunReport, steps []Step) {
	for _, step := range steps {
		report.Phases = append(report.Phases, model.PhaseResult{
			Name:    step.Name(),
			State:   step.State(),
			Outcome: model.OutcomeSkipped,
		})
		p.observe(step.Name(), model.OutcomeSkipped, 0)
	}
}

func (p *Pipeline) observe(name string, outcome model.Outcome, elapsed time.Duration) {
	if p.observer != nil {
		p.observer.ObservePhase(name, outcome, elapsed)
	}
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
