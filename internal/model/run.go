package model

import (
	"fmt"
	"slices"
	"time"
)

// RunState is a state of a conformance run. States advance in the order
// they are declared; any state may move to StateFailed.
type RunState int

const (
	// StateInit is the state before anything was created.
	StateInit RunState = iota

	// StateIdentitiesCreated means every participant has key material.
	StateIdentitiesCreated

	// StateListenersStarted means the trusting participants are listening.
	StateListenersStarted

	// StateDirectTestsRun means the direct GET/POST phase passed.
	StateDirectTestsRun

	// StateTunnelsStarted means every anonymity-network process is up.
	StateTunnelsStarted

	// StateAwaitPublish means the hidden services answered a tunneled call.
	StateAwaitPublish

	// StateTunneledPositiveTests means the tunneled GETs matched the baseline.
	StateTunneledPositiveTests

	// StateNegativeCertTest means the untrusted certificate was refused.
	StateNegativeCertTest

	// StateTunnelReconfigured means the friend's tunnel runs with a bad cookie.
	StateTunnelReconfigured

	// StateNegativeAuthTest means the bad cookie was refused by the tunnel.
	StateNegativeAuthTest

	// StateDone means every phase passed.
	StateDone

	// StateFailed means a phase failed; teardown still ran.
	StateFailed
)

// String returns the state name.
func (s RunState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateIdentitiesCreated:
		return "IDENTITIES_CREATED"
	case StateListenersStarted:
		return "LISTENERS_STARTED"
	case StateDirectTestsRun:
		return "DIRECT_TESTS_RUN"
	case StateTunnelsStarted:
		return "TUNNELS_STARTED"
	case StateAwaitPublish:
		return "AWAIT_PUBLISH"
	case StateTunneledPositiveTests:
		return "TUNNELED_POSITIVE_TESTS"
	case StateNegativeCertTest:
		return "NEGATIVE_CERT_TEST"
	case StateTunnelReconfigured:
		return "TUNNEL_RECONFIGURED"
	case StateNegativeAuthTest:
		return "NEGATIVE_AUTH_TEST"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON reports.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *RunState) UnmarshalText(text []byte) error {
	for candidate := StateInit; candidate <= StateFailed; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", text)
}

// Outcome is the result of one phase.
type Outcome string

const (
	// OutcomePassed means the phase met every expectation.
	OutcomePassed Outcome = "passed"

	// OutcomeFailed means the phase stopped the run.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped means an earlier failure kept the phase from running.
	OutcomeSkipped Outcome = "skipped"
)

// PhaseResult records one phase of a run.
type PhaseResult struct {
	// Name identifies the phase, e.g. "direct".
	Name string `json:"name"`

	// State is the run state reached when the phase passes.
	State RunState `json:"state"`

	// Outcome is passed, failed or skipped.
	Outcome Outcome `json:"outcome"`

	// Calls counts the transport calls the phase made.
	Calls int `json:"calls"`

	// StartedAt is when the phase began.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the phase ran.
	Duration time.Duration `json:"duration"`

	// Error describes the failure, if any.
	Error string `json:"error,omitempty"`
}

// ResourceKind names what a teardown entry stopped.
type ResourceKind string

const (
	// ResourceTunnel is an anonymity-network process.
	ResourceTunnel ResourceKind = "tunnel"

	// ResourceListener is a peer listener.
	ResourceListener ResourceKind = "listener"

	// ResourcePool is a request handler's worker pool.
	ResourcePool ResourceKind = "pool"
)

// TeardownEntry records one stop call made during or after a run.
type TeardownEntry struct {
	// Kind is what was stopped.
	Kind ResourceKind `json:"kind"`

	// Name identifies the resource, e.g. "friend".
	Name string `json:"name"`

	// Error is the stop error, if any.
	Error string `json:"error,omitempty"`
}

// RunReport is the record of one conformance run.
type RunReport struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// Network is the anonymity-network backend used.
	Network string `json:"network"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when teardown completed.
	FinishedAt time.Time `json:"finished_at"`

	// State is the last state reached: StateDone or StateFailed.
	State RunState `json:"state"`

	// FailedState is the state the run was in when it failed.
	FailedState RunState `json:"failed_state,omitempty"`

	// Phases holds every phase in execution order.
	Phases []PhaseResult `json:"phases"`

	// Teardown lists every stop call in the order it was made.
	Teardown []TeardownEntry `json:"teardown"`

	// Error is the failure that ended the run, if any.
	Error string `json:"error,omitempty"`
}

// NewRunReport creates an empty report for a run.
func NewRunReport(runID, network string, startedAt time.Time) *RunReport {
	return &RunReport{
		RunID:     runID,
		Network:   network,
		StartedAt: startedAt,
		State:     StateInit,
		Phases:    []PhaseResult{},
		Teardown:  []TeardownEntry{},
	}
}

// Succeeded reports whether the run reached StateDone.
func (r *RunReport) Succeeded() bool {
	return r.State == StateDone
}

// Duration is the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// CountOutcomes tallies phases by outcome.
func (r *RunReport) CountOutcomes() map[Outcome]int {
	counts := make(map[Outcome]int, 3)
	for _, p := range r.Phases {
		counts[p.Outcome]++
	}
	return counts
}

// TeardownOf returns the teardown entries of one kind in order.
func (r *RunReport) TeardownOf(kind ResourceKind) []TeardownEntry {
	var entries []TeardownEntry
	for _, e := range r.Teardown {
		if e.Kind == kind {
			entries = append(entries, e)
		}
	}
	return entries
}

// Phase returns the named phase result.
func (r *RunReport) Phase(name string) (PhaseResult, bool) {
	i := slices.IndexFunc(r.Phases, func(p PhaseResult) bool { return p.Name == name })
	if i < 0 {
		return PhaseResult{}, false
	}
	return r.Phases[i], true
}
