package harness

import "errors"

// Run failures. Transport failures are reported with the transport's own
// sentinels (transport.ErrTLSRejected and so on).
var (
	// ErrPublicationTimeout is returned when the hidden services did not
	// answer a tunneled call within the publish timeout.
	ErrPublicationTimeout = errors.New("hidden service publication timed out")

	// ErrUnexpectedResponse is returned when a call succeeded with a body that
	// differs from the expected status.
	ErrUnexpectedResponse = errors.New("unexpected response body")

	// ErrUnexpectedSuccess is returned when a call expected to fail succeeded.
	ErrUnexpectedSuccess = errors.New("call succeeded but was expected to fail")

	// ErrWrongFailure is returned when a call failed with another kind than
	// the one expected.
	ErrWrongFailure = errors.New("call failed with an unexpected kind")

	// ErrTaskCancelled is returned by Task.Wait when the task was cancelled
	// before it ran.
	ErrTaskCancelled = errors.New("scheduled task cancelled")
)
