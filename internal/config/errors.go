package config

import "errors"

// Configuration validation errors returned by Config.Validate.
//
// Design decision: package-level sentinels so callers can use errors.Is;
// none of the messages need dynamic values.
var (
	// ErrInvalidNetwork is returned when the network backend is unknown.
	ErrInvalidNetwork = errors.New("invalid network: must be \"sim\" or \"tor\"")

	// ErrInvalidTimeout is returned when a timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidRepeat is returned when a repeat count is below one.
	ErrInvalidRepeat = errors.New("invalid repeat count: must be at least 1")

	// ErrInvalidWorkerPoolSize is returned when the pool size is below one.
	ErrInvalidWorkerPoolSize = errors.New("invalid worker pool size: must be at least 1")

	// ErrInvalidVirtualPort is returned for ports outside 1-65535.
	ErrInvalidVirtualPort = errors.New("invalid virtual port: must be between 1 and 65535")

	// ErrInvalidPublishTimeout is returned when the publication timeout or
	// poll interval is not positive.
	ErrInvalidPublishTimeout = errors.New("invalid publish timeout: timeout and poll interval must be positive")

	// ErrInvalidRuns is returned when the run count or the parallelism is
	// below one.
	ErrInvalidRuns = errors.New("invalid runs: --runs and --parallel must be at least 1")

	// ErrInvalidDelay is returned when a delay is negative.
	ErrInvalidDelay = errors.New("invalid delay: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)
