// Package pipeline runs the phases of a conformance run in order.
//
// Each phase is a Step that, when it passes, advances the run report to the
// state it names. The first failure moves the report to StateFailed, records
// the state the run failed in, and marks every later phase as skipped.
//
// Design decision: We use a pipeline pattern instead of direct function calls
// because:
// 1. It allows phases to be added or reordered without touching the runner
// 2. It provides consistent error handling and logging across phases
// 3. It records per-phase timing and call counts in one place
package pipeline
