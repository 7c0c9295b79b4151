// Package database provides SQLite-based storage for conformance run
// history.
//
// RunDB keeps every run report keyed by its run id, plus one row per phase
// so the history command can show which phases fail most often.
//
// Design decision: We use SQLite (via modernc.org/sqlite) because:
// 1. The database is a single file next to the other application data
// 2. The CGO-free driver keeps cross-compilation simple
// 3. Run history is small and written once per run
package database
