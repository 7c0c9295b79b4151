package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/peerlink/internal/model"
)

// FileName is the database file created inside the database directory.
const FileName = "peerlink.db"

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// RunDB stores the reports of conformance runs.
//
// Design decision: the full report is kept as one JSON column and the
// fields used for listing are duplicated into plain columns. Phase rows are
// stored separately so failures can be counted without decoding reports.
type RunDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures RunDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a RunDB in dbDir.
func Open(dbDir string, opts Options) (*RunDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	rdb := &RunDB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := rdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return rdb, nil
}

// Path returns the database file path.
func (rdb *RunDB) Path() string {
	return rdb.dbPath
}

// Close closes the database connection.
func (rdb *RunDB) Close() error {
	return rdb.db.Close()
}

func (rdb *RunDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		state TEXT NOT NULL,
		failed_state TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		error TEXT,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	-- One row per phase, in execution order
	CREATE TABLE IF NOT EXISTS phases (
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		outcome TEXT NOT NULL,
		calls INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT,
		PRIMARY KEY (run_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_phases_name ON phases(name, outcome);
	`
	_, err := rdb.db.ExecContext(context.Background(), schema)
	return err
}

// SaveRun stores report, replacing an earlier report with the same run id.
func (rdb *RunDB) SaveRun(ctx context.Context, report *model.RunReport) error {
	if report.RunID == "" {
		return errors.New("run report has no run id")
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}

	tx, err := rdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	var failedState sql.NullString
	if report.State == model.StateFailed {
		failedState = sql.NullString{String: report.FailedState.String(), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO runs (run_id, network, state, failed_state, started_at, finished_at, error, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO UPDATE SET
		network = excluded.network,
		state = excluded.state,
		failed_state = excluded.failed_state,
		started_at = excluded.started_at,
		finished_at = excluded.finished_at,
		error = excluded.error,
		report_json = excluded.report_json
	`,
		report.RunID,
		report.Network,
		report.State.String(),
		failedState,
		formatTimestamp(report.StartedAt),
		formatTimestamp(report.FinishedAt),
		report.Error,
		string(reportJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM phases WHERE run_id = ?", report.RunID); err != nil {
		return fmt.Errorf("failed to clear phases: %w", err)
	}
	for i, p := range report.Phases {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO phases (run_id, position, name, outcome, calls, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		`, report.RunID, i, p.Name, string(p.Outcome), p.Calls, p.Duration.Milliseconds(), p.Error)
		if err != nil {
			return fmt.Errorf("failed to save phase %s: %w", p.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun returns the stored report for runID.
func (rdb *RunDB) GetRun(ctx context.Context, runID string) (*model.RunReport, error) {
	var reportJSON string
	err := rdb.db.QueryRowContext(ctx, "SELECT report_json FROM runs WHERE run_id = ?", runID).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var report model.RunReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &report, nil
}

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	RunID       string
	Network     string
	State       string
	FailedState string
	StartedAt   time.Time
	FinishedAt  time.Time
	Error       string
}

// ListRuns returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (rdb *RunDB) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `
	SELECT run_id, network, state, failed_state, started_at, finished_at, error
	FROM runs
	ORDER BY started_at DESC
	`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := rdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var results []RunSummary
	for rows.Next() {
		var s RunSummary
		var failedState, finishedAt, runErr sql.NullString
		var startedAt string
		if err := rows.Scan(&s.RunID, &s.Network, &s.State, &failedState, &startedAt, &finishedAt, &runErr); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		s.FailedState = failedState.String
		s.StartedAt = parseTimestamp(startedAt)
		s.FinishedAt = parseTimestamp(finishedAt.String)
		s.Error = runErr.String
		results = append(results, s)
	}
	return results, rows.Err()
}

// PhaseFailures counts failed phases by name across every stored run.
func (rdb *RunDB) PhaseFailures(ctx context.Context) (map[string]int, error) {
	rows, err := rdb.db.QueryContext(ctx, `
	SELECT name, COUNT(*) FROM phases
	WHERE outcome = ?
	GROUP BY name
	`, string(model.OutcomeFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to count phase failures: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("failed to scan phase failures: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// DeleteRun removes a run and its phases.
func (rdb *RunDB) DeleteRun(ctx context.Context, runID string) error {
	tx, err := rdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM phases WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to delete phases: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return tx.Commit()
}

// formatTimestamp stores times as UTC RFC 3339 so they sort as text.
// The zero time is stored as NULL.
func formatTimestamp(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05", // SQLite default datetime format
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp tries each known format and returns the zero time when
// none matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
