package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/peerlink/internal/config"
	"github.com/nao1215/peerlink/internal/database"
	"github.com/nao1215/peerlink/internal/model"
	"github.com/nao1215/peerlink/internal/report"
)

// fastSimArgs keeps a simulated run short.
var fastSimArgs = []string{
	"run",
	"--network", "sim",
	"--sim-publish-delay", "10ms",
	"--publish-poll", "20ms",
	"--publish-timeout", "10s",
	"--direct-repeat", "1",
	"--tunneled-repeat", "1",
}

// TestNewRunCmd tests the run command's flags.
func TestNewRunCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRunCmd()

	testCases := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{"network", "n", config.NetworkSim},
		{"json", "j", "false"},
		{"markdown", "m", "false"},
		{"output", "o", ""},
		{"no-save", "", "false"},
		{"metrics-addr", "", ""},
		{"settle", "", "0s"},
		{"runs", "", "1"},
		{"parallel", "", "1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			flag := cmd.Flags().Lookup(tc.name)
			if flag == nil {
				t.Fatalf("expected %s flag", tc.name)
			}
			if flag.Shorthand != tc.shorthand {
				t.Errorf("shorthand = %q, want %q", flag.Shorthand, tc.shorthand)
			}
			if flag.DefValue != tc.defValue {
				t.Errorf("default = %q, want %q", flag.DefValue, tc.defValue)
			}
		})
	}
}

func TestRunCmdValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		args []string
		want error
	}{
		{"unknown network", []string{"run", "--network", "i2p"}, config.ErrInvalidNetwork},
		{"conflicting formats", []string{"run", "-j", "-m"}, config.ErrConflictingReportFormats},
		{"zero repeat", []string{"run", "--direct-repeat", "0"}, config.ErrInvalidRepeat},
		{"negative settle", []string{"run", "--settle", "-1s"}, config.ErrInvalidDelay},
		{"zero runs", []string{"run", "--runs", "0"}, config.ErrInvalidRuns},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := executeRoot(t, nil, tc.args...)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

// TestRunCmdOnSimulatedNetwork runs the whole scenario end to end.
func TestRunCmdOnSimulatedNetwork(t *testing.T) {
	t.Parallel()

	dbDir := t.TempDir()
	args := append(append([]string{}, fastSimArgs...), "--db", dbDir, "--json")
	stdout, _, err := executeRoot(t, nil, args...)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, stdout)
	}

	var parsed report.JSONReport
	if err := json.Unmarshal([]byte(stdout), &parsed); err != nil {
		t.Fatalf("output is not a JSON report: %v\n%s", err, stdout)
	}
	if parsed.Report == nil || parsed.Report.State != model.StateDone {
		t.Fatalf("expected DONE, got %+v", parsed.Report)
	}
	if parsed.Summary[model.OutcomeFailed] != 0 {
		t.Errorf("unexpected failed phases: %v", parsed.Summary)
	}

	db, err := database.Open(dbDir, database.Options{})
	if err != nil {
		t.Fatalf("run was not stored: %v", err)
	}
	defer db.Close()
	stored, err := db.GetRun(t.Context(), parsed.Report.RunID)
	if err != nil {
		t.Fatalf("run was not stored: %v", err)
	}
	if stored.State != model.StateDone {
		t.Errorf("stored state = %v", stored.State)
	}
}

func TestRunCmdNoSaveWritesMarkdownFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbDir := filepath.Join(dir, "db")
	reportPath := filepath.Join(dir, "reports", "run.md")
	args := append(append([]string{}, fastSimArgs...),
		"--db", dbDir, "--no-save", "-m", "-o", reportPath, "--settle", "10ms")

	stdout, _, err := executeRoot(t, nil, args...)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if stdout != "" {
		t.Errorf("expected nothing on stdout, got %q", stdout)
	}

	content, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if !strings.Contains(string(content), "# Peerlink Conformance Run") {
		t.Errorf("unexpected report:\n%s", content)
	}
	if _, err := os.Stat(filepath.Join(dbDir, database.FileName)); !os.IsNotExist(err) {
		t.Errorf("expected no database with --no-save, stat err = %v", err)
	}
}

func TestRunAfterSettle(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	t.Run("cancelled during the delay", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		time.AfterFunc(20*time.Millisecond, cancel)

		var called atomic.Bool
		start := time.Now()
		err := runAfterSettle(ctx, time.Hour, logger, func(context.Context) { called.Store(true) })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if called.Load() {
			t.Error("run started after cancellation")
		}
		if time.Since(start) > 10*time.Second {
			t.Error("cancellation did not interrupt the settle delay")
		}
	})

	t.Run("runs after the delay", func(t *testing.T) {
		t.Parallel()

		var called atomic.Bool
		start := time.Now()
		if err := runAfterSettle(t.Context(), 30*time.Millisecond, logger, func(context.Context) { called.Store(true) }); err != nil {
			t.Fatal(err)
		}
		if !called.Load() {
			t.Error("run not called")
		}
		if time.Since(start) < 30*time.Millisecond {
			t.Error("run started before the delay")
		}
	})

	t.Run("no delay runs inline", func(t *testing.T) {
		t.Parallel()

		called := false
		if err := runAfterSettle(t.Context(), 0, logger, func(context.Context) { called = true }); err != nil {
			t.Fatal(err)
		}
		if !called {
			t.Error("run not called")
		}
	})
}

func TestRunCmdSeveralRuns(t *testing.T) {
	t.Parallel()

	dbDir := t.TempDir()
	args := append(append([]string{}, fastSimArgs...), "--db", dbDir, "--json", "--runs", "2", "--parallel", "2")
	stdout, _, err := executeRoot(t, nil, args...)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// One JSON document per run.
	dec := json.NewDecoder(strings.NewReader(stdout))
	ids := make(map[string]bool)
	for dec.More() {
		var parsed report.JSONReport
		if err := dec.Decode(&parsed); err != nil {
			t.Fatalf("bad report: %v\n%s", err, stdout)
		}
		if parsed.Report.State != model.StateDone {
			t.Errorf("run %s ended in %v", parsed.Report.RunID, parsed.Report.State)
		}
		ids[parsed.Report.RunID] = true
	}
	if len(ids) != 2 {
		t.Errorf("expected distinct run ids, got %v", ids)
	}

	db, err := database.Open(dbDir, database.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	runs, err := db.ListRuns(t.Context(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 stored runs, got %d", len(runs))
	}
}

func TestReportFormat(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		json, markdown bool
		want           report.Format
	}{
		{false, false, report.FormatText},
		{true, false, report.FormatJSON},
		{false, true, report.FormatMarkdown},
	}
	for _, tc := range testCases {
		if got := reportFormat(tc.json, tc.markdown); got != tc.want {
			t.Errorf("reportFormat(%v, %v) = %q, want %q", tc.json, tc.markdown, got, tc.want)
		}
	}
}
