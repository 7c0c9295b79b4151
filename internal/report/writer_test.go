package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/peerlink/internal/model"
)

// createTestReport creates a report with sample data for testing.
func createTestReport(failed bool) *model.RunReport {
	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	r := model.NewRunReport("4b7c8e4e-run", "sim", started)
	r.Phases = []model.PhaseResult{
		{Name: "identities", State: model.StateIdentitiesCreated, Outcome: model.OutcomePassed, StartedAt: started},
		{Name: "direct", State: model.StateDirectTestsRun, Outcome: model.OutcomePassed, Calls: 18, Duration: 120 * time.Millisecond, StartedAt: started},
		{Name: "tunneled", State: model.StateTunneledPositiveTests, Outcome: model.OutcomePassed, Calls: 8, StartedAt: started},
	}
	r.Teardown = []model.TeardownEntry{
		{Kind: model.ResourceTunnel, Name: "friend"},
		{Kind: model.ResourceListener, Name: "self"},
		{Kind: model.ResourcePool, Name: "self", Error: "pool already stopped"},
	}
	r.FinishedAt = started.Add(3 * time.Second)
	r.State = model.StateDone
	if failed {
		r.Phases[2].Outcome = model.OutcomeFailed
		r.Phases[2].Error = "tunnel rejected"
		r.Phases = append(r.Phases, model.PhaseResult{Name: "negative-cert", State: model.StateNegativeCertTest, Outcome: model.OutcomeSkipped})
		r.State = model.StateFailed
		r.FailedState = model.StateAwaitPublish
		r.Error = "tunnel rejected"
	}
	return r
}

func TestStateTitle(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		state model.RunState
		want  string
	}{
		{model.StateInit, "Init"},
		{model.StateTunneledPositiveTests, "Tunneled Positive Tests"},
		{model.StateDone, "Done"},
	}
	for _, tc := range testCases {
		if got := stateTitle(tc.state); got != tc.want {
			t.Errorf("stateTitle(%v) = %q, want %q", tc.state, got, tc.want)
		}
	}
}

// TestSimpleWriter tests the human-readable report writer.
func TestSimpleWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes header and phases", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		n, err := NewSimpleWriter(&buf).Write(createTestReport(false))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != buf.Len() {
			t.Errorf("reported %d bytes, wrote %d", n, buf.Len())
		}

		output := buf.String()
		for _, want := range []string{"PEERLINK CONFORMANCE RUN", "4b7c8e4e-run", "Status:   Passed", "[+] direct", "18 calls", "PASSED: 3"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
		if strings.Contains(output, "TEARDOWN") {
			t.Error("teardown shown without verbose")
		}
	})

	t.Run("failed run names the state", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(createTestReport(true)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		for _, want := range []string{"Failed during Await Publish", "[x] tunneled", "error: tunnel rejected", "[-] negative-cert", "SKIPPED: 1"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("verbose mode includes teardown", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf, WithVerbose(true)).Write(createTestReport(false)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		if !strings.Contains(output, "TEARDOWN") || !strings.Contains(output, "(pool already stopped)") {
			t.Error("expected verbose output to contain the teardown ledger")
		}
	})

	t.Run("empty report", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(model.NewRunReport("x", "sim", time.Now())); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "No phases ran") {
			t.Error("expected empty phase notice")
		}
	})
}

// TestJSONWriter tests the JSON report writer.
func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("outputs valid JSON", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(createTestReport(true)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var parsed model.RunReport
		if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if parsed.State != model.StateFailed || parsed.FailedState != model.StateAwaitPublish {
			t.Errorf("unexpected states %v/%v", parsed.State, parsed.FailedState)
		}
		if !strings.Contains(buf.String(), `"state":"FAILED"`) {
			t.Error("expected state to be written by name")
		}
	})

	t.Run("compact output by default", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(createTestReport(false)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Count(buf.String(), "\n") != 1 {
			t.Error("expected a single line of compact JSON")
		}
	})

	t.Run("pretty print", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithPrettyPrint()).Write(createTestReport(false)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n  \"run_id\"") {
			t.Error("expected indented output")
		}
	})

	t.Run("full writer wraps with version and summary", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewFullJSONWriter(&buf, "v1.2.3").Write(createTestReport(true)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var parsed JSONReport
		if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if parsed.Version != "v1.2.3" {
			t.Errorf("unexpected version %q", parsed.Version)
		}
		if parsed.Summary[model.OutcomeFailed] != 1 || parsed.Summary[model.OutcomeSkipped] != 1 {
			t.Errorf("unexpected summary %v", parsed.Summary)
		}
		if parsed.Report == nil || parsed.Report.RunID != "4b7c8e4e-run" {
			t.Error("report missing from wrapper")
		}
	})
}

// TestMarkdownWriter tests the Markdown report writer.
func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		failed bool
		want   []string
	}{
		{
			name: "passed run",
			want: []string{"# Peerlink Conformance Run", "✅ Passed", "```mermaid", "Phase Outcomes", "[!TIP]", "direct", "Tunneled Positive Tests", "peerlink v0.1.0"},
		},
		{
			name:   "failed run",
			failed: true,
			want:   []string{"❌ Failed during Await Publish", "[!CAUTION]", "tunnel rejected", "`friend`"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			w := NewMarkdownWriter(&buf, WithFooterVersion("v0.1.0"))
			if _, err := w.Write(createTestReport(tc.failed)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			output := buf.String()
			for _, want := range tc.want {
				if !strings.Contains(output, want) {
					t.Errorf("expected markdown to contain %q\n%s", want, output)
				}
			}
		})
	}
}

func TestNewWriter(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		format  Format
		want    string
		wantErr bool
	}{
		{FormatText, "PEERLINK CONFORMANCE RUN", false},
		{"", "PEERLINK CONFORMANCE RUN", false},
		{FormatJSON, `"version": "dev"`, false},
		{FormatMarkdown, "# Peerlink Conformance Run", false},
		{"yaml", "", true},
	}
	for _, tc := range testCases {
		t.Run(string(tc.format), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			w, err := NewWriter(tc.format, &buf, "dev")
			if tc.wantErr {
				if err == nil {
					t.Error("expected error for unknown format")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if _, err := w.Write(createTestReport(false)); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(buf.String(), tc.want) {
				t.Errorf("expected %q in output", tc.want)
			}
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write(*model.RunReport) (int, error) {
	return 0, errors.New("disk full")
}

func TestMultiWriter(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	m := NewMultiWriter(NewSimpleWriter(&a), NewJSONWriter(&b))
	n, err := m.Write(createTestReport(false))
	if err != nil {
		t.Fatal(err)
	}
	if n != a.Len()+b.Len() {
		t.Errorf("total %d, want %d", n, a.Len()+b.Len())
	}

	var c bytes.Buffer
	stopping := NewMultiWriter(failingWriter{}, NewSimpleWriter(&c))
	if _, err := stopping.Write(createTestReport(false)); err == nil {
		t.Error("expected error")
	}
	if c.Len() != 0 {
		t.Error("writer after the failure should not run")
	}
}

func TestTruncateString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"much longer text", 10, "much lo..."},
		{"abcdef", 3, "abc"},
	}
	for _, tc := range testCases {
		if got := truncateString(tc.in, tc.max); got != tc.want {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
