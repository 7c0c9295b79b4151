package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/peerlink/internal/model"
)

// SimpleWriter prints a run as a header, one line per phase marked [+], [x]
// or [-], and outcome totals. Output is plain ASCII so it survives CI logs.
type SimpleWriter struct {
	baseWriter

	// verbose adds the teardown ledger and per-phase start times.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *model.RunReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writePhases(&sb, report)
	if w.verbose {
		w.writeTeardown(&sb, report)
	}
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.RunReport) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                     PEERLINK CONFORMANCE RUN\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Run ID:   %s\n", report.RunID)
	fmt.Fprintf(sb, "Network:  %s\n", report.Network)
	fmt.Fprintf(sb, "Started:  %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Duration: %s\n", report.Duration().Round(time.Millisecond))
	fmt.Fprintf(sb, "Status:   %s\n", statusText(report))
	if report.Error != "" {
		fmt.Fprintf(sb, "Error:    %s\n", report.Error)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writePhases(sb *strings.Builder, report *model.RunReport) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("PHASES\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	if len(report.Phases) == 0 {
		sb.WriteString("  No phases ran\n\n")
		return
	}

	for _, p := range report.Phases {
		fmt.Fprintf(sb, "  [%s] %-14s %-8s %4d calls  %s\n",
			outcomeMark(p.Outcome), p.Name, p.Outcome, p.Calls, p.Duration.Round(time.Millisecond))
		if w.verbose && !p.StartedAt.IsZero() {
			fmt.Fprintf(sb, "      started %s, reaches %s\n", p.StartedAt.Format(time.RFC3339), stateTitle(p.State))
		}
		if p.Error != "" {
			fmt.Fprintf(sb, "      error: %s\n", p.Error)
		}
	}
	sb.WriteString("\n")

	counts := report.CountOutcomes()
	fmt.Fprintf(sb, "  PASSED: %d  FAILED: %d  SKIPPED: %d\n\n",
		counts[model.OutcomePassed], counts[model.OutcomeFailed], counts[model.OutcomeSkipped])
}

func (w *SimpleWriter) writeTeardown(sb *strings.Builder, report *model.RunReport) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("TEARDOWN\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	if len(report.Teardown) == 0 {
		sb.WriteString("  Nothing to stop\n\n")
		return
	}
	for _, e := range report.Teardown {
		line := fmt.Sprintf("  %-8s %s", e.Kind, e.Name)
		if e.Error != "" {
			line += " (" + e.Error + ")"
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
