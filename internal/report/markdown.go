package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/peerlink/internal/model"
)

// MarkdownWriter renders a run for pull requests and issue trackers: a
// summary table, a mermaid pie chart of phase outcomes, a GitHub alert for
// the verdict and the teardown ledger.
type MarkdownWriter struct {
	baseWriter

	version string
}

// MarkdownWriterOption configures a MarkdownWriter.
type MarkdownWriterOption func(*MarkdownWriter)

// WithFooterVersion adds the peerlink version to the footer.
func WithFooterVersion(version string) MarkdownWriterOption {
	return func(w *MarkdownWriter) {
		w.version = version
	}
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...MarkdownWriterOption) *MarkdownWriter {
	w := &MarkdownWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *model.RunReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeSummary(md, report)
	w.writePhases(md, report)
	w.writeTeardown(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.RunReport) {
	md.H1("Peerlink Conformance Run")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run ID", "`" + report.RunID + "`"},
			{"Network", report.Network},
			{"Started", report.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", report.Duration().Round(time.Millisecond).String()},
			{"Status", w.statusBadge(report)},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) statusBadge(report *model.RunReport) string {
	switch report.State {
	case model.StateDone:
		return "✅ " + statusText(report)
	case model.StateFailed:
		return "❌ " + statusText(report)
	default:
		return "⚠️ " + statusText(report)
	}
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, report *model.RunReport) {
	md.H2("Summary")
	md.PlainText("")

	counts := report.CountOutcomes()
	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Phases"},
		Rows: [][]string{
			{"Passed", strconv.Itoa(counts[model.OutcomePassed])},
			{"Failed", strconv.Itoa(counts[model.OutcomeFailed])},
			{"Skipped", strconv.Itoa(counts[model.OutcomeSkipped])},
		},
	})
	md.PlainText("")

	if len(report.Phases) > 0 {
		w.writePieChart(md, counts)
	}

	switch report.State {
	case model.StateDone:
		md.Tip("Every phase passed and teardown completed.")
	case model.StateFailed:
		md.Cautionf("The run failed during %s: %s", stateTitle(report.FailedState), report.Error)
	default:
		md.Note("The run did not finish.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, counts map[model.Outcome]int) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Phase Outcomes"),
		piechart.WithShowData(true),
	)
	for _, o := range []model.Outcome{model.OutcomePassed, model.OutcomeFailed, model.OutcomeSkipped} {
		if counts[o] > 0 {
			chart.LabelAndIntValue(string(o), uint64(counts[o])) //nolint:gosec // counts are non-negative
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writePhases(md *markdown.Markdown, report *model.RunReport) {
	md.H2("Phases")
	md.PlainText("")

	if len(report.Phases) == 0 {
		md.PlainText("No phases ran.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(report.Phases))
	for i, p := range report.Phases {
		errText := p.Error
		if errText == "" {
			errText = "-"
		}
		rows[i] = []string{
			p.Name,
			stateTitle(p.State),
			string(p.Outcome),
			strconv.Itoa(p.Calls),
			p.Duration.Round(time.Millisecond).String(),
			truncateString(errText, 60),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Phase", "Reaches", "Outcome", "Calls", "Duration", "Error"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeTeardown(md *markdown.Markdown, report *model.RunReport) {
	md.H2("Teardown")
	md.PlainText("")

	if len(report.Teardown) == 0 {
		md.PlainText("Nothing was started.")
		md.PlainText("")
		return
	}

	items := make([]string, len(report.Teardown))
	for i, e := range report.Teardown {
		items[i] = string(e.Kind) + " `" + e.Name + "`"
		if e.Error != "" {
			items[i] += ": " + e.Error
		}
	}
	md.BulletList(items...)
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	if w.version != "" {
		md.PlainTextf("*Report generated by peerlink %s*", w.version)
		return
	}
	md.PlainText("*Report generated by peerlink*")
}

// truncateString truncates a string to maxLen bytes with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
