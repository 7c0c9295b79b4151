package report

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/peerlink/internal/model"
)

// Writer renders one run report. The run and history commands pick an
// implementation with NewWriter and never look at the format again.
type Writer interface {
	// Write outputs the report and returns the number of bytes written.
	Write(report *model.RunReport) (int, error)
}

// Format selects a Writer implementation.
type Format string

const (
	// FormatText is the human-readable terminal report.
	FormatText Format = "text"

	// FormatJSON is the machine-readable report.
	FormatJSON Format = "json"

	// FormatMarkdown is the report for sharing and documentation.
	FormatMarkdown Format = "markdown"
)

// NewWriter returns the Writer for format. version is embedded in formats
// that carry it.
func NewWriter(format Format, output io.Writer, version string) (Writer, error) {
	switch format {
	case FormatText, "":
		return NewSimpleWriter(output), nil
	case FormatJSON:
		return NewFullJSONWriter(output, version, WithPrettyPrint()), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output, WithFooterVersion(version)), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// MultiWriter renders the same report through several Writers, for example
// text on the terminal and JSON into a file. io.MultiWriter cannot do this
// since each destination has its own format.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to every Writer and stops on the first error.
func (m *MultiWriter) Write(report *model.RunReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// stateTitle turns "TUNNELED_POSITIVE_TESTS" into "Tunneled Positive Tests".
func stateTitle(s model.RunState) string {
	words := strings.ReplaceAll(strings.ToLower(s.String()), "_", " ")
	return cases.Title(language.English).String(words)
}

// outcomeMark is the one-character marker used in text tables.
func outcomeMark(o model.Outcome) string {
	switch o {
	case model.OutcomePassed:
		return "+"
	case model.OutcomeFailed:
		return "x"
	case model.OutcomeSkipped:
		return "-"
	default:
		return "?"
	}
}

// statusText summarizes how the run ended.
func statusText(report *model.RunReport) string {
	switch report.State {
	case model.StateDone:
		return "Passed"
	case model.StateFailed:
		return fmt.Sprintf("Failed during %s", stateTitle(report.FailedState))
	default:
		return "Incomplete (" + stateTitle(report.State) + ")"
	}
}
