package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/peerlink/internal/model"
)

// JSONWriter emits one run report per JSON document. Run states and
// outcomes are written by name, so CI jobs can match on "FAILED" without
// knowing the numeric order of the state machine.
type JSONWriter struct {
	baseWriter

	indent       bool
	indentPrefix string
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint is WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report as JSON.
func (w *JSONWriter) Write(report *model.RunReport) (int, error) {
	return w.writeJSON(report)
}

func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	return w.output.Write(data)
}

// JSONReport wraps a run report with output metadata.
type JSONReport struct {
	// Version is the peerlink version that produced the report.
	Version string `json:"version"`

	// Report is the run report.
	Report *model.RunReport `json:"report"`

	// Summary counts phases by outcome.
	Summary map[model.Outcome]int `json:"summary"`
}

// NewJSONReport creates a JSONReport wrapper with version information.
func NewJSONReport(report *model.RunReport, version string) *JSONReport {
	return &JSONReport{
		Version: version,
		Report:  report,
		Summary: report.CountOutcomes(),
	}
}

// FullJSONWriter outputs reports inside a JSONReport wrapper.
type FullJSONWriter struct {
	*JSONWriter

	version string
}

// NewFullJSONWriter creates a writer for wrapped reports.
func NewFullJSONWriter(output io.Writer, version string, opts ...JSONWriterOption) *FullJSONWriter {
	return &FullJSONWriter{
		JSONWriter: NewJSONWriter(output, opts...),
		version:    version,
	}
}

// Write outputs the report wrapped with metadata.
func (w *FullJSONWriter) Write(report *model.RunReport) (int, error) {
	return w.writeJSON(NewJSONReport(report, w.version))
}
