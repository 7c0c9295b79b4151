package log

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for log files.
const (
	// maxLogSizeMB is the size at which a log file is rotated.
	maxLogSizeMB = 10

	// maxLogBackups is how many rotated files are kept.
	maxLogBackups = 5

	// maxLogAgeDays is how long rotated files are kept.
	maxLogAgeDays = 28
)

// NewRotatingWriter returns a writer appending to path that rotates the file
// once it grows past maxLogSizeMB. The parent directory is created.
func NewRotatingWriter(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
	}, nil
}

// Options selects how New builds a logger.
type Options struct {
	// Verbose logs at debug level instead of warn.
	Verbose bool

	// JSON selects the JSON handler instead of text.
	JSON bool

	// File, when set, sends output to a rotated file instead of Stderr.
	File string

	// Stderr is the fallback writer. Defaults to os.Stderr.
	Stderr io.Writer
}

// New builds a sanitizing logger from opts. The returned closer releases the
// log file and must be called on shutdown; it is a no-op without a file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	w := opts.Stderr
	if w == nil {
		w = os.Stderr
	}
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		rotating, err := NewRotatingWriter(opts.File)
		if err != nil {
			return nil, nil, err
		}
		w, closer = rotating, rotating
	}

	return newLogger(w, opts.Verbose, opts.JSON), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
