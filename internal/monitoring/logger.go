package monitoring

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf receives verbose-only output such as forwarded tool lines. It is a
// no-op until Setup is called with Verbose set.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebugLogger replaces the verbose logger. Passing nil mutes it.
func SetDebugLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Debugf = func(string, ...interface{}) {}
		return
	}
	Debugf = f
}

// Options selects where log output goes.
type Options struct {
	// Logfile, when set, receives every milestone and forwarded tool line.
	Logfile string
	// Verbose enables Debugf and echoes to stderr even when Logfile is set.
	Verbose bool
	// Stderr overrides os.Stderr, mainly for tests.
	Stderr io.Writer
}

// Setup points Logf (and Debugf when verbose) at the configured sinks. Without
// a logfile everything goes to stderr. The returned closer releases the file
// and must be called once the run has finished.
func Setup(opts Options) (io.Closer, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var writers []io.Writer
	var file *os.File
	if opts.Logfile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Logfile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.Logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open logfile: %w", err)
		}
		file = f
		writers = append(writers, f)
	}
	if file == nil || opts.Verbose {
		writers = append(writers, stderr)
	}

	logger := log.New(io.MultiWriter(writers...), "", log.LstdFlags|log.Lmicroseconds)
	SetLogger(logger.Printf)
	if opts.Verbose {
		SetDebugLogger(logger.Printf)
	} else {
		SetDebugLogger(nil)
	}

	if file == nil {
		return nopCloser{}, nil
	}
	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
