// Package logging builds the component loggers used across macrolog.
//
// Every component takes a *log.Logger with a "[component] " prefix. The
// Factory decides where their output goes: a size-rotated file by default,
// stderr as well in verbose mode, or nowhere.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Factory.
type Options struct {
	// File is the log file. Empty disables file logging.
	File string

	// MaxSizeMB, MaxBackups, MaxAgeDays and Compress control rotation.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Verbose also writes to Stderr.
	Verbose bool

	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// Factory hands out prefixed loggers sharing one destination.
type Factory struct {
	out    io.Writer
	roller *lumberjack.Logger

	mu      sync.Mutex
	loggers map[string]*log.Logger
}

// New creates a Factory. The log directory is created if needed.
func New(opts Options) (*Factory, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	f := &Factory{loggers: make(map[string]*log.Logger)}
	var writers []io.Writer

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f.roller = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, f.roller)
	}
	if opts.Verbose {
		writers = append(writers, stderr)
	}

	switch len(writers) {
	case 0:
		f.out = io.Discard
	case 1:
		f.out = writers[0]
	default:
		f.out = io.MultiWriter(writers...)
	}
	return f, nil
}

// Logger returns the logger for component, e.g. "sync" logs as "[sync] ".
// Repeated calls return the same logger.
func (f *Factory) Logger(component string) *log.Logger {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.loggers[component]; ok {
		return l
	}
	l := log.New(f.out, "["+component+"] ", log.LstdFlags)
	f.loggers[component] = l
	return l
}

// Writer returns the shared destination.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Rotate starts a new log file. It is a no-op without file logging.
func (f *Factory) Rotate() error {
	if f.roller == nil {
		return nil
	}
	if err := f.roller.Rotate(); err != nil {
		return fmt.Errorf("failed to rotate log: %w", err)
	}
	return nil
}

// Close closes the log file.
func (f *Factory) Close() error {
	if f.roller == nil {
		return nil
	}
	return f.roller.Close()
}
