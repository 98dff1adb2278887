// Package utils
package utils

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var logger atomic.Pointer[zerolog.Logger]

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
}

// NewLogger builds a logger at the given level. Unknown levels fall back to
// info. pretty switches to the human-readable console writer on stderr.
func NewLogger(level string, pretty bool) zerolog.Logger {
	return newLogger(os.Stderr, level, pretty)
}

func newLogger(out io.Writer, level string, pretty bool) zerolog.Logger {
	if pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("app", "bookstream").Logger()
}

// SetLogger replaces the process-wide logger. Loggers already handed out by
// GetLogger keep their old configuration.
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}

// GetLogger returns the process-wide logger, creating an info-level JSON
// logger on first use.
func GetLogger() zerolog.Logger {
	if l := logger.Load(); l != nil {
		return *l
	}
	l := NewLogger("info", false)
	logger.CompareAndSwap(nil, &l)
	return *logger.Load()
}
