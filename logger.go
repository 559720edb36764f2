package dabstract

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(zerolog.WarnLevel).
			With().Timestamp().Str("component", "dabstract").Logger()
)

// Logger returns the package logger. It writes warnings and above to stderr
// until replaced with SetLogger.
func Logger() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := logger
	return &l
}

// SetLogger replaces the package logger. Pass zerolog.Nop() to silence it.
func SetLogger(l zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}
