package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// #region settings
var (
	mu       sync.RWMutex
	output   io.Writer = os.Stderr
	level              = log.InfoLevel
	jsonMode bool
)

// Configure sets the level, format (text|json) and destination used by every
// logger created afterwards. A nil writer keeps the current destination.
func Configure(lvl, format string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	level = ParseLevel(lvl)
	jsonMode = strings.EqualFold(format, "json")
	if w != nil {
		output = w
	}
}

// ParseLevel converts a level name to a log level, defaulting to info.
func ParseLevel(lvl string) log.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// #endregion settings

// #region component-loggers
// New returns a logger tagged with a component prefix such as "ORCH" or
// "INVOKER". Key/value pairs carry the payload; messages stay short.
func New(prefix string) *log.Logger {
	mu.RLock()
	defer mu.RUnlock()

	opts := log.Options{
		Prefix:          prefix,
		Level:           level,
		ReportTimestamp: true,
	}
	if jsonMode {
		opts.Formatter = log.JSONFormatter
	}
	return log.NewWithOptions(output, opts)
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// #endregion component-loggers
