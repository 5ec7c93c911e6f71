// Package log configures the process-wide structured logger.
package log

import (
	"log/slog"
	"os"
	"strings"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Setup installs a text handler on stderr as the default logger. Unknown
// level names fall back to info.
func Setup(logLevel string) {
	level, ok := levels[strings.ToLower(logLevel)]
	if !ok {
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithModule returns the default logger annotated with a module attribute so
// every subsystem's lines can be filtered apart.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
