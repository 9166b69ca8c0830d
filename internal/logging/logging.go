// Package logging builds the structured loggers shared by the binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Component names attached to every record a subsystem logs.
const (
	CompEngine  = "engine"
	CompUpdater = "updater"
	CompWatcher = "watcher"
	CompWalker  = "walker"
	CompStore   = "store"
	CompHTTP    = "http"
	CompCLI     = "cli"
)

// ParseLevel accepts debug, info, warn/warning and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger writing to w. format is "text" or "json".
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// ForComponent tags every record of l with the component name.
func ForComponent(l *slog.Logger, name string) *slog.Logger {
	return l.With(slog.String("component", name))
}
