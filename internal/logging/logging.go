// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Options selects the handler installed by Setup.
type Options struct {
	// Level is debug, info, warn or error.
	Level string
	// Format is text or json.
	Format string
	Output io.Writer
}

var (
	mu       sync.Mutex
	level    = new(slog.LevelVar)
	previous *slog.Logger
)

// ParseLevel converts a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// Setup installs a handler as the slog default and returns the logger.
func Setup(opts Options) (*slog.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level.Set(lvl)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	logger := slog.New(handler)
	mu.Lock()
	previous = nil
	mu.Unlock()
	slog.SetDefault(logger)
	return logger, nil
}

// SetLevel changes the level of the handler installed by Setup.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Disable turns off all logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()
	if previous == nil {
		previous = slog.Default()
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Enable turns logging back on
func Enable() {
	mu.Lock()
	defer mu.Unlock()
	if previous != nil {
		slog.SetDefault(previous)
		previous = nil
	}
}
