package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"kiln/internal/config"
)

// Setup installs the default slog logger. The TUI owns the terminal, so it
// logs to a file; CLI commands pass toStderr and log next to their output.
// The returned closer releases the log file, if one was opened.
func Setup(cfg config.Config, toStderr bool) (io.Closer, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Log.Level)}

	if toStderr {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		return io.NopCloser(nil), nil
	}

	path := cfg.LogFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, opts)))
	return f, nil
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns the default logger tagged with a component name,
// e.g. "kiln.session".
func With(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// Truncate shortens s to at most maxLen runes for log attributes.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
