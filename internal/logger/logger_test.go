package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kiln/internal/config"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"a longer prompt", 8, "a longer..."},
		{"héllo wörld", 5, "héllo..."},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWritesToLogFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var cfg config.Config
	cfg.Log.Level = "debug"
	cfg.Log.File = filepath.Join(t.TempDir(), "logs", "kiln.log")

	closer, err := Setup(cfg, false)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	With("kiln.test").Debug("hello", "prompt", Truncate("a very long prompt", 6))
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(cfg.Log.File)
	if err != nil {
		t.Fatal(err)
	}
	out := string(raw)
	if !strings.Contains(out, "component=kiln.test") || !strings.Contains(out, `prompt="a very..."`) {
		t.Errorf("log file = %q", out)
	}
}
