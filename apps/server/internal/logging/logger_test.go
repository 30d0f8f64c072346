package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"jantaku-lite/apps/server/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestSetupWritesLogFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	logger, err := Setup(config.LogConfig{Level: "info", Dir: dir, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}, "server.log")
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	logger.Info("hello")

	if _, err := os.Stat(filepath.Join(dir, "server.log")); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}

func TestSetupRejectsBadRotation(t *testing.T) {
	if _, err := Setup(config.LogConfig{Dir: t.TempDir()}, "server.log"); err == nil {
		t.Fatalf("expected invalid rotation config to fail")
	}
}
