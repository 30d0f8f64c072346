// Package logging builds the process logger: tint on stdout, optionally
// mirrored to rotating files.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"jantaku-lite/apps/server/internal/config"
)

// New returns a stdout logger. It does not touch slog.Default.
func New(level string) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      ParseLevel(level),
		TimeFormat: time.RFC3339,
		AddSource:  true,
	}))
}

// Setup returns the file-backed logger when cfg.Dir is set, the stdout logger
// otherwise, and installs it as slog.Default.
func Setup(cfg config.LogConfig, fileName string) (*slog.Logger, error) {
	logger, err := withFiles(cfg, fileName)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = New(cfg.Level)
	}
	slog.SetDefault(logger)
	return logger, nil
}

func withFiles(cfg config.LogConfig, fileName string) (*slog.Logger, error) {
	logDir := strings.TrimSpace(cfg.Dir)
	if logDir == "" {
		return nil, nil
	}
	if cfg.MaxSizeMB <= 0 || cfg.MaxBackups <= 0 || cfg.MaxAgeDays <= 0 {
		return nil, fmt.Errorf("invalid log config: size=%d backups=%d age_days=%d", cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir failed: %w", err)
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, fileName),
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays, // days
		Compress:   cfg.Compress,
	}

	w := io.MultiWriter(os.Stdout, logFile)
	logger := slog.New(tint.NewHandler(w, &tint.Options{
		Level:      ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		AddSource:  true,
		NoColor:    true,
	}))
	logger.Info("file_logging_enabled", slog.String("path", logFile.Filename))
	return logger, nil
}

func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard is a logger for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
