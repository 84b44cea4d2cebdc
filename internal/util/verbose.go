package util

import (
	"io"
	"log/slog"
	"os"
)

var logger *slog.Logger

// InitLoggerTo installs the process-wide text logger writing to w. Debug
// records are kept only when verbose is set.
func InitLoggerTo(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// GetLogger returns the configured logger, falling back to info level on
// stderr when none was installed.
func GetLogger() *slog.Logger {
	if logger == nil {
		InitLoggerTo(os.Stderr, false)
	}
	return logger
}
