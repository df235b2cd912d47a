package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/cannelloni-tunnel/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	l := logging.New(format, lvl, os.Stderr).With("app", "cannelloni-tunnel")
	logging.Set(l)
	return l
}
