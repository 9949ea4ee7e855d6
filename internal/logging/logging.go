// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/gamecat/internal/config"
)

// ParseLevel maps debug|info|warn|error onto slog levels. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewHandler builds a text or JSON handler writing to w.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Writer returns stderr, or a rotating file when cfg.File is set.
func Writer(cfg config.Log) io.Writer {
	if strings.TrimSpace(cfg.File) == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

// Setup installs the default logger described by cfg and returns it.
// verbose forces debug level. The returned closer releases the log file,
// if any.
func Setup(cfg config.Log, verbose bool) (*slog.Logger, io.Closer) {
	level := cfg.Level
	if verbose {
		level = "debug"
	}
	w := Writer(cfg)
	logger := slog.New(NewHandler(w, level, cfg.Format))
	slog.SetDefault(logger)

	if lj, ok := w.(*lumberjack.Logger); ok {
		return logger, lj
	}
	return logger, nopCloser{}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
