// Package daemonlog implements structured logging for cmd/syncengined
// (§4.8): log/slog with optional file rotation through lumberjack.
// Grounded on the teacher's cmd/bd/daemon_logger.go (setupDaemonLogger /
// SetupStderrLogger shape), adapted to return a plain *slog.Logger instead
// of a bespoke wrapper type, since slog's own level methods already cover
// what the teacher's daemonLogger hand-rolled.
package daemonlog

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the daemon logger.
type Options struct {
	// FilePath, if non-empty, routes logs through a rotating lumberjack
	// file writer. Empty means stderr only.
	FilePath string
	JSON     bool
	Level    string // debug|info|warn|error, default info

	MaxSizeMB  int // default 50
	MaxBackups int // default 7
	MaxAgeDays int // default 30
	Compress   bool
}

// New builds a *slog.Logger per opts. Returns the underlying *lumberjack.Logger
// too (nil if logging to stderr) so the caller can Close it on shutdown.
func New(opts Options) (*slog.Logger, *lumberjack.Logger) {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}

	var w io.Writer = os.Stderr
	var rotator *lumberjack.Logger
	if opts.FilePath != "" {
		rotator = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 7),
			MaxAge:     orDefault(opts.MaxAgeDays, 30),
			Compress:   opts.Compress,
		}
		w = rotator
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler), rotator
}

// Discard returns a logger that drops everything, for tests that need one
// without verifying output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
