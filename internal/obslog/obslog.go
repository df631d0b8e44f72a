// Package obslog wires up the process-wide slog.Logger, following
// internal/app's plain log/slog idiom: callers log with the package-level
// slog functions, and this package only decides where those records end up.
package obslog

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the default logger.
type Options struct {
	// FilePath rotates logs to disk via lumberjack when non-empty, in
	// addition to (or instead of) stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// AlsoStderr keeps stderr output even when FilePath is set.
	AlsoStderr bool

	// Debug lowers the level to slog.LevelDebug.
	Debug bool

	// JSON selects slog.JSONHandler over slog.TextHandler.
	JSON bool
}

// Init builds a *slog.Logger per Options, sets it as the default via
// slog.SetDefault, and returns it for callers that want an explicit handle.
func Init(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var writer io.Writer = os.Stderr
	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    defaultInt(opts.MaxSizeMB, 50),
			MaxBackups: defaultInt(opts.MaxBackups, 3),
			MaxAge:     defaultInt(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		if opts.AlsoStderr {
			writer = io.MultiWriter(os.Stderr, rotator)
		} else {
			writer = rotator
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func defaultInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// IterationLogger logs one executor iteration at debug level; wire it into
// executor.Hooks.OnIteration.
func IterationLogger(depth int, index int, inputTokens, outputTokens int64, cost float64) {
	slog.Debug("rlm iteration",
		"depth", depth,
		"index", index,
		"input_tokens", inputTokens,
		"output_tokens", outputTokens,
		"cost", cost)
}

// SubcallLogger logs a child RLM spawn, mirroring the shape of
// internal/app/rlm.go's slog.Info calls (message, then flat key/value pairs).
func SubcallLogger(depth int, task string) {
	slog.Info("rlm subcall spawned", "depth", depth, "task", task)
}
