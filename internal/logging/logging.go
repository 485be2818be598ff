// Package logging provides the structured leveled logger shared by every
// component: a single process-wide *zap.Logger configured once at startup
// from the CLI's verbosity and --log-file flags.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.Mutex
	current = zap.NewNop()
)

// Options controls how the process-wide logger is configured.
type Options struct {
	// Verbosity is the -v/-vv count: 0 is info, 1 is debug, 2+ is debug and
	// also attaches a stacktrace to every warn-level-and-above entry.
	Verbosity int
	// LogFile is a path to write logs to, or "stderr" (the default) for
	// console output.
	LogFile string
}

// Configure installs the process-wide logger built from opts. It should be
// called once, early in main, before any component logs anything.
func Configure(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Verbosity >= 1 {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(cfg)

	var writer zapcore.WriteSyncer
	if opts.LogFile == "" || opts.LogFile == "stderr" {
		writer = zapcore.AddSync(os.Stderr)
	} else {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		writer = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(encoder, writer, level)
	logger := zap.New(core, zap.AddCaller())
	if opts.Verbosity >= 2 {
		logger = logger.WithOptions(zap.AddStacktrace(zapcore.WarnLevel))
	}

	mu.Lock()
	current = logger
	mu.Unlock()
	return logger, nil
}

// L returns the current process-wide logger. Before Configure is called it
// is a no-op logger, so components used from tests never need to install one.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return current
}
