package util

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects how the process logger is built.
type Options struct {
	Environment string
	Level       string
	Format      string
	Service     string
}

var (
	mu           sync.RWMutex
	globalLogger *zap.Logger
)

// NewLogger builds a logger for opts. Production gets sampled JSON with
// ISO8601 timestamps, anything else the coloured console encoder. Format
// overrides the encoding either way.
func NewLogger(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableStacktrace = true
		cfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	switch strings.ToLower(opts.Format) {
	case "json":
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	case "console":
		cfg.Encoding = "console"
	}

	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(opts.Level))
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if opts.Service != "" {
		logger = logger.With(zap.String("service", opts.Service))
	}
	if opts.Environment != "" {
		logger = logger.With(zap.String("environment", opts.Environment))
	}
	return logger, nil
}

// ParseLevel maps a configured level name to a zap level. Unknown names
// log at info.
func ParseLevel(level string) zapcore.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return parsed
}

// Init builds the process logger and installs it as the package and zap
// global logger.
func Init(opts Options) (*zap.Logger, error) {
	logger, err := NewLogger(opts)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	globalLogger = logger
	mu.Unlock()
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Get returns the process logger. Before Init it is a production logger,
// or a no-op logger if that cannot be built.
func Get() *zap.Logger {
	mu.RLock()
	logger := globalLogger
	mu.RUnlock()
	if logger != nil {
		return logger
	}

	logger, err := Init(Options{Environment: "production", Level: "info", Format: "json"})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func Sync() {
	mu.RLock()
	logger := globalLogger
	mu.RUnlock()
	if logger != nil {
		_ = logger.Sync()
	}
}

// Package-level logging goes through the global logger with the wrapper
// frame skipped so callers show up as the caller.
func log(lvl zapcore.Level, msg string, fields []zap.Field) {
	if ce := Get().WithOptions(zap.AddCallerSkip(2)).Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}

func Debug(msg string, fields ...zap.Field) { log(zapcore.DebugLevel, msg, fields) }

func Info(msg string, fields ...zap.Field) { log(zapcore.InfoLevel, msg, fields) }

func Warn(msg string, fields ...zap.Field) { log(zapcore.WarnLevel, msg, fields) }

func Error(msg string, fields ...zap.Field) { log(zapcore.ErrorLevel, msg, fields) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { log(zapcore.FatalLevel, msg, fields) }

func String(key, value string) zap.Field {
	return zap.String(key, value)
}

func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

func Int(key string, value int) zap.Field {
	return zap.Int(key, value)
}

func Float64(key string, value float64) zap.Field {
	return zap.Float64(key, value)
}

func Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}

// ErrorField is zap.Error under a name that does not clash with Error.
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

// Phone logs a phone number in masked form only.
func Phone(key, value string) zap.Field {
	return zap.String(key, MaskPhone(value))
}
