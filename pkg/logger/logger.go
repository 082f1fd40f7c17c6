// Package logger provides a centralized logging configuration for the fsmonitor
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Global logger instance
	fsmonLogger *zap.Logger
	loggerMu    sync.RWMutex
	// Level shared by every core so DEBUG can raise verbosity at runtime
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// LogConfig holds the logging configuration
type LogConfig struct {
	Level      string
	OutputPath string // empty disables the rotating file
	MaxSize    int    // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	EnableJSON bool
	// Console receives human readable output. stdout is reserved for the
	// protocol, so this defaults to stderr.
	Console io.Writer
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() *LogConfig {
	return &LogConfig{
		Level:      "info",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
		EnableJSON: false,
		Console:    os.Stderr,
	}
}

// DefaultLogPath returns the default rotating log file location
func DefaultLogPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pulsepoint", "logs", "fsmonitor.log")
}

// Initialize sets up the global logger with the given configuration
func Initialize(cfg *LogConfig) error {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var cores []zapcore.Core

	if cfg.Console != nil {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.Lock(zapcore.AddSync(cfg.Console)),
			level,
		))
	}

	if cfg.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755); err != nil {
			return err
		}

		// Configure file output with rotation
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.OutputPath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}

		var encoder zapcore.Encoder
		if cfg.EnableJSON {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		} else {
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileWriter), level))
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}

	built := zap.New(zapcore.NewTee(cores...), opts...).Named("fsmonitor")

	loggerMu.Lock()
	fsmonLogger = built
	loggerMu.Unlock()

	// Replace global logger
	zap.ReplaceGlobals(built)

	return nil
}

// Get returns the global logger instance
func Get() *zap.Logger {
	loggerMu.RLock()
	l := fsmonLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	// Initialize with default config if not already initialized
	Initialize(DefaultConfig())
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return fsmonLogger
}

// Sync flushes any buffered log entries
func Sync() error {
	loggerMu.RLock()
	l := fsmonLogger
	loggerMu.RUnlock()
	if l != nil {
		return l.Sync()
	}
	return nil
}

// SetDebug raises or lowers the verbosity of every logger built by this package
func SetDebug(enabled bool) {
	if enabled {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

// DebugEnabled reports whether debug entries are currently emitted
func DebugEnabled() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	Get().Debug(msg, fields...)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	Get().Info(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	Get().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	Get().Error(msg, fields...)
}

// WithCorrelationID creates a logger with a correlation ID field
func WithCorrelationID(correlationID string) *zap.Logger {
	return Get().With(zap.String("session_id", correlationID))
}
