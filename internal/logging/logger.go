package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelError LogLevel = "error"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config holds logging configuration
type Config struct {
	Level  LogLevel  // Minimum log level to output
	Format LogFormat // Output format (json or text)
	Output io.Writer // Output destination (defaults to stderr)
	Quiet  bool      // If true, suppress non-error output
	RunID  string    // Attached to every record; generated when empty
}

// Logger wraps slog.Logger for the diagnostic channel. Operator-facing
// records go through DualLogger instead.
type Logger struct {
	logger *slog.Logger
	config Config
}

// NewLogger creates a new logger instance
func NewLogger(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}
	if config.RunID == "" {
		config.RunID = uuid.NewString()
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: convertLogLevel(config.Level),
	}

	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		logger: slog.New(handler).With("run_id", config.RunID),
		config: config,
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return NewLogger(Config{Output: io.Discard, Level: LevelError, Quiet: true, RunID: "discard"})
}

func convertLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RunID returns the identifier attached to every record
func (l *Logger) RunID() string {
	return l.config.RunID
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Debug(msg, args...)
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Info(msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// LogConnection logs SSH connection information
func (l *Logger) LogConnection(host string, port int, user string, duration time.Duration) {
	l.Info("ssh connection established",
		"host", host,
		"user", user,
		"port", port,
		"duration_ms", duration.Milliseconds(),
		// Never log key paths or secrets
	)
}

// LogConnectionError logs SSH connection errors
func (l *Logger) LogConnectionError(host string, port int, user string, err error) {
	l.Error("ssh connection failed",
		"host", host,
		"user", user,
		"port", port,
		"error", err.Error(),
	)
}

// LogHostKeyAccepted records an auto-trusted host key
func (l *Logger) LogHostKeyAccepted(host, keyType, fingerprint string) {
	l.Debug("host key accepted without verification",
		"host", host,
		"key_type", keyType,
		"fingerprint", fingerprint,
	)
}

// LogExecution logs remote command completion. The command itself is not logged.
func (l *Logger) LogExecution(host string, exitStatus int, stderrBytes int, duration time.Duration) {
	l.Info("command executed",
		"host", host,
		"exit_status", exitStatus,
		"stderr_bytes", stderrBytes,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogPoolStart logs the start of a worker pool phase
func (l *Logger) LogPoolStart(phase string, itemCount int, ceiling int) {
	l.Info("pool started",
		"phase", phase,
		"item_count", itemCount,
		"ceiling", ceiling,
	)
}

// LogPoolComplete logs the completion of a worker pool phase
func (l *Logger) LogPoolComplete(phase string, itemCount int, failureCount int, duration time.Duration) {
	l.Info("pool completed",
		"phase", phase,
		"item_count", itemCount,
		"failure_count", failureCount,
		"total_duration_ms", duration.Milliseconds(),
	)
}

// LogConfigLoad logs configuration loading events
func (l *Logger) LogConfigLoad(source string) {
	l.Info("configuration loaded",
		"source", source,
	)
}

// LogConfigError logs configuration errors
func (l *Logger) LogConfigError(source string, err error) {
	l.Error("configuration error",
		"source", source,
		"error", err.Error(),
	)
}

// NewLoggerFromConfig creates a logger from application configuration
func NewLoggerFromConfig(logLevel, logFormat string, quiet bool) *Logger {
	var level LogLevel
	switch logLevel {
	case "debug":
		level = LevelDebug
	case "error":
		level = LevelError
	default:
		level = LevelInfo
	}

	format := FormatText
	if logFormat == "json" {
		format = FormatJSON
	}

	return NewLogger(Config{
		Level:  level,
		Format: format,
		Quiet:  quiet,
	})
}
