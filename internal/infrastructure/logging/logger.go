// Package logging provides structured logging for focussync. It wraps
// log/slog with context-aware attributes for sync rounds and optional
// rotating file output.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// contextKey is used for storing logger-related values in context.
type contextKey string

const (
	// CorrelationIDKey is the context key for correlation IDs.
	CorrelationIDKey contextKey = "correlation_id"
	// RoundIDKey is the context key for sync round IDs.
	RoundIDKey contextKey = "round_id"
	// DeviceIDKey is the context key for the local device ID.
	DeviceIDKey contextKey = "device_id"
	// EntityTypeKey is the context key for the entity kind being processed.
	EntityTypeKey contextKey = "entity_type"
)

// Level represents log levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format represents log output formats.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// FileConfig enables rotating file output.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config holds logging configuration.
type Config struct {
	Level      Level
	Format     Format
	Output     io.Writer
	File       *FileConfig // When set, logs go to the file as well as Output
	AddSource  bool
	TimeFormat string
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
	}
}

// Logger wraps slog.Logger with sync-specific helpers.
type Logger struct {
	slogger *slog.Logger
	level   *slog.LevelVar
	closer  io.Closer
}

var (
	global   *Logger
	globalMu sync.Mutex
)

// Init replaces the global logger.
func Init(cfg Config) *Logger {
	l := New(cfg)
	globalMu.Lock()
	global = l
	globalMu.Unlock()
	return l
}

// Default returns the global logger, initializing it with defaults if necessary.
func Default() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(DefaultConfig())
	}
	return global
}

// New creates a new Logger with the provided configuration.
func New(cfg Config) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var closer io.Closer
	if cfg.File != nil && cfg.File.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		output = io.MultiWriter(output, rotator)
		closer = rotator
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{slogger: slog.New(handler), level: level, closer: closer}
}

// parseLevel converts a Level to slog.Level.
func parseLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel dynamically changes the log level.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(parseLevel(level))
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// With returns a new Logger with the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...), level: l.level, closer: l.closer}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.slogger.Debug(msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.slogger.Info(msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.slogger.Warn(msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.slogger.Error(msg, args...)
}

// DebugContext logs at debug level with context.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, enrichArgs(ctx, args)...)
}

// InfoContext logs at info level with context.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, enrichArgs(ctx, args)...)
}

// WarnContext logs at warn level with context.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, enrichArgs(ctx, args)...)
}

// ErrorContext logs at error level with context.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, enrichArgs(ctx, args)...)
}

// enrichArgs extracts context values and adds them as log attributes.
func enrichArgs(ctx context.Context, args []any) []any {
	enriched := make([]any, 0, len(args)+8)
	for _, key := range []contextKey{CorrelationIDKey, RoundIDKey, DeviceIDKey, EntityTypeKey} {
		if v := ctx.Value(key); v != nil {
			enriched = append(enriched, string(key), v)
		}
	}
	return append(enriched, args...)
}

// Underlying returns the underlying slog.Logger.
func (l *Logger) Underlying() *slog.Logger {
	return l.slogger
}

// --- Context helpers ---

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// WithRoundID adds a sync round ID to the context.
func WithRoundID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RoundIDKey, id)
}

// WithDeviceID adds the device ID to the context.
func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, DeviceIDKey, id)
}

// WithEntityType adds an entity kind to the context.
func WithEntityType(ctx context.Context, entityType string) context.Context {
	return context.WithValue(ctx, EntityTypeKey, entityType)
}

// CorrelationID extracts the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	s, _ := ctx.Value(CorrelationIDKey).(string)
	return s
}

// RoundID extracts the sync round ID from context.
func RoundID(ctx context.Context) string {
	s, _ := ctx.Value(RoundIDKey).(string)
	return s
}

// --- Sync logging helpers ---

// LogRoundStart logs the start of a sync round.
func LogRoundStart(ctx context.Context, logger *Logger, store string, queued int) {
	logger.InfoContext(ctx, "sync round started",
		"store", store,
		"queued", queued,
	)
}

// LogRoundComplete logs a finished sync round.
func LogRoundComplete(ctx context.Context, logger *Logger, pushed, pulled, conflicts int, duration time.Duration) {
	logger.InfoContext(ctx, "sync round completed",
		"pushed", pushed,
		"pulled", pulled,
		"conflicts", conflicts,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogRoundFailed logs a failed sync round.
func LogRoundFailed(ctx context.Context, logger *Logger, step string, err error, duration time.Duration) {
	logger.WarnContext(ctx, "sync round failed",
		"step", step,
		"error", err.Error(),
		"duration_ms", duration.Milliseconds(),
	)
}

// LogPushRejected logs a push the remote refused because it holds a newer record.
func LogPushRejected(ctx context.Context, logger *Logger, entity string, remoteDevice string, remoteModified time.Time) {
	logger.InfoContext(ctx, "push superseded by remote",
		"entity", entity,
		"remote_device", remoteDevice,
		"remote_modified_at", remoteModified.Format(time.RFC3339Nano),
	)
}

// LogRetriesExhausted logs queue entries that keep failing to sync.
func LogRetriesExhausted(ctx context.Context, logger *Logger, maxRetry, threshold, queued int) {
	logger.ErrorContext(ctx, "sync keeps failing",
		"max_retry", maxRetry,
		"threshold", threshold,
		"queued", queued,
	)
}

// LogSyncScheduled logs a scheduled sync pass.
func LogSyncScheduled(ctx context.Context, logger *Logger, delay time.Duration, reason string) {
	logger.DebugContext(ctx, "sync scheduled",
		"delay_ms", delay.Milliseconds(),
		"reason", reason,
	)
}
