package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var L *slog.Logger = slog.Default() // Global logger instance

type contextKey string

const requestIDKey = contextKey("requestID")

// InitLogger initializes the global logger.
// Call this once at application startup, after loading config.
// When logFile is set, output is duplicated into a size-rotated file.
func InitLogger(logLevelStr, logFile string) {
	var level slog.Level
	switch strings.ToLower(logLevelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
		// Use slog directly here as our L might not be initialized yet for this warning.
		slog.Warn("Invalid LOG_LEVEL specified, defaulting to INFO", "configuredLevel", logLevelStr)
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var out io.Writer = os.Stdout
	if logFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	L = slog.New(slog.NewJSONHandler(out, opts))

	slog.SetDefault(L)
	L.Info("Logger initialized", "level", level.String(), "file", logFile)
}

// WithRequestID stores the request id so FromContext can tag log lines with it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContext returns the global logger, tagged with the request id when one is present.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return L
	}
	if id := RequestID(ctx); id != "" {
		return L.With("requestID", id)
	}
	return L
}
