// Package observability provides structured logging helpers for reelcast.
package observability

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/reelcast/internal/config"
)

type contextKey string

const requestIDKey contextKey = "request_id"

var requestLogging atomic.Bool

func init() {
	requestLogging.Store(true)
}

// SetRequestLoggingEnabled toggles per-request access logging.
func SetRequestLoggingEnabled(enabled bool) {
	requestLogging.Store(enabled)
}

// IsRequestLoggingEnabled reports whether per-request access logging is on.
func IsRequestLoggingEnabled() bool {
	return requestLogging.Load()
}

// NewLoggerWithWriter builds the process logger from cfg. Format "text"
// selects the text handler; anything else is JSON.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel maps a config level name to a slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent adds a component name to the logger. A nil logger means
// slog.Default.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", component))
}

// WithJob tags the logger with the job and asset it is working on.
func WithJob(logger *slog.Logger, jobID, assetID string) *slog.Logger {
	return logger.With(slog.String("job_id", jobID), slog.String("asset_id", assetID))
}

// WithAsset tags the logger with an asset id.
func WithAsset(logger *slog.Logger, assetID string) *slog.Logger {
	return logger.With(slog.String("asset_id", assetID))
}

// WithRequestID tags the logger with an HTTP request id.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With(slog.String("request_id", requestID))
}

// WithError attaches err as a string attribute. A nil err is a no-op.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// RequestIDFromContext extracts a request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// TimedOperationWithError logs the start and end of an operation. The error
// pointer is read when the returned func runs, so set it before that.
//
// Usage:
//
//	var err error
//	done := observability.TimedOperationWithError(ctx, logger, "encode", &err)
//	defer done()
//
//nolint:gocritic // errPtr must be a pointer to capture errors set after this call
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.DebugContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		duration := time.Since(start)
		if errPtr != nil && *errPtr != nil {
			logger.WarnContext(ctx, "operation failed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
				slog.String("error", (*errPtr).Error()),
			)
			return
		}
		logger.InfoContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
		)
	}
}
