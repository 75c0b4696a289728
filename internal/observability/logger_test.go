package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/jmylchreest/reelcast/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	return parsed
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	parsed := decodeLine(t, &buf)
	assert.Equal(t, "test message", parsed["msg"])
	assert.Equal(t, "value", parsed["key"])
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	assert.Contains(t, buf.String(), "key=value")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"info", slog.LevelDebug, false},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelWarn, false},
		{"bogus", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.configLevel+"/"+tt.logLevel.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(config.LoggingConfig{Level: tt.configLevel, Format: "json"}, &buf)
			logger.Log(context.Background(), tt.logLevel, "test")
			assert.Equal(t, tt.shouldLog, buf.Len() > 0)
		})
	}
}

func TestNewLogger_TimeFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json", TimeFormat: "2006"}, &buf)
	logger.Info("x")

	parsed := decodeLine(t, &buf)
	assert.Len(t, parsed["time"], 4)
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger = WithComponent(logger, "worker")
	logger = WithJob(logger, "job-1", "asset-1")
	logger = WithError(logger, errors.New("boom"))
	logger = WithError(logger, nil)
	logger.Info("tagged")

	parsed := decodeLine(t, &buf)
	assert.Equal(t, "worker", parsed["component"])
	assert.Equal(t, "job-1", parsed["job_id"])
	assert.Equal(t, "asset-1", parsed["asset_id"])
	assert.Equal(t, "boom", parsed["error"])
}

func TestContextRequestID(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))

	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	WithAsset(WithRequestID(logger, "req-1"), "asset-1").Info("tagged")

	parsed := decodeLine(t, &buf)
	assert.Equal(t, "req-1", parsed["request_id"])
	assert.Equal(t, "asset-1", parsed["asset_id"])
}

func TestTimedOperationWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	err := errors.New("encode exploded")
	done := TimedOperationWithError(context.Background(), logger, "encode", &err)
	done()

	parsed := decodeLine(t, &buf)
	assert.Equal(t, "operation failed", parsed["msg"])
	assert.Equal(t, "encode exploded", parsed["error"])
}

func TestRequestLoggingToggle(t *testing.T) {
	t.Cleanup(func() { SetRequestLoggingEnabled(true) })

	assert.True(t, IsRequestLoggingEnabled())
	SetRequestLoggingEnabled(false)
	assert.False(t, IsRequestLoggingEnabled())
}
