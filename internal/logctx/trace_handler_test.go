package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func TestTraceHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, slog.LevelInfo)

	logger.InfoContext(context.Background(), "folder listed", "files", 3)

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.Equal(t, float64(3), entry["files"])
}

func TestTraceHandler_WithSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, slog.LevelInfo)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "downloading file")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
	assert.Equal(t, true, entry["trace_sampled"])
}

func TestTraceHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, slog.LevelInfo).With("run_id", "r1").WithGroup("file")

	logger.Info("skipped", "path", "/a/b.txt")

	entry := decode(t, &buf)
	assert.Equal(t, "r1", entry["run_id"])

	group, ok := entry["file"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/a/b.txt", group["path"])
}

func TestTraceHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, slog.LevelWarn)

	logger.Info("not emitted")

	assert.Zero(t, buf.Len())
}

func TestWith_AddsAttributesToContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewJSONLogger(&buf, slog.LevelInfo))

	ctx = With(ctx, "run_id", "abc")
	LoggerFromContext(ctx).Info("export started")

	entry := decode(t, &buf)
	assert.Equal(t, "abc", entry["run_id"])
}

func TestNewTraceHandler_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}
