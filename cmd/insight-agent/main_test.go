package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xiaomayi-ant/insight-agent/config"
)

func TestLogSpanExporter(t *testing.T) {
	handler := memory.New()
	logger := &log.Logger{Handler: handler, Level: log.DebugLevel}

	start := time.Now()
	stubs := tracetest.SpanStubs{{
		Name:       "node.search",
		StartTime:  start,
		EndTime:    start.Add(25 * time.Millisecond),
		Attributes: []attribute.KeyValue{attribute.String("insight.node_id", "search")},
	}}

	exporter := newLogSpanExporter(logger)
	require.NoError(t, exporter.ExportSpans(context.Background(), stubs.Snapshots()))
	require.NoError(t, exporter.Shutdown(context.Background()))

	require.Len(t, handler.Entries, 1)
	entry := handler.Entries[0]
	assert.Equal(t, "span node.search", entry.Message)
	assert.Equal(t, int64(25), entry.Fields["duration_ms"])
	assert.Equal(t, "search", entry.Fields["insight.node_id"])
}

func TestSetupLogging(t *testing.T) {
	defer log.SetHandler(log.Log.(*log.Logger).Handler)

	t.Run("json with file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "app.log")
		out, closeLog, err := setupLogging(config.Log{Level: "debug", Format: "json", File: path})
		require.NoError(t, err)
		defer closeLog()

		assert.True(t, out.json)
		assert.True(t, out.debug)
		log.Info("hello")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"hello"`)
	})

	t.Run("text", func(t *testing.T) {
		out, closeLog, err := setupLogging(config.Log{Level: "info", Format: "text"})
		require.NoError(t, err)
		defer closeLog()
		assert.False(t, out.json)
		assert.False(t, out.debug)
	})

	t.Run("bad level", func(t *testing.T) {
		_, _, err := setupLogging(config.Log{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("bad format", func(t *testing.T) {
		_, _, err := setupLogging(config.Log{Level: "info", Format: "xml"})
		assert.Error(t, err)
	})
}
