package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/kb-crawler/internal/progress"
)

func TestLogSinkLevelsAndFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Type: progress.JobStarted, JobID: "job-1", KBID: "kb-1", TS: now},
		{Type: progress.PageFetchComplete, JobID: "job-1", KBID: "kb-1", TS: now, URL: "https://x/", StatusCode: 200, DurationMs: 12},
		{Type: progress.PageError, JobID: "job-1", KBID: "kb-1", TS: now, URL: "https://x/bad", Error: "boom"},
	}))

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
	require.Equal(t, int64(200), entries[1].ContextMap()["status_code"])
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, "boom", entries[2].ContextMap()["error"])
	require.NoError(t, sink.Close(context.Background()))
}
