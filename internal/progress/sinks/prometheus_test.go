package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{Type: progress.JobStarted, JobID: "job-1", TS: now},
		{Type: progress.JobStarted, JobID: "job-1", TS: now},
		{Type: progress.PageFetchComplete, JobID: "job-1", TS: now, URL: "https://Docs.Example.com/a", StatusCode: 200, DurationMs: 200},
		{Type: progress.PageIngestComplete, JobID: "job-1", TS: now, URL: "https://docs.example.com/a", Chunks: 7, DurationMs: 30},
		{Type: progress.JobCheckpoint, JobID: "job-1", TS: now, Progress: &crawler.JobProgress{ProcessedURLs: 1}},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("checkpointed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("docs.example.com", "2xx")))
	require.Equal(t, 7.0, testutil.ToFloat64(sink.chunks))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.events.WithLabelValues(string(progress.JobStarted))))
	require.Equal(t, 2, testutil.CollectAndCount(sink.stageDuration, "kbcrawler_page_stage_duration_seconds"))
}

func TestPrometheusSinkRegistersOnce(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
