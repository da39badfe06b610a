package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/kb-crawler/internal/metrics"
	"github.com/JakeFAU/kb-crawler/internal/progress"
)

// PrometheusSink derives crawl metrics from lifecycle events.
type PrometheusSink struct {
	events        *prometheus.CounterVec
	jobsStarted   prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	fetches       *prometheus.CounterVec
	chunks        prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kbcrawler_events_total",
			Help: "Lifecycle events partitioned by type.",
		}, []string{"type"}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kbcrawler_job_executions_started_total",
			Help: "Job executions started, including resumed ones.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kbcrawler_job_executions_finished_total",
			Help: "Job executions finished partitioned by outcome.",
		}, []string{"outcome"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kbcrawler_jobs_running",
			Help: "Job executions currently running.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kbcrawler_page_stage_duration_seconds",
			Help:    "Per-page pipeline stage duration.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kbcrawler_page_fetches_total",
			Help: "Page fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kbcrawler_chunks_ingested_total",
			Help: "Chunks written to storage.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.jobsStarted,
		s.jobsFinished,
		s.jobsRunning,
		s.stageDuration,
		s.fetches,
		s.chunks,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Type)).Inc()
		switch evt.Type {
		case progress.JobStarted:
			s.jobsStarted.Inc()
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.Inc()
			}
		case progress.JobCompleted, progress.JobFailed, progress.JobCheckpoint:
			s.jobsFinished.WithLabelValues(outcome(evt.Type)).Inc()
			if s.tracker.complete(evt.JobID) {
				s.jobsRunning.Dec()
			}
		case progress.PageFetchComplete:
			class := string(progress.ClassifyStatus(evt.StatusCode))
			s.fetches.WithLabelValues(metrics.SanitizeSite(evt.URL), class).Inc()
		case progress.PageIngestComplete:
			s.chunks.Add(float64(evt.Chunks))
		}
		if evt.PageStage() && evt.DurationMs > 0 {
			s.stageDuration.WithLabelValues(string(evt.Type)).Observe(float64(evt.DurationMs) / 1000)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func outcome(t progress.Type) string {
	switch t {
	case progress.JobCompleted:
		return "completed"
	case progress.JobCheckpoint:
		return "checkpointed"
	default:
		return "failed"
	}
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
