// Package worker implements the crawl orchestrator: it drives one job
// through discovery, the per-URL ingestion pipeline, checkpointing, and
// completion.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/chunker"
	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/discovery"
	"github.com/JakeFAU/kb-crawler/internal/extractor"
	"github.com/JakeFAU/kb-crawler/internal/logging"
	"github.com/JakeFAU/kb-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/kb-crawler/internal/progress"
	"github.com/JakeFAU/kb-crawler/internal/robots"
	"github.com/JakeFAU/kb-crawler/internal/store"
)

const tracerName = "github.com/JakeFAU/kb-crawler/internal/worker"

// Outcome summarizes how one execution ended.
type Outcome string

// Execution outcomes.
const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeCheckpointed Outcome = "checkpointed"
	OutcomeFailed       Outcome = "failed"
	OutcomeSkipped      Outcome = "skipped"
)

// Config controls Worker behavior.
type Config struct {
	// ExecutionBudget is the host's time limit per invocation; zero means
	// unlimited.
	ExecutionBudget time.Duration  `mapstructure:"execution_budget"`
	SafetyBuffer    time.Duration  `mapstructure:"safety_buffer"`
	LockTTL         time.Duration  `mapstructure:"lock_ttl"`
	ArchiveHTML     bool           `mapstructure:"archive_html"`
	BlobPrefix      string         `mapstructure:"blob_prefix"`
	StreamBuffer    int            `mapstructure:"stream_buffer"`
	UserAgent       string         `mapstructure:"user_agent"`
	BlockedDomains  []string       `mapstructure:"blocked_domains"`
	DiscoveryRPS    float64        `mapstructure:"discovery_rps"`
	Chunking        chunker.Config `mapstructure:"-"`
}

// Deps are the collaborators of a Worker. Blobs and Locker are optional.
type Deps struct {
	Repo         *store.Repository
	Fetcher      crawler.Fetcher
	Embedder     crawler.Embedder
	Index        crawler.VectorIndex
	Continuation crawler.ContinuationScheduler
	Blobs        crawler.BlobStore
	Locker       crawler.JobLocker
	Clock        crawler.Clock
	Pauser       crawler.Pauser
	Hasher       crawler.Hasher
	// NewRobots returns the robots checker for one execution. Nil builds a
	// robots.Engine.
	NewRobots func() discovery.RobotsChecker
	// NewLimiter returns the discovery limiter for one execution. Nil builds
	// a ratelimit.Limiter.
	NewLimiter func() discovery.HostLimiter
}

// Worker executes crawl jobs. It is safe for concurrent use across distinct
// jobs; one job must only be executed by one Worker at a time, which the
// optional JobLocker enforces.
type Worker struct {
	deps      Deps
	cfg       Config
	extractor *extractor.Extractor
	tracer    trace.Tracer
	logger    *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case deps.Repo == nil:
		return nil, errors.New("worker requires a repository")
	case deps.Fetcher == nil:
		return nil, errors.New("worker requires a fetcher")
	case deps.Embedder == nil:
		return nil, errors.New("worker requires an embedder")
	case deps.Index == nil:
		return nil, errors.New("worker requires a vector index")
	case deps.Clock == nil:
		return nil, errors.New("worker requires a clock")
	}
	if deps.Continuation == nil {
		return nil, errors.New("worker requires a continuation scheduler")
	}
	if deps.Pauser == nil {
		deps.Pauser = crawler.TimerPauser{}
	}
	if deps.NewRobots == nil {
		ua := cfg.UserAgent
		deps.NewRobots = func() discovery.RobotsChecker {
			return robots.NewEngine(robots.Config{UserAgent: ua}, logger)
		}
	}
	if deps.NewLimiter == nil {
		rps := cfg.DiscoveryRPS
		deps.NewLimiter = func() discovery.HostLimiter {
			return ratelimit.New(ratelimit.Config{DefaultRPS: rps, DefaultBurst: 1})
		}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 64
	}
	if cfg.Chunking == (chunker.Config{}) {
		cfg.Chunking = chunker.DefaultConfig()
	}
	return &Worker{
		deps:      deps,
		cfg:       cfg,
		extractor: extractor.New(deps.Fetcher, logger),
		tracer:    otel.Tracer(tracerName),
		logger:    logger,
	}, nil
}

// Execute runs one invocation of jobID. Events go to emitter, which may be
// nil. A terminal job or a held lock yields OutcomeSkipped. Context
// cancellation returns the context error and leaves the job in its last
// saved state.
func (w *Worker) Execute(ctx context.Context, jobID string, emitter progress.Emitter) (Outcome, error) {
	if emitter == nil {
		emitter = progress.Discard
	}
	ctx, span := w.tracer.Start(ctx, "worker.execute", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	outcome, err := w.execute(ctx, jobID, emitter)
	span.SetAttributes(attribute.String("job.outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (w *Worker) execute(ctx context.Context, jobID string, emitter progress.Emitter) (Outcome, error) {
	job, err := w.deps.Repo.GetJob(ctx, jobID)
	if err != nil {
		emitter.Emit(progress.Event{Type: progress.JobFailed, JobID: jobID, TS: w.deps.Clock.Now(), Error: err.Error()})
		return OutcomeFailed, err
	}
	logger := logging.ForJob(w.logger, job.JobID, job.KBID)
	if job.Status.Terminal() {
		logger.Info("job already finished; skipping", zap.String("status", string(job.Status)))
		return OutcomeSkipped, nil
	}

	release := func(context.Context) error { return nil }
	if w.deps.Locker != nil {
		release, err = w.deps.Locker.Acquire(ctx, jobID, w.cfg.LockTTL)
		if errors.Is(err, crawler.ErrLocked) {
			logger.Info("job is running elsewhere; skipping")
			return OutcomeSkipped, nil
		}
		if err != nil {
			return OutcomeFailed, fmt.Errorf("acquire job lock: %w", err)
		}
	}

	r := &run{
		w:       w,
		job:     job,
		emitter: emitter,
		logger:  logger,
		started: w.deps.Clock.Now(),
	}
	outcome, err := r.execute(ctx)

	if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
		logger.Warn("release job lock failed", zap.Error(relErr))
	}
	// The lock is released first so the continuation can acquire it.
	if outcome == OutcomeCheckpointed && err == nil {
		r.requestContinuation(ctx)
	}
	return outcome, err
}

// Stream runs an execution in the background and returns its events. The
// channel ends with a progress.Done event, carrying the error text if the
// execution failed, and is then closed.
func (w *Worker) Stream(ctx context.Context, jobID string) <-chan progress.Event {
	ch := progress.NewChannel(ctx, w.cfg.StreamBuffer)
	go func() {
		outcome, err := w.Execute(ctx, jobID, ch)
		done := progress.Event{JobID: jobID, TS: w.deps.Clock.Now(), Reason: string(outcome)}
		if err != nil {
			done.Error = err.Error()
		}
		ch.Close(done)
	}()
	return ch.Events()
}
