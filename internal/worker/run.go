package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/chunker"
	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/discovery"
	"github.com/JakeFAU/kb-crawler/internal/progress"
)

// run holds the state of one execution of one job.
type run struct {
	w        *Worker
	job      crawler.CrawlJob
	emitter  progress.Emitter
	logger   *zap.Logger
	started  time.Time
	urls     []crawler.DiscoveredURL
	strategy chunker.Strategy
}

func (r *run) execute(ctx context.Context) (Outcome, error) {
	strategy, err := chunker.New(r.job.Config.ChunkingStrategy, chunker.WithConfig(r.w.cfg.Chunking))
	if err != nil {
		return r.fail(ctx, err)
	}
	r.strategy = strategy

	if _, err := r.w.deps.Repo.GetKnowledgeBase(ctx, r.job.KBID); err != nil {
		return r.fail(ctx, err)
	}

	now := r.w.deps.Clock.Now()
	r.job.Invocations++
	r.job.Status = crawler.JobStatusInProgress
	r.job.ErrorMessage = ""
	if r.job.Timing.StartedAt == nil {
		r.job.Timing.StartedAt = &now
	}

	start := 0
	resumed := r.job.Checkpoint != nil
	if resumed {
		cp := r.job.Checkpoint
		r.urls = cp.PendingURLs
		start = cp.CurrentURLIndex
		r.job.Progress = cp.Progress
		r.job.Timing.ProcessingMs = cp.ProcessingMs
	} else {
		// An interrupted run without a checkpoint starts over.
		r.job.Progress = crawler.JobProgress{}
		r.job.Timing.ProcessingMs = 0
	}
	if err := r.saveJob(ctx); err != nil {
		return OutcomeFailed, err
	}

	if resumed {
		r.logger.Info("resuming job from checkpoint",
			zap.Int("url_index", start),
			zap.Int("total_urls", len(r.urls)),
			zap.Int("invocation", r.job.Invocations),
		)
		r.step(ctx, crawler.CrawlStep{StepType: crawler.StepResumed, Details: map[string]any{
			"current_url_index": start,
			"total_urls":        len(r.urls),
			"invocation":        r.job.Invocations,
		}})
		r.emit(progress.Event{Type: progress.JobStarted, URLIndex: start, TotalURLs: len(r.urls), Progress: r.snapshot()})
	} else {
		r.logger.Info("starting job",
			zap.String("source_type", string(r.job.Config.SourceType)),
			zap.String("source_url", r.job.Config.SourceURL),
		)
		r.step(ctx, crawler.CrawlStep{StepType: crawler.StepStarted, URL: r.job.Config.SourceURL, Details: map[string]any{
			"source_type": string(r.job.Config.SourceType),
			"max_pages":   r.job.Config.MaxPages,
		}})
		r.emit(progress.Event{Type: progress.JobStarted, URL: r.job.Config.SourceURL})
		if err := r.discover(ctx); err != nil {
			if ctx.Err() != nil {
				return OutcomeFailed, ctx.Err()
			}
			return r.fail(ctx, err)
		}
	}

	delay := time.Duration(r.job.Config.RateLimitMs) * time.Millisecond
	for i := start; i < len(r.urls); i++ {
		if err := ctx.Err(); err != nil {
			return OutcomeFailed, err
		}
		if r.budgetExhausted() {
			return r.checkpoint(ctx, i)
		}
		if err := r.processURL(ctx, i); err != nil {
			return OutcomeFailed, err
		}
		if delay > 0 && i < len(r.urls)-1 {
			if err := r.w.deps.Pauser.Pause(ctx, delay); err != nil {
				return OutcomeFailed, err
			}
		}
	}
	return r.complete(ctx)
}

func (r *run) discover(ctx context.Context) error {
	cfg := r.job.Config
	strategy, err := discovery.New(cfg.SourceType, discovery.Options{
		MaxPages:       cfg.MaxPages,
		MaxDepth:       cfg.MaxDepth,
		SameDomainOnly: cfg.SameDomainOnly,
		BlockedDomains: r.w.cfg.BlockedDomains,
	}, discovery.Deps{
		Fetcher: r.w.deps.Fetcher,
		Robots:  r.w.deps.NewRobots(),
		Limiter: r.w.deps.NewLimiter(),
		OnSkip: func(rawURL, reason string) {
			r.emit(progress.Event{Type: progress.URLSkipped, URL: rawURL, Reason: reason})
			r.step(ctx, crawler.CrawlStep{StepType: crawler.StepURLSkipped, URL: rawURL, Details: map[string]any{"reason": reason}})
		},
		Logger: r.logger,
	})
	if err != nil {
		return fmt.Errorf("build discovery: %w", err)
	}

	r.urls = r.urls[:0]
	for u := range strategy.Discover(ctx, cfg.SourceURL) {
		if len(r.urls) >= cfg.MaxPages {
			break
		}
		r.urls = append(r.urls, u)
		r.job.Progress.DiscoveredURLs++
		r.emit(progress.Event{Type: progress.URLDiscovered, URL: u.URL, Depth: u.Depth, Source: string(u.Source)})
		r.step(ctx, crawler.CrawlStep{StepType: crawler.StepDiscovery, URL: u.URL, Details: map[string]any{
			"depth":  u.Depth,
			"source": string(u.Source),
		}})
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.logger.Info("discovery finished", zap.Int("urls", len(r.urls)))
	return nil
}

func (r *run) budgetExhausted() bool {
	budget := r.w.cfg.ExecutionBudget
	if budget <= 0 {
		return false
	}
	return r.w.deps.Clock.Now().Sub(r.started) >= budget-r.w.cfg.SafetyBuffer
}

func (r *run) checkpoint(ctx context.Context, index int) (Outcome, error) {
	now := r.w.deps.Clock.Now()
	r.job.Checkpoint = &crawler.Checkpoint{
		CurrentURLIndex: index,
		PendingURLs:     r.urls,
		Progress:        r.job.Progress,
		ProcessingMs:    r.job.Timing.ProcessingMs,
		SavedAt:         now,
	}
	if err := r.saveJob(ctx); err != nil {
		return OutcomeFailed, err
	}
	r.logger.Info("execution budget reached; checkpoint saved",
		zap.Int("url_index", index),
		zap.Int("total_urls", len(r.urls)),
	)
	r.step(ctx, crawler.CrawlStep{StepType: crawler.StepCheckpoint, Details: map[string]any{
		"current_url_index": index,
		"total_urls":        len(r.urls),
		"processed_urls":    r.job.Progress.ProcessedURLs,
	}})
	r.emit(progress.Event{Type: progress.JobCheckpoint, URLIndex: index, TotalURLs: len(r.urls), Progress: r.snapshot()})
	return OutcomeCheckpointed, nil
}

// requestContinuation asks the host to run the job again. The checkpoint is
// already saved, so a failure here only needs a manual resume.
func (r *run) requestContinuation(ctx context.Context) {
	req := crawler.ContinuationRequest{JobID: r.job.JobID, KBID: r.job.KBID, Owner: r.job.Owner}
	if err := r.w.deps.Continuation.ScheduleContinuation(ctx, req); err != nil {
		r.logger.Error("schedule continuation failed; resume the job manually", zap.Error(err))
		r.step(ctx, crawler.CrawlStep{StepType: crawler.StepContinuationErr, Details: map[string]any{"error": err.Error()}})
		return
	}
	r.step(ctx, crawler.CrawlStep{StepType: crawler.StepContinuation})
}

func (r *run) complete(ctx context.Context) (Outcome, error) {
	now := r.w.deps.Clock.Now()
	r.job.Checkpoint = nil
	r.job.Status = crawler.JobStatusCompleted
	r.job.Timing.CompletedAt = &now
	if r.job.Timing.StartedAt != nil {
		r.job.Timing.TotalDurationMs = now.Sub(*r.job.Timing.StartedAt).Milliseconds()
	}
	if n := r.job.Progress.ProcessedURLs; n > 0 {
		r.job.Timing.AvgPageDurationMs = r.job.Timing.ProcessingMs / int64(n)
	}
	if err := r.saveJob(ctx); err != nil {
		return OutcomeFailed, err
	}
	kb, err := r.w.deps.Repo.RecomputeKnowledgeBaseStats(ctx, r.job.KBID, now)
	if err != nil {
		r.logger.Warn("update knowledge base statistics failed", zap.Error(err))
	} else {
		r.logger.Debug("knowledge base statistics updated",
			zap.Int("pages", kb.PageCount),
			zap.Int("chunks", kb.ChunkCount),
		)
	}
	r.logger.Info("job completed",
		zap.Int("processed_urls", r.job.Progress.ProcessedURLs),
		zap.Int("failed_urls", r.job.Progress.FailedURLs),
		zap.Int("total_chunks", r.job.Progress.TotalChunks),
	)
	duration := r.job.Timing.TotalDurationMs
	r.step(ctx, crawler.CrawlStep{StepType: crawler.StepCompleted, DurationMs: &duration, Details: map[string]any{
		"processed_urls": r.job.Progress.ProcessedURLs,
		"total_chunks":   r.job.Progress.TotalChunks,
	}})
	r.emit(progress.Event{Type: progress.JobCompleted, TotalURLs: len(r.urls), DurationMs: duration, Progress: r.snapshot()})
	return OutcomeCompleted, nil
}

// fail records err on the job and ends the execution.
func (r *run) fail(ctx context.Context, err error) (Outcome, error) {
	now := r.w.deps.Clock.Now()
	r.job.Status = crawler.JobStatusFailed
	r.job.ErrorMessage = err.Error()
	r.job.Timing.CompletedAt = &now
	if saveErr := r.saveJob(ctx); saveErr != nil {
		r.logger.Error("record job failure", zap.Error(saveErr))
	}
	r.logger.Error("job failed", zap.Error(err))
	r.step(ctx, crawler.CrawlStep{StepType: crawler.StepFailed, Details: map[string]any{"error": err.Error()}})
	r.emit(progress.Event{Type: progress.JobFailed, Error: err.Error(), Progress: r.snapshot()})
	return OutcomeFailed, err
}

func (r *run) saveJob(ctx context.Context) error {
	r.job.UpdatedAt = r.w.deps.Clock.Now()
	if err := r.w.deps.Repo.SaveJob(ctx, r.job); err != nil {
		return fmt.Errorf("save job %s: %w", r.job.JobID, err)
	}
	return nil
}

// step appends an audit record. Audit writes never fail the job.
func (r *run) step(ctx context.Context, step crawler.CrawlStep) {
	step.JobID = r.job.JobID
	if err := r.w.deps.Repo.AppendStep(ctx, step); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("append audit step failed", zap.String("step", string(step.StepType)), zap.Error(err))
	}
}

func (r *run) emit(evt progress.Event) {
	evt.JobID = r.job.JobID
	evt.KBID = r.job.KBID
	if evt.TS.IsZero() {
		evt.TS = r.w.deps.Clock.Now()
	}
	r.emitter.Emit(evt)
}

func (r *run) snapshot() *crawler.JobProgress {
	p := r.job.Progress
	return &p
}
