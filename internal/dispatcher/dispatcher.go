// Package dispatcher fans queued job executions out to a pool of runners.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/progress"
	"github.com/JakeFAU/kb-crawler/internal/worker"
)

// Runner executes one job invocation; *worker.Worker implements it.
type Runner interface {
	Execute(ctx context.Context, jobID string, emitter progress.Emitter) (worker.Outcome, error)
}

// Config controls the pool.
type Config struct {
	Concurrency int `mapstructure:"concurrency"`
}

// Dispatcher consumes the queue with a fixed number of goroutines.
type Dispatcher struct {
	queue   crawler.Queue
	runner  Runner
	emitter progress.Emitter
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher. emitter receives every execution's events.
func New(queue crawler.Queue, runner Runner, emitter progress.Emitter, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		runner:  runner,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run starts the pool and blocks until ctx finishes and in-flight
// executions return.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			d.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, slot int) {
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			d.logger.Error("queue dequeue failed", zap.Int("slot", slot), zap.Error(err))
			continue
		}
		d.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.Int("slot", slot))
		outcome, err := d.runner.Execute(ctx, item.JobID, d.emitter)
		if err != nil {
			d.logger.Warn("job execution ended with error",
				zap.String("job_id", item.JobID),
				zap.String("outcome", string(outcome)),
				zap.Error(err),
			)
			continue
		}
		d.logger.Info("job execution finished", zap.String("job_id", item.JobID), zap.String("outcome", string(outcome)))
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
