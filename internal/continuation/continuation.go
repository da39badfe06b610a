// Package continuation asks the host environment to run a checkpointed job
// again.
package continuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

// Supported modes.
const (
	ModeNoop   = "noop"
	ModeLocal  = "local"
	ModePubSub = "pubsub"
)

// DefaultKind tags continuation messages on the wire.
const DefaultKind = "continuation"

// Noop logs the request and does nothing else. A checkpointed job must then
// be resumed by hand.
type Noop struct {
	logger *zap.Logger
}

// NewNoop returns a Noop scheduler.
func NewNoop(logger *zap.Logger) *Noop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Noop{logger: logger}
}

// ScheduleContinuation implements crawler.ContinuationScheduler.
func (n *Noop) ScheduleContinuation(_ context.Context, req crawler.ContinuationRequest) error {
	n.logger.Warn("continuation requested but no transport is configured; resume the job manually",
		zap.String("job_id", req.JobID),
		zap.String("kb_id", req.KBID),
	)
	return nil
}

// Queue re-enqueues the job on an in-process queue.
type Queue struct {
	queue crawler.Queue
	now   func() time.Time
}

// NewQueue returns a Queue scheduler.
func NewQueue(queue crawler.Queue) *Queue {
	return &Queue{queue: queue, now: time.Now}
}

// ScheduleContinuation implements crawler.ContinuationScheduler.
func (q *Queue) ScheduleContinuation(ctx context.Context, req crawler.ContinuationRequest) error {
	if req.JobID == "" {
		return errors.New("continuation request has no job_id")
	}
	item := crawler.QueueItem{
		JobID:     req.JobID,
		KBID:      req.KBID,
		Owner:     req.Owner,
		Submitted: q.now().Unix(),
	}
	if err := q.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueue continuation: %w", err)
	}
	return nil
}

// Publisher sends the request through a message publisher.
type Publisher struct {
	publisher crawler.Publisher
	kind      string
	logger    *zap.Logger
}

// NewPublisher returns a Publisher scheduler.
func NewPublisher(publisher crawler.Publisher, kind string, logger *zap.Logger) *Publisher {
	if kind == "" {
		kind = DefaultKind
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{publisher: publisher, kind: kind, logger: logger}
}

// ScheduleContinuation implements crawler.ContinuationScheduler.
func (p *Publisher) ScheduleContinuation(ctx context.Context, req crawler.ContinuationRequest) error {
	if req.JobID == "" {
		return errors.New("continuation request has no job_id")
	}
	id, err := p.publisher.Publish(ctx, p.kind, req)
	if err != nil {
		return fmt.Errorf("publish continuation: %w", err)
	}
	p.logger.Info("continuation published", zap.String("job_id", req.JobID), zap.String("message_id", id))
	return nil
}

// Deps carries the transports a mode may need.
type Deps struct {
	Queue     crawler.Queue
	Publisher crawler.Publisher
	Logger    *zap.Logger
}

// New builds the scheduler for mode.
func New(mode string, deps Deps) (crawler.ContinuationScheduler, error) {
	switch mode {
	case "", ModeNoop:
		return NewNoop(deps.Logger), nil
	case ModeLocal:
		if deps.Queue == nil {
			return nil, errors.New("continuation mode local requires a queue")
		}
		return NewQueue(deps.Queue), nil
	case ModePubSub:
		if deps.Publisher == nil {
			return nil, errors.New("continuation mode pubsub requires a publisher")
		}
		return NewPublisher(deps.Publisher, DefaultKind, deps.Logger), nil
	default:
		return nil, fmt.Errorf("unknown continuation mode %q", mode)
	}
}
