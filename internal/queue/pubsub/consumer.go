// Package pubsub feeds continuation messages from a Pub/Sub subscription into
// the local job queue.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
	pubsubpublisher "github.com/JakeFAU/kb-crawler/internal/publisher/pubsub"
)

// Receiver is the subset of *pubsub.Subscriber used by the consumer.
type Receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer drains a subscription into a crawler.Queue.
type Consumer struct {
	receiver Receiver
	queue    crawler.Queue
	logger   *zap.Logger
}

// NewConsumer wires a receiver to the destination queue.
func NewConsumer(receiver Receiver, queue crawler.Queue, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{receiver: receiver, queue: queue, logger: logger}
}

// Run blocks receiving messages until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	if c.receiver == nil || c.queue == nil {
		return errors.New("pubsub consumer requires a receiver and a queue")
	}
	err := c.receiver.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		c.handle(msgCtx, msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive continuation messages: %w", err)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg *pubsub.Message) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, pubsubpublisher.Carrier(msg.Attributes))

	item, err := Decode(msg.Data)
	if err != nil {
		// Redelivery cannot fix a malformed payload.
		c.logger.Warn("dropping malformed continuation message", zap.String("message_id", msg.ID), zap.Error(err))
		msg.Ack()
		return
	}
	if err := c.queue.Enqueue(ctx, item); err != nil {
		c.logger.Error("enqueue continuation failed",
			zap.String("job_id", item.JobID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		msg.Nack()
		return
	}
	c.logger.Debug("continuation enqueued", zap.String("job_id", item.JobID), zap.String("kb_id", item.KBID))
	msg.Ack()
}

// Decode converts a continuation payload into a queue item.
func Decode(data []byte) (crawler.QueueItem, error) {
	var req crawler.ContinuationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return crawler.QueueItem{}, fmt.Errorf("decode continuation request: %w", err)
	}
	if req.JobID == "" {
		return crawler.QueueItem{}, errors.New("continuation request has no job_id")
	}
	return crawler.QueueItem{JobID: req.JobID, KBID: req.KBID, Owner: req.Owner}, nil
}
