// Package embed adapts embedding providers to crawler.Embedder.
//
// Providers only implement a batch call. Resilient splits input into
// batches, retries a failed batch one text at a time, and substitutes a zero
// vector for any text that still fails, so one bad input never loses the
// rest of the batch.
package embed

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/metrics"
)

// DefaultBatchSize is used when a provider does not set one.
const DefaultBatchSize = 64

// BatchFunc embeds texts and returns one vector per text in order.
type BatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Resilient implements crawler.Embedder on top of a BatchFunc.
type Resilient struct {
	provider   string
	dimensions int
	batchSize  int
	embed      BatchFunc
	logger     *zap.Logger
}

// NewResilient wraps fn. dimensions sizes the zero-vector placeholders.
func NewResilient(provider string, dimensions, batchSize int, fn BatchFunc, logger *zap.Logger) (*Resilient, error) {
	if fn == nil {
		return nil, fmt.Errorf("embed function is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resilient{
		provider:   provider,
		dimensions: dimensions,
		batchSize:  batchSize,
		embed:      fn,
		logger:     logger,
	}, nil
}

// Dimensions reports the vector width.
func (r *Resilient) Dimensions() int { return r.dimensions }

// Provider names the backing provider.
func (r *Resilient) Provider() string { return r.provider }

// EmbedTexts returns one vector per text. Only context cancellation is
// reported as an error; provider failures degrade to zero vectors.
func (r *Resilient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += r.batchSize {
		end := min(start+r.batchSize, len(texts))
		vectors, err := r.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (r *Resilient) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	vectors, err := r.embed(ctx, batch)
	if err == nil && r.valid(vectors, len(batch)) {
		return vectors, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("embed batch: %w", ctxErr)
	}
	r.logger.Warn("embedding batch failed, retrying per text",
		zap.String("provider", r.provider),
		zap.Int("size", len(batch)),
		zap.Error(err))

	out := make([][]float32, len(batch))
	failed := 0
	for i, text := range batch {
		single, err := r.embed(ctx, []string{text})
		if err == nil && r.valid(single, 1) {
			out[i] = single[0]
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("embed text: %w", ctxErr)
		}
		failed++
		out[i] = make([]float32, r.dimensions)
		r.logger.Warn("embedding failed, using zero vector",
			zap.String("provider", r.provider),
			zap.Int("chars", len(text)),
			zap.Error(err))
	}
	metrics.ObserveEmbeddingFailures(r.provider, failed)
	return out, nil
}

func (r *Resilient) valid(vectors [][]float32, want int) bool {
	if len(vectors) != want {
		return false
	}
	for _, v := range vectors {
		if len(v) != r.dimensions {
			return false
		}
	}
	return true
}
