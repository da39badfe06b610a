// Package hash provides an offline embedder based on feature hashing. It
// needs no provider account and gives stable vectors for local runs and tests.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/embed"
)

// DefaultDimensions is used when none are configured.
const DefaultDimensions = 256

// New returns an embedder that hashes lowercase word tokens into dimensions
// buckets and L2-normalizes the result.
func New(dimensions int, logger *zap.Logger) (*embed.Resilient, error) {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	fn := func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = Vector(text, dimensions)
		}
		return out, nil
	}
	return embed.NewResilient("hash", dimensions, 0, fn, logger)
}

// Vector embeds one text.
func Vector(text string, dimensions int) []float32 {
	v := make([]float32, dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()
		idx := int(sum % uint64(dimensions))
		if sum&(1<<63) != 0 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
