// Package openai embeds text with the OpenAI embeddings API.
package openai

import (
	"context"
	"fmt"
	"sync"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/embed"
)

// Config controls the OpenAI embedder.
type Config struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	BatchSize      int    `mapstructure:"batch_size"`
	MaxInputTokens int    `mapstructure:"max_input_tokens"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// New builds an embedder backed by the OpenAI embeddings endpoint.
func New(cfg Config, logger *zap.Logger) (*embed.Resilient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding.openai.api_key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	trunc := &truncator{maxTokens: cfg.MaxInputTokens, logger: logger}

	fn := func(ctx context.Context, texts []string) ([][]float32, error) {
		inputs := make([]string, len(texts))
		for i, text := range texts {
			inputs[i] = trunc.truncate(text)
		}
		resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
			Model:          openai.EmbeddingModel(cfg.Model),
			Dimensions:     openai.Int(int64(cfg.Dimensions)),
			EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: %w", err)
		}
		out := make([][]float32, len(texts))
		for _, item := range resp.Data {
			if item.Index < 0 || int(item.Index) >= len(out) {
				return nil, fmt.Errorf("openai embeddings: index %d out of range", item.Index)
			}
			vec := make([]float32, len(item.Embedding))
			for i, x := range item.Embedding {
				vec[i] = float32(x)
			}
			out[item.Index] = vec
		}
		return out, nil
	}
	return embed.NewResilient("openai", cfg.Dimensions, cfg.BatchSize, fn, logger)
}

// truncator cuts inputs to the model's token window using the cl100k_base
// encoding shared by OpenAI embedding models. A zero limit disables it.
type truncator struct {
	maxTokens int
	logger    *zap.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func (t *truncator) truncate(text string) string {
	if t.maxTokens <= 0 {
		return text
	}
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			t.logger.Warn("token encoding unavailable, inputs are sent untruncated", zap.Error(err))
			return
		}
		t.enc = enc
	})
	if t.enc == nil {
		return text
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= t.maxTokens {
		return text
	}
	return t.enc.Decode(tokens[:t.maxTokens])
}
