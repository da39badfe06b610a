// Package gemini embeds text with the Gemini API through google.golang.org/genai.
package gemini

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/kb-crawler/internal/embed"
)

// Config controls the Gemini embedder.
type Config struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// contentEmbedder is the slice of genai.Models the embedder calls.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// New builds an embedder backed by the Gemini embeddings endpoint.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*embed.Resilient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding.gemini.api_key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newWithModels(client.Models, cfg, logger)
}

func newWithModels(models contentEmbedder, cfg Config, logger *zap.Logger) (*embed.Resilient, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 768
	}
	dims := int32(cfg.Dimensions)
	fn := func(ctx context.Context, texts []string) ([][]float32, error) {
		contents := make([]*genai.Content, len(texts))
		for i, text := range texts {
			contents[i] = genai.NewContentFromText(text, genai.RoleUser)
		}
		resp, err := models.EmbedContent(ctx, cfg.Model, contents, &genai.EmbedContentConfig{
			TaskType:             "RETRIEVAL_DOCUMENT",
			OutputDimensionality: &dims,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini embeddings: %w", err)
		}
		out := make([][]float32, 0, len(resp.Embeddings))
		for _, e := range resp.Embeddings {
			if e == nil {
				out = append(out, nil)
				continue
			}
			out = append(out, e.Values)
		}
		return out, nil
	}
	return embed.NewResilient("gemini", cfg.Dimensions, cfg.BatchSize, fn, logger)
}
