// Package embedding adapts an OpenAI-compatible embeddings API to the
// embedder port.
package embedding

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/ports"
)

// Config represents the embedding backend configuration.
type Config struct {
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

type service struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewService creates an embedder port backed by go-openai.
func NewService(cfg *Config) (ports.Embedder, error) {
	if cfg.APIKey == "" {
		return nil, errkind.New(errkind.Validation, "embedding api key required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errkind.New(errkind.Validation, "embedding dimensions required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &service{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (s *service) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errkind.New(errkind.Validation, "empty text")
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	})
	if err != nil {
		return nil, errkind.ClassifyUpstream(err)
	}
	if len(resp.Data) == 0 {
		return nil, errkind.New(errkind.UpstreamError, "empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

func (s *service) Dimension() int {
	return s.dimensions
}
