package memory

import (
	"fmt"

	"github.com/sanvibhowmick/forge/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewEmbedder builds an OpenAI-compatible embedder. A base URL without a
// key targets a local server such as TEI.
func NewEmbedder(cfg config.EmbeddingsConfig) (embeddings.Embedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embeddings model required")
	}
	token := cfg.APIKey.Value()
	if token == "" {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("embeddings api key required for the hosted OpenAI API")
		}
		token = "placeholder"
	}

	opts := []openai.Option{
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}
