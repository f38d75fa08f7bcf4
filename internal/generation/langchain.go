package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/sanvibhowmick/forge/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// LangChain talks to OpenAI or any OpenAI-compatible endpoint through
// langchaingo.
type LangChain struct {
	llm         llms.Model
	model       string
	temperature float64
	maxTokens   int
}

// NewLangChain creates an OpenAI-compatible provider.
func NewLangChain(cfg config.GenerationConfig) (*LangChain, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if !cfg.APIKey.IsSet() && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: api key required for the hosted OpenAI API", ErrInvalidConfig)
	}

	token := cfg.APIKey.Value()
	if token == "" {
		// local OpenAI-compatible servers accept any token
		token = "placeholder"
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(token),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return newLangChainWithModel(llm, cfg), nil
}

func newLangChainWithModel(llm llms.Model, cfg config.GenerationConfig) *LangChain {
	return &LangChain{
		llm:         llm,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Generate sends the system and user prompt as a two-message chat.
func (l *LangChain) Generate(ctx context.Context, req Request) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, req.System),
		llms.TextParts(schema.ChatMessageTypeHuman, req.User),
	}
	opts := []llms.CallOption{
		llms.WithModel(l.model),
		llms.WithTemperature(l.temperature),
	}
	if l.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(l.maxTokens))
	}

	resp, err := l.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", classifyLangChainError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := resp.Choices[0].Content
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// langchaingo surfaces HTTP failures as formatted strings.
func classifyLangChainError(err error) error {
	msg := err.Error()
	for _, marker := range []string{"status code: 400", "status code: 401", "status code: 403", "status code: 404", "invalid_api_key"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	return fmt.Errorf("openai: %w", err)
}
