// Package generation turns prompts into text through a hosted language model.
//
// Providers implement Generator. Client wraps any provider with rate
// limiting, retries, secret scrubbing and instrumentation, and GenerateJSON
// constrains a call to a Go type's JSON schema.
package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/sanvibhowmick/forge/internal/config"
)

var (
	// ErrRejected marks a provider response that retrying cannot fix, such
	// as an invalid key or an oversized request.
	ErrRejected = errors.New("request rejected by provider")

	// ErrEmptyResponse is returned when a provider answers without text.
	ErrEmptyResponse = errors.New("empty response from provider")

	// ErrInvalidConfig indicates an unusable generation configuration.
	ErrInvalidConfig = errors.New("invalid generation configuration")
)

// Request is one prompt exchange: a fixed system instruction and the user
// content built by a role.
type Request struct {
	System string
	User   string
}

// Generator produces the model's text answer for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// NewProvider builds the raw provider selected by cfg.Provider.
func NewProvider(cfg config.GenerationConfig) (Generator, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewLangChain(cfg)
	case "anthropic":
		return NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
