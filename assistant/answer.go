package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

var (
	// ErrEmptyResponse is returned when the model replies with no text
	ErrEmptyResponse = errors.New("model returned an empty response")

	// ErrUnknownProvider is returned for an unsupported ModelConfig.Provider
	ErrUnknownProvider = errors.New("unknown model provider")
)

// Generator produces an answer for a fully composed prompt. It makes a
// single request, without retries.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// NewGenerator returns the Generator for the configured provider
func NewGenerator(
	ctx context.Context,
	config *ModelConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) (Generator, error) {
	switch config.Provider {
	case ModelProviderGemini, "":
		return NewGeminiGenerator(ctx, config, httpClient, logger)
	case ModelProviderOpenAI:
		return NewOpenAIGenerator(config, httpClient, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, config.Provider)
	}
}
