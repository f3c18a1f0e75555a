package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lmittmann/tint"
	"google.golang.org/genai"
)

// GeminiClient is the subset of the genai models service used here.
// *genai.Models implements it.
type GeminiClient interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator answers prompts with a Google Gemini model
type GeminiGenerator struct {
	client GeminiClient
	model  string
	logger *slog.Logger
}

// NewGeminiGenerator creates a genai client for the Gemini API
func NewGeminiGenerator(
	ctx context.Context,
	config *ModelConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) (*GeminiGenerator, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating genai client: %w", err)
	}
	return newGeminiGeneratorWithClient(client.Models, config.ModelName(), logger), nil
}

func newGeminiGeneratorWithClient(
	client GeminiClient,
	model string,
	logger *slog.Logger,
) *GeminiGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiGenerator{
		client: client,
		model:  model,
		logger: logger.With("provider", ModelProviderGemini, "model", model),
	}
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := g.client.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	elapsed := time.Since(start)
	if err != nil {
		// the caller logs the failure, this only adds timing
		g.logger.DebugContext(
			ctx,
			"error generating content",
			tint.Err(err),
			"duration", elapsed,
		)
		return "", fmt.Errorf("gemini: %w", err)
	}
	var text string
	if resp != nil {
		text = resp.Text()
	}
	g.logger.DebugContext(
		ctx,
		"generated content",
		"duration", elapsed,
		"prompt_length", len(prompt),
		"response_length", len(text),
	)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
