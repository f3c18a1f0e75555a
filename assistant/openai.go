package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
)

const openaiUserRole = openai.ChatMessageRoleUser

// OpenAIClient defines the subset of the go-openai client used here,
// so it can be replaced in tests.
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (response openai.ChatCompletionResponse, err error)
}

// OpenAIGenerator answers prompts with an OpenAI chat completion model
type OpenAIGenerator struct {
	client OpenAIClient
	model  string
	logger *slog.Logger
}

// NewOpenAIGenerator creates a go-openai client using the given config
func NewOpenAIGenerator(
	config *ModelConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *OpenAIGenerator {
	clientCfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	return newOpenAIGeneratorWithClient(
		openai.NewClientWithConfig(clientCfg),
		config.ModelName(),
		logger,
	)
}

func newOpenAIGeneratorWithClient(
	client OpenAIClient,
	model string,
	logger *slog.Logger,
) *OpenAIGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIGenerator{
		client: client,
		model:  model,
		logger: logger.With("provider", ModelProviderOpenAI, "model", model),
	}
}

func (o *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: o.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openaiUserRole, Content: prompt},
			},
		},
	)
	elapsed := time.Since(start)
	if err != nil {
		// the caller logs the failure, this only adds timing
		o.logger.DebugContext(
			ctx,
			"error creating chat completion",
			tint.Err(err),
			"duration", elapsed,
		)
		return "", fmt.Errorf("openai: %w", err)
	}

	o.logger.DebugContext(
		ctx,
		"created chat completion",
		"duration", elapsed,
		"id", resp.ID,
		slog.Group(
			"usage",
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		),
	)
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
