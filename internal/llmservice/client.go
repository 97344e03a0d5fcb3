package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"report-rag/internal/config"
)

// NewClient creates a chat model for any OpenAI-compatible endpoint (Groq by
// default)
func NewClient(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().
		Str("base_url", llmConfig.BaseURL).
		Str("model", llmConfig.Model).
		Msg("Creating llm client")
	if llmConfig.Key == "" {
		return nil, fmt.Errorf("missing API key: set %s", llmConfig.APIKeyEnv)
	}

	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}
	return llm, nil
}

// GenerateContent sends a single user prompt and returns the first choice.
// The call is bounded by llmConfig.Timeout.
func GenerateContent(ctx context.Context, llm llms.Model, llmConfig *config.LLMConfig, prompt string) (string, error) {
	if llmConfig.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, llmConfig.Timeout)
		defer cancel()
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	resp, err := llm.GenerateContent(ctx, messages,
		llms.WithTemperature(llmConfig.Temperature),
		llms.WithMaxTokens(llmConfig.MaxTokens),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
