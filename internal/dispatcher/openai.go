package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	maxCompletionTokens int64 = 512

	systemPrompt = `Summarize the article for a feed reader sidebar.

Rules:
- 2-4 sentences, ≤80 words.
- Keep the core claim and critical context (dates, numbers, names).
- Neutral tone, no lists, no quotes around the whole output.
- Answer in the same language as the article.`
)

// OpenAIClient talks to one OpenAI-compatible endpoint (OpenAI, vLLM,
// Ollama and friends all speak this dialect).
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient builds a client bound to a single endpoint/model pair.
func NewOpenAIClient(endpoint, model, apiKey string) *OpenAIClient {
	opts := []option.RequestOption{option.WithBaseURL(endpoint)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// NewOpenAIFactory returns a ClientFactory sharing one API key across the
// pool. Local backends typically ignore the key.
func NewOpenAIFactory(apiKey string) ClientFactory {
	return func(endpoint, model string) InferenceClient {
		return NewOpenAIClient(endpoint, model, apiKey)
	}
}

// Summarize issues a chat completion against the backend.
func (c *OpenAIClient) Summarize(ctx context.Context, content string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		MaxCompletionTokens: openai.Int(maxCompletionTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(content),
		},
	})
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("response has no choices")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf(
			"output text is missing (finishReason = %s)",
			resp.Choices[0].FinishReason,
		)
	}

	return summary, nil
}

// Probe lists models on the endpoint, the cheapest call every
// OpenAI-compatible server supports.
func (c *OpenAIClient) Probe(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	return nil
}
