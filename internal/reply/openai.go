package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "openai/gpt-4o-mini"

	maxRetries = 2
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// OpenAI generates replies through any OpenAI-compatible chat completions
// endpoint, OpenRouter by default.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a generator. Empty baseURL and model use the defaults.
func NewOpenAI(apiKey, baseURL, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"),
		option.WithMaxRetries(maxRetries),
		option.WithHeader("HTTP-Referer", "https://github.com/kalambet/attune"),
		option.WithHeader("X-Title", "attune"),
	)
	return &OpenAI{client: client, model: model}, nil
}

// Model returns the model name requests are sent with.
func (g *OpenAI) Model() string { return g.model }

func (g *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    g.model,
		Messages: BuildMessages(req),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
