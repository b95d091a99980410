package openrouter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// Chat roles accepted by ChatClient.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient issues plain chat completions (no tools) through the OpenAI SDK.
type ChatClient struct {
	client      *openaisdk.Client
	model       string
	temperature float32
	maxTokens   *int
	reasoning   map[string]any
	limiter     *rate.Limiter
}

// NewChatClient returns nil when no API key is configured or the reasoning
// effort is unknown.
func NewChatClient(cfg Config, limiter *rate.Limiter) *ChatClient {
	client := NewClient(cfg)
	if client == nil {
		return nil
	}
	extra, err := cfg.reasoningFields()
	if err != nil {
		return nil
	}
	return &ChatClient{
		client:      client,
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxCompletionToken,
		reasoning:   extra,
		limiter:     limiter,
	}
}

func (c *ChatClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("openrouter: chat client is not configured")
	}
	if len(messages) == 0 {
		return "", errors.New("openrouter: at least one message is required")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("openrouter: rate limiter: %w", err)
		}
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:       openaisdk.ChatModel(c.model),
		Messages:    toSDKMessages(messages),
		Temperature: openaisdk.Float(float64(c.temperature)),
	}
	if c.maxTokens != nil && *c.maxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(*c.maxTokens))
	}

	var opts []option.RequestOption
	for key, value := range c.reasoning {
		opts = append(opts, option.WithJSONSet(key, value))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return "", fmt.Errorf("openrouter: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openrouter: chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func toSDKMessages(messages []ChatMessage) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openaisdk.SystemMessage(msg.Content))
		case RoleAssistant:
			out = append(out, openaisdk.AssistantMessage(msg.Content))
		default:
			out = append(out, openaisdk.UserMessage(msg.Content))
		}
	}
	return out
}
