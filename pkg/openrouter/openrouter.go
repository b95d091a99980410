package openrouter

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Reasoning effort levels understood by OpenRouter. ReasoningDefault leaves
// the provider's own setting untouched.
const (
	ReasoningDefault = ""
	ReasoningNone    = "none"
	ReasoningLow     = "low"
	ReasoningMedium  = "medium"
	ReasoningHigh    = "high"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken *int          `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`
	// Reasoning sets the effort of reasoning models. Reasoning tokens are
	// always excluded from the reply so they never reach the output parser.
	Reasoning string `envconfig:"REASONING" split_words:"true"`
}

// WithModel returns a copy of the config targeting another model and temperature.
func (c Config) WithModel(name string, temperature *float32) Config {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		c.Model = trimmed
	}
	if temperature != nil {
		c.Temperature = *temperature
	}
	return c
}

// reasoningFields builds the OpenRouter "reasoning" request field, or nil
// when the provider default applies.
func (c Config) reasoningFields() (map[string]any, error) {
	effort := strings.ToLower(strings.TrimSpace(c.Reasoning))
	switch effort {
	case ReasoningDefault:
		return nil, nil
	case ReasoningNone, ReasoningLow, ReasoningMedium, ReasoningHigh:
		return map[string]any{
			"reasoning": map[string]any{
				"exclude": true,
				"effort":  effort,
			},
		}, nil
	default:
		return nil, fmt.Errorf("openrouter: unknown reasoning effort %q", c.Reasoning)
	}
}

func (c Config) chatModelConfig() (*openaimodel.ChatModelConfig, error) {
	extra, err := c.reasoningFields()
	if err != nil {
		return nil, err
	}
	temperature := c.Temperature
	return &openaimodel.ChatModelConfig{
		BaseURL:     strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"),
		APIKey:      strings.TrimSpace(c.APIKey),
		Model:       strings.TrimSpace(c.Model),
		MaxTokens:   c.MaxCompletionToken,
		Temperature: &temperature,
		Timeout:     c.Timeout,
		ExtraFields: extra,
	}, nil
}

// New builds the tool-calling model that drives the order agent graph.
func (c Config) New(ctx context.Context) (model.ToolCallingChatModel, error) {
	conf, err := c.chatModelConfig()
	if err != nil {
		return nil, err
	}
	m, err := openaimodel.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("openrouter: create chat model %s: %w", conf.Model, err)
	}
	return m, nil
}

// NewClient returns an OpenAI SDK client pointed at OpenRouter, or nil when
// no API key is configured.
func NewClient(cfg Config) *openaisdk.Client {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	// Attribution headers shown on the OpenRouter dashboard.
	if cfg.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
	}
	if cfg.SiteName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.SiteName))
	}

	client := openaisdk.NewClient(opts...)
	return &client
}
