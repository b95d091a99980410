package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Policy-Harness/pkg/openrouter"
	"golang.org/x/time/rate"
)

// Role selects which side of the conversation a model serves.
type Role string

const (
	RoleOrderAgent Role = "order_agent"
	RoleCustomer   Role = "customer"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`
	Reasoning          string        `envconfig:"REASONING" split_words:"true"`

	OrderAgentModel       string  `envconfig:"ORDER_AGENT_MODEL" split_words:"true"`
	CustomerModel         string  `envconfig:"CUSTOMER_MODEL" split_words:"true"`
	OrderAgentTemperature float32 `envconfig:"ORDER_AGENT_TEMPERATURE" split_words:"true" default:"-1"`
	CustomerTemperature   float32 `envconfig:"CUSTOMER_TEMPERATURE" split_words:"true" default:"-1"`

	// RequestsPerSecond caps calls across all conversations; <= 0 disables the limit.
	RequestsPerSecond float64 `envconfig:"REQUESTS_PER_SECOND" split_words:"true" default:"2"`
	Burst             int     `envconfig:"BURST" split_words:"true" default:"4"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrInvalidConfig)
	}
	switch strings.ToLower(strings.TrimSpace(c.Reasoning)) {
	case openrouterx.ReasoningDefault, openrouterx.ReasoningNone, openrouterx.ReasoningLow,
		openrouterx.ReasoningMedium, openrouterx.ReasoningHigh:
	default:
		return fmt.Errorf("%w: unknown reasoning effort %q", contractx.ErrInvalidConfig, c.Reasoning)
	}
	return nil
}

// OpenRouterFor resolves the model and temperature for one role, falling
// back to the defaults.
func (c Config) OpenRouterFor(role Role) openrouterx.Config {
	maxCompletionToken := c.MaxCompletionToken
	base := openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              strings.TrimSpace(c.Model),
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
		Reasoning:          strings.TrimSpace(c.Reasoning),
	}

	var (
		modelName string
		temp      float32
	)
	switch role {
	case RoleOrderAgent:
		modelName, temp = c.OrderAgentModel, c.OrderAgentTemperature
	case RoleCustomer:
		modelName, temp = c.CustomerModel, c.CustomerTemperature
	default:
		return base
	}
	if temp < 0 {
		return base.WithModel(modelName, nil)
	}
	return base.WithModel(modelName, &temp)
}

// Limiter returns the shared limiter for outbound model calls.
func (c Config) Limiter() *rate.Limiter {
	if c.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := c.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)
}
