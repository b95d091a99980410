package llm

import (
	"errors"
	"testing"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"golang.org/x/time/rate"
)

func TestOpenRouterForRoleOverrides(t *testing.T) {
	t.Parallel()

	cfg := Config{
		APIKey:                "key",
		Model:                 "default/model",
		Temperature:           0.5,
		MaxCompletionToken:    500,
		OrderAgentModel:       "agent/model",
		OrderAgentTemperature: 0,
		CustomerTemperature:   -1,
		Reasoning:             " none ",
	}

	agent := cfg.OpenRouterFor(RoleOrderAgent)
	if agent.Model != "agent/model" || agent.Temperature != 0 {
		t.Fatalf("order agent config = %+v", agent)
	}
	if agent.MaxCompletionToken == nil || *agent.MaxCompletionToken != 500 {
		t.Fatalf("max tokens = %v", agent.MaxCompletionToken)
	}

	customer := cfg.OpenRouterFor(RoleCustomer)
	if customer.Model != "default/model" || customer.Temperature != 0.5 {
		t.Fatalf("customer config = %+v", customer)
	}
	if agent.Reasoning != "none" || customer.Reasoning != "none" {
		t.Fatalf("reasoning = %q/%q, want none for both roles", agent.Reasoning, customer.Reasoning)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	if err := (Config{Model: "m"}).Validate(); !errors.Is(err, contractx.ErrInvalidConfig) {
		t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
	}
	if err := (Config{APIKey: "k", Model: "m"}).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := (Config{APIKey: "k", Model: "m", Reasoning: "High"}).Validate(); err != nil {
		t.Fatalf("Validate(reasoning High) error = %v", err)
	}
	if err := (Config{APIKey: "k", Model: "m", Reasoning: "max"}).Validate(); !errors.Is(err, contractx.ErrInvalidConfig) {
		t.Fatalf("Validate(reasoning max) error = %v, want ErrInvalidConfig", err)
	}
}

func TestLimiter(t *testing.T) {
	t.Parallel()

	if got := (Config{}).Limiter().Limit(); got != rate.Inf {
		t.Fatalf("Limit() = %v, want Inf", got)
	}
	l := (Config{RequestsPerSecond: 3, Burst: 0}).Limiter()
	if l.Limit() != 3 || l.Burst() != 1 {
		t.Fatalf("Limiter() = %v/%d", l.Limit(), l.Burst())
	}
}
