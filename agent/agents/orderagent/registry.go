package orderagent

import (
	"context"
	"fmt"
	"sort"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	llmx "github.com/tanpawarit/Chative-Policy-Harness/agent/llm"
	promptx "github.com/tanpawarit/Chative-Policy-Harness/agent/prompt"
	"golang.org/x/time/rate"
)

// Registry holds one Agent per prompt variant, all sharing one model.
type Registry struct {
	agents map[string]*Agent
}

// NewRegistry builds the requested variants; an empty list means all
// embedded variants.
func NewRegistry(ctx context.Context, cfg llmx.Config, prompts promptx.PromptSet, variants []string, limiter *rate.Limiter) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		variants = prompts.Variants()
	}

	modelCfg := cfg.OpenRouterFor(llmx.RoleOrderAgent)
	chatModel, err := modelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create order agent model: %v", contractx.ErrAgentCallFailure, err)
	}

	agents := make([]*Agent, 0, len(variants))
	for _, name := range variants {
		tpl, err := prompts.Variant(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contractx.ErrInvalidConfig, err)
		}
		agent, err := New(ctx, name, chatModel, tpl, WithLimiter(limiter))
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return newRegistry(agents...), nil
}

func newRegistry(agents ...*Agent) *Registry {
	reg := &Registry{agents: make(map[string]*Agent, len(agents))}
	for _, a := range agents {
		if a != nil {
			reg.agents[a.variant] = a
		}
	}
	return reg
}

func (r *Registry) Variants() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Responder binds the variant to one conversation's reference date.
func (r *Registry) Responder(variant, referenceDate string) (contractx.Responder, error) {
	a, ok := r.agents[variant]
	if !ok {
		return nil, fmt.Errorf("%w: unknown order agent variant %q", contractx.ErrInvalidConfig, variant)
	}
	return a.Bind(referenceDate), nil
}
