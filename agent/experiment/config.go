package experiment

import (
	"fmt"
	"strings"
	"time"

	"github.com/tanpawarit/Chative-Policy-Harness/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	policyx "github.com/tanpawarit/Chative-Policy-Harness/agent/policy"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/record"
	configx "github.com/tanpawarit/Chative-Policy-Harness/pkg/config"
)

const (
	DefaultParallelism                 = 2
	DefaultConversationsPerPermutation = 1
	DefaultToolTimeout                 = 10 * time.Second
)

// Config is the experiment document, usually loaded from YAML.
type Config struct {
	Name                        string               `mapstructure:"name"`
	ReferenceDate               string               `mapstructure:"reference_date"`
	Reseed                      bool                 `mapstructure:"reseed"`
	Seed                        contractx.SeedConfig `mapstructure:"seed"`
	ConversationsPerPermutation int                  `mapstructure:"conversations_per_permutation"`
	Parallelism                 int                  `mapstructure:"parallelism"`
	ToolTimeout                 time.Duration        `mapstructure:"tool_timeout"`
	Variants                    []string             `mapstructure:"variants"`
	Personas                    []string             `mapstructure:"personas"`

	Conversation orchestrator.Config `mapstructure:",squash"`
}

func LoadConfig(path string) (*Config, error) {
	cfg, err := configx.LoadFile[Config](path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Normalize fills defaults. The seed reference date follows the experiment
// reference date unless set explicitly.
func (c Config) Normalize() Config {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = "experiment"
	}
	if c.ConversationsPerPermutation <= 0 {
		c.ConversationsPerPermutation = DefaultConversationsPerPermutation
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.ReferenceDate == "" {
		c.ReferenceDate = c.Seed.ReferenceDate
	}
	if c.Seed.ReferenceDate == "" {
		c.Seed.ReferenceDate = c.ReferenceDate
	}
	return c
}

func (c Config) Validate() error {
	if _, err := policyx.ParseDate(c.ReferenceDate); err != nil {
		return fmt.Errorf("%w: reference_date: %v", contractx.ErrInvalidConfig, err)
	}
	if len(c.Variants) == 0 {
		return fmt.Errorf("%w: at least one variant is required", contractx.ErrInvalidConfig)
	}
	if len(c.Personas) == 0 {
		return fmt.Errorf("%w: at least one persona is required", contractx.ErrInvalidConfig)
	}
	return c.Conversation.Validate()
}

// Snapshot is the configuration stored with the run.
func (c Config) Snapshot() record.RunConfig {
	conv := c.Conversation
	return record.RunConfig{
		Seed:                        c.Seed,
		Reseed:                      c.Reseed,
		ConversationsPerPermutation: c.ConversationsPerPermutation,
		MinTurns:                    conv.MinTurns,
		MaxTurns:                    conv.MaxTurns,
		MaxToolCallsPerTurn:         conv.MaxToolCallsPerTurn,
		TurnDelay:                   conv.TurnDelay,
		MaxDuration:                 conv.MaxDuration,
		AgentTimeout:                conv.AgentTimeout,
		ToolTimeout:                 c.ToolTimeout,
		Parallelism:                 c.Parallelism,
		ReferenceDate:               c.ReferenceDate,
		Variants:                    append([]string(nil), c.Variants...),
		Personas:                    append([]string(nil), c.Personas...),
	}
}
