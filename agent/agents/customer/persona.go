package customer

import (
	"fmt"
	"sort"
	"strings"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	configx "github.com/tanpawarit/Chative-Policy-Harness/pkg/config"
)

type Goal string

const (
	GoalCancel Goal = "cancel"
	GoalTrack  Goal = "track"
)

// Persona is customer behaviour expressed as data.
type Persona struct {
	Name         string                  `mapstructure:"name"`
	Goal         Goal                    `mapstructure:"goal"`
	Description  string                  `mapstructure:"description"`
	Instructions string                  `mapstructure:"instructions"`
	Statuses     []contractx.OrderStatus `mapstructure:"statuses"`
}

// Accepts reports whether the persona may be bound to an order in status.
// An empty status list accepts every order.
func (p Persona) Accepts(status contractx.OrderStatus) bool {
	if len(p.Statuses) == 0 {
		return true
	}
	for _, s := range p.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (p Persona) goalDescription(orderID string) string {
	switch p.Goal {
	case GoalTrack:
		return fmt.Sprintf("find out the status of order %s", orderID)
	default:
		return fmt.Sprintf("get order %s cancelled", orderID)
	}
}

type personaFile struct {
	Personas []Persona `mapstructure:"personas"`
}

// LoadPersonas decodes a YAML persona list and checks it.
func LoadPersonas(raw []byte) (map[string]Persona, error) {
	file, err := configx.Decode[personaFile]("yaml", raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrInvalidConfig, err)
	}

	out := make(map[string]Persona, len(file.Personas))
	for i, p := range file.Personas {
		p.Name = strings.TrimSpace(p.Name)
		p.Instructions = strings.TrimSpace(p.Instructions)
		if p.Name == "" {
			return nil, fmt.Errorf("%w: persona #%d has no name", contractx.ErrInvalidConfig, i)
		}
		if _, dup := out[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate persona %q", contractx.ErrInvalidConfig, p.Name)
		}
		if p.Goal == "" {
			p.Goal = GoalCancel
		}
		if p.Goal != GoalCancel && p.Goal != GoalTrack {
			return nil, fmt.Errorf("%w: persona %q has unknown goal %q", contractx.ErrInvalidConfig, p.Name, p.Goal)
		}
		for _, s := range p.Statuses {
			if !s.Valid() {
				return nil, fmt.Errorf("%w: persona %q has unknown status %q", contractx.ErrInvalidConfig, p.Name, s)
			}
		}
		out[p.Name] = p
	}
	return out, nil
}

func names(personas map[string]Persona) []string {
	out := make([]string, 0, len(personas))
	for name := range personas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
