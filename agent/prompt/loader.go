package prompt

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// Template variables shared by the order agent and customer prompts.
const (
	VarCurrentDate = "current_date_for_policy"

	VarCustomerName        = "customer_name"
	VarOrderID             = "order_id"
	VarOrderStatus         = "order_status"
	VarOrderedOn           = "order_ordered_on"
	VarCustomerIsPremium   = "customer_is_premium"
	VarDaysSinceOrder      = "days_since_order_placed"
	VarGoalDescription     = "goal_description"
	VarPersonaInstructions = "persona_instructions"
)

const DefaultVariant = "baseline"

var (
	//go:embed template/order_agent/*.txt
	orderAgentFS embed.FS

	//go:embed template/customer/base.txt
	customerRaw string

	//go:embed template/customer/personas.yaml
	personasRaw []byte
)

// PromptSet holds the loaded prompt content.
type PromptSet struct {
	OrderAgent map[string]string
	Customer   string
	Personas   []byte
}

// LoadPromptSet returns every embedded prompt with surrounding space trimmed.
func LoadPromptSet() (PromptSet, error) {
	entries, err := orderAgentFS.ReadDir("template/order_agent")
	if err != nil {
		return PromptSet{}, fmt.Errorf("read order agent templates: %w", err)
	}

	set := PromptSet{
		OrderAgent: make(map[string]string, len(entries)),
		Customer:   strings.TrimSpace(customerRaw),
		Personas:   personasRaw,
	}
	for _, e := range entries {
		raw, err := orderAgentFS.ReadFile(path.Join("template/order_agent", e.Name()))
		if err != nil {
			return PromptSet{}, fmt.Errorf("read template %s: %w", e.Name(), err)
		}
		set.OrderAgent[strings.TrimSuffix(e.Name(), ".txt")] = strings.TrimSpace(string(raw))
	}
	return set, nil
}

// Variants lists the order agent prompt variants in name order.
func (p PromptSet) Variants() []string {
	names := make([]string, 0, len(p.OrderAgent))
	for name := range p.OrderAgent {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p PromptSet) Variant(name string) (string, error) {
	tpl, ok := p.OrderAgent[name]
	if !ok {
		return "", fmt.Errorf("unknown order agent variant %q (have %s)", name, strings.Join(p.Variants(), ", "))
	}
	return tpl, nil
}

// Render fills an f-string template. Literal braces are written as {{ and }}.
func Render(ctx context.Context, tpl string, vars map[string]any) (string, error) {
	msgs, err := einoprompt.FromMessages(schema.FString, schema.SystemMessage(tpl)).Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("render prompt: empty result")
	}
	return msgs[0].Content, nil
}
