package customer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	policyx "github.com/tanpawarit/Chative-Policy-Harness/agent/policy"
	promptx "github.com/tanpawarit/Chative-Policy-Harness/agent/prompt"
	openrouterx "github.com/tanpawarit/Chative-Policy-Harness/pkg/openrouter"
)

// ChatCompleter produces the next customer line from a chat transcript.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []openrouterx.ChatMessage) (string, error)
}

var endPhrases = []string{"goodbye", "thank you"}

// Agent is one simulated customer bound to one order for one conversation.
type Agent struct {
	persona   Persona
	order     contractx.OrderSnapshot
	system    string
	completer ChatCompleter
	minTurns  int
}

var _ contractx.CustomerAgent = (*Agent)(nil)

func (a *Agent) Persona() string {
	return a.persona.Name
}

func (a *Agent) OrderID() string {
	return a.order.OrderID
}

// Respond asks the model for the next utterance. From the customer's side the
// order agent is the "user" and the customer's own lines are the "assistant".
func (a *Agent) Respond(ctx context.Context, history []contractx.Message) (contractx.Utterance, error) {
	msgs := make([]openrouterx.ChatMessage, 0, len(history)+1)
	msgs = append(msgs, openrouterx.ChatMessage{Role: openrouterx.RoleSystem, Content: a.system})

	spoken := 0
	for _, m := range history {
		switch m.Actor {
		case contractx.ActorCustomer:
			msgs = append(msgs, openrouterx.ChatMessage{Role: openrouterx.RoleAssistant, Content: m.Content})
			spoken++
		case contractx.ActorOrderAgent:
			msgs = append(msgs, openrouterx.ChatMessage{Role: openrouterx.RoleUser, Content: m.Content})
		}
	}

	text, err := a.completer.Complete(ctx, msgs)
	if err != nil {
		return contractx.Utterance{}, fmt.Errorf("%w: customer %s: %v", contractx.ErrAgentCallFailure, a.persona.Name, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return contractx.Utterance{}, fmt.Errorf("%w: customer %s returned an empty message", contractx.ErrAgentCallFailure, a.persona.Name)
	}

	return contractx.Utterance{
		Text:            text,
		EndConversation: spoken+1 >= a.minTurns && saysGoodbye(text),
	}, nil
}

// GoalAchieved is true once a tool result shows the persona's own order was
// cancelled (cancel goal) or looked up (track goal).
func (a *Agent) GoalAchieved(obs contractx.Observation) bool {
	want := contractx.ToolOrderCanceller
	if a.persona.Goal == GoalTrack {
		want = contractx.ToolOrderTracker
	}
	for _, res := range obs.ToolResults {
		if res.Tool == want && res.Success && strings.EqualFold(res.OrderID, a.order.OrderID) {
			return true
		}
	}
	return false
}

func saysGoodbye(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range endPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Factory builds customer agents from persona data and one shared completer.
type Factory struct {
	personas  map[string]Persona
	template  string
	completer ChatCompleter
	minTurns  int
}

func NewFactory(prompts promptx.PromptSet, completer ChatCompleter, minTurns int) (*Factory, error) {
	if completer == nil {
		return nil, errors.New("chat completer is required")
	}
	personas, err := LoadPersonas(prompts.Personas)
	if err != nil {
		return nil, err
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("%w: no personas defined", contractx.ErrInvalidConfig)
	}
	return &Factory{
		personas:  personas,
		template:  prompts.Customer,
		completer: completer,
		minTurns:  minTurns,
	}, nil
}

func (f *Factory) Names() []string {
	return names(f.personas)
}

func (f *Factory) Lookup(name string) (Persona, bool) {
	p, ok := f.personas[name]
	return p, ok
}

// New binds persona name to order. referenceDate replaces "today" when the
// persona is told how old its order is.
func (f *Factory) New(ctx context.Context, name string, order contractx.OrderSnapshot, referenceDate string) (*Agent, error) {
	persona, ok := f.personas[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown persona %q", contractx.ErrInvalidConfig, name)
	}

	days := "unknown"
	if age, err := policyx.AgeDays(order.OrderDate, referenceDate); err == nil {
		days = strconv.Itoa(age)
	}
	customerName := order.CustomerName
	if customerName == "" {
		customerName = "Valued Customer"
	}

	system, err := promptx.Render(ctx, f.template, map[string]any{
		promptx.VarCustomerName:        customerName,
		promptx.VarOrderID:             order.OrderID,
		promptx.VarOrderStatus:         string(order.Status),
		promptx.VarOrderedOn:           order.OrderDate,
		promptx.VarCustomerIsPremium:   strconv.FormatBool(order.CustomerIsPremium),
		promptx.VarDaysSinceOrder:      days,
		promptx.VarGoalDescription:     persona.goalDescription(order.OrderID),
		promptx.VarPersonaInstructions: persona.Instructions,
	})
	if err != nil {
		return nil, err
	}

	return &Agent{
		persona:   persona,
		order:     order,
		system:    system,
		completer: f.completer,
		minTurns:  f.minTurns,
	}, nil
}
