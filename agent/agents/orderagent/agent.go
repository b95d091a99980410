package orderagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	promptx "github.com/tanpawarit/Chative-Policy-Harness/agent/prompt"
	toolx "github.com/tanpawarit/Chative-Policy-Harness/agent/tool"
	"golang.org/x/time/rate"
)

const historyKey = "history"

// Agent is one order-agent prompt variant backed by a tool-calling model.
// It is safe for concurrent use; Bind gives each conversation its own
// reference date.
type Agent struct {
	variant string
	runner  compose.Runnable[map[string]any, *schema.Message]
	limiter *rate.Limiter
}

type Option func(*Agent)

func WithLimiter(l *rate.Limiter) Option {
	return func(a *Agent) {
		a.limiter = l
	}
}

func New(
	ctx context.Context,
	variant string,
	chatModel einomodel.ToolCallingChatModel,
	systemPrompt string,
	opts ...Option,
) (*Agent, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: system prompt for variant %q is empty", contractx.ErrInvalidConfig, variant)
	}

	toolModel, err := chatModel.WithTools(toolx.Infos())
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools for variant=%s: %v", contractx.ErrAgentCallFailure, variant, err)
	}
	runner, err := compileResponseGraph(ctx, toolModel, systemPrompt, variant)
	if err != nil {
		return nil, fmt.Errorf("%w: compile order agent graph: %v", contractx.ErrAgentCallFailure, err)
	}

	a := &Agent{variant: variant, runner: runner}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

func (a *Agent) Variant() string {
	return a.variant
}

// Bind returns a Responder that renders the prompt with referenceDate.
func (a *Agent) Bind(referenceDate string) contractx.Responder {
	return &boundAgent{agent: a, referenceDate: referenceDate}
}

type boundAgent struct {
	agent         *Agent
	referenceDate string
}

func (b *boundAgent) Respond(ctx context.Context, history []contractx.Message) (contractx.AgentOutput, error) {
	return b.agent.respond(ctx, b.referenceDate, history)
}

func (a *Agent) respond(ctx context.Context, referenceDate string, history []contractx.Message) (contractx.AgentOutput, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return contractx.AgentOutput{}, fmt.Errorf("%w: rate limiter: %v", contractx.ErrAgentCallFailure, err)
		}
	}

	msgs, err := toSchemaMessages(history)
	if err != nil {
		return contractx.AgentOutput{}, err
	}

	msg, err := a.runner.Invoke(ctx, map[string]any{
		promptx.VarCurrentDate: referenceDate,
		historyKey:             msgs,
	})
	if err != nil {
		return contractx.AgentOutput{}, fmt.Errorf("%w: order agent invoke: %v", contractx.ErrAgentCallFailure, err)
	}
	if msg == nil {
		return contractx.AgentOutput{}, fmt.Errorf("%w: empty order agent response", contractx.ErrAgentCallFailure)
	}

	return contractx.AgentOutput{
		Text:      msg.Content,
		ToolCalls: fromSchemaToolCalls(msg.ToolCalls),
	}, nil
}

// toSchemaMessages maps the shared history onto chat roles. Tool results of
// textual tool calls have no call id, so they go back as user messages.
func toSchemaMessages(history []contractx.Message) ([]*schema.Message, error) {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		switch m.Actor {
		case contractx.ActorCustomer:
			out = append(out, schema.UserMessage(m.Content))
		case contractx.ActorOrderAgent:
			calls, err := toSchemaToolCalls(m.ToolCalls)
			if err != nil {
				return nil, err
			}
			out = append(out, schema.AssistantMessage(m.Content, calls))
		case contractx.ActorTool:
			if m.ToolCallID != "" {
				out = append(out, schema.ToolMessage(m.Content, m.ToolCallID))
				continue
			}
			out = append(out, schema.UserMessage(fmt.Sprintf("[%s result] %s", m.ToolName, m.Content)))
		default:
			return nil, fmt.Errorf("%w: unknown actor %q in history", contractx.ErrAgentCallFailure, m.Actor)
		}
	}
	return out, nil
}

func toSchemaToolCalls(calls []contractx.ToolCall) ([]schema.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		args, err := json.Marshal(c.Args)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal tool args for tool=%s: %v", contractx.ErrAgentCallFailure, c.Tool, err)
		}
		out = append(out, schema.ToolCall{
			ID:       c.ID,
			Type:     "function",
			Function: schema.FunctionCall{Name: c.Tool, Arguments: string(args)},
		})
	}
	return out, nil
}

// fromSchemaToolCalls keeps calls with undecodable arguments; the gateway
// reports the missing order_id back to the agent.
func fromSchemaToolCalls(calls []schema.ToolCall) []contractx.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]contractx.ToolCall, 0, len(calls))
	for _, call := range calls {
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args = nil
			}
		}
		out = append(out, contractx.ToolCall{
			ID:   call.ID,
			Tool: strings.TrimSpace(call.Function.Name),
			Args: args,
		})
	}
	return out
}
