package contract

import "context"

type OrderStore interface {
	Seed(ctx context.Context, cfg SeedConfig) (SeedSummary, error)
	Get(ctx context.Context, orderID string) (OrderSnapshot, error)
	Cancel(ctx context.Context, orderID, reason string) (CancelOutcome, error)
	List(ctx context.Context) ([]OrderSnapshot, error)
}

type ToolGateway interface {
	Execute(ctx context.Context, call ToolCall) (ToolResult, error)
}

// Responder is the order agent under test.
type Responder interface {
	Respond(ctx context.Context, history []Message) (AgentOutput, error)
}

// CustomerAgent is a simulated customer bound to one order.
type CustomerAgent interface {
	Persona() string
	OrderID() string
	Respond(ctx context.Context, history []Message) (Utterance, error)
	GoalAchieved(obs Observation) bool
}
