// Package telemetry carries per-step conversation events to observers.
// Sinks are best effort: callers log Emit errors and move on.
package telemetry

import (
	"context"
	"errors"
	"time"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

type EventType string

const (
	EventUserQueryReceived   EventType = "USER_QUERY_RECEIVED"
	EventAgentDecisionIntent EventType = "AGENT_DECISION_INTENT"
	EventAgentToolExecuted   EventType = "AGENT_TOOL_EXECUTED"
	EventAgentFinalResponse  EventType = "AGENT_FINAL_RESPONSE"
	EventTurnFailed          EventType = "TURN_FAILED"
)

func (t EventType) Valid() bool {
	switch t {
	case EventUserQueryReceived, EventAgentDecisionIntent, EventAgentToolExecuted,
		EventAgentFinalResponse, EventTurnFailed:
		return true
	}
	return false
}

type Event struct {
	EventType      EventType `json:"event_type"`
	Timestamp      time.Time `json:"timestamp"`
	RunID          string    `json:"run_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	Variant        string    `json:"variant,omitempty"`
	Persona        string    `json:"persona,omitempty"`
	Turn           int       `json:"turn"`
	Step           int       `json:"step"`

	Message string `json:"message,omitempty"`

	TelemetryStatus contractx.TelemetryStatus   `json:"telemetry_status,omitempty"`
	Payload         *contractx.TelemetryPayload `json:"payload,omitempty"`
	Violations      []contractx.Violation       `json:"violations,omitempty"`

	ToolCall   *contractx.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *contractx.ToolResult `json:"tool_result,omitempty"`

	Error string `json:"error,omitempty"`
}

var ErrInvalidEvent = errors.New("invalid telemetry event")

func (e Event) Validate() error {
	if !e.EventType.Valid() {
		return errors.Join(ErrInvalidEvent, errors.New("unknown event_type "+string(e.EventType)))
	}
	if e.ConversationID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("conversation_id is required"))
	}
	return nil
}

type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
