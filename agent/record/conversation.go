package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

// ConversationRecord is the append-only log of one simulated conversation.
// Its orchestrator owns it until Seal; afterwards it is read-only.
type ConversationRecord struct {
	// Identity
	ConversationID string `json:"conversation_id"`
	Variant        string `json:"variant"`
	Persona        string `json:"persona"`
	Repeat         int    `json:"repeat"`

	// Ground truth context
	Order         contractx.OrderSnapshot `json:"order"`
	ReferenceDate string                  `json:"reference_date"`

	Turns []Turn `json:"turns"`

	State             State             `json:"state"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
	Failure           string            `json:"failure,omitempty"`
	Sealed            bool              `json:"sealed"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

type State string

const (
	StateAwaitingCustomerTurn State = "awaiting_customer_turn"
	StateAwaitingAgentTurn    State = "awaiting_agent_turn"
	StateToolCallPending      State = "tool_call_pending"
	StateTerminated           State = "terminated"
)

type TerminationReason string

const (
	ReasonMaxTurns      TerminationReason = "max_turns"
	ReasonGoalAchieved  TerminationReason = "goal_achieved"
	ReasonCustomerEnded TerminationReason = "customer_ended"
	ReasonTimeBudget    TerminationReason = "time_budget_elapsed"
	ReasonTurnFailed    TerminationReason = "turn_failed"
	ReasonCancelled     TerminationReason = "cancelled"
)

type TurnKind string

const (
	KindGreeting   TurnKind = "greeting"
	KindUtterance  TurnKind = "utterance"
	KindAgentStep  TurnKind = "agent_step"
	KindTurnFailed TurnKind = "turn_failed"
)

type Turn struct {
	Index int             `json:"index"`
	Step  int             `json:"step"`
	Actor contractx.Actor `json:"actor"`
	Kind  TurnKind        `json:"kind"`

	RawText   string `json:"raw_text,omitempty"`
	Narrative string `json:"narrative,omitempty"`

	TelemetryStatus contractx.TelemetryStatus   `json:"telemetry_status,omitempty"`
	Telemetry       *contractx.TelemetryPayload `json:"telemetry,omitempty"`
	TelemetryError  string                      `json:"telemetry_error,omitempty"`

	ToolCall   *contractx.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *contractx.ToolResult `json:"tool_result,omitempty"`

	Violations []contractx.Violation `json:"violations,omitempty"`
	Failure    string                `json:"failure,omitempty"`

	At time.Time `json:"at"`
}

/* ----------------------------- Turn helpers ----------------------------- */

// IsFinalResponse reports whether the turn is a user-facing agent reply.
func (t Turn) IsFinalResponse() bool {
	return t.Actor == contractx.ActorOrderAgent && (t.Kind == KindGreeting || (t.Kind == KindAgentStep && t.ToolCall == nil))
}

func (t Turn) visibleText() string {
	if t.Narrative != "" {
		return t.Narrative
	}
	return t.RawText
}

/* ----------------------- ConversationRecord helpers --------------------- */

var (
	ErrInvalidTransition = errors.New("invalid conversation state transition")
	ErrEmptyConversation = errors.New("conversation id is empty")
)

var transitions = map[State][]State{
	StateAwaitingCustomerTurn: {StateAwaitingAgentTurn, StateTerminated},
	StateAwaitingAgentTurn:    {StateToolCallPending, StateAwaitingCustomerTurn, StateTerminated},
	StateToolCallPending:      {StateAwaitingAgentTurn, StateTerminated},
}

func NewConversationRecord(conversationID, variant, persona string, repeat int, order contractx.OrderSnapshot, referenceDate string, now time.Time) *ConversationRecord {
	return &ConversationRecord{
		ConversationID: conversationID,
		Variant:        variant,
		Persona:        persona,
		Repeat:         repeat,
		Order:          order,
		ReferenceDate:  referenceDate,
		Turns:          make([]Turn, 0, 16),
		State:          StateAwaitingCustomerTurn,
		StartedAt:      now.UTC(),
	}
}

// Append adds a turn. Sealed records reject appends.
func (r *ConversationRecord) Append(t Turn) error {
	if r == nil {
		return errors.New("nil conversation record")
	}
	if r.Sealed {
		return fmt.Errorf("%w: %s", contractx.ErrRecordSealed, r.ConversationID)
	}
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	r.Turns = append(r.Turns, t)
	return nil
}

// Transition moves the conversation state machine along a legal edge.
func (r *ConversationRecord) Transition(to State) error {
	if r == nil {
		return errors.New("nil conversation record")
	}
	if r.Sealed {
		return fmt.Errorf("%w: %s", contractx.ErrRecordSealed, r.ConversationID)
	}
	for _, allowed := range transitions[r.State] {
		if allowed == to {
			r.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
}

// Seal terminates the conversation. Sealing twice keeps the first reason.
func (r *ConversationRecord) Seal(reason TerminationReason, failure error, now time.Time) {
	if r == nil || r.Sealed {
		return
	}
	r.State = StateTerminated
	r.TerminationReason = reason
	if failure != nil {
		r.Failure = failure.Error()
	}
	r.EndedAt = now.UTC()
	r.Sealed = true
}

// CustomerTurns counts customer utterances.
func (r *ConversationRecord) CustomerTurns() int {
	n := 0
	for _, t := range r.Turns {
		if t.Actor == contractx.ActorCustomer && t.Kind == KindUtterance {
			n++
		}
	}
	return n
}

func (r *ConversationRecord) ViolationCount() int {
	n := 0
	for _, t := range r.Turns {
		n += len(t.Violations)
	}
	return n
}

func (r *ConversationRecord) ParseErrorCount() int {
	n := 0
	for _, t := range r.Turns {
		if t.TelemetryStatus == contractx.TelemetryMalformed {
			n++
		}
	}
	return n
}

// AgentHistory is the conversation as the order agent sees it: its own raw
// outputs, tool calls and results, and the customer's utterances.
func (r *ConversationRecord) AgentHistory() []contractx.Message {
	out := make([]contractx.Message, 0, len(r.Turns)+4)
	for _, t := range r.Turns {
		switch {
		case t.Kind == KindTurnFailed:
			continue
		case t.Actor == contractx.ActorCustomer:
			out = append(out, contractx.Message{Actor: contractx.ActorCustomer, Content: t.RawText})
		case t.Kind == KindGreeting:
			out = append(out, contractx.Message{Actor: contractx.ActorOrderAgent, Content: t.RawText})
		case t.Kind == KindAgentStep:
			msg := contractx.Message{Actor: contractx.ActorOrderAgent, Content: t.RawText}
			if t.ToolCall != nil && t.ToolCall.ID != "" {
				msg.ToolCalls = []contractx.ToolCall{*t.ToolCall}
			}
			out = append(out, msg)
			if t.ToolCall != nil && t.ToolResult != nil {
				out = append(out, toolMessage(*t.ToolCall, *t.ToolResult))
			}
		}
	}
	return out
}

// CustomerHistory is the conversation as the customer sees it: utterances and
// the order agent's user-facing replies without protocol markup.
func (r *ConversationRecord) CustomerHistory() []contractx.Message {
	out := make([]contractx.Message, 0, len(r.Turns))
	for _, t := range r.Turns {
		switch {
		case t.Actor == contractx.ActorCustomer && t.Kind == KindUtterance:
			out = append(out, contractx.Message{Actor: contractx.ActorCustomer, Content: t.RawText})
		case t.IsFinalResponse():
			out = append(out, contractx.Message{Actor: contractx.ActorOrderAgent, Content: t.visibleText()})
		}
	}
	return out
}

func toolMessage(call contractx.ToolCall, result contractx.ToolResult) contractx.Message {
	content, err := json.Marshal(result)
	if err != nil {
		content = []byte(fmt.Sprintf(`{"tool":%q,"error":"unencodable result"}`, result.Tool))
	}
	return contractx.Message{
		Actor:      contractx.ActorTool,
		Content:    string(content),
		ToolCallID: call.ID,
		ToolName:   call.Tool,
	}
}

func (r *ConversationRecord) Validate() error {
	if r == nil {
		return errors.New("nil conversation record")
	}
	if r.ConversationID == "" {
		return ErrEmptyConversation
	}
	if r.Sealed && r.State != StateTerminated {
		return fmt.Errorf("sealed conversation %s in state %s", r.ConversationID, r.State)
	}
	if r.Sealed && r.TerminationReason == "" {
		return fmt.Errorf("sealed conversation %s has no termination reason", r.ConversationID)
	}
	for i, t := range r.Turns {
		if t.ToolResult != nil && t.ToolCall == nil {
			return fmt.Errorf("turn %d has a tool result without a tool call", i)
		}
	}
	return nil
}
