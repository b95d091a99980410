package orchestratornode

import (
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/protocol"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/record"
)

var (
	ErrNilRecord    = errors.New("conversation record is nil")
	ErrNilResponder = errors.New("order agent responder is nil")
)

// StepInput asks for one order-agent step inside customer turn Turn.
type StepInput struct {
	Record       *record.ConversationRecord
	Responder    contractx.Responder
	Turn         int
	Step         int
	ToolCalls    int
	MaxToolCalls int
	AgentTimeout time.Duration
}

// StepOutput is the recorded turn entry. Continue is set when a tool ran and
// the agent must be invoked again to consume its result.
type StepOutput struct {
	Turn     record.Turn
	Continue bool
	Failure  error
	Elapsed  time.Duration
}

type StepState struct {
	StepInput

	Started time.Time
	History []contractx.Message

	Output         contractx.AgentOutput
	Result         protocol.Result
	BudgetExceeded bool
	ToolResult     *contractx.ToolResult

	// Failure ends the conversation; it is carried to the output instead of
	// failing the graph so callers can classify it with errors.Is.
	Failure error
}

func ValidateStep(in StepInput, nowFn func() time.Time) (*StepState, error) {
	if in.Record == nil {
		return nil, ErrNilRecord
	}
	if in.Responder == nil {
		return nil, ErrNilResponder
	}
	if in.Record.Sealed {
		return nil, fmt.Errorf("%w: %s", contractx.ErrRecordSealed, in.Record.ConversationID)
	}
	if in.Record.State != record.StateAwaitingAgentTurn {
		return nil, fmt.Errorf("%w: agent step in state %s", record.ErrInvalidTransition, in.Record.State)
	}

	return &StepState{
		StepInput: in,
		Started:   nowFn(),
		History:   in.Record.AgentHistory(),
	}, nil
}
