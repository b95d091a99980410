package orchestratornode

import (
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/protocol"
)

const (
	RouteExecuteTool = "execute_tool"
	RouteFinalize    = "finalize_step"
)

func ParseOutput(in *StepState) (*StepState, error) {
	if in == nil {
		return nil, errors.New("step state is nil")
	}
	if in.Failure != nil {
		return in, nil
	}

	in.Result = protocol.Parse(in.Output)
	if in.Result.ToolCall != nil && in.MaxToolCalls > 0 && in.ToolCalls >= in.MaxToolCalls {
		in.BudgetExceeded = true
		in.Result.Violations = append(in.Result.Violations, contractx.Violation{
			Code:   contractx.ViolationToolBudgetExceeded,
			Detail: fmt.Sprintf("tool call %d exceeds the limit of %d per turn", in.ToolCalls+1, in.MaxToolCalls),
		})
	}
	return in, nil
}

// Route picks the next node after parsing.
func Route(in *StepState) (string, error) {
	if in == nil {
		return "", errors.New("step state is nil")
	}
	if in.Failure == nil && !in.Result.IsFinal() {
		return RouteExecuteTool, nil
	}
	return RouteFinalize, nil
}
