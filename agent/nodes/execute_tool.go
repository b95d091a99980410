package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/record"
)

// ExecuteTool runs the parsed tool call through the gateway. A call over the
// per-turn budget is answered with an error result and not executed.
func ExecuteTool(ctx context.Context, in *StepState, tools contractx.ToolGateway, nowFn func() time.Time) (StepOutput, error) {
	if in == nil || in.Result.ToolCall == nil {
		return StepOutput{}, errors.New("step state has no tool call")
	}
	if err := in.Record.Transition(record.StateToolCallPending); err != nil {
		return StepOutput{}, err
	}

	call := *in.Result.ToolCall
	if in.BudgetExceeded {
		in.ToolResult = &contractx.ToolResult{
			Tool:    call.Tool,
			CallID:  call.ID,
			OrderID: call.OrderID(),
			Error:   fmt.Sprintf("tool budget of %d calls for this turn is exhausted, answer the customer now", in.MaxToolCalls),
		}
		return buildOutput(in, false, nowFn), nil
	}

	res, err := tools.Execute(ctx, call)
	if err != nil {
		in.Failure = err
		return buildOutput(in, false, nowFn), nil
	}
	in.ToolResult = &res
	return buildOutput(in, true, nowFn), nil
}
