package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

func InvokeAgent(ctx context.Context, in *StepState) (*StepState, error) {
	if in == nil {
		return nil, errors.New("step state is nil")
	}

	callCtx := ctx
	if in.AgentTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, in.AgentTimeout)
		defer cancel()
	}

	out, err := in.Responder.Respond(callCtx, in.History)
	if err != nil {
		if !errors.Is(err, contractx.ErrAgentCallFailure) {
			err = fmt.Errorf("%w: %v", contractx.ErrAgentCallFailure, err)
		}
		in.Failure = err
		return in, nil
	}
	if strings.TrimSpace(out.Text) == "" && len(out.ToolCalls) == 0 {
		in.Failure = fmt.Errorf("%w: order agent returned an empty output", contractx.ErrAgentCallFailure)
		return in, nil
	}

	in.Output = out
	return in, nil
}
