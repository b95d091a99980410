package orchestratornode

import (
	"errors"
	"time"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/record"
)

func FinalizeStep(in *StepState, nowFn func() time.Time) (StepOutput, error) {
	if in == nil {
		return StepOutput{}, errors.New("step state is nil")
	}
	return buildOutput(in, false, nowFn), nil
}

func buildOutput(in *StepState, cont bool, nowFn func() time.Time) StepOutput {
	now := nowFn()
	out := StepOutput{
		Continue: cont && in.Failure == nil,
		Failure:  in.Failure,
		Elapsed:  now.Sub(in.Started),
	}
	if in.Failure != nil && in.Output.Text == "" && in.Result.ToolCall == nil {
		return out
	}

	turn := record.Turn{
		Index:           in.Turn,
		Step:            in.Step,
		Actor:           contractx.ActorOrderAgent,
		Kind:            record.KindAgentStep,
		RawText:         in.Output.Text,
		Narrative:       in.Result.Narrative,
		TelemetryStatus: in.Result.Telemetry.Status,
		Telemetry:       in.Result.Payload(),
		ToolCall:        in.Result.ToolCall,
		ToolResult:      in.ToolResult,
		Violations:      in.Result.Violations,
		At:              now.UTC(),
	}
	if err := in.Result.Telemetry.Err; err != nil {
		turn.TelemetryError = err.Error()
	}
	out.Turn = turn
	return out
}
