package protocol

import (
	"errors"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

const trackPayload = `<agent_telemetry_payload>
{"order_id_analyzed":"ABCD2345","action_under_consideration":"order_cancellation","reasoning_summary":"Need the order date first.","intended_next_step":"call_order_tracker"}
</agent_telemetry_payload>`

func codes(vs []contractx.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Code)
	}
	return out
}

func hasCode(vs []contractx.Violation, code string) bool {
	for _, v := range vs {
		if v.Code == code {
			return true
		}
	}
	return false
}

func TestParseToolCallWithPayload(t *testing.T) {
	t.Parallel()

	out := contractx.AgentOutput{
		Text:      "Let me look that up.\n" + trackPayload,
		ToolCalls: []contractx.ToolCall{{ID: "call_1", Tool: "order_tracker", Args: map[string]any{"order_id": "ABCD2345"}}},
	}
	res := Parse(out)

	if res.Telemetry.Status != contractx.TelemetryPresent {
		t.Fatalf("status = %s, err = %v", res.Telemetry.Status, res.Telemetry.Err)
	}
	if res.Payload().IntendedNextStep != contractx.NextCallOrderTracker {
		t.Fatalf("unexpected payload: %+v", res.Payload())
	}
	if res.ToolCall == nil || res.ToolCall.ID != "call_1" {
		t.Fatalf("unexpected tool call: %+v", res.ToolCall)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations: %v", codes(res.Violations))
	}
	if res.Narrative != "Let me look that up." {
		t.Fatalf("Narrative = %q", res.Narrative)
	}
	if res.IsFinal() || res.Err() != nil {
		t.Fatalf("IsFinal() = %v, Err() = %v", res.IsFinal(), res.Err())
	}
}

func TestParseToolCallWithoutPayload(t *testing.T) {
	t.Parallel()

	res := Parse(contractx.AgentOutput{
		Text: `Cancelling now. <tool_call>{"tool":"order_canceller","tool_input":{"order_id":"ABCD2345"}}</tool_call>`,
	})

	if res.Telemetry.Status != contractx.TelemetryAbsent {
		t.Fatalf("status = %s", res.Telemetry.Status)
	}
	if res.ToolCall == nil || res.ToolCall.Tool != contractx.ToolOrderCanceller || res.ToolCall.OrderID() != "ABCD2345" {
		t.Fatalf("unexpected tool call: %+v", res.ToolCall)
	}
	if !hasCode(res.Violations, contractx.ViolationMissingTelemetry) {
		t.Fatalf("violations = %v, want missing_telemetry", codes(res.Violations))
	}
	if !errors.Is(res.Err(), contractx.ErrProtocolViolation) {
		t.Fatalf("Err() = %v, want ErrProtocolViolation", res.Err())
	}
	if res.Narrative != "Cancelling now." {
		t.Fatalf("Narrative = %q", res.Narrative)
	}
}

func TestParseFinalResponse(t *testing.T) {
	t.Parallel()

	text := `<agent_telemetry_payload>{"order_id_analyzed":"ABCD2345","action_under_consideration":"order_cancellation","perceived_eligibility_for_action":false,"reasoning_summary":"11 days old, standard window is 10.","intended_next_step":"respond_to_user_directly_deny"}</agent_telemetry_payload>

Sorry, this order is outside the 10 day cancellation window.`

	res := Parse(contractx.AgentOutput{Text: text})
	if !res.IsFinal() {
		t.Fatal("expected final response")
	}
	p := res.Payload()
	if p == nil || p.PerceivedEligibilityForAction == nil || *p.PerceivedEligibilityForAction {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations: %v", codes(res.Violations))
	}
	if res.Narrative != "Sorry, this order is outside the 10 day cancellation window." {
		t.Fatalf("Narrative = %q", res.Narrative)
	}
}

func TestParseMalformedPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{name: "bad json", text: `<agent_telemetry_payload>{"reasoning_summary": </agent_telemetry_payload> hi`},
		{name: "unterminated", text: `<agent_telemetry_payload>{"reasoning_summary":"x"`},
		{name: "unknown enum", text: `<agent_telemetry_payload>{"action_under_consideration":"refund","reasoning_summary":"x","intended_next_step":"clarify_with_user"}</agent_telemetry_payload>`},
		{name: "missing reasoning", text: `<agent_telemetry_payload>{"action_under_consideration":"general_query","reasoning_summary":"  ","intended_next_step":"clarify_with_user"}</agent_telemetry_payload>`},
		{name: "empty", text: `<agent_telemetry_payload>   </agent_telemetry_payload>`},
		{name: "trailing data", text: `<agent_telemetry_payload>{"action_under_consideration":"general_query","reasoning_summary":"x","intended_next_step":"clarify_with_user"} {}</agent_telemetry_payload>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := Parse(contractx.AgentOutput{Text: tt.text})
			if res.Telemetry.Status != contractx.TelemetryMalformed {
				t.Fatalf("status = %s, want malformed", res.Telemetry.Status)
			}
			if !errors.Is(res.Telemetry.Err, contractx.ErrTelemetryParse) {
				t.Fatalf("Err = %v, want ErrTelemetryParse", res.Telemetry.Err)
			}
			if res.Payload() != nil {
				t.Fatal("malformed payload must be treated as absent")
			}
		})
	}
}

func TestParseFencedPayload(t *testing.T) {
	t.Parallel()

	text := "<agent_telemetry_payload>\n```json\n{\"action_under_consideration\":\"general_query\",\"reasoning_summary\":\"greeting\",\"intended_next_step\":\"clarify_with_user\"}\n```\n</agent_telemetry_payload>Which order?"
	res := Parse(contractx.AgentOutput{Text: text})
	if res.Telemetry.Status != contractx.TelemetryPresent {
		t.Fatalf("status = %s, err = %v", res.Telemetry.Status, res.Telemetry.Err)
	}
	if res.Narrative != "Which order?" {
		t.Fatalf("Narrative = %q", res.Narrative)
	}
}

func TestParseIntentMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  contractx.AgentOutput
	}{
		{
			name: "canceller intended, tracker called",
			out: contractx.AgentOutput{
				Text:      strings.Replace(trackPayload, "call_order_tracker", "call_order_canceller", 1),
				ToolCalls: []contractx.ToolCall{{ID: "c", Tool: contractx.ToolOrderTracker, Args: map[string]any{"order_id": "ABCD2345"}}},
			},
		},
		{
			name: "tool intended, none called",
			out:  contractx.AgentOutput{Text: trackPayload + " One moment."},
		},
		{
			name: "direct reply intended, tool called",
			out: contractx.AgentOutput{
				Text:      strings.Replace(trackPayload, "call_order_tracker", "respond_to_user_directly_approve", 1),
				ToolCalls: []contractx.ToolCall{{ID: "c", Tool: contractx.ToolOrderCanceller, Args: map[string]any{"order_id": "ABCD2345"}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := Parse(tt.out)
			if !hasCode(res.Violations, contractx.ViolationIntentMismatch) {
				t.Fatalf("violations = %v, want intent_mismatch", codes(res.Violations))
			}
		})
	}
}

func TestParseOrderIDMismatchAndUnknownTool(t *testing.T) {
	t.Parallel()

	res := Parse(contractx.AgentOutput{
		Text:      trackPayload,
		ToolCalls: []contractx.ToolCall{{ID: "c", Tool: contractx.ToolOrderTracker, Args: map[string]any{"order_id": "ZZZZ9999"}}},
	})
	if !hasCode(res.Violations, contractx.ViolationOrderIDMismatch) {
		t.Fatalf("violations = %v, want order_id_mismatch", codes(res.Violations))
	}

	res = Parse(contractx.AgentOutput{
		Text:      trackPayload,
		ToolCalls: []contractx.ToolCall{{ID: "c", Tool: "refund_issuer", Args: map[string]any{"order_id": "ABCD2345"}}},
	})
	if !hasCode(res.Violations, contractx.ViolationUnknownTool) {
		t.Fatalf("violations = %v, want unknown_tool", codes(res.Violations))
	}
}

func TestParseMultipleBlocks(t *testing.T) {
	t.Parallel()

	text := trackPayload + trackPayload +
		`<tool_call>{"tool":"order_tracker","tool_input":{"order_id":"ABCD2345"}}</tool_call>` +
		`<tool_call>{"tool":"order_canceller","tool_input":{"order_id":"ABCD2345"}}</tool_call>`
	res := Parse(contractx.AgentOutput{Text: text})

	if !hasCode(res.Violations, contractx.ViolationMultiplePayloads) || !hasCode(res.Violations, contractx.ViolationMultipleToolCalls) {
		t.Fatalf("violations = %v", codes(res.Violations))
	}
	if res.ToolCall.Tool != contractx.ToolOrderTracker {
		t.Fatalf("first tool call must win, got %s", res.ToolCall.Tool)
	}
	if hasCode(res.Violations, contractx.ViolationIntentMismatch) {
		t.Fatalf("first payload and first call agree, got %v", codes(res.Violations))
	}
}

func TestParseMalformedToolCall(t *testing.T) {
	t.Parallel()

	res := Parse(contractx.AgentOutput{Text: `ok <tool_call>{"tool": }</tool_call>`})
	if res.ToolCall != nil {
		t.Fatalf("unexpected tool call: %+v", res.ToolCall)
	}
	if !hasCode(res.Violations, contractx.ViolationMalformedToolCall) {
		t.Fatalf("violations = %v, want malformed_tool_call", codes(res.Violations))
	}
}

func TestParsePlainText(t *testing.T) {
	t.Parallel()

	res := Parse(contractx.AgentOutput{Text: "  Hello! How can I help you today?  "})
	if res.Telemetry.Status != contractx.TelemetryAbsent || !res.IsFinal() || len(res.Violations) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Narrative != "Hello! How can I help you today?" {
		t.Fatalf("Narrative = %q", res.Narrative)
	}
}
