// Package protocol parses one raw order-agent output into narrative text, an
// optional telemetry payload and an optional tool call, and checks them
// against each other.
//
// Grammar (markers are literal, case-sensitive):
//
//	output    = { text | payload | toolcall }
//	payload   = "<agent_telemetry_payload>" json-object "</agent_telemetry_payload>"
//	toolcall  = "<tool_call>" `{"tool": string, "tool_input": object}` "</tool_call>"
//
// Tool calls may also arrive natively on AgentOutput.ToolCalls. Parse never
// fails; every problem is reported on the returned Result.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/tool"
)

const (
	PayloadOpen   = "<agent_telemetry_payload>"
	PayloadClose  = "</agent_telemetry_payload>"
	ToolCallOpen  = "<tool_call>"
	ToolCallClose = "</tool_call>"
)

// Telemetry is the typed outcome of looking for a payload.
type Telemetry struct {
	Status  contractx.TelemetryStatus
	Payload *contractx.TelemetryPayload
	Raw     string
	Err     error
}

type Result struct {
	Narrative  string
	Telemetry  Telemetry
	ToolCall   *contractx.ToolCall
	Violations []contractx.Violation
}

// IsFinal reports whether the output is a user-facing reply.
func (r Result) IsFinal() bool {
	return r.ToolCall == nil
}

// Payload returns the parsed payload only when it is present and valid.
// Malformed payloads are treated as absent.
func (r Result) Payload() *contractx.TelemetryPayload {
	if r.Telemetry.Status != contractx.TelemetryPresent {
		return nil
	}
	return r.Telemetry.Payload
}

// Err joins all violations into one ErrProtocolViolation-wrapped error.
func (r Result) Err() error {
	if len(r.Violations) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Violations))
	for _, v := range r.Violations {
		errs = append(errs, fmt.Errorf("%w: %s: %s", contractx.ErrProtocolViolation, v.Code, v.Detail))
	}
	return errors.Join(errs...)
}

type block struct {
	body         string
	unterminated bool
}

// Parse classifies one agent output.
func Parse(out contractx.AgentOutput) Result {
	narrative, payloads := extract(out.Text, PayloadOpen, PayloadClose)
	narrative, toolBlocks := extract(narrative, ToolCallOpen, ToolCallClose)

	res := Result{Narrative: cleanNarrative(narrative)}
	res.Telemetry = parseTelemetry(payloads)
	if len(payloads) > 1 {
		res.violate(contractx.ViolationMultiplePayloads, fmt.Sprintf("%d payload blocks, first one used", len(payloads)))
	}

	calls := make([]contractx.ToolCall, 0, len(out.ToolCalls)+len(toolBlocks))
	for _, c := range out.ToolCalls {
		c.Tool = strings.TrimSpace(c.Tool)
		calls = append(calls, c)
	}
	for _, b := range toolBlocks {
		call, err := parseToolBlock(b)
		if err != nil {
			res.violate(contractx.ViolationMalformedToolCall, err.Error())
			continue
		}
		calls = append(calls, call)
	}
	if len(calls) > 0 {
		first := calls[0]
		res.ToolCall = &first
	}
	if len(calls) > 1 {
		res.violate(contractx.ViolationMultipleToolCalls, fmt.Sprintf("%d tool calls, first one used", len(calls)))
	}

	res.validate()
	return res
}

func (r *Result) violate(code, detail string) {
	r.Violations = append(r.Violations, contractx.Violation{Code: code, Detail: detail})
}

func (r *Result) validate() {
	payload := r.Payload()
	call := r.ToolCall

	if call != nil {
		if !tool.Known(call.Tool) {
			r.violate(contractx.ViolationUnknownTool, fmt.Sprintf("tool %q is not exposed", call.Tool))
		}
		if payload == nil {
			r.violate(contractx.ViolationMissingTelemetry, fmt.Sprintf("tool call %s without a valid telemetry payload (%s)", call.Tool, r.Telemetry.Status))
			return
		}
	}
	if payload == nil {
		return
	}

	var wantTool string
	switch payload.IntendedNextStep {
	case contractx.NextCallOrderCanceller:
		wantTool = contractx.ToolOrderCanceller
	case contractx.NextCallOrderTracker:
		wantTool = contractx.ToolOrderTracker
	}

	switch {
	case wantTool != "" && call == nil:
		r.violate(contractx.ViolationIntentMismatch, fmt.Sprintf("intended %s but no tool was called", payload.IntendedNextStep))
	case wantTool != "" && call.Tool != wantTool:
		r.violate(contractx.ViolationIntentMismatch, fmt.Sprintf("intended %s but called %s", payload.IntendedNextStep, call.Tool))
	case wantTool == "" && call != nil:
		r.violate(contractx.ViolationIntentMismatch, fmt.Sprintf("intended %s but called %s", payload.IntendedNextStep, call.Tool))
	}

	if call != nil && payload.OrderIDAnalyzed != "" {
		if id := call.OrderID(); id != "" && !strings.EqualFold(strings.TrimSpace(id), strings.TrimSpace(payload.OrderIDAnalyzed)) {
			r.violate(contractx.ViolationOrderIDMismatch, fmt.Sprintf("payload analyzed %s but tool targets %s", payload.OrderIDAnalyzed, id))
		}
	}
}

// extract removes every open..close block from text and returns the rest.
// An open marker without a close consumes the remainder of the text.
func extract(text, open, closing string) (string, []block) {
	var (
		rest   strings.Builder
		blocks []block
	)
	for {
		i := strings.Index(text, open)
		if i < 0 {
			rest.WriteString(text)
			return rest.String(), blocks
		}
		rest.WriteString(text[:i])
		text = text[i+len(open):]

		j := strings.Index(text, closing)
		if j < 0 {
			blocks = append(blocks, block{body: text, unterminated: true})
			return rest.String(), blocks
		}
		blocks = append(blocks, block{body: text[:j]})
		rest.WriteString(" ")
		text = text[j+len(closing):]
	}
}

func parseTelemetry(blocks []block) Telemetry {
	if len(blocks) == 0 {
		return Telemetry{Status: contractx.TelemetryAbsent}
	}

	first := blocks[0]
	raw := strings.TrimSpace(first.body)
	malformed := func(format string, args ...any) Telemetry {
		return Telemetry{
			Status: contractx.TelemetryMalformed,
			Raw:    raw,
			Err:    fmt.Errorf("%w: %s", contractx.ErrTelemetryParse, fmt.Sprintf(format, args...)),
		}
	}

	if first.unterminated {
		return malformed("missing %s", PayloadClose)
	}

	body := stripFence(raw)
	if body == "" {
		return malformed("empty payload")
	}

	var payload contractx.TelemetryPayload
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(&payload); err != nil {
		return malformed("decode json: %v", err)
	}
	if dec.More() {
		return malformed("trailing data after json object")
	}
	if err := validatePayload(&payload); err != nil {
		return malformed("%v", err)
	}

	return Telemetry{Status: contractx.TelemetryPresent, Payload: &payload, Raw: raw}
}

func validatePayload(p *contractx.TelemetryPayload) error {
	p.OrderIDAnalyzed = strings.TrimSpace(p.OrderIDAnalyzed)
	p.ReasoningSummary = strings.TrimSpace(p.ReasoningSummary)

	switch p.ActionUnderConsideration {
	case contractx.ActionOrderCancellation, contractx.ActionOrderTracking, contractx.ActionGeneralQuery:
	default:
		return fmt.Errorf("unknown action_under_consideration %q", p.ActionUnderConsideration)
	}
	switch p.IntendedNextStep {
	case contractx.NextCallOrderCanceller, contractx.NextCallOrderTracker,
		contractx.NextRespondApprove, contractx.NextRespondDeny, contractx.NextClarify:
	default:
		return fmt.Errorf("unknown intended_next_step %q", p.IntendedNextStep)
	}
	if p.ReasoningSummary == "" {
		return errors.New("reasoning_summary is required")
	}
	return nil
}

type textualToolCall struct {
	Tool      string         `json:"tool"`
	ToolInput map[string]any `json:"tool_input"`
}

func parseToolBlock(b block) (contractx.ToolCall, error) {
	if b.unterminated {
		return contractx.ToolCall{}, fmt.Errorf("missing %s", ToolCallClose)
	}
	var tc textualToolCall
	if err := json.Unmarshal([]byte(stripFence(strings.TrimSpace(b.body))), &tc); err != nil {
		return contractx.ToolCall{}, fmt.Errorf("decode tool call: %v", err)
	}
	name := strings.TrimSpace(tc.Tool)
	if name == "" {
		return contractx.ToolCall{}, errors.New("tool call has no tool name")
	}
	return contractx.ToolCall{Tool: name, Args: tc.ToolInput}, nil
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

func stripFence(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

var blankRunRe = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)

func cleanNarrative(s string) string {
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
