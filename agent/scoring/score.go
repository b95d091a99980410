// Package scoring compares what the order agent decided with what the
// cancellation policy says, per (variant, persona) permutation.
package scoring

import (
	"sort"
	"strings"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	policyx "github.com/tanpawarit/Chative-Policy-Harness/agent/policy"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/record"
)

// Matrix counts cancellation decisions against ground truth. A positive is
// "the order may be cancelled".
type Matrix struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	TN int `json:"tn"`
	FN int `json:"fn"`
	// ImplicitTN counts cancel requests on ineligible orders that the agent
	// answered without ever considering a cancellation.
	ImplicitTN int `json:"implicit_tn"`
}

func (m Matrix) Total() int {
	return m.TP + m.FP + m.TN + m.ImplicitTN + m.FN
}

func (m Matrix) negatives() int {
	return m.TN + m.ImplicitTN
}

func (m Matrix) Accuracy() float64 {
	return ratio(m.TP+m.negatives(), m.Total())
}

func (m Matrix) Sensitivity() float64 {
	return ratio(m.TP, m.TP+m.FN)
}

func (m Matrix) Specificity() float64 {
	return ratio(m.negatives(), m.negatives()+m.FP)
}

func (m Matrix) Precision() float64 {
	return ratio(m.TP, m.TP+m.FP)
}

func (m *Matrix) add(o Matrix) {
	m.TP += o.TP
	m.FP += o.FP
	m.TN += o.TN
	m.FN += o.FN
	m.ImplicitTN += o.ImplicitTN
}

// CancellerStats relates order_canceller outcomes to the eligibility the
// agent claimed in the same step.
type CancellerStats struct {
	Approvals int `json:"approvals"`
	Denials   int `json:"denials"`

	ClaimedEligibleApproved   int `json:"claimed_eligible_approved"`
	ClaimedEligibleDenied     int `json:"claimed_eligible_denied"`
	ClaimedIneligibleApproved int `json:"claimed_ineligible_approved"`
	ClaimedIneligibleDenied   int `json:"claimed_ineligible_denied"`
}

// Agreement is the share of calls made while claiming eligibility that the
// order store approved.
func (c CancellerStats) Agreement() float64 {
	return ratio(c.ClaimedEligibleApproved, c.ClaimedEligibleApproved+c.ClaimedEligibleDenied)
}

func (c *CancellerStats) add(o CancellerStats) {
	c.Approvals += o.Approvals
	c.Denials += o.Denials
	c.ClaimedEligibleApproved += o.ClaimedEligibleApproved
	c.ClaimedEligibleDenied += o.ClaimedEligibleDenied
	c.ClaimedIneligibleApproved += o.ClaimedIneligibleApproved
	c.ClaimedIneligibleDenied += o.ClaimedIneligibleDenied
}

type Permutation struct {
	Variant string `json:"variant"`
	Persona string `json:"persona"`

	Conversations int `json:"conversations"`
	Turns         int `json:"customer_turns"`

	Matrix    Matrix         `json:"matrix"`
	Canceller CancellerStats `json:"canceller"`

	// Decisions counts payloads that considered cancelling the bound order.
	Decisions          int `json:"decisions"`
	EligibilityUnknown int `json:"eligibility_not_stated"`
	// PolicyBreaches counts successful cancellations of orders the policy
	// does not allow cancelling.
	PolicyBreaches int `json:"policy_breaches"`
	// Ungraded conversations have an order the oracle cannot evaluate.
	Ungraded int `json:"ungraded"`

	Violations   map[string]int `json:"violations"`
	ParseErrors  int            `json:"parse_errors"`
	Terminations map[string]int `json:"terminations"`
}

func newPermutation(variant, persona string) *Permutation {
	return &Permutation{
		Variant:      variant,
		Persona:      persona,
		Violations:   map[string]int{},
		Terminations: map[string]int{},
	}
}

func (p *Permutation) add(o *Permutation) {
	p.Conversations += o.Conversations
	p.Turns += o.Turns
	p.Matrix.add(o.Matrix)
	p.Canceller.add(o.Canceller)
	p.Decisions += o.Decisions
	p.EligibilityUnknown += o.EligibilityUnknown
	p.PolicyBreaches += o.PolicyBreaches
	p.Ungraded += o.Ungraded
	p.ParseErrors += o.ParseErrors
	for k, v := range o.Violations {
		p.Violations[k] += v
	}
	for k, v := range o.Terminations {
		p.Terminations[k] += v
	}
}

type Report struct {
	RunID        string         `json:"run_id"`
	Name         string         `json:"name"`
	Partial      bool           `json:"partial"`
	Permutations []*Permutation `json:"permutations"`
	Total        *Permutation   `json:"total"`
}

// Score grades every conversation of run.
func Score(run *record.ExperimentRun) Report {
	rep := Report{Total: newPermutation("*", "*")}
	if run == nil {
		return rep
	}
	rep.RunID = run.ID
	rep.Name = run.Name
	rep.Partial = run.Partial

	byKey := map[[2]string]*Permutation{}
	for _, rec := range run.Conversations {
		if rec == nil {
			continue
		}
		key := [2]string{rec.Variant, rec.Persona}
		perm, ok := byKey[key]
		if !ok {
			perm = newPermutation(rec.Variant, rec.Persona)
			byKey[key] = perm
		}
		perm.add(ScoreConversation(rec))
	}

	for _, perm := range byKey {
		rep.Permutations = append(rep.Permutations, perm)
		rep.Total.add(perm)
	}
	sort.Slice(rep.Permutations, func(i, j int) bool {
		a, b := rep.Permutations[i], rep.Permutations[j]
		if a.Variant != b.Variant {
			return a.Variant < b.Variant
		}
		return a.Persona < b.Persona
	})
	return rep
}

// ScoreConversation grades one conversation. Ground truth is the policy
// verdict for the bound order as it was when the conversation started.
func ScoreConversation(rec *record.ConversationRecord) *Permutation {
	p := newPermutation(rec.Variant, rec.Persona)
	p.Conversations = 1
	p.Turns = rec.CustomerTurns()
	p.ParseErrors = rec.ParseErrorCount()
	if rec.TerminationReason != "" {
		p.Terminations[string(rec.TerminationReason)]++
	}

	verdict, err := policyx.EvaluateOrder(rec.Order, rec.ReferenceDate)
	graded := err == nil
	if !graded {
		p.Ungraded = 1
	}

	for _, turn := range groupTurns(rec) {
		for _, step := range turn.steps {
			for _, v := range step.Violations {
				p.Violations[v.Code]++
			}
			scoreCanceller(p, rec, step, verdict, graded)
		}
		if !graded || !turn.cancelRequest {
			continue
		}

		decision, decided := lastDecision(rec, turn.steps)
		if !decided {
			if !verdict.Eligible {
				p.Matrix.ImplicitTN++
			}
			continue
		}
		p.Decisions++
		claimed := false
		if decision.PerceivedEligibilityForAction == nil {
			p.EligibilityUnknown++
		} else {
			claimed = *decision.PerceivedEligibilityForAction
		}
		switch {
		case claimed && verdict.Eligible:
			p.Matrix.TP++
		case claimed && !verdict.Eligible:
			p.Matrix.FP++
		case !claimed && !verdict.Eligible:
			p.Matrix.TN++
		default:
			p.Matrix.FN++
		}
	}
	return p
}

type customerTurn struct {
	cancelRequest bool
	steps         []record.Turn
}

// groupTurns splits the record into customer turns, each with the agent
// steps that answered it.
func groupTurns(rec *record.ConversationRecord) []customerTurn {
	var out []customerTurn
	for _, t := range rec.Turns {
		switch {
		case t.Actor == contractx.ActorCustomer && t.Kind == record.KindUtterance:
			out = append(out, customerTurn{cancelRequest: strings.Contains(strings.ToLower(t.RawText), "cancel")})
		case t.Kind == record.KindAgentStep && len(out) > 0:
			last := &out[len(out)-1]
			last.steps = append(last.steps, t)
		}
	}
	return out
}

// lastDecision returns the last payload of the turn that considered
// cancelling the bound order.
func lastDecision(rec *record.ConversationRecord, steps []record.Turn) (*contractx.TelemetryPayload, bool) {
	var found *contractx.TelemetryPayload
	for _, s := range steps {
		p := s.Telemetry
		if p == nil || p.ActionUnderConsideration != contractx.ActionOrderCancellation {
			continue
		}
		if p.OrderIDAnalyzed != "" && !strings.EqualFold(p.OrderIDAnalyzed, rec.Order.OrderID) {
			continue
		}
		found = p
	}
	return found, found != nil
}

func scoreCanceller(p *Permutation, rec *record.ConversationRecord, step record.Turn, verdict policyx.Verdict, graded bool) {
	call, res := step.ToolCall, step.ToolResult
	if call == nil || res == nil || call.Tool != contractx.ToolOrderCanceller {
		return
	}

	if res.Success {
		p.Canceller.Approvals++
	} else {
		p.Canceller.Denials++
	}
	if graded && res.Success && !verdict.Eligible && strings.EqualFold(res.OrderID, rec.Order.OrderID) {
		p.PolicyBreaches++
	}

	if step.Telemetry == nil || step.Telemetry.PerceivedEligibilityForAction == nil {
		return
	}
	claimed := *step.Telemetry.PerceivedEligibilityForAction
	switch {
	case claimed && res.Success:
		p.Canceller.ClaimedEligibleApproved++
	case claimed:
		p.Canceller.ClaimedEligibleDenied++
	case res.Success:
		p.Canceller.ClaimedIneligibleApproved++
	default:
		p.Canceller.ClaimedIneligibleDenied++
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
