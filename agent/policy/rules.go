package policy

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

// Rule names reported in Decision.ViolatedRule.
const (
	RuleStatusDenylist = "status_denylist"
	RuleTimeWindow     = "time_window"
)

// Facts are the inputs every rule sees.
type Facts struct {
	AgeDays   int
	IsPremium bool
	Status    contractx.OrderStatus
}

type Decision struct {
	Allowed      bool   `json:"allowed"`
	Message      string `json:"message"`
	ViolatedRule string `json:"violated_rule,omitempty"`
}

type Rule interface {
	Name() string
	Check(f Facts) Decision
}

// DefaultRules runs the status check before the time window so that a
// terminal order is reported as such regardless of its age.
func DefaultRules() []Rule {
	return []Rule{
		statusDenylist{denied: contractx.TerminalStatuses},
		timeWindow{standard: StandardWindowDays, premium: PremiumWindowDays},
	}
}

type statusDenylist struct {
	denied []contractx.OrderStatus
}

func (statusDenylist) Name() string { return RuleStatusDenylist }

func (r statusDenylist) Check(f Facts) Decision {
	for _, s := range r.denied {
		if f.Status == s {
			return Decision{
				Allowed:      false,
				Message:      fmt.Sprintf("orders with status %q cannot be cancelled", f.Status),
				ViolatedRule: RuleStatusDenylist,
			}
		}
	}
	return Decision{Allowed: true, Message: "status allows cancellation"}
}

type timeWindow struct {
	standard int
	premium  int
}

func (timeWindow) Name() string { return RuleTimeWindow }

func (r timeWindow) window(isPremium bool) int {
	if isPremium {
		return r.premium
	}
	return r.standard
}

func (r timeWindow) Check(f Facts) Decision {
	limit := r.window(f.IsPremium)
	tier := "standard"
	if f.IsPremium {
		tier = "premium"
	}
	if f.AgeDays > limit {
		return Decision{
			Allowed:      false,
			Message:      fmt.Sprintf("order is %d days old, beyond the %d-day window for %s customers", f.AgeDays, limit, tier),
			ViolatedRule: RuleTimeWindow,
		}
	}
	return Decision{
		Allowed: true,
		Message: fmt.Sprintf("order is %d days old, within the %d-day window for %s customers", f.AgeDays, limit, tier),
	}
}

// Apply runs rules in order. The first violation decides; when every rule
// passes the messages are joined.
func Apply(rules []Rule, f Facts) Decision {
	passed := make([]string, 0, len(rules))
	for _, rule := range rules {
		d := rule.Check(f)
		if !d.Allowed {
			return d
		}
		passed = append(passed, d.Message)
	}
	return Decision{Allowed: true, Message: strings.Join(passed, "; ")}
}
