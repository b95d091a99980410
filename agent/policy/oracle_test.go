package policy

import (
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

func TestEvaluateScenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		orderDate    string
		refDate      string
		premium      bool
		status       contractx.OrderStatus
		wantAge      int
		wantEligible bool
		wantRule     string
	}{
		{"boundary inclusive standard", "2023-10-01", "2023-10-11", false, contractx.StatusPending, 10, true, ""},
		{"one day past standard", "2023-10-01", "2023-10-12", false, contractx.StatusPending, 11, false, RuleTimeWindow},
		{"premium extends window", "2023-10-01", "2023-10-12", true, contractx.StatusPending, 11, true, ""},
		{"premium boundary", "2023-10-01", "2023-10-16", true, contractx.StatusShipped, 15, true, ""},
		{"premium past window", "2023-10-01", "2023-10-17", true, contractx.StatusShipped, 16, false, RuleTimeWindow},
		{"delivered same day", "2023-10-01", "2023-10-01", false, contractx.StatusDelivered, 0, false, RuleStatusDenylist},
		{"cancelled is terminal", "2023-10-01", "2023-10-02", true, contractx.StatusCancelled, 1, false, RuleStatusDenylist},
		{"delivering too old reports status", "2023-09-01", "2023-10-01", false, contractx.StatusDelivering, 30, false, RuleStatusDenylist},
		{"fulfilled", "2023-10-01", "2023-10-03", false, contractx.StatusFulfilled, 2, false, RuleStatusDenylist},
		{"processing across month", "2023-09-28", "2023-10-05", false, contractx.StatusProcessing, 7, true, ""},
		{"leap day", "2024-02-28", "2024-03-01", false, contractx.StatusPending, 2, true, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Evaluate(tt.orderDate, tt.refDate, tt.premium, tt.status)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got.AgeDays != tt.wantAge {
				t.Fatalf("AgeDays = %d, want %d", got.AgeDays, tt.wantAge)
			}
			if got.Eligible != tt.wantEligible {
				t.Fatalf("Eligible = %v, want %v (reason %q)", got.Eligible, tt.wantEligible, got.Reason)
			}
			if got.ViolatedRule != tt.wantRule {
				t.Fatalf("ViolatedRule = %q, want %q", got.ViolatedRule, tt.wantRule)
			}
			if got.Reason == "" {
				t.Fatal("Reason is empty")
			}
		})
	}
}

func TestEvaluateInvalidDate(t *testing.T) {
	t.Parallel()

	cases := [][2]string{
		{"2023-13-01", "2023-10-01"},
		{"2023-10-01", "yesterday"},
		{"", "2023-10-01"},
		{"2023-10-02", "2023-10-01"},
	}
	for _, c := range cases {
		_, err := Evaluate(c[0], c[1], false, contractx.StatusPending)
		if !errors.Is(err, contractx.ErrInvalidDate) {
			t.Fatalf("Evaluate(%q, %q) error = %v, want ErrInvalidDate", c[0], c[1], err)
		}
	}
}

func TestAgeDaysSameDayIsZero(t *testing.T) {
	t.Parallel()

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 400; i += 37 {
		d := FormatDate(start.AddDate(0, 0, i))
		age, err := AgeDays(d, d)
		if err != nil {
			t.Fatalf("AgeDays(%s) error = %v", d, err)
		}
		if age != 0 {
			t.Fatalf("AgeDays(%s, %s) = %d, want 0", d, d, age)
		}
	}
}

func TestAgeDaysMonotonic(t *testing.T) {
	t.Parallel()

	orderDate := "2023-03-10"
	ref, _ := ParseDate(orderDate)
	prev := -1
	for i := 0; i < 60; i++ {
		age, err := AgeDays(orderDate, FormatDate(ref.AddDate(0, 0, i)))
		if err != nil {
			t.Fatalf("AgeDays() error = %v", err)
		}
		if age != prev+1 {
			t.Fatalf("day %d: age = %d, want %d", i, age, prev+1)
		}
		prev = age
	}
}

func TestAgeDaysLongRange(t *testing.T) {
	t.Parallel()

	cases := []struct {
		order, ref string
	}{
		{"1700-01-01", "2023-10-11"},
		{"0001-01-01", "9999-12-30"},
	}
	for _, tc := range cases {
		ref, err := ParseDate(tc.ref)
		if err != nil {
			t.Fatalf("ParseDate() error = %v", err)
		}
		age, err := AgeDays(tc.order, tc.ref)
		if err != nil {
			t.Fatalf("AgeDays(%s, %s) error = %v", tc.order, tc.ref, err)
		}
		next, err := AgeDays(tc.order, FormatDate(ref.AddDate(0, 0, 1)))
		if err != nil {
			t.Fatalf("AgeDays(%s, next day) error = %v", tc.order, err)
		}
		if next != age+1 {
			t.Fatalf("AgeDays(%s, ...) did not advance by one day: %d -> %d", tc.order, age, next)
		}
	}

	age, err := AgeDays("1700-01-01", "2023-10-11")
	if err != nil {
		t.Fatalf("AgeDays() error = %v", err)
	}
	if age != 118256 {
		t.Fatalf("AgeDays(1700-01-01, 2023-10-11) = %d, want 118256", age)
	}
}

func TestPremiumNeverNarrows(t *testing.T) {
	t.Parallel()

	orderDate := "2023-06-01"
	base, _ := ParseDate(orderDate)
	for age := 0; age <= 20; age++ {
		ref := FormatDate(base.AddDate(0, 0, age))
		for _, status := range contractx.AllStatuses {
			std, err := Evaluate(orderDate, ref, false, status)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			prem, err := Evaluate(orderDate, ref, true, status)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if std.Eligible && !prem.Eligible {
				t.Fatalf("age %d status %s: standard eligible but premium not", age, status)
			}
		}
	}
}

func TestEvaluateOrder(t *testing.T) {
	t.Parallel()

	v, err := EvaluateOrder(contractx.OrderSnapshot{
		OrderID:           "A1",
		OrderDate:         "2023-10-01",
		Status:            contractx.StatusShipped,
		CustomerIsPremium: true,
	}, "2023-10-12")
	if err != nil {
		t.Fatalf("EvaluateOrder() error = %v", err)
	}
	if !v.Eligible || v.WindowDays != PremiumWindowDays {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestApplyJoinsPassingMessages(t *testing.T) {
	t.Parallel()

	d := Apply(DefaultRules(), Facts{AgeDays: 3, Status: contractx.StatusPending})
	if !d.Allowed || d.ViolatedRule != "" {
		t.Fatalf("Apply() = %+v", d)
	}
	if d.Message == "" {
		t.Fatal("Apply() message empty")
	}
}
