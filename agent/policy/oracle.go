// Package policy is the ground truth for the order cancellation policy.
//
// Evaluate is pure: the reference date is always passed in and never read
// from the clock, so the same inputs give the same verdict during a
// conversation and during offline scoring.
package policy

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

const (
	StandardWindowDays = 10
	PremiumWindowDays  = 15

	// DateLayout is the calendar date format used across the harness.
	DateLayout = "2006-01-02"

	secondsPerDay = 24 * 60 * 60
)

type Verdict struct {
	Eligible     bool   `json:"eligible"`
	AgeDays      int    `json:"age_days"`
	WindowDays   int    `json:"window_days"`
	Reason       string `json:"reason"`
	ViolatedRule string `json:"violated_rule,omitempty"`
}

// WindowFor returns the cancellation window in days for a customer tier.
func WindowFor(isPremium bool) int {
	if isPremium {
		return PremiumWindowDays
	}
	return StandardWindowDays
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight UTC.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", contractx.ErrInvalidDate, value, err)
	}
	return t, nil
}

// FormatDate renders t as a calendar date.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// AgeDays returns referenceDate minus orderDate in whole calendar days.
func AgeDays(orderDate, referenceDate string) (int, error) {
	ordered, err := ParseDate(orderDate)
	if err != nil {
		return 0, err
	}
	ref, err := ParseDate(referenceDate)
	if err != nil {
		return 0, err
	}
	if ref.Before(ordered) {
		return 0, fmt.Errorf("%w: reference date %s is before order date %s", contractx.ErrInvalidDate, referenceDate, orderDate)
	}
	// Both dates are UTC midnights. Unix seconds avoid time.Duration, which
	// saturates for spans over ~292 years.
	return int((ref.Unix() - ordered.Unix()) / secondsPerDay), nil
}

// Evaluate decides whether an order may be cancelled on referenceDate.
func Evaluate(orderDate, referenceDate string, isPremium bool, status contractx.OrderStatus) (Verdict, error) {
	age, err := AgeDays(orderDate, referenceDate)
	if err != nil {
		return Verdict{}, err
	}

	d := Apply(DefaultRules(), Facts{AgeDays: age, IsPremium: isPremium, Status: status})
	return Verdict{
		Eligible:     d.Allowed,
		AgeDays:      age,
		WindowDays:   WindowFor(isPremium),
		Reason:       d.Message,
		ViolatedRule: d.ViolatedRule,
	}, nil
}

func EvaluateOrder(order contractx.OrderSnapshot, referenceDate string) (Verdict, error) {
	return Evaluate(order.OrderDate, referenceDate, order.CustomerIsPremium, order.Status)
}
