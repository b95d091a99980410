package state

import (
	"errors"
	"reflect"
	"testing"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/policy"
)

const testRefDate = "2023-10-20"

func TestGenerateDeterministic(t *testing.T) {
	t.Parallel()

	cfg := contractx.SeedConfig{NumOrders: 80, NumCustomers: 12, Seed: 7, ReferenceDate: testRefDate}
	a, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("Generate() with identical config produced different datasets")
	}

	cfg.Seed = 8
	c, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reflect.DeepEqual(a.Orders, c.Orders) {
		t.Fatal("Generate() with different seeds produced identical orders")
	}
}

func TestGenerateShape(t *testing.T) {
	t.Parallel()

	data, err := Generate(contractx.SeedConfig{ReferenceDate: testRefDate})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(data.Orders) != DefaultNumOrders || len(data.Customers) != DefaultNumCustomers {
		t.Fatalf("orders=%d customers=%d", len(data.Orders), len(data.Customers))
	}

	customers := make(map[string]bool)
	for _, c := range data.Customers {
		customers[c.ID] = true
	}
	ids := make(map[string]bool)
	for _, o := range data.Orders {
		if ids[o.ID] {
			t.Fatalf("duplicate order id %s", o.ID)
		}
		ids[o.ID] = true
		if !customers[o.CustomerID] {
			t.Fatalf("order %s references unknown customer %s", o.ID, o.CustomerID)
		}
		if !o.Status.Valid() {
			t.Fatalf("order %s has invalid status %q", o.ID, o.Status)
		}
		age, err := policy.AgeDays(o.OrderDate, testRefDate)
		if err != nil {
			t.Fatalf("AgeDays(%s) error = %v", o.OrderDate, err)
		}
		if age < 0 || age > DefaultMaxDaysAgo {
			t.Fatalf("order %s age %d outside window", o.ID, age)
		}
		if len(o.Items) == 0 {
			t.Fatalf("order %s has no items", o.ID)
		}
	}
}

func TestGenerateWeightedFavoursOpenOrders(t *testing.T) {
	t.Parallel()

	data, err := Generate(contractx.SeedConfig{NumOrders: 2000, NumCustomers: 20, Seed: 1, ReferenceDate: testRefDate})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	open := 0
	for _, o := range data.Orders {
		if !o.Status.Terminal() {
			open++
		}
	}
	if open < len(data.Orders)/2 {
		t.Fatalf("open orders = %d of %d, want a majority", open, len(data.Orders))
	}
}

func TestGenerateTargetedCategories(t *testing.T) {
	t.Parallel()

	data, err := Generate(contractx.SeedConfig{
		NumOrders:     90,
		NumCustomers:  9,
		Seed:          3,
		ReferenceDate: testRefDate,
		Distribution:  contractx.DistributionTargeted,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	premium := make(map[string]bool)
	for _, c := range data.Customers {
		premium[c.ID] = c.IsPremium
	}

	var eligible, byStatus, byTime int
	for _, o := range data.Orders {
		v, err := policy.Evaluate(o.OrderDate, testRefDate, premium[o.CustomerID], o.Status)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		switch {
		case v.Eligible:
			eligible++
		case v.ViolatedRule == policy.RuleStatusDenylist:
			byStatus++
		default:
			byTime++
		}
	}
	if eligible != 30 || byStatus != 30 || byTime != 30 {
		t.Fatalf("eligible=%d status=%d time=%d, want 30 each", eligible, byStatus, byTime)
	}
}

func TestGenerateInvalidConfig(t *testing.T) {
	t.Parallel()

	cases := []contractx.SeedConfig{
		{ReferenceDate: "not-a-date"},
		{ReferenceDate: testRefDate, NumOrders: -1},
		{ReferenceDate: testRefDate, MinDaysAgo: 10, MaxDaysAgo: 5},
		{ReferenceDate: testRefDate, Distribution: "uniform"},
		{ReferenceDate: testRefDate, Distribution: contractx.DistributionTargeted, MaxDaysAgo: 12},
		{ReferenceDate: testRefDate, StatusWeights: map[contractx.OrderStatus]int{"lost": 3}},
	}
	for i, cfg := range cases {
		if _, err := Generate(cfg); err == nil {
			t.Fatalf("case %d: Generate() error = nil", i)
		}
	}

	_, err := Generate(contractx.SeedConfig{ReferenceDate: ""})
	if !errors.Is(err, contractx.ErrInvalidDate) {
		t.Fatalf("Generate() error = %v, want ErrInvalidDate", err)
	}
}

func TestWeightedRespectsZeroWeights(t *testing.T) {
	t.Parallel()

	rng := NewRand(11)
	weights := map[contractx.OrderStatus]int{contractx.StatusPending: 1, contractx.StatusDelivered: 0}
	for i := 0; i < 100; i++ {
		got, ok := Weighted(rng, weights)
		if !ok || got != contractx.StatusPending {
			t.Fatalf("Weighted() = %q, %v", got, ok)
		}
	}
	if _, ok := Weighted(rng, map[contractx.OrderStatus]int{}); ok {
		t.Fatal("Weighted() on empty map ok = true")
	}
}
