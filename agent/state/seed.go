package state

import (
	"fmt"
	"math/rand/v2"
	"strings"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/policy"
)

const (
	DefaultNumOrders    = 60
	DefaultNumCustomers = 10
	DefaultSeed         = 42
	DefaultMaxDaysAgo   = 45

	orderIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	orderIDLength   = 8
)

// DefaultStatusWeights favours open orders over terminal ones.
var DefaultStatusWeights = map[contractx.OrderStatus]int{
	contractx.StatusPending:    30,
	contractx.StatusProcessing: 25,
	contractx.StatusShipped:    15,
	contractx.StatusFulfilled:  10,
	contractx.StatusDelivering: 7,
	contractx.StatusDelivered:  8,
	contractx.StatusCancelled:  5,
}

var (
	firstNames = []string{"Ava", "Ben", "Chloe", "Daniel", "Emma", "Farid", "Grace", "Hiro", "Isla", "Jonas", "Kanya", "Liam", "Maya", "Niran", "Olivia", "Priya"}
	lastNames  = []string{"Anders", "Bunnag", "Castillo", "Dubois", "Evans", "Fischer", "Garcia", "Huang", "Ito", "Jensen", "Kowalski", "Larsen", "Moreau", "Nakamura"}
	catalog    = []contractx.LineItem{
		{SKU: "SKU-1001", Name: "Wireless Mouse"},
		{SKU: "SKU-1002", Name: "Mechanical Keyboard"},
		{SKU: "SKU-1003", Name: "USB-C Hub"},
		{SKU: "SKU-1004", Name: "27in Monitor"},
		{SKU: "SKU-1005", Name: "Laptop Stand"},
		{SKU: "SKU-1006", Name: "Noise Cancelling Headphones"},
		{SKU: "SKU-1007", Name: "Webcam"},
		{SKU: "SKU-1008", Name: "Desk Lamp"},
	}
	openStatuses     = []contractx.OrderStatus{contractx.StatusPending, contractx.StatusProcessing, contractx.StatusShipped}
	terminalStatuses = contractx.TerminalStatuses
)

// Dataset is the full content of a seeded store.
type Dataset struct {
	Customers []contractx.Customer
	Orders    []contractx.Order
}

func (d Dataset) Summary(seed uint64) contractx.SeedSummary {
	counts := make(map[contractx.OrderStatus]int)
	for _, o := range d.Orders {
		counts[o.Status]++
	}
	return contractx.SeedSummary{
		Orders:       len(d.Orders),
		Customers:    len(d.Customers),
		Seed:         seed,
		StatusCounts: counts,
	}
}

// NormalizeSeedConfig fills zero fields with defaults.
func NormalizeSeedConfig(cfg contractx.SeedConfig) contractx.SeedConfig {
	if cfg.NumOrders == 0 {
		cfg.NumOrders = DefaultNumOrders
	}
	if cfg.NumCustomers == 0 {
		cfg.NumCustomers = DefaultNumCustomers
	}
	if cfg.MaxDaysAgo == 0 {
		cfg.MaxDaysAgo = DefaultMaxDaysAgo
	}
	if strings.TrimSpace(cfg.Distribution) == "" {
		cfg.Distribution = contractx.DistributionWeighted
	}
	if len(cfg.StatusWeights) == 0 {
		cfg.StatusWeights = DefaultStatusWeights
	}
	return cfg
}

func validateSeedConfig(cfg contractx.SeedConfig) error {
	if cfg.NumOrders < 0 || cfg.NumCustomers <= 0 {
		return fmt.Errorf("%w: num_orders=%d num_customers=%d", contractx.ErrInvalidConfig, cfg.NumOrders, cfg.NumCustomers)
	}
	if cfg.MinDaysAgo < 0 || cfg.MaxDaysAgo < cfg.MinDaysAgo {
		return fmt.Errorf("%w: days ago range [%d, %d]", contractx.ErrInvalidConfig, cfg.MinDaysAgo, cfg.MaxDaysAgo)
	}
	switch cfg.Distribution {
	case contractx.DistributionWeighted:
		total := 0
		for status, w := range cfg.StatusWeights {
			if !status.Valid() || w < 0 {
				return fmt.Errorf("%w: status weight %s=%d", contractx.ErrInvalidConfig, status, w)
			}
			total += w
		}
		if total == 0 {
			return fmt.Errorf("%w: status weights sum to zero", contractx.ErrInvalidConfig)
		}
	case contractx.DistributionTargeted:
		if cfg.MaxDaysAgo <= policy.PremiumWindowDays {
			return fmt.Errorf("%w: targeted distribution needs max_days_ago > %d", contractx.ErrInvalidConfig, policy.PremiumWindowDays)
		}
	default:
		return fmt.Errorf("%w: unknown distribution %q", contractx.ErrInvalidConfig, cfg.Distribution)
	}
	return nil
}

// Generate builds a dataset as a pure function of cfg. Two calls with the
// same config return identical datasets.
func Generate(cfg contractx.SeedConfig) (Dataset, error) {
	cfg = NormalizeSeedConfig(cfg)
	if err := validateSeedConfig(cfg); err != nil {
		return Dataset{}, err
	}
	ref, err := policy.ParseDate(cfg.ReferenceDate)
	if err != nil {
		return Dataset{}, err
	}

	rng := NewRand(cfg.Seed)
	customers := generateCustomers(rng, cfg.NumCustomers)

	orders := make([]contractx.Order, 0, cfg.NumOrders)
	seen := make(map[string]struct{}, cfg.NumOrders)
	for i := 0; i < cfg.NumOrders; i++ {
		customer := customers[rng.IntN(len(customers))]

		var status contractx.OrderStatus
		var daysAgo int
		if cfg.Distribution == contractx.DistributionTargeted {
			status, daysAgo = targetedDraw(rng, cfg, i%3, customer.IsPremium)
		} else {
			status, _ = Weighted(rng, cfg.StatusWeights)
			daysAgo = between(rng, cfg.MinDaysAgo, cfg.MaxDaysAgo)
		}

		orders = append(orders, contractx.Order{
			ID:         uniqueOrderID(rng, seen),
			OrderDate:  policy.FormatDate(ref.AddDate(0, 0, -daysAgo)),
			Status:     status,
			CustomerID: customer.ID,
			Items:      generateItems(rng),
		})
	}

	if cfg.Distribution == contractx.DistributionTargeted {
		Shuffle(rng, orders)
	}

	return Dataset{Customers: customers, Orders: orders}, nil
}

func generateCustomers(rng *rand.Rand, n int) []contractx.Customer {
	customers := make([]contractx.Customer, 0, n)
	for i := 0; i < n; i++ {
		first := firstNames[rng.IntN(len(firstNames))]
		last := lastNames[rng.IntN(len(lastNames))]
		customers = append(customers, contractx.Customer{
			ID:        fmt.Sprintf("CUST-%04d", i+1),
			Name:      first + " " + last,
			Email:     fmt.Sprintf("%s.%s%d@example.com", strings.ToLower(first), strings.ToLower(last), i+1),
			IsPremium: rng.IntN(3) == 0,
		})
	}
	return customers
}

// targetedDraw produces an order for one of three categories:
// 0 cancellable, 1 blocked by status, 2 blocked by age.
func targetedDraw(rng *rand.Rand, cfg contractx.SeedConfig, category int, isPremium bool) (contractx.OrderStatus, int) {
	window := policy.WindowFor(isPremium)
	switch category {
	case 0:
		upper := min(window, cfg.MaxDaysAgo)
		lower := min(cfg.MinDaysAgo, upper)
		return openStatuses[rng.IntN(len(openStatuses))], between(rng, lower, upper)
	case 1:
		return terminalStatuses[rng.IntN(len(terminalStatuses))], between(rng, cfg.MinDaysAgo, cfg.MaxDaysAgo)
	default:
		lower := max(window+1, cfg.MinDaysAgo)
		return openStatuses[rng.IntN(len(openStatuses))], between(rng, lower, cfg.MaxDaysAgo)
	}
}

func generateItems(rng *rand.Rand) []contractx.LineItem {
	n := 1 + rng.IntN(3)
	items := make([]contractx.LineItem, 0, n)
	for j := 0; j < n; j++ {
		item := catalog[rng.IntN(len(catalog))]
		item.Quantity = 1 + rng.IntN(3)
		items = append(items, item)
	}
	return items
}

func uniqueOrderID(rng *rand.Rand, seen map[string]struct{}) string {
	for {
		var b strings.Builder
		b.Grow(orderIDLength)
		for i := 0; i < orderIDLength; i++ {
			b.WriteByte(orderIDAlphabet[rng.IntN(len(orderIDAlphabet))])
		}
		id := b.String()
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			return id
		}
	}
}

// between returns a uniform integer in [lo, hi].
func between(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.IntN(hi-lo+1)
}
