package state

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

var _ contractx.OrderStore = (*MemoryStore)(nil)

type orderEntry struct {
	mu    sync.Mutex
	order contractx.Order
}

// MemoryStore keeps orders in process. Seed holds the store lock
// exclusively; Get and Cancel share it and lock only the order they touch.
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string]*orderEntry
	customers map[string]contractx.Customer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*orderEntry),
		customers: make(map[string]contractx.Customer),
	}
}

func (s *MemoryStore) Seed(ctx context.Context, cfg contractx.SeedConfig) (contractx.SeedSummary, error) {
	if err := ctx.Err(); err != nil {
		return contractx.SeedSummary{}, err
	}

	cfg = NormalizeSeedConfig(cfg)
	data, err := Generate(cfg)
	if err != nil {
		return contractx.SeedSummary{}, fmt.Errorf("%w: %w", contractx.ErrSeedingFailure, err)
	}
	s.Load(data)
	return data.Summary(cfg.Seed), nil
}

// Load replaces the store content with data.
func (s *MemoryStore) Load(data Dataset) {
	orders := make(map[string]*orderEntry, len(data.Orders))
	for _, o := range data.Orders {
		o.Items = append([]contractx.LineItem(nil), o.Items...)
		orders[o.ID] = &orderEntry{order: o}
	}
	customers := make(map[string]contractx.Customer, len(data.Customers))
	for _, c := range data.Customers {
		customers[c.ID] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = orders
	s.customers = customers
}

func (s *MemoryStore) Get(ctx context.Context, orderID string) (contractx.OrderSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return contractx.OrderSnapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.orders[normalizeOrderID(orderID)]
	if !ok {
		return contractx.OrderSnapshot{}, fmt.Errorf("%w: %q", contractx.ErrNotFound, orderID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return contractx.NewSnapshot(entry.order, s.customers[entry.order.CustomerID]), nil
}

func (s *MemoryStore) Cancel(ctx context.Context, orderID, reason string) (contractx.CancelOutcome, error) {
	if err := ctx.Err(); err != nil {
		return contractx.CancelOutcome{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.orders[normalizeOrderID(orderID)]
	if !ok {
		return contractx.CancelOutcome{
			Success: false,
			Message: fmt.Sprintf("order %s was not found", orderID),
		}, fmt.Errorf("%w: %q", contractx.ErrNotFound, orderID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	customer := s.customers[entry.order.CustomerID]
	if entry.order.Status.Terminal() {
		return terminalOutcome(contractx.NewSnapshot(entry.order, customer)), fmt.Errorf("%w: order %s is %s", contractx.ErrAlreadyTerminal, entry.order.ID, entry.order.Status)
	}

	entry.order.Status = contractx.StatusCancelled
	entry.order.CancellationReason = cancellationReason(reason)
	return contractx.CancelOutcome{
		Success: true,
		Message: fmt.Sprintf("order %s has been cancelled", entry.order.ID),
		Order:   contractx.NewSnapshot(entry.order, customer),
	}, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]contractx.OrderSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contractx.OrderSnapshot, 0, len(s.orders))
	for _, entry := range s.orders {
		entry.mu.Lock()
		out = append(out, contractx.NewSnapshot(entry.order, s.customers[entry.order.CustomerID]))
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func normalizeOrderID(orderID string) string {
	return strings.ToUpper(strings.TrimSpace(orderID))
}

func cancellationReason(reason string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return "requested by customer"
}

func terminalOutcome(snap contractx.OrderSnapshot) contractx.CancelOutcome {
	return contractx.CancelOutcome{
		Success: false,
		Message: fmt.Sprintf("order %s cannot be cancelled because its status is %s", snap.OrderID, snap.Status),
		Order:   snap,
	}
}
