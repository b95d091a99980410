package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/uptrace/bun"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
)

var _ contractx.OrderStore = (*SQLStore)(nil)

const insertBatchSize = 100

type customerRow struct {
	bun.BaseModel `bun:"table:customers,alias:c"`

	ID        string `bun:"id,pk"`
	Name      string `bun:"name,notnull"`
	Email     string `bun:"email,notnull"`
	IsPremium bool   `bun:"is_premium,notnull"`
}

type orderRow struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID                 string               `bun:"id,pk"`
	OrderDate          string               `bun:"order_date,notnull"`
	Status             string               `bun:"status,notnull"`
	CustomerID         string               `bun:"customer_id,notnull"`
	Items              []contractx.LineItem `bun:"items"`
	CancellationReason string               `bun:"cancellation_reason"`
}

func (r orderRow) toOrder() contractx.Order {
	return contractx.Order{
		ID:                 r.ID,
		OrderDate:          r.OrderDate,
		Status:             contractx.OrderStatus(r.Status),
		CustomerID:         r.CustomerID,
		Items:              r.Items,
		CancellationReason: r.CancellationReason,
	}
}

func (r customerRow) toCustomer() contractx.Customer {
	return contractx.Customer{ID: r.ID, Name: r.Name, Email: r.Email, IsPremium: r.IsPremium}
}

// SQLStore persists orders through bun. Cancellation is a conditional
// UPDATE, so concurrent cancels of one order apply at most once even across
// processes; seeding additionally excludes in-process readers.
type SQLStore struct {
	db *bun.DB
	mu sync.RWMutex
}

func NewSQLStore(db *bun.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	return &SQLStore{db: db}, nil
}

// EnsureSchema creates the customers and orders tables when missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, model := range []any{(*customerRow)(nil), (*orderRow)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Seed(ctx context.Context, cfg contractx.SeedConfig) (contractx.SeedSummary, error) {
	cfg = NormalizeSeedConfig(cfg)
	data, err := Generate(cfg)
	if err != nil {
		return contractx.SeedSummary{}, fmt.Errorf("%w: %w", contractx.ErrSeedingFailure, err)
	}

	customers := make([]customerRow, 0, len(data.Customers))
	for _, c := range data.Customers {
		customers = append(customers, customerRow{ID: c.ID, Name: c.Name, Email: c.Email, IsPremium: c.IsPremium})
	}
	orders := make([]orderRow, 0, len(data.Orders))
	for _, o := range data.Orders {
		orders = append(orders, orderRow{
			ID:         o.ID,
			OrderDate:  o.OrderDate,
			Status:     string(o.Status),
			CustomerID: o.CustomerID,
			Items:      o.Items,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*orderRow)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return fmt.Errorf("clear orders: %w", err)
		}
		if _, err := tx.NewDelete().Model((*customerRow)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return fmt.Errorf("clear customers: %w", err)
		}
		for start := 0; start < len(customers); start += insertBatchSize {
			batch := customers[start:min(start+insertBatchSize, len(customers))]
			if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
				return fmt.Errorf("insert customers: %w", err)
			}
		}
		for start := 0; start < len(orders); start += insertBatchSize {
			batch := orders[start:min(start+insertBatchSize, len(orders))]
			if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
				return fmt.Errorf("insert orders: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return contractx.SeedSummary{}, fmt.Errorf("%w: %w", contractx.ErrSeedingFailure, err)
	}

	return data.Summary(cfg.Seed), nil
}

func (s *SQLStore) Get(ctx context.Context, orderID string) (contractx.OrderSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(ctx, s.db, normalizeOrderID(orderID))
}

func (s *SQLStore) Cancel(ctx context.Context, orderID, reason string) (contractx.CancelOutcome, error) {
	id := normalizeOrderID(orderID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		outcome   contractx.CancelOutcome
		domainErr error
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*orderRow)(nil)).
			Set("status = ?", string(contractx.StatusCancelled)).
			Set("cancellation_reason = ?", cancellationReason(reason)).
			Where("id = ?", id).
			Where("status NOT IN (?)", bun.In(terminalStatusStrings())).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}

		snap, err := s.snapshot(ctx, tx, id)
		if err != nil {
			if errors.Is(err, contractx.ErrNotFound) {
				outcome = contractx.CancelOutcome{Message: fmt.Sprintf("order %s was not found", orderID)}
				domainErr = err
				return nil
			}
			return err
		}

		if affected == 0 {
			outcome = terminalOutcome(snap)
			domainErr = fmt.Errorf("%w: order %s is %s", contractx.ErrAlreadyTerminal, snap.OrderID, snap.Status)
			return nil
		}
		outcome = contractx.CancelOutcome{
			Success: true,
			Message: fmt.Sprintf("order %s has been cancelled", snap.OrderID),
			Order:   snap,
		}
		return nil
	})
	if err != nil {
		return contractx.CancelOutcome{}, err
	}
	return outcome, domainErr
}

func (s *SQLStore) List(ctx context.Context) ([]contractx.OrderSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []orderRow
	if err := s.db.NewSelect().Model(&orders).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	var customers []customerRow
	if err := s.db.NewSelect().Model(&customers).Scan(ctx); err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	byID := make(map[string]contractx.Customer, len(customers))
	for _, c := range customers {
		byID[c.ID] = c.toCustomer()
	}

	out := make([]contractx.OrderSnapshot, 0, len(orders))
	for _, o := range orders {
		out = append(out, contractx.NewSnapshot(o.toOrder(), byID[o.CustomerID]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (s *SQLStore) snapshot(ctx context.Context, db bun.IDB, id string) (contractx.OrderSnapshot, error) {
	var order orderRow
	if err := db.NewSelect().Model(&order).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contractx.OrderSnapshot{}, fmt.Errorf("%w: %q", contractx.ErrNotFound, id)
		}
		return contractx.OrderSnapshot{}, fmt.Errorf("load order: %w", err)
	}

	var customer customerRow
	if err := db.NewSelect().Model(&customer).Where("id = ?", order.CustomerID).Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return contractx.OrderSnapshot{}, fmt.Errorf("load customer: %w", err)
	}
	return contractx.NewSnapshot(order.toOrder(), customer.toCustomer()), nil
}

func terminalStatusStrings() []string {
	out := make([]string, 0, len(contractx.TerminalStatuses))
	for _, s := range contractx.TerminalStatuses {
		out = append(out, string(s))
	}
	return out
}
