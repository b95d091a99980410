// Package experiment fans simulated conversations out over every
// (variant, persona) permutation and collects the sealed records into one
// experiment run.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/tanpawarit/Chative-Policy-Harness/agent/agents/customer"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/record"
	statex "github.com/tanpawarit/Chative-Policy-Harness/agent/state"
)

// AgentSource hands out order agents bound to a reference date.
type AgentSource interface {
	Responder(variant, referenceDate string) (contractx.Responder, error)
}

// CustomerSource builds customer agents and says which orders a persona may
// be bound to.
type CustomerSource interface {
	Accepts(persona string, status contractx.OrderStatus) bool
	NewCustomer(ctx context.Context, persona string, order contractx.OrderSnapshot, referenceDate string) (contractx.CustomerAgent, error)
}

// FromFactory adapts a persona factory to CustomerSource.
func FromFactory(f *customer.Factory) CustomerSource {
	return factorySource{f: f}
}

type factorySource struct {
	f *customer.Factory
}

func (s factorySource) Accepts(persona string, status contractx.OrderStatus) bool {
	p, ok := s.f.Lookup(persona)
	return ok && p.Accepts(status)
}

func (s factorySource) NewCustomer(ctx context.Context, persona string, order contractx.OrderSnapshot, referenceDate string) (contractx.CustomerAgent, error) {
	return s.f.New(ctx, persona, order, referenceDate)
}

type Deps struct {
	Store        contractx.OrderStore
	Orchestrator *orchestrator.Orchestrator
	Agents       AgentSource
	Customers    CustomerSource
	// Runs is optional; without it the run is only returned.
	Runs   record.RunStore
	Logger *zerolog.Logger
}

type Runner struct {
	store     contractx.OrderStore
	orch      *orchestrator.Orchestrator
	agents    AgentSource
	customers CustomerSource
	runs      record.RunStore
	logger    zerolog.Logger

	cfg Config

	now   func() time.Time
	newID func() string
}

func New(deps Deps, cfg Config) (*Runner, error) {
	if deps.Store == nil {
		return nil, errors.New("order store is required")
	}
	if deps.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if deps.Agents == nil {
		return nil, errors.New("agent source is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("customer source is required")
	}

	cfg = cfg.Normalize()
	cfg.Conversation = deps.Orchestrator.Config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	return &Runner{
		store:     deps.Store,
		orch:      deps.Orchestrator,
		agents:    deps.Agents,
		customers: deps.Customers,
		runs:      deps.Runs,
		logger:    logger.With().Str("component", "experiment").Logger(),
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

type job struct {
	variant string
	persona string
	repeat  int
	order   contractx.OrderSnapshot
}

// Run executes the experiment. Seeding failures abort before any
// conversation starts. When ctx is cancelled the records collected so far are
// returned in a partial run together with the context error.
func (r *Runner) Run(ctx context.Context) (*record.ExperimentRun, error) {
	run := record.NewExperimentRun(r.newID(), r.cfg.Name, r.cfg.Snapshot(), r.now())
	logger := r.logger.With().Str("run_id", run.ID).Logger()

	if r.cfg.Reseed {
		summary, err := r.store.Seed(ctx, r.cfg.Seed)
		if err != nil {
			if !errors.Is(err, contractx.ErrSeedingFailure) {
				err = fmt.Errorf("%w: %v", contractx.ErrSeedingFailure, err)
			}
			return nil, err
		}
		run.SeedSummary = &summary
		logger.Info().Int("orders", summary.Orders).Int("customers", summary.Customers).Msg("order store seeded")
	}

	jobs, err := r.plan(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("conversations", len(jobs)).Int("parallelism", r.cfg.Parallelism).Msg("experiment started")

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(r.cfg.Parallelism)
	for _, j := range jobs {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			rec := r.converse(ctx, run.ID, j, logger)
			mu.Lock()
			run.Conversations = append(run.Conversations, rec)
			mu.Unlock()
		})
	}
	p.Wait()

	partial := ctx.Err() != nil
	run.Finish(partial, r.now())
	logger.Info().
		Int("conversations", len(run.Conversations)).
		Bool("partial", partial).
		Msg("experiment finished")

	if r.runs != nil {
		if err := r.runs.Save(context.WithoutCancel(ctx), run); err != nil {
			return run, fmt.Errorf("persist run %s: %w", run.ID, err)
		}
	}
	if partial {
		return run, ctx.Err()
	}
	return run, nil
}

// plan assigns one distinct order to every conversation from a seeded
// shuffle of the store, honouring persona status restrictions.
func (r *Runner) plan(ctx context.Context) ([]job, error) {
	orders, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	statex.Shuffle(statex.NewRand(r.cfg.Seed.Seed), orders)

	used := make([]bool, len(orders))
	jobs := make([]job, 0, len(r.cfg.Variants)*len(r.cfg.Personas)*r.cfg.ConversationsPerPermutation)
	for _, variant := range r.cfg.Variants {
		for _, persona := range r.cfg.Personas {
			for repeat := 0; repeat < r.cfg.ConversationsPerPermutation; repeat++ {
				idx := -1
				for i, o := range orders {
					if !used[i] && r.customers.Accepts(persona, o.Status) {
						idx = i
						break
					}
				}
				if idx < 0 {
					return nil, fmt.Errorf("%w: no order left for %s/%s #%d (%d orders in store)",
						contractx.ErrInsufficientOrders, variant, persona, repeat, len(orders))
				}
				used[idx] = true
				jobs = append(jobs, job{variant: variant, persona: persona, repeat: repeat, order: orders[idx]})
			}
		}
	}
	return jobs, nil
}

func (r *Runner) converse(ctx context.Context, runID string, j job, logger zerolog.Logger) *record.ConversationRecord {
	id := fmt.Sprintf("%s.%s.%d.%s", j.variant, j.persona, j.repeat, r.newID()[:8])

	fail := func(err error) *record.ConversationRecord {
		logger.Warn().Err(err).Str("conversation_id", id).Msg("conversation setup failed")
		rec := record.NewConversationRecord(id, j.variant, j.persona, j.repeat, j.order, r.cfg.ReferenceDate, r.now())
		rec.Seal(record.ReasonTurnFailed, err, r.now())
		return rec
	}

	agent, err := r.agents.Responder(j.variant, r.cfg.ReferenceDate)
	if err != nil {
		return fail(err)
	}
	cust, err := r.customers.NewCustomer(ctx, j.persona, j.order, r.cfg.ReferenceDate)
	if err != nil {
		return fail(err)
	}

	rec, err := r.orch.Run(ctx, orchestrator.Conversation{
		ID:            id,
		RunID:         runID,
		Variant:       j.variant,
		Repeat:        j.repeat,
		Order:         j.order,
		ReferenceDate: r.cfg.ReferenceDate,
		Agent:         agent,
		Customer:      cust,
	})
	if err != nil {
		return fail(err)
	}
	return rec
}
