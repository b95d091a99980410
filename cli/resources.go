package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/record"
	statex "github.com/tanpawarit/Chative-Policy-Harness/agent/state"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/telemetry"
	configx "github.com/tanpawarit/Chative-Policy-Harness/pkg/config"
	"github.com/tanpawarit/Chative-Policy-Harness/pkg/database"
	logx "github.com/tanpawarit/Chative-Policy-Harness/pkg/logger"
	metricsx "github.com/tanpawarit/Chative-Policy-Harness/pkg/metrics"
	qstashx "github.com/tanpawarit/Chative-Policy-Harness/pkg/qstash"
)

const (
	StoreMemory = "memory"
	StoreSQL    = "sql"
	StoreHTTP   = "http"

	SinkLog    = "log"
	SinkSQL    = "sql"
	SinkNATS   = "nats"
	SinkQStash = "qstash"
)

// AppConfig selects the backends, read from HARNESS_* variables.
type AppConfig struct {
	Store   string   `split_words:"true" default:"memory"`
	Sinks   []string `split_words:"true" default:"log"`
	RunsDir string   `split_words:"true" default:"runs"`
	// Upstash also saves runs to Upstash Redis (UPSTASH_* variables).
	Upstash bool `split_words:"true" default:"false"`
}

// resources lazily opens shared connections and closes them in reverse order.
type resources struct {
	app     AppConfig
	logger  zerolog.Logger
	metrics *metricsx.Metrics

	db      *bun.DB
	closers []func() error
}

func newResources() (*resources, error) {
	app, err := configx.New[AppConfig]("HARNESS")
	if err != nil {
		return nil, fmt.Errorf("load harness config: %w", err)
	}
	return &resources{
		app:     *app,
		logger:  logx.Component("cli"),
		metrics: metricsx.New(),
	}, nil
}

func (r *resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *resources) database(ctx context.Context) (*bun.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	cfg, err := configx.New[database.Config]("DATABASE")
	if err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}
	db, err := database.Open(ctx, *cfg, logx.Component("database"))
	if err != nil {
		return nil, err
	}
	r.db = db
	r.closers = append(r.closers, db.Close)
	return db, nil
}

// orderStore returns the store named by kind, or by HARNESS_STORE when kind
// is empty.
func (r *resources) orderStore(ctx context.Context, kind string) (contractx.OrderStore, error) {
	if strings.TrimSpace(kind) == "" {
		kind = r.app.Store
	}

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case StoreMemory:
		return statex.NewMemoryStore(), nil
	case StoreSQL:
		db, err := r.database(ctx)
		if err != nil {
			return nil, err
		}
		store, err := statex.NewSQLStore(db)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("create order tables: %w", err)
		}
		return store, nil
	case StoreHTTP:
		cfg, err := configx.New[statex.HTTPStoreConfig]("BACKEND")
		if err != nil {
			return nil, fmt.Errorf("load backend config: %w", err)
		}
		return statex.NewHTTPStore(*cfg)
	default:
		return nil, fmt.Errorf("%w: unknown order store %q", contractx.ErrInvalidConfig, kind)
	}
}

// telemetrySink fans events out to every sink listed in HARNESS_SINKS.
func (r *resources) telemetrySink(ctx context.Context) (telemetry.Sink, error) {
	var sinks telemetry.Multi
	for _, name := range r.app.Sinks {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
			continue
		case SinkLog:
			sinks = append(sinks, telemetry.NewLogSink(logx.Component("telemetry")))
		case SinkSQL:
			db, err := r.database(ctx)
			if err != nil {
				return nil, err
			}
			sink, err := telemetry.NewSQLSink(db)
			if err != nil {
				return nil, err
			}
			if err := sink.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("create telemetry table: %w", err)
			}
			sinks = append(sinks, sink)
		case SinkNATS:
			cfg, err := configx.New[telemetry.NATSConfig]("NATS")
			if err != nil {
				return nil, fmt.Errorf("load nats config: %w", err)
			}
			conn, err := telemetry.DialNATS(*cfg)
			if err != nil {
				return nil, err
			}
			r.closers = append(r.closers, conn.Drain)
			sink, err := telemetry.NewNATSSink(conn, cfg.SubjectPrefix)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, sink)
		case SinkQStash:
			cfg, err := configx.New[qstashx.Config]("QSTASH")
			if err != nil {
				return nil, fmt.Errorf("load qstash config: %w", err)
			}
			client, err := qstashx.NewClient(*cfg)
			if err != nil {
				return nil, err
			}
			sink, err := telemetry.NewQStashSink(client)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, sink)
		default:
			return nil, fmt.Errorf("%w: unknown telemetry sink %q", contractx.ErrInvalidConfig, name)
		}
	}

	switch len(sinks) {
	case 0:
		return telemetry.Nop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// runStore saves runs as JSON files and, when enabled, to Upstash Redis.
func (r *resources) runStore(dir string) (record.RunStore, error) {
	if strings.TrimSpace(dir) == "" {
		dir = r.app.RunsDir
	}
	files, err := record.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	if !r.app.Upstash {
		return files, nil
	}

	cfg, err := configx.New[record.UpstashRedisConfig]("UPSTASH")
	if err != nil {
		return nil, fmt.Errorf("load upstash config: %w", err)
	}
	upstash, err := record.NewUpstashRunStore(*cfg)
	if err != nil {
		return nil, err
	}
	return record.MultiStore{files, upstash}, nil
}
