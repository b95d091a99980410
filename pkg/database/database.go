package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type Config struct {
	// URL is a postgres:// DSN or a sqlite: / file: path.
	URL          string        `split_words:"true" required:"true"`
	MaxOpenConns int           `split_words:"true" default:"10"`
	PingTimeout  time.Duration `split_words:"true" default:"5s"`
	LogQueries   bool          `split_words:"true" default:"false"`
}

// Open connects to the database named by cfg.URL and verifies it with a ping.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.URL)
	if dsn == "" {
		return nil, errors.New("database url is required")
	}

	var db *bun.DB
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	case strings.HasPrefix(dsn, "sqlite:"), strings.HasPrefix(dsn, "file:"):
		var err error
		db, err = OpenSQLite(strings.TrimPrefix(dsn, "sqlite:"))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("database: unsupported url scheme in %q", dsn)
	}

	if cfg.LogQueries {
		db.AddQueryHook(queryLogger{logger: logger})
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	return db, nil
}

// OpenSQLite opens a SQLite database. ":memory:" yields a private in-memory
// database pinned to a single connection.
func OpenSQLite(path string) (*bun.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("database: open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

type queryLogger struct {
	logger zerolog.Logger
}

func (h queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	entry := h.logger.Debug()
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		entry = h.logger.Warn().Err(event.Err)
	}
	entry.
		Str("query", event.Query).
		Dur("duration", time.Since(event.StartTime)).
		Msg("sql query")
}
