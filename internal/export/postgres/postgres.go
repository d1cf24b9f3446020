// Package postgres upserts resolved catalog records into Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/bangumi-scanner/internal/export"
	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

// DefaultTable receives the records when Config.Table is empty.
const DefaultTable = "bangumi_titles"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// Config controls the Postgres connection pool used for the export.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type txBeginner interface {
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Exporter writes catalog rows into Postgres.
type Exporter struct {
	pool  txBeginner
	table string
}

// New creates a Postgres-backed Exporter using the provided config.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableOrDefault(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Exporter{pool: pool, table: table}, nil
}

// NewWithPool constructs an exporter from an existing pool (primarily for testing).
func NewWithPool(pool txBeginner, table string) (*Exporter, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableOrDefault(table)
	if err != nil {
		return nil, err
	}
	return &Exporter{pool: pool, table: table}, nil
}

func tableOrDefault(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Name identifies the exporter in logs.
func (e *Exporter) Name() string { return "postgres" }

// Close releases the underlying pool resources.
func (e *Exporter) Close() {
	if e == nil || e.pool == nil {
		return
	}
	e.pool.Close()
}

// Export upserts every record in one transaction, keyed by id.
func (e *Exporter) Export(ctx context.Context, summary export.Summary, records []scan.Record) (err error) {
	if e == nil || e.pool == nil {
		return fmt.Errorf("postgres exporter is not configured")
	}
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGINT PRIMARY KEY,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	run_id UUID NOT NULL,
	scanned_at TIMESTAMPTZ NOT NULL
)`, e.table)); err != nil {
		return fmt.Errorf("ensure table %s: %w", e.table, err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, title, url, run_id, scanned_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	url = EXCLUDED.url,
	run_id = EXCLUDED.run_id,
	scanned_at = EXCLUDED.scanned_at`, e.table)
	runID := summary.RunID.String()
	for _, rec := range records {
		if _, err = tx.Exec(ctx, query, rec.ID, rec.Title, rec.URL, runID, summary.FinishedAt); err != nil {
			return fmt.Errorf("upsert id %d: %w", rec.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
