// Package postgres adapts a pgxpool.Pool to the internal/db.DB contract,
// split into connect/health/metrics concerns and trimmed to what the
// catalog actually needs: checkout, query execution, and transaction
// scoping.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/baitcenter/deepwell/internal/db"
)

// Config covers the pool fields relevant to the catalog's access pattern:
// a handful of short-lived connections, not a high-throughput OLTP pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// Metrics are the Prometheus collectors registered for the pool: one
// histogram and one counter per operation family (query, exec).
type Metrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics registers (or, on AlreadyRegisteredError, reuses) the pool's
// collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deepwell_db_query_duration_seconds",
			Help:    "Duration of catalog SQL statements.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepwell_db_query_errors_total",
			Help: "Total catalog SQL statement failures.",
		}, []string{"operation"}),
	}
	if err := reg.Register(m.QueryDuration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if asAlreadyRegistered(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				m.QueryDuration = existing
			}
		}
	}
	if err := reg.Register(m.QueryErrors); err != nil {
		var are prometheus.AlreadyRegisteredError
		if asAlreadyRegistered(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.QueryErrors = existing
			}
		}
	}
	return m
}

func asAlreadyRegistered(err error, target *prometheus.AlreadyRegisteredError) bool {
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if ok {
		*target = are
	}
	return ok
}

// Pool wraps a pgxpool.Pool to satisfy db.DB.
type Pool struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *Metrics
}

// Connect dials Postgres using cfg and returns a ready Pool.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger, metrics *Metrics) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	connectCtx := ctx
	var cancel context.CancelFunc
	if cfg.ConnectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	logger.Info("connected to postgres", "max_conns", cfg.MaxConns, "min_conns", cfg.MinConns)
	return &Pool{pool: pool, logger: logger, metrics: metrics}, nil
}

func (p *Pool) Driver() string { return "postgres" }

func (p *Pool) Close() error {
	p.pool.Close()
	return nil
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) error {
	start := time.Now()
	_, err := p.pool.Exec(ctx, sql, args...)
	p.observe("exec", start, err)
	return err
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (db.Rows, error) {
	start := time.Now()
	rows, err := p.pool.Query(ctx, sql, args...)
	p.observe("query", start, err)
	if err != nil {
		return nil, err
	}
	return &rowsAdapter{rows}, nil
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) db.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *Pool) Begin(ctx context.Context) (db.Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &txAdapter{tx: tx, metrics: p.metrics}, nil
}

func (p *Pool) observe(op string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.QueryErrors.WithLabelValues(op).Inc()
	}
}

type rowsAdapter struct {
	rows pgx.Rows
}

func (r *rowsAdapter) Next() bool             { return r.rows.Next() }
func (r *rowsAdapter) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *rowsAdapter) Err() error             { return r.rows.Err() }
func (r *rowsAdapter) Close() error           { r.rows.Close(); return nil }

type txAdapter struct {
	tx      pgx.Tx
	metrics *Metrics
}

func (t *txAdapter) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return err
}

func (t *txAdapter) Query(ctx context.Context, sql string, args ...any) (db.Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &rowsAdapter{rows}, nil
}

func (t *txAdapter) QueryRow(ctx context.Context, sql string, args ...any) db.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *txAdapter) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *txAdapter) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
