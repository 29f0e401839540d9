// Package db defines a backend-agnostic connection-pool contract so the
// catalog can run against either the production PostgreSQL pool or an
// embedded SQLite database during tests, without the business-logic
// packages caring which.
package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Row is satisfied by both *sql.Row and pgx.Row.
type Row interface {
	Scan(dest ...any) error
}

// Rows is satisfied by a thin wrapper over both *sql.Rows and pgx.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Queryer is the minimal statement-execution surface needed by every
// component's SQL, usable against either a DB or an in-flight Tx.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// Tx is a Queryer scoped to one transaction.
type Tx interface {
	Queryer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DB is a Queryer that can also start transactions and be closed.
type DB interface {
	Queryer
	Begin(ctx context.Context) (Tx, error)
	Close() error
	// Driver reports "postgres" or "sqlite", used for dialect-specific SQL
	// (e.g. placeholder style, RETURNING support) where it can't be avoided.
	Driver() string
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic. This is the one helper every multi-statement
// business operation in page/user/session/catalog routes through, so an
// operation either succeeds end-to-end or leaves no partial mutation
// behind.
func WithTx(ctx context.Context, conn DB, fn func(tx Tx) error) (err error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return rbErr
		}
		return err
	}
	return tx.Commit(ctx)
}

// IsNoRows reports whether err is the "no matching row" sentinel from
// either backend's driver, so callers can stay driver-agnostic.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}
