// Package sqlite adapts database/sql over modernc.org/sqlite (a pure-Go,
// cgo-free driver) to the internal/db.DB contract: the embedded backend
// used for local development and for every test in this repository, since
// the production PostgreSQL backend isn't assumed to be reachable in CI.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/baitcenter/deepwell/internal/db"
)

// DB wraps *sql.DB. All business-logic SQL in this repository is written
// with Postgres-style "$1, $2, ..." placeholders; rebind translates them to
// SQLite's "?" positional form so the same statement text works against
// either backend.
type DB struct {
	sqlDB *sql.DB
}

// Open opens (creating if absent) the SQLite database at dsn, e.g.
// "file:/path/to/wiki.db".
func Open(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", withDefaults(dsn))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &DB{sqlDB: sqlDB}, nil
}

// withDefaults appends the connection options every deepwell database needs:
// foreign-key enforcement, WAL journaling, and a time format the driver can
// parse back out of TIMESTAMP columns. These must ride on the DSN rather
// than a one-off PRAGMA statement so they apply to every connection in the
// database/sql pool, not just the one that happened to execute it. Options
// already present in dsn win.
func withDefaults(dsn string) string {
	var extra []string
	if !strings.Contains(dsn, "_pragma=foreign_keys") {
		extra = append(extra, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "_pragma=journal_mode") {
		extra = append(extra, "_pragma=journal_mode(WAL)")
	}
	if !strings.Contains(dsn, "_time_format") {
		extra = append(extra, "_time_format=sqlite")
	}
	if len(extra) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(extra, "&")
}

func (d *DB) Driver() string { return "sqlite" }

func (d *DB) Close() error { return d.sqlDB.Close() }

func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.sqlDB.ExecContext(ctx, rebind(query), args...)
	return err
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (db.Rows, error) {
	rows, err := d.sqlDB.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) db.Row {
	return d.sqlDB.QueryRowContext(ctx, rebind(query), args...)
}

func (d *DB) Begin(ctx context.Context) (db.Tx, error) {
	tx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txAdapter{tx: tx}, nil
}

type txAdapter struct {
	tx *sql.Tx
}

func (t *txAdapter) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, rebind(query), args...)
	return err
}

func (t *txAdapter) Query(ctx context.Context, query string, args ...any) (db.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *txAdapter) QueryRow(ctx context.Context, query string, args ...any) db.Row {
	return t.tx.QueryRowContext(ctx, rebind(query), args...)
}

func (t *txAdapter) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *txAdapter) Rollback(ctx context.Context) error { return t.tx.Rollback() }

// rebind rewrites "$1".."$N" placeholders into SQLite's "?" form.
func rebind(query string) string {
	if !strings.Contains(query, "$") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '$' || i+1 >= len(query) || query[i+1] < '0' || query[i+1] > '9' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if _, err := strconv.Atoi(query[i+1 : j]); err == nil {
			b.WriteByte('?')
		} else {
			b.WriteString(query[i:j])
		}
		i = j - 1
	}
	return b.String()
}
