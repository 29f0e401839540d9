// Package migrations wraps goose to apply deepwell's schema (SetDialect
// then Up or GetDBVersion against a *sql.DB), trimmed to the single-writer startup
// path this core needs; backup and health-check orchestration belong to
// the deployment layer, not here.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// Manager applies embedded SQL migrations against a *sql.DB using goose.
type Manager struct {
	db      *sql.DB
	dialect string
	fsys    fs.FS
	logger  *slog.Logger
}

// New builds a Manager for the given dialect ("postgres" or "sqlite"),
// operating on an already-open *sql.DB connection.
func New(sqlDB *sql.DB, dialect string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		sub fs.FS
		err error
	)
	switch dialect {
	case "postgres":
		sub, err = fs.Sub(postgresFS, "postgres")
	case "sqlite":
		sub, err = fs.Sub(sqliteFS, "sqlite")
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("migrations: embed subtree: %w", err)
	}

	return &Manager{db: sqlDB, dialect: dialect, fsys: sub, logger: logger}, nil
}

func (m *Manager) setup() error {
	goose.SetBaseFS(m.fsys)
	dialect := m.dialect
	if dialect == "sqlite" {
		dialect = "sqlite3"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	return nil
}

// Up applies every pending migration found under the embedded directory root.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.setup(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, m.db, "."); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	m.logger.Info("migrations applied", "dialect", m.dialect)
	return nil
}

// Version reports the current applied migration version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	if err := m.setup(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, m.db)
}
