// Package user implements user record CRUD, soft delete, and a
// Queryer-scoped insert that the server facade composes with the password
// record in one transaction.
package user

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/baitcenter/deepwell/internal/apperr"
	"github.com/baitcenter/deepwell/internal/db"
	"github.com/baitcenter/deepwell/internal/domain"
)

// usernamePattern is the minimum username constraint: 3-24 characters of
// letters, digits, underscore, or hyphen.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,24}$`)

// ValidName reports whether name satisfies the username constraint.
func ValidName(name string) bool {
	return usernamePattern.MatchString(name)
}

// NormalizeEmail trims whitespace and case-folds email so lookups and
// uniqueness checks are insensitive to case and incidental whitespace.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Manager is the User Manager component.
type Manager struct {
	conn db.DB
}

// New builds a Manager over conn.
func New(conn db.DB) *Manager {
	return &Manager{conn: conn}
}

// Insert inserts a bare user row (name, email already validated/normalized
// by the caller) and returns the new id.
func (m *Manager) Insert(ctx context.Context, name, email string) (domain.UserID, error) {
	return m.InsertIn(ctx, m.conn, name, email)
}

// InsertIn is Insert running against an explicit Queryer, so the server
// facade can compose it with password.Engine.SetIn inside one transaction
// and a user never exists without a password record.
func (m *Manager) InsertIn(ctx context.Context, q db.Queryer, name, email string) (domain.UserID, error) {
	const stmt = `
		INSERT INTO users (name, email, created_at)
		VALUES ($1, $2, $3)
		RETURNING user_id`
	var id int64
	if err := q.QueryRow(ctx, stmt, name, email, time.Now().UTC()).Scan(&id); err != nil {
		return 0, apperr.NewDatabaseError("user.Insert", err)
	}
	return domain.UserID(id), nil
}

// GetByID fetches a user by id, including soft-deleted ones (callers that
// need to distinguish should check User.Deleted()).
func (m *Manager) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	const stmt = `
		SELECT user_id, name, email, is_verified, is_bot, author_page, website,
		       about, gender, location, created_at, deleted_at
		FROM users WHERE user_id = $1`
	return m.scanOne(m.conn.QueryRow(ctx, stmt, int64(id)))
}

// GetByName fetches a user by its unique name.
func (m *Manager) GetByName(ctx context.Context, name string) (*domain.User, error) {
	const stmt = `
		SELECT user_id, name, email, is_verified, is_bot, author_page, website,
		       about, gender, location, created_at, deleted_at
		FROM users WHERE name = $1`
	return m.scanOne(m.conn.QueryRow(ctx, stmt, name))
}

func (m *Manager) scanOne(row db.Row) (*domain.User, error) {
	var (
		u         domain.User
		id        int64
		deletedAt *time.Time
	)
	if err := row.Scan(&id, &u.Name, &u.Email, &u.IsVerified, &u.IsBot, &u.AuthorPage,
		&u.Website, &u.About, &u.Gender, &u.Location, &u.CreatedAt, &deletedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.NewDatabaseError("user.scanOne", err)
	}
	u.ID = domain.UserID(id)
	u.DeletedAt = deletedAt
	return &u, nil
}

// EditFields is the partial update payload for Edit.
type EditFields struct {
	AuthorPage *string
	Website    *string
	About      *string
	Gender     *string
	Location   *string
}

// Edit partially updates the mutable profile fields of a user.
func (m *Manager) Edit(ctx context.Context, id domain.UserID, fields EditFields) error {
	u, err := m.GetByID(ctx, id)
	if err != nil {
		return err
	}

	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&u.AuthorPage, fields.AuthorPage)
	apply(&u.Website, fields.Website)
	apply(&u.About, fields.About)
	apply(&u.Gender, fields.Gender)
	apply(&u.Location, fields.Location)

	const stmt = `
		UPDATE users SET author_page = $1, website = $2, about = $3, gender = $4, location = $5
		WHERE user_id = $6`
	if err := m.conn.Exec(ctx, stmt, u.AuthorPage, u.Website, u.About, u.Gender, u.Location, int64(id)); err != nil {
		return apperr.NewDatabaseError("user.Edit", err)
	}
	return nil
}

// MarkVerified sets is_verified = true for id.
func (m *Manager) MarkVerified(ctx context.Context, id domain.UserID) error {
	const stmt = `UPDATE users SET is_verified = $1 WHERE user_id = $2`
	if err := m.conn.Exec(ctx, stmt, true, int64(id)); err != nil {
		return apperr.NewDatabaseError("user.MarkVerified", err)
	}
	return nil
}

// SoftDelete sets deleted_at = now() for id. server.CreateSession refuses
// a soft-deleted user; soft deletion does not revoke an existing session,
// and page operations do not check deleted_at.
func (m *Manager) SoftDelete(ctx context.Context, id domain.UserID) error {
	const stmt = `UPDATE users SET deleted_at = $1 WHERE user_id = $2`
	if err := m.conn.Exec(ctx, stmt, time.Now().UTC(), int64(id)); err != nil {
		return apperr.NewDatabaseError("user.SoftDelete", err)
	}
	return nil
}

// Undelete clears deleted_at for id.
func (m *Manager) Undelete(ctx context.Context, id domain.UserID) error {
	const stmt = `UPDATE users SET deleted_at = NULL WHERE user_id = $1`
	if err := m.conn.Exec(ctx, stmt, int64(id)); err != nil {
		return apperr.NewDatabaseError("user.Undelete", err)
	}
	return nil
}
