// Package session manages login sessions: one active session per user,
// addressed by a 64-character URL-safe token, with constant-time token
// comparison.
package session

import (
	"context"
	"crypto/subtle"
	"net"
	"time"

	"github.com/baitcenter/deepwell/internal/apperr"
	"github.com/baitcenter/deepwell/internal/db"
	"github.com/baitcenter/deepwell/internal/domain"
	"github.com/baitcenter/deepwell/internal/randutil"
)

// TokenLength is the number of characters in a session token.
const TokenLength = 64

// Manager is the session component.
type Manager struct {
	conn db.DB
}

// New builds a Manager over conn.
func New(conn db.DB) *Manager {
	return &Manager{conn: conn}
}

// CreateToken generates a fresh token and upserts the session row for
// userID, replacing any prior session (at most one active session per
// user).
func (m *Manager) CreateToken(ctx context.Context, userID domain.UserID, ip net.IPNet) (string, error) {
	token, err := randutil.Token(TokenLength)
	if err != nil {
		return "", apperr.NewInternalError("generate session token", err)
	}

	const stmt = `
		INSERT INTO sessions (user_id, token, ip_address, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			token = EXCLUDED.token,
			ip_address = EXCLUDED.ip_address,
			created_at = EXCLUDED.created_at`
	now := time.Now().UTC()
	if err := m.conn.Exec(ctx, stmt, int64(userID), token, ip.String(), now); err != nil {
		return "", apperr.NewDatabaseError("session.CreateToken", err)
	}
	return token, nil
}

// GetToken returns the current token for userID, or "" if none exists.
func (m *Manager) GetToken(ctx context.Context, userID domain.UserID) (string, error) {
	const stmt = `SELECT token FROM sessions WHERE user_id = $1`
	var token string
	if err := m.conn.QueryRow(ctx, stmt, int64(userID)).Scan(&token); err != nil {
		if db.IsNoRows(err) {
			return "", nil
		}
		return "", apperr.NewDatabaseError("session.GetToken", err)
	}
	return token, nil
}

// CheckToken constant-time-compares token against the stored session for
// userID, failing with apperr.ErrAuthenticationFailed on mismatch or
// absence.
func (m *Manager) CheckToken(ctx context.Context, userID domain.UserID, token string) error {
	stored, err := m.GetToken(ctx, userID)
	if err != nil {
		return err
	}
	if stored == "" {
		return apperr.ErrAuthenticationFailed
	}
	if len(stored) != len(token) || subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return apperr.ErrAuthenticationFailed
	}
	return nil
}

// RevokeToken deletes the session row for userID, reporting whether one
// was present.
func (m *Manager) RevokeToken(ctx context.Context, userID domain.UserID) (bool, error) {
	existing, err := m.GetToken(ctx, userID)
	if err != nil {
		return false, err
	}
	if existing == "" {
		return false, nil
	}
	const stmt = `DELETE FROM sessions WHERE user_id = $1`
	if err := m.conn.Exec(ctx, stmt, int64(userID)); err != nil {
		return false, apperr.NewDatabaseError("session.RevokeToken", err)
	}
	return true, nil
}

// GetSession returns the full session row for userID, or nil if none exists.
func (m *Manager) GetSession(ctx context.Context, userID domain.UserID) (*domain.Session, error) {
	const stmt = `SELECT user_id, token, ip_address, created_at FROM sessions WHERE user_id = $1`

	var (
		uid       int64
		token     string
		ipText    string
		createdAt time.Time
	)
	if err := m.conn.QueryRow(ctx, stmt, int64(userID)).Scan(&uid, &token, &ipText, &createdAt); err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, apperr.NewDatabaseError("session.GetSession", err)
	}

	ip, ipNet, err := net.ParseCIDR(ipText)
	if err != nil {
		return nil, apperr.NewInternalError("parse stored ip_address", err)
	}
	ipNet.IP = ip

	return &domain.Session{
		UserID:    domain.UserID(uid),
		Token:     token,
		IPAddress: *ipNet,
		CreatedAt: createdAt,
	}, nil
}
