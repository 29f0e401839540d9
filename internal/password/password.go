// Package password implements a memory-hard password engine: scrypt-based
// hashing with per-record tunable cost parameters, a blacklist check on
// set, constant-time comparison on check, and a fixed-delay pause after
// every check failure.
package password

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/scrypt"

	"github.com/baitcenter/deepwell/internal/apperr"
	"github.com/baitcenter/deepwell/internal/db"
	"github.com/baitcenter/deepwell/internal/domain"
	"github.com/baitcenter/deepwell/internal/randutil"
)

const (
	// MaxPasswordBytes guards against computation-based DoS: anything
	// longer is rejected before it ever reaches scrypt.
	MaxPasswordBytes = 8192
	// MinPasswordChars is the minimum character-count policy floor.
	MinPasswordChars = 8
	saltBytes        = 16
	derivedKeyBytes  = 32
)

// Params are the tunable scrypt cost parameters recommended at Set time.
// Stored per-record so future cost upgrades don't invalidate existing
// passwords.
type Params struct {
	LogN uint8
	R    uint32
	P    uint32
}

// DefaultParams is the recommended scrypt cost for new passwords.
var DefaultParams = Params{LogN: 15, R: 8, P: 1}

// Clock abstracts the post-failure pause so tests can elide it by
// injecting a no-op implementation instead of branching on build tags.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration)
}

// RealClock sleeps for real, respecting context cancellation.
type RealClock struct{}

func (RealClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// NoPause never sleeps; used by tests.
type NoPause struct{}

func (NoPause) Sleep(context.Context, time.Duration) {}

// Engine is the password component. Set has a SetIn variant running against
// an explicit db.Queryer so the server facade can nest the upsert inside a
// larger transaction; Check always runs on the engine's own handle since
// holding a transaction open across a scrypt derivation (and the
// post-failure pause) would serialize unrelated writers.
type Engine struct {
	conn      db.DB
	blacklist map[string]struct{}
	params    Params
	pause     time.Duration
	clock     Clock
}

// New builds an Engine. Submitted passwords are looked up in blacklist
// exactly as given: the check is exact-string and case-sensitive, with no
// normalization on either side.
func New(conn db.DB, blacklist map[string]struct{}, params Params, pause time.Duration, clock Clock) *Engine {
	if blacklist == nil {
		blacklist = map[string]struct{}{}
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Engine{conn: conn, blacklist: blacklist, params: params, pause: pause, clock: clock}
}

// Set validates password against the policy, hashes it with fresh
// parameters and a fresh salt, and upserts the record for userID.
func (e *Engine) Set(ctx context.Context, userID domain.UserID, password string) error {
	return e.SetIn(ctx, e.conn, userID, password)
}

// SetIn is Set running against an explicit Queryer, for callers composing
// the upsert into a wider transaction (user creation).
func (e *Engine) SetIn(ctx context.Context, q db.Queryer, userID domain.UserID, password string) error {
	if err := e.validate(password); err != nil {
		return err
	}

	salt, err := randutil.Salt(saltBytes)
	if err != nil {
		return apperr.NewInternalError("generate salt", err)
	}

	hash, err := deriveKey([]byte(password), salt, e.params)
	if err != nil {
		return apperr.NewInternalError("derive key", err)
	}

	const stmt = `
		INSERT INTO passwords (user_id, hash, salt, log_n, param_r, param_p)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			hash = EXCLUDED.hash,
			salt = EXCLUDED.salt,
			log_n = EXCLUDED.log_n,
			param_r = EXCLUDED.param_r,
			param_p = EXCLUDED.param_p`
	if err := q.Exec(ctx, stmt, int64(userID), hash, salt, int(e.params.LogN), int(e.params.R), int(e.params.P)); err != nil {
		return apperr.NewDatabaseError("password.Set", err)
	}
	return nil
}

// validate applies the password policy, never consulting the database.
func (e *Engine) validate(password string) error {
	if len(password) > MaxPasswordBytes {
		return apperr.NewInvalidPassword("password too long")
	}
	if utf8.RuneCountInString(password) < MinPasswordChars {
		return apperr.NewInvalidPassword("password must be at least 8 characters")
	}
	if _, blocked := e.blacklist[password]; blocked {
		return apperr.NewInvalidPassword("password is too common")
	}
	return nil
}

// Check verifies password for userID, always returning
// apperr.ErrAuthenticationFailed on any failure (never disclosing which
// condition failed) and always pausing ~e.pause afterwards so "no such
// user" and "wrong password" take the same wall-clock time.
func (e *Engine) Check(ctx context.Context, userID domain.UserID, password string) error {
	err := e.checkInternal(ctx, userID, password)
	if err != nil {
		e.clock.Sleep(ctx, e.pause)
		return apperr.ErrAuthenticationFailed
	}
	return nil
}

func (e *Engine) checkInternal(ctx context.Context, userID domain.UserID, password string) error {
	if len(password) > MaxPasswordBytes {
		return apperr.ErrAuthenticationFailed
	}

	rec, err := e.load(ctx, userID)
	if err != nil {
		return err
	}
	if rec == nil {
		return apperr.ErrAuthenticationFailed
	}

	if rec.LogN == 0 || rec.LogN > 62 || rec.R == 0 || rec.P == 0 {
		// Out-of-range stored parameters fail verification rather than
		// panicking inside scrypt.
		return apperr.ErrAuthenticationFailed
	}

	computed, err := deriveKey([]byte(password), rec.Salt, Params{LogN: rec.LogN, R: rec.R, P: rec.P})
	if err != nil {
		return apperr.ErrAuthenticationFailed
	}

	if subtle.ConstantTimeCompare(computed, rec.Hash) != 1 {
		return apperr.ErrAuthenticationFailed
	}
	return nil
}

func (e *Engine) load(ctx context.Context, userID domain.UserID) (*domain.Password, error) {
	const stmt = `SELECT hash, salt, log_n, param_r, param_p FROM passwords WHERE user_id = $1`
	row := e.conn.QueryRow(ctx, stmt, int64(userID))

	var (
		hash, salt     []byte
		logN           int
		paramR, paramP int
	)
	if err := row.Scan(&hash, &salt, &logN, &paramR, &paramP); err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, apperr.NewDatabaseError("password.load", err)
	}
	return &domain.Password{
		UserID: userID,
		Hash:   hash,
		Salt:   salt,
		LogN:   uint8(logN),
		R:      uint32(paramR),
		P:      uint32(paramP),
	}, nil
}

func deriveKey(password, salt []byte, p Params) ([]byte, error) {
	n := 1 << p.LogN
	key, err := scrypt.Key(password, salt, n, int(p.R), int(p.P), derivedKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}
	return key, nil
}
