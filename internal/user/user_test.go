package user_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baitcenter/deepwell/internal/apperr"
	sqlitedb "github.com/baitcenter/deepwell/internal/db/sqlite"
	"github.com/baitcenter/deepwell/internal/user"
)

func newTestManager(t *testing.T) *user.Manager {
	t.Helper()
	dsn := "file:" + t.TempDir() + "/user.db"
	conn, err := sqlitedb.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx := context.Background()
	require.NoError(t, conn.Exec(ctx, `CREATE TABLE users (
		user_id     INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT NOT NULL UNIQUE,
		email       TEXT NOT NULL UNIQUE,
		is_verified INTEGER NOT NULL DEFAULT 0,
		is_bot      INTEGER NOT NULL DEFAULT 0,
		author_page TEXT NOT NULL DEFAULT '',
		website     TEXT NOT NULL DEFAULT '',
		about       TEXT NOT NULL DEFAULT '',
		gender      TEXT NOT NULL DEFAULT '',
		location    TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMP NOT NULL,
		deleted_at  TIMESTAMP
	)`))

	return user.New(conn)
}

func TestValidName(t *testing.T) {
	assert.True(t, user.ValidName("fox-tail_9"))
	assert.False(t, user.ValidName("no"))
	assert.False(t, user.ValidName("has a space"))
	assert.False(t, user.ValidName(""))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "fox@example.net", user.NormalizeEmail("  Fox@Example.NET  "))
}

func TestInsertAndLookup(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	id, err := mgr.Insert(ctx, "swfox", "fox@example.net")
	require.NoError(t, err)

	byID, err := mgr.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "swfox", byID.Name)
	assert.False(t, byID.Deleted())

	byName, err := mgr.GetByName(ctx, "swfox")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)

	_, err = mgr.GetByID(ctx, id+1)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestEditPartialUpdate(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	id, err := mgr.Insert(ctx, "swfox", "fox@example.net")
	require.NoError(t, err)

	website := "https://example.net"
	require.NoError(t, mgr.Edit(ctx, id, user.EditFields{Website: &website}))

	got, err := mgr.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, website, got.Website)
	assert.Equal(t, "", got.About)
}

func TestMarkVerified(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	id, err := mgr.Insert(ctx, "swfox", "fox@example.net")
	require.NoError(t, err)

	got, err := mgr.GetByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.IsVerified)

	require.NoError(t, mgr.MarkVerified(ctx, id))

	got, err = mgr.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.IsVerified)
}

func TestSoftDeleteAndUndelete(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	id, err := mgr.Insert(ctx, "swfox", "fox@example.net")
	require.NoError(t, err)

	require.NoError(t, mgr.SoftDelete(ctx, id))
	got, err := mgr.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Deleted())

	require.NoError(t, mgr.Undelete(ctx, id))
	got, err = mgr.GetByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Deleted())
}
