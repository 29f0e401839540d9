package server_test

import (
	"context"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baitcenter/deepwell/internal/apperr"
	"github.com/baitcenter/deepwell/internal/catalog"
	sqlitedb "github.com/baitcenter/deepwell/internal/db/sqlite"
	"github.com/baitcenter/deepwell/internal/page"
	"github.com/baitcenter/deepwell/internal/password"
	"github.com/baitcenter/deepwell/internal/server"
	"github.com/baitcenter/deepwell/internal/session"
	"github.com/baitcenter/deepwell/internal/user"
)

const schema = `
CREATE TABLE users (
	user_id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, email TEXT NOT NULL UNIQUE,
	is_verified INTEGER NOT NULL DEFAULT 0, is_bot INTEGER NOT NULL DEFAULT 0,
	author_page TEXT NOT NULL DEFAULT '', website TEXT NOT NULL DEFAULT '', about TEXT NOT NULL DEFAULT '',
	gender TEXT NOT NULL DEFAULT '', location TEXT NOT NULL DEFAULT '', created_at TIMESTAMP NOT NULL, deleted_at TIMESTAMP
);
CREATE TABLE passwords (
	user_id INTEGER PRIMARY KEY REFERENCES users(user_id), hash BLOB NOT NULL, salt BLOB NOT NULL,
	log_n INTEGER NOT NULL, param_r INTEGER NOT NULL, param_p INTEGER NOT NULL
);
CREATE TABLE sessions (
	user_id INTEGER PRIMARY KEY REFERENCES users(user_id), token TEXT NOT NULL, ip_address TEXT NOT NULL, created_at TIMESTAMP NOT NULL
);
CREATE TABLE wikis (
	wiki_id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, slug TEXT NOT NULL UNIQUE, domain TEXT NOT NULL UNIQUE
);
CREATE TABLE pages (
	page_id INTEGER PRIMARY KEY AUTOINCREMENT, wiki_id INTEGER NOT NULL REFERENCES wikis(wiki_id),
	slug TEXT NOT NULL, title TEXT NOT NULL, alt_title TEXT, tags TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL, deleted_at TIMESTAMP
);
CREATE UNIQUE INDEX pages_wiki_slug_live_idx ON pages(wiki_id, slug) WHERE deleted_at IS NULL;
CREATE TABLE revisions (
	revision_id INTEGER PRIMARY KEY AUTOINCREMENT, page_id INTEGER NOT NULL REFERENCES pages(page_id),
	user_id INTEGER NOT NULL REFERENCES users(user_id), message TEXT NOT NULL, git_commit TEXT NOT NULL,
	change_type TEXT NOT NULL, created_at TIMESTAMP NOT NULL
);
CREATE TABLE tag_history (
	revision_id INTEGER PRIMARY KEY REFERENCES revisions(revision_id),
	added_tags TEXT NOT NULL DEFAULT '[]', removed_tags TEXT NOT NULL DEFAULT '[]'
);
`

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	dsn := "file:" + t.TempDir() + "/server.db"
	conn, err := sqlitedb.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx := context.Background()
	require.NoError(t, conn.Exec(ctx, schema))

	cat, err := catalog.Load(ctx, conn)
	require.NoError(t, err)

	users := user.New(conn)
	pw := password.New(conn, nil, password.DefaultParams, 0, password.NoPause{})
	sessions := session.New(conn)
	pages := page.New(conn, t.TempDir())

	return server.New(conn, slog.New(slog.DiscardHandler), cat, users, pw, sessions, pages)
}

// TestSessionLifecycle walks a full login/session lifecycle: a bad token
// and a bad password must both fail authentication before a real login
// succeeds, and the issued token must stop working the moment it is
// revoked.
func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	u, err := srv.CreateUser(ctx, "squirrelbird", "jenny@example.net", "blackmoonhowls")
	require.NoError(t, err)

	err = srv.Sessions.CheckToken(ctx, u.ID, "invalidtoken")
	assert.ErrorIs(t, err, apperr.ErrAuthenticationFailed)

	_, ipNet, err := net.ParseCIDR("::1/0")
	require.NoError(t, err)

	_, err = srv.CreateSession(ctx, "squirrelbird", "letmein", *ipNet)
	assert.ErrorIs(t, err, apperr.ErrAuthenticationFailed)

	got, err := srv.Sessions.GetSession(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	token, err := srv.CreateSession(ctx, "squirrelbird", "blackmoonhowls", *ipNet)
	require.NoError(t, err)
	assert.Len(t, token, session.TokenLength)

	require.NoError(t, srv.Sessions.CheckToken(ctx, u.ID, token))

	got, err = srv.Sessions.GetSession(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, token, got.Token)

	revoked, err := srv.EndSession(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = srv.EndSession(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, revoked)

	err = srv.Sessions.CheckToken(ctx, u.ID, token)
	assert.ErrorIs(t, err, apperr.ErrAuthenticationFailed)
}

// TestCreateWikiRegistersStore exercises the CreateWiki facade path end to
// end: a freshly created wiki must be immediately writable through Pages.
func TestCreateWikiRegistersStore(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)

	wiki, err := srv.CreateWiki(ctx, "Example Wiki", "Example Wiki!", "Example.NET")
	require.NoError(t, err)
	assert.Equal(t, "example-wiki", wiki.Slug)
	assert.Equal(t, "example.net", wiki.Domain)

	u, err := srv.CreateUser(ctx, "author", "author@example.net", "correcthorsebattery")
	require.NoError(t, err)

	p, err := srv.CreatePage(ctx, wiki.ID, "Home Page", "Home", nil, []byte("hello\n"), "initial", u.ID, "author")
	require.NoError(t, err)
	assert.Equal(t, "home-page", p.Slug)

	_, err = srv.CreateWiki(ctx, "Dup", "example-wiki", "other.example.net")
	assert.ErrorIs(t, err, apperr.ErrWikiExists)

	_, err = srv.CreateWiki(ctx, "Dup Domain", "dup-domain", "Example.NET")
	assert.ErrorIs(t, err, apperr.ErrWikiExists)
}
