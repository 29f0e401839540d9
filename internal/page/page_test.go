package page_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baitcenter/deepwell/internal/apperr"
	sqlitedb "github.com/baitcenter/deepwell/internal/db/sqlite"
	"github.com/baitcenter/deepwell/internal/domain"
	"github.com/baitcenter/deepwell/internal/page"
)

const schema = `
CREATE TABLE users (
	user_id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, email TEXT NOT NULL UNIQUE,
	is_verified INTEGER NOT NULL DEFAULT 0, is_bot INTEGER NOT NULL DEFAULT 0,
	author_page TEXT NOT NULL DEFAULT '', website TEXT NOT NULL DEFAULT '', about TEXT NOT NULL DEFAULT '',
	gender TEXT NOT NULL DEFAULT '', location TEXT NOT NULL DEFAULT '', created_at TIMESTAMP NOT NULL, deleted_at TIMESTAMP
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

type fixture struct {
	svc    *page.Service
	conn   *sqlitedb.DB
	wikiID domain.WikiID
	u1, u2 domain.UserID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:" + t.TempDir() + "/page.db"
	conn, err := sqlitedb.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx := context.Background()
	require.NoError(t, conn.Exec(ctx, schema))

	var wikiID int64
	require.NoError(t, conn.QueryRow(ctx, `INSERT INTO wikis (name, slug, domain) VALUES ($1,$2,$3) RETURNING wiki_id`,
		"Test Wiki", "test-wiki", "test-wiki.example.net").Scan(&wikiID))

	insertUser := func(name string) domain.UserID {
		var id int64
		require.NoError(t, conn.QueryRow(ctx, `INSERT INTO users (name, email, created_at) VALUES ($1,$2,$3) RETURNING user_id`,
			name, name+"@example.net", time.Now().UTC()).Scan(&id))
		return domain.UserID(id)
	}

	svc := page.New(conn, t.TempDir())
	require.NoError(t, svc.AddStore(domain.Wiki{ID: domain.WikiID(wikiID), Slug: "test-wiki", Domain: "test-wiki.example.net"}))

	return &fixture{
		svc:    svc,
		conn:   conn,
		wikiID: domain.WikiID(wikiID),
		u1:     insertUser("u1"),
		u2:     insertUser("u2"),
	}
}

type revisionRow struct {
	id         domain.RevisionID
	gitCommit  string
	changeType string
}

func (f *fixture) revisions(t *testing.T) []revisionRow {
	t.Helper()
	rows, err := f.conn.Query(context.Background(),
		`SELECT revision_id, git_commit, change_type FROM revisions ORDER BY revision_id`)
	require.NoError(t, err)
	defer rows.Close()

	var out []revisionRow
	for rows.Next() {
		var r revisionRow
		var id int64
		require.NoError(t, rows.Scan(&id, &r.gitCommit, &r.changeType))
		r.id = domain.RevisionID(id)
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

// TestTagAccumulation applies a sequence of retags from two different
// users and checks that the page's final tag set is exactly the sorted
// union/difference implied by the last write, not an accumulation of
// every tag ever added.
func TestTagAccumulation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, page.Commit{
		WikiID: f.wikiID, Slug: "scp-xxxx", Message: "create", UserID: f.u1, Username: "u1",
	}, []byte("content"), "SCP-XXXX", nil)
	require.NoError(t, err)

	steps := []struct {
		user domain.UserID
		name string
		tags []string
	}{
		{f.u1, "u1", []string{"_image"}},
		{f.u2, "u2", []string{"scp", "keter", "_image", "ontokinetic", "artifact"}},
		{f.u1, "u1", []string{"scp", "keter", "artifact", "ontokinetic", "_cc"}},
		{f.u2, "u2", []string{"scp", "keter", "artifact", "ontokinetic", "_cc", "chaos-insurgency", "ethics-committee"}},
	}
	for _, step := range steps {
		_, _, err := f.svc.Tags(ctx, page.Commit{
			WikiID: f.wikiID, Slug: "scp-xxxx", Message: "retag", UserID: step.user, Username: step.name,
		}, step.tags)
		require.NoError(t, err)
	}

	got, err := f.svc.GetPage(ctx, f.wikiID, "scp-xxxx")
	require.NoError(t, err)
	assert.Equal(t, []string{"_cc", "artifact", "chaos-insurgency", "ethics-committee", "keter", "ontokinetic", "scp"}, got.Tags)
}

// TestDeleteRestore removes a live page, confirms a second removal fails,
// then restores it and checks the content round-trips byte for byte.
func TestDeleteRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, page.Commit{
		WikiID: f.wikiID, Slug: "p", Message: "create", UserID: f.u1, Username: "u1",
	}, []byte("C"), "P", nil)
	require.NoError(t, err)

	commit := page.Commit{WikiID: f.wikiID, Slug: "p", Message: "remove", UserID: f.u1, Username: "u1"}
	require.NoError(t, f.svc.Remove(ctx, commit))

	err = f.svc.Remove(ctx, commit)
	assert.ErrorIs(t, err, apperr.ErrPageNotFound)

	_, err = f.svc.Restore(ctx, page.Commit{WikiID: f.wikiID, Slug: "p", Message: "restore", UserID: f.u1, Username: "u1"})
	require.NoError(t, err)

	content, err := f.svc.GetPageContents(ctx, f.wikiID, "p")
	require.NoError(t, err)
	assert.Equal(t, "C", string(content))

	_, err = f.svc.Restore(ctx, page.Commit{WikiID: f.wikiID, Slug: "p", Message: "restore", UserID: f.u1, Username: "u1"})
	assert.ErrorIs(t, err, apperr.ErrPageExists)
}

// TestRenameUniqueness checks that renaming onto an occupied slug fails
// and that the old slug is freed only once the rename to a free slug
// succeeds.
func TestRenameUniqueness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, page.Commit{WikiID: f.wikiID, Slug: "a", Message: "create", UserID: f.u1, Username: "u1"}, []byte("A"), "A", nil)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, page.Commit{WikiID: f.wikiID, Slug: "b", Message: "create", UserID: f.u1, Username: "u1"}, []byte("B"), "B", nil)
	require.NoError(t, err)

	_, err = f.svc.Rename(ctx, f.wikiID, "a", "b", "rename", f.u1, "u1")
	assert.ErrorIs(t, err, apperr.ErrPageExists)

	_, err = f.svc.Rename(ctx, f.wikiID, "a", "c", "rename", f.u1, "u1")
	require.NoError(t, err)

	_, err = f.svc.GetPage(ctx, f.wikiID, "a")
	assert.ErrorIs(t, err, apperr.ErrPageNotFound)

	got, err := f.svc.GetPage(ctx, f.wikiID, "c")
	require.NoError(t, err)
	assert.Equal(t, "c", got.Slug)
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, page.Commit{WikiID: f.wikiID, Slug: "dup", Message: "create", UserID: f.u1, Username: "u1"}, []byte("x"), "X", nil)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, page.Commit{WikiID: f.wikiID, Slug: "dup", Message: "create", UserID: f.u1, Username: "u1"}, []byte("y"), "Y", nil)
	assert.ErrorIs(t, err, apperr.ErrPageExists)
}

// TestRevisionBookkeeping drives a create/modify/retag sequence and checks
// the relational side of each revision: commit ids are 40-char lowercase
// hex, a tag_history row exists exactly for the tags revision, historical
// reads reproduce the content each revision recorded, and editing a
// revision's message never touches its commit id.
func TestRevisionBookkeeping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, page.Commit{
		WikiID: f.wikiID, Slug: "page", Message: "create", UserID: f.u1, Username: "u1",
	}, []byte("hello\n"), "Page", nil)
	require.NoError(t, err)

	_, err = f.svc.Commit(ctx, page.Commit{
		WikiID: f.wikiID, Slug: "page", Message: "modify", UserID: f.u1, Username: "u1",
	}, []byte("hello world\n"), page.EditFields{})
	require.NoError(t, err)

	_, _, err = f.svc.Tags(ctx, page.Commit{
		WikiID: f.wikiID, Slug: "page", Message: "retag", UserID: f.u2, Username: "u2",
	}, []string{"b", "a"})
	require.NoError(t, err)

	revs := f.revisions(t)
	require.Len(t, revs, 3)
	assert.Equal(t, "create", revs[0].changeType)
	assert.Equal(t, "modify", revs[1].changeType)
	assert.Equal(t, "tags", revs[2].changeType)

	hexCommit := regexp.MustCompile(`^[0-9a-f]{40}$`)
	for _, r := range revs {
		assert.Regexp(t, hexCommit, r.gitCommit)
	}

	for _, r := range revs {
		var count int
		require.NoError(t, f.conn.QueryRow(ctx,
			`SELECT COUNT(*) FROM tag_history WHERE revision_id = $1`, int64(r.id)).Scan(&count))
		if r.changeType == "tags" {
			assert.Equal(t, 1, count)
		} else {
			assert.Equal(t, 0, count)
		}
	}

	atCreate, err := f.svc.GetPageVersion(ctx, revs[0].id)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(atCreate))

	atModify, err := f.svc.GetPageVersion(ctx, revs[1].id)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(atModify))

	diff, err := f.svc.GetDiff(ctx, revs[0].id, revs[1].id)
	require.NoError(t, err)
	assert.Contains(t, diff, "hello\n")
	assert.Contains(t, diff, "hello world\n")

	require.NoError(t, f.svc.EditRevision(ctx, revs[0].id, "better message"))
	after := f.revisions(t)
	assert.Equal(t, revs[0].gitCommit, after[0].gitCommit)

	var message string
	require.NoError(t, f.conn.QueryRow(ctx,
		`SELECT message FROM revisions WHERE revision_id = $1`, int64(revs[0].id)).Scan(&message))
	assert.Equal(t, "better message", message)
}
