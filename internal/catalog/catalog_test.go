package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baitcenter/deepwell/internal/apperr"
	"github.com/baitcenter/deepwell/internal/catalog"
	sqlitedb "github.com/baitcenter/deepwell/internal/db/sqlite"
	"github.com/baitcenter/deepwell/internal/domain"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dsn := "file:" + t.TempDir() + "/catalog.db"
	conn, err := sqlitedb.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx := context.Background()
	require.NoError(t, conn.Exec(ctx, `CREATE TABLE wikis (
		wiki_id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, slug TEXT UNIQUE, domain TEXT UNIQUE)`))

	c, err := catalog.Load(ctx, conn)
	require.NoError(t, err)
	return c
}

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	w, err := c.Create(ctx, "SCP Foundation", "SCP Foundation!!", "scp-wiki.example.net")
	require.NoError(t, err)
	assert.Equal(t, "scp-foundation", w.Slug)

	var got domain.Wiki
	require.NoError(t, c.GetByID(w.ID, func(wiki *domain.Wiki) error {
		got = *wiki
		return nil
	}))
	assert.Equal(t, w.Slug, got.Slug)

	require.NoError(t, c.GetBySlug("scp-foundation", func(wiki *domain.Wiki) error {
		assert.Equal(t, w.ID, wiki.ID)
		return nil
	}))

	err = c.GetBySlug("missing", func(*domain.Wiki) error { return nil })
	assert.ErrorIs(t, err, apperr.ErrWikiNotFound)
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	_, err := c.Create(ctx, "A", "dup", "a.example.net")
	require.NoError(t, err)

	_, err = c.Create(ctx, "B", "dup", "b.example.net")
	assert.ErrorIs(t, err, apperr.ErrWikiExists)
}

func TestEditPartialUpdate(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	w, err := c.Create(ctx, "Name", "slug", "orig.example.net")
	require.NoError(t, err)

	newDomain := "updated.example.net"
	require.NoError(t, c.Edit(ctx, w.ID, catalog.EditFields{Domain: &newDomain}))

	require.NoError(t, c.GetByID(w.ID, func(wiki *domain.Wiki) error {
		assert.Equal(t, "Name", wiki.Name)
		assert.Equal(t, newDomain, wiki.Domain)
		return nil
	}))
}
