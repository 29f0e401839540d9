// Package catalog implements an in-memory, reader-writer-locked mapping of
// wiki_id/slug to Wiki, seeded from the database at startup and kept
// authoritative for reads because this process is the sole writer.
package catalog

import (
	"context"
	"sync"

	"github.com/baitcenter/deepwell/internal/apperr"
	"github.com/baitcenter/deepwell/internal/db"
	"github.com/baitcenter/deepwell/internal/domain"
	"github.com/baitcenter/deepwell/internal/slugutil"
)

// Catalog is the Wiki Catalog cache.
type Catalog struct {
	conn db.DB

	mu      sync.RWMutex
	byID    map[domain.WikiID]*domain.Wiki
	bySlug  map[string]domain.WikiID
}

// Load builds a Catalog and seeds its cache from every wiki row with a
// non-negative wiki_id in the database.
func Load(ctx context.Context, conn db.DB) (*Catalog, error) {
	c := &Catalog{
		conn:   conn,
		byID:   map[domain.WikiID]*domain.Wiki{},
		bySlug: map[string]domain.WikiID{},
	}

	const stmt = `SELECT wiki_id, name, slug, domain FROM wikis WHERE wiki_id >= 0`
	rows, err := conn.Query(ctx, stmt)
	if err != nil {
		return nil, apperr.NewDatabaseError("catalog.Load", err)
	}
	defer rows.Close()

	for rows.Next() {
		var w domain.Wiki
		var id int64
		if err := rows.Scan(&id, &w.Name, &w.Slug, &w.Domain); err != nil {
			return nil, apperr.NewDatabaseError("catalog.Load.scan", err)
		}
		w.ID = domain.WikiID(id)
		c.byID[w.ID] = &w
		c.bySlug[w.Slug] = w.ID
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewDatabaseError("catalog.Load.rows", err)
	}

	return c, nil
}

// Create normalizes slug, inserts a new wiki row, and registers it in the
// cache. Fails with apperr.ErrWikiExists if slug or domain collide.
func (c *Catalog) Create(ctx context.Context, name, slug, domainName string) (*domain.Wiki, error) {
	normalized := slugutil.Normalize(slug)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.bySlug[normalized]; exists {
		return nil, apperr.ErrWikiExists
	}
	for _, w := range c.byID {
		if w.Domain == domainName {
			return nil, apperr.ErrWikiExists
		}
	}

	const stmt = `INSERT INTO wikis (name, slug, domain) VALUES ($1, $2, $3) RETURNING wiki_id`
	var id int64
	if err := c.conn.QueryRow(ctx, stmt, name, normalized, domainName).Scan(&id); err != nil {
		return nil, apperr.NewDatabaseError("catalog.Create", err)
	}

	w := &domain.Wiki{ID: domain.WikiID(id), Name: name, Slug: normalized, Domain: domainName}
	c.byID[w.ID] = w
	c.bySlug[w.Slug] = w.ID
	return w, nil
}

// EditFields is the partial update payload for Edit; nil fields are left
// unchanged.
type EditFields struct {
	Name   *string
	Domain *string
}

// Edit partially updates a wiki's mutable fields (name, domain — slug is
// immutable after creation). A no-op if both fields are nil.
func (c *Catalog) Edit(ctx context.Context, id domain.WikiID, fields EditFields) error {
	if fields.Name == nil && fields.Domain == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.byID[id]
	if !ok {
		return apperr.ErrWikiNotFound
	}

	name := w.Name
	if fields.Name != nil {
		name = *fields.Name
	}
	domainName := w.Domain
	if fields.Domain != nil {
		domainName = *fields.Domain
	}

	const stmt = `UPDATE wikis SET name = $1, domain = $2 WHERE wiki_id = $3`
	if err := c.conn.Exec(ctx, stmt, name, domainName, int64(id)); err != nil {
		return apperr.NewDatabaseError("catalog.Edit", err)
	}

	w.Name = name
	w.Domain = domainName
	return nil
}

// GetByID invokes f with the cached wiki for id under the read lock,
// returning apperr.ErrWikiNotFound if absent. f must not retain the pointer
// past its call.
func (c *Catalog) GetByID(id domain.WikiID, f func(*domain.Wiki) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w, ok := c.byID[id]
	if !ok {
		return apperr.ErrWikiNotFound
	}
	return f(w)
}

// GetBySlug invokes f with the cached wiki for slug under the read lock,
// returning apperr.ErrWikiNotFound if absent.
func (c *Catalog) GetBySlug(slug string, f func(*domain.Wiki) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.bySlug[slug]
	if !ok {
		return apperr.ErrWikiNotFound
	}
	return f(c.byID[id])
}

// Snapshot returns a shallow copy of every cached wiki, for callers that
// need to enumerate them without holding a lock for the duration of an
// unrelated operation.
func (c *Catalog) Snapshot() []domain.Wiki {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Wiki, 0, len(c.byID))
	for _, w := range c.byID {
		out = append(out, *w)
	}
	return out
}
