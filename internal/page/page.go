// Package page implements the core coordinator that keeps the relational
// page/revision tables in lock-step with each wiki's revision store inside
// one transaction per operation.
package page

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/baitcenter/deepwell/internal/apperr"
	"github.com/baitcenter/deepwell/internal/db"
	"github.com/baitcenter/deepwell/internal/domain"
	"github.com/baitcenter/deepwell/internal/revstore"
	"github.com/baitcenter/deepwell/internal/slugutil"
)

// Commit carries the identity and authorship of a mutating operation: the
// wiki and page it targets, the user-supplied revision message, and the
// acting user. The store-level commit message is generated from these
// fields, never from the user-supplied Message.
type Commit struct {
	WikiID   domain.WikiID
	PageID   domain.PageID // ignored by Create
	Slug     string
	Message  string
	UserID   domain.UserID
	Username string
}

// Service is the Page Service: a database handle plus a wiki_id →
// *revstore.Store map behind a reader-writer lock (wikis are rarely added,
// frequently read).
type Service struct {
	conn        db.DB
	storageRoot string

	mu     sync.RWMutex
	stores map[domain.WikiID]*revstore.Store
}

// New builds a Service over conn, rooting each wiki's working directory
// under storageRoot.
func New(conn db.DB, storageRoot string) *Service {
	return &Service{
		conn:        conn,
		storageRoot: storageRoot,
		stores:      map[domain.WikiID]*revstore.Store{},
	}
}

// AddStore creates the per-wiki working directory, opens its Revision
// Store, commits the initial empty commit, and registers it. Fails if the
// wiki is already registered.
func (s *Service) AddStore(wiki domain.Wiki) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stores[wiki.ID]; exists {
		return apperr.NewInternalError(fmt.Sprintf("wiki %d already has a store", wiki.ID), nil)
	}

	dir := filepath.Join(s.storageRoot, wiki.Slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.NewIOError("page.AddStore.mkdir", err)
	}

	store, err := revstore.Open(dir, wiki.Domain)
	if err != nil {
		return err
	}
	if _, err := store.InitialCommit(); err != nil {
		return err
	}

	s.stores[wiki.ID] = store
	return nil
}

func (s *Service) store(wikiID domain.WikiID) (*revstore.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store, ok := s.stores[wikiID]
	if !ok {
		return nil, apperr.ErrWikiNotFound
	}
	return store, nil
}

func storeMessage(c Commit, change domain.ChangeType) string {
	return fmt.Sprintf("User ID %d %s page ID %d on wiki ID %d", c.UserID, change.Verb(), c.PageID, c.WikiID)
}

// Create inserts a new page row and records a Create revision backed by a
// store commit containing content. Fails with apperr.ErrPageExists if a
// live page with this slug already exists in the wiki.
func (s *Service) Create(ctx context.Context, c Commit, content []byte, title string, altTitle *string) (*domain.Page, error) {
	if !slugutil.IsNormal(c.Slug) {
		return nil, apperr.ErrSlugNotNormal
	}
	store, err := s.store(c.WikiID)
	if err != nil {
		return nil, err
	}

	var page *domain.Page
	err = db.WithTx(ctx, s.conn, func(tx db.Tx) error {
		if live, err := liveBySlug(ctx, tx, c.WikiID, c.Slug); err != nil {
			return err
		} else if live {
			return apperr.ErrPageExists
		}

		const insertPage = `
			INSERT INTO pages (wiki_id, slug, title, alt_title, tags, created_at)
			VALUES ($1, $2, $3, $4, '[]', $5)
			RETURNING page_id`
		var pageID int64
		now := time.Now().UTC()
		if err := tx.QueryRow(ctx, insertPage, int64(c.WikiID), c.Slug, title, altTitle, now).Scan(&pageID); err != nil {
			return apperr.NewDatabaseError("page.Create.insertPage", err)
		}
		c.PageID = domain.PageID(pageID)

		commitHash, err := store.Commit(c.Slug, content, revstore.CommitInfo{
			Username: c.Username,
			Message:  storeMessage(c, domain.ChangeCreate),
		})
		if err != nil {
			return err
		}

		if err := insertRevision(ctx, tx, c, domain.ChangeCreate, commitHash); err != nil {
			return err
		}

		page = &domain.Page{
			ID: c.PageID, WikiID: c.WikiID, Slug: c.Slug, Title: title,
			AltTitle: altTitle, Tags: []string{}, CreatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// EditFields is the partial-metadata payload for Commit.
type EditFields struct {
	Title    *string
	AltTitle *string
}

// Commit updates an extant page's content and/or metadata, recording a
// Modify revision. If content is nil, the store records an empty commit.
// At least one of content, Title, AltTitle is expected to be provided;
// a call with no actual change still succeeds as a no-op-content but
// still-recorded revision, rather than failing outright.
func (s *Service) Commit(ctx context.Context, c Commit, content []byte, fields EditFields) (*domain.Page, error) {
	store, err := s.store(c.WikiID)
	if err != nil {
		return nil, err
	}

	var page *domain.Page
	err = db.WithTx(ctx, s.conn, func(tx db.Tx) error {
		p, err := getLivePageBySlug(ctx, tx, c.WikiID, c.Slug)
		if err != nil {
			return err
		}
		c.PageID = p.ID

		title := p.Title
		if fields.Title != nil {
			title = *fields.Title
		}
		altTitle := p.AltTitle
		if fields.AltTitle != nil {
			altTitle = fields.AltTitle
		}

		var commitHash string
		if content != nil {
			commitHash, err = store.Commit(p.Slug, content, revstore.CommitInfo{
				Username: c.Username,
				Message:  storeMessage(c, domain.ChangeModify),
			})
		} else {
			commitHash, err = store.EmptyCommit(revstore.CommitInfo{
				Username: c.Username,
				Message:  storeMessage(c, domain.ChangeModify),
			})
		}
		if err != nil {
			return err
		}

		const stmt = `UPDATE pages SET title = $1, alt_title = $2 WHERE page_id = $3`
		if err := tx.Exec(ctx, stmt, title, altTitle, int64(p.ID)); err != nil {
			return apperr.NewDatabaseError("page.Commit.update", err)
		}

		if err := insertRevision(ctx, tx, c, domain.ChangeModify, commitHash); err != nil {
			return err
		}

		p.Title, p.AltTitle = title, altTitle
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Rename moves a live page to a new slug, recording a Rename revision.
func (s *Service) Rename(ctx context.Context, wikiID domain.WikiID, oldSlug, newSlug, message string, userID domain.UserID, username string) (*domain.Page, error) {
	if !slugutil.IsNormal(newSlug) {
		return nil, apperr.ErrSlugNotNormal
	}
	store, err := s.store(wikiID)
	if err != nil {
		return nil, err
	}

	c := Commit{WikiID: wikiID, Slug: newSlug, Message: message, UserID: userID, Username: username}

	var page *domain.Page
	err = db.WithTx(ctx, s.conn, func(tx db.Tx) error {
		p, err := getLivePageBySlug(ctx, tx, wikiID, oldSlug)
		if err != nil {
			return err
		}
		c.PageID = p.ID

		if live, err := liveBySlug(ctx, tx, wikiID, newSlug); err != nil {
			return err
		} else if live {
			return apperr.ErrPageExists
		}

		commitHash, err := store.Rename(oldSlug, newSlug, revstore.CommitInfo{
			Username: username,
			Message:  storeMessage(c, domain.ChangeRename),
		})
		if err != nil {
			return err
		}

		const stmt = `UPDATE pages SET slug = $1 WHERE page_id = $2`
		if err := tx.Exec(ctx, stmt, newSlug, int64(p.ID)); err != nil {
			return apperr.NewDatabaseError("page.Rename.update", err)
		}

		if err := insertRevision(ctx, tx, c, domain.ChangeRename, commitHash); err != nil {
			return err
		}

		p.Slug = newSlug
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Remove soft-deletes a live page and removes its blob from the store.
// Fails with apperr.ErrPageNotFound if already deleted.
func (s *Service) Remove(ctx context.Context, c Commit) error {
	store, err := s.store(c.WikiID)
	if err != nil {
		return err
	}

	return db.WithTx(ctx, s.conn, func(tx db.Tx) error {
		p, err := getLivePageBySlug(ctx, tx, c.WikiID, c.Slug)
		if err != nil {
			return err
		}
		c.PageID = p.ID

		commitHash, ok, err := store.Remove(p.Slug, revstore.CommitInfo{
			Username: c.Username,
			Message:  storeMessage(c, domain.ChangeDelete),
		})
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrPageNotFound
		}

		const stmt = `UPDATE pages SET deleted_at = $1 WHERE page_id = $2`
		if err := tx.Exec(ctx, stmt, time.Now().UTC(), int64(p.ID)); err != nil {
			return apperr.NewDatabaseError("page.Remove.update", err)
		}

		return insertRevision(ctx, tx, c, domain.ChangeDelete, commitHash)
	})
}

// Restore revives a soft-deleted page. If pageID is zero, the most
// recently created soft-deleted page matching (wikiID, slug) is used.
// Fails with apperr.ErrPageExists if a live page already occupies the slug.
// When pageID is explicit, the page's wiki_id is verified to match wikiID
// so a caller can't restore a page belonging to a different wiki.
func (s *Service) Restore(ctx context.Context, c Commit) (*domain.Page, error) {
	store, err := s.store(c.WikiID)
	if err != nil {
		return nil, err
	}

	var page *domain.Page
	err = db.WithTx(ctx, s.conn, func(tx db.Tx) error {
		if c.PageID == 0 {
			if live, err := liveBySlug(ctx, tx, c.WikiID, c.Slug); err != nil {
				return err
			} else if live {
				return apperr.ErrPageExists
			}
		}

		p, err := findDeletedPage(ctx, tx, c.WikiID, c.PageID, c.Slug)
		if err != nil {
			return err
		}
		c.PageID = p.ID

		if live, err := liveBySlug(ctx, tx, c.WikiID, p.Slug); err != nil {
			return err
		} else if live {
			return apperr.ErrPageExists
		}

		lastHash, err := mostRecentNonDeleteCommit(ctx, tx, p.ID)
		if err != nil {
			return err
		}

		commitHash, err := store.Restore(p.Slug, p.Slug, lastHash, revstore.CommitInfo{
			Username: c.Username,
			Message:  storeMessage(c, domain.ChangeRestore),
		})
		if err != nil {
			return err
		}

		const stmt = `UPDATE pages SET deleted_at = NULL WHERE page_id = $1`
		if err := tx.Exec(ctx, stmt, int64(p.ID)); err != nil {
			return apperr.NewDatabaseError("page.Restore.update", err)
		}

		if err := insertRevision(ctx, tx, c, domain.ChangeRestore, commitHash); err != nil {
			return err
		}

		p.DeletedAt = nil
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Tags computes the sorted added/removed tag sets against the page's
// current tags, records a Tags revision backed by an empty store commit
// and a tag_history row, and updates pages.tags to the sorted input.
func (s *Service) Tags(ctx context.Context, c Commit, newTags []string) (added, removed []string, err error) {
	store, err := s.store(c.WikiID)
	if err != nil {
		return nil, nil, err
	}

	err = db.WithTx(ctx, s.conn, func(tx db.Tx) error {
		p, err := getLivePageBySlug(ctx, tx, c.WikiID, c.Slug)
		if err != nil {
			return err
		}
		c.PageID = p.ID

		sorted := append([]string(nil), newTags...)
		sort.Strings(sorted)
		added, removed = diffTags(p.Tags, sorted)

		commitHash, err := store.EmptyCommit(revstore.CommitInfo{
			Username: c.Username,
			Message:  storeMessage(c, domain.ChangeTags),
		})
		if err != nil {
			return err
		}

		tagsJSON, err := json.Marshal(sorted)
		if err != nil {
			return apperr.NewInternalError("marshal tags", err)
		}
		const stmt = `UPDATE pages SET tags = $1 WHERE page_id = $2`
		if err := tx.Exec(ctx, stmt, string(tagsJSON), int64(p.ID)); err != nil {
			return apperr.NewDatabaseError("page.Tags.update", err)
		}

		revisionID, err := insertRevisionReturningID(ctx, tx, c, domain.ChangeTags, commitHash)
		if err != nil {
			return err
		}

		addedJSON, _ := json.Marshal(added)
		removedJSON, _ := json.Marshal(removed)
		const tagStmt = `INSERT INTO tag_history (revision_id, added_tags, removed_tags) VALUES ($1, $2, $3)`
		if err := tx.Exec(ctx, tagStmt, int64(revisionID), string(addedJSON), string(removedJSON)); err != nil {
			return apperr.NewDatabaseError("page.Tags.tagHistory", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return added, removed, nil
}

// diffTags returns the sorted added/removed sets transforming old into
// updated. Both old and updated must already be sorted.
func diffTags(old, updated []string) (added, removed []string) {
	oldSet := make(map[string]bool, len(old))
	for _, t := range old {
		oldSet[t] = true
	}
	updatedSet := make(map[string]bool, len(updated))
	for _, t := range updated {
		updatedSet[t] = true
	}
	for _, t := range updated {
		if !oldSet[t] {
			added = append(added, t)
		}
	}
	for _, t := range old {
		if !updatedSet[t] {
			removed = append(removed, t)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// GetPage returns the live page for (wikiID, slug).
func (s *Service) GetPage(ctx context.Context, wikiID domain.WikiID, slug string) (*domain.Page, error) {
	return getLivePageBySlug(ctx, s.conn, wikiID, slug)
}

// GetPageByID returns the page (live or deleted) for pageID.
func (s *Service) GetPageByID(ctx context.Context, pageID domain.PageID) (*domain.Page, error) {
	return getPageByID(ctx, s.conn, pageID)
}

// GetPageContents returns the current blob for the live page at (wikiID, slug).
func (s *Service) GetPageContents(ctx context.Context, wikiID domain.WikiID, slug string) ([]byte, error) {
	if _, err := getLivePageBySlug(ctx, s.conn, wikiID, slug); err != nil {
		return nil, err
	}
	store, err := s.store(wikiID)
	if err != nil {
		return nil, err
	}
	return store.GetPage(slug)
}

// GetPageContentsByID returns the current blob for pageID, whatever its state.
func (s *Service) GetPageContentsByID(ctx context.Context, pageID domain.PageID) ([]byte, error) {
	p, err := getPageByID(ctx, s.conn, pageID)
	if err != nil {
		return nil, err
	}
	store, err := s.store(p.WikiID)
	if err != nil {
		return nil, err
	}
	return store.GetPage(p.Slug)
}

// GetPageVersion resolves revisionID to its store commit and returns the
// blob as of that commit.
func (s *Service) GetPageVersion(ctx context.Context, revisionID domain.RevisionID) ([]byte, error) {
	rev, err := getRevision(ctx, s.conn, revisionID)
	if err != nil {
		return nil, err
	}
	p, err := getPageByID(ctx, s.conn, rev.PageID)
	if err != nil {
		return nil, err
	}
	store, err := s.store(p.WikiID)
	if err != nil {
		return nil, err
	}
	return store.GetPageVersion(p.Slug, rev.GitCommit)
}

// GetDiff returns the textual diff of a page's content between two revisions.
func (s *Service) GetDiff(ctx context.Context, first, second domain.RevisionID) (string, error) {
	firstRev, err := getRevision(ctx, s.conn, first)
	if err != nil {
		return "", err
	}
	secondRev, err := getRevision(ctx, s.conn, second)
	if err != nil {
		return "", err
	}
	p, err := getPageByID(ctx, s.conn, firstRev.PageID)
	if err != nil {
		return "", err
	}
	store, err := s.store(p.WikiID)
	if err != nil {
		return "", err
	}
	return store.GetDiff(p.Slug, firstRev.GitCommit, secondRev.GitCommit)
}

// GetBlame returns blame for the live page at (wikiID, slug).
func (s *Service) GetBlame(ctx context.Context, wikiID domain.WikiID, slug string) ([]domain.BlameLine, error) {
	if _, err := getLivePageBySlug(ctx, s.conn, wikiID, slug); err != nil {
		return nil, err
	}
	store, err := s.store(wikiID)
	if err != nil {
		return nil, err
	}
	return store.GetBlame(slug, nil)
}

// GetBlameByID returns blame for pageID.
func (s *Service) GetBlameByID(ctx context.Context, pageID domain.PageID) ([]domain.BlameLine, error) {
	p, err := getPageByID(ctx, s.conn, pageID)
	if err != nil {
		return nil, err
	}
	store, err := s.store(p.WikiID)
	if err != nil {
		return nil, err
	}
	return store.GetBlame(p.Slug, nil)
}

// EditRevision mutates only the human-visible message of a revision,
// never the commit id it references.
func (s *Service) EditRevision(ctx context.Context, revisionID domain.RevisionID, message string) error {
	const stmt = `UPDATE revisions SET message = $1 WHERE revision_id = $2`
	if err := s.conn.Exec(ctx, stmt, message, int64(revisionID)); err != nil {
		return apperr.NewDatabaseError("page.EditRevision", err)
	}
	return nil
}
