package page

import (
	"context"
	"encoding/json"
	"time"

	"github.com/baitcenter/deepwell/internal/apperr"
	"github.com/baitcenter/deepwell/internal/db"
	"github.com/baitcenter/deepwell/internal/domain"
)

const pageColumns = `page_id, wiki_id, slug, title, alt_title, tags, created_at, deleted_at`

func scanPage(row db.Row) (*domain.Page, error) {
	var (
		p         domain.Page
		id        int64
		wikiID    int64
		tagsJSON  string
		deletedAt *time.Time
	)
	if err := row.Scan(&id, &wikiID, &p.Slug, &p.Title, &p.AltTitle, &tagsJSON, &p.CreatedAt, &deletedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.ErrPageNotFound
		}
		return nil, apperr.NewDatabaseError("page.scanPage", err)
	}
	p.ID = domain.PageID(id)
	p.WikiID = domain.WikiID(wikiID)
	p.DeletedAt = deletedAt

	tags := []string{}
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil, apperr.NewInternalError("unmarshal page tags", err)
	}
	p.Tags = tags
	return &p, nil
}

func getLivePageBySlug(ctx context.Context, conn db.Queryer, wikiID domain.WikiID, slug string) (*domain.Page, error) {
	stmt := `SELECT ` + pageColumns + ` FROM pages WHERE wiki_id = $1 AND slug = $2 AND deleted_at IS NULL`
	return scanPage(conn.QueryRow(ctx, stmt, int64(wikiID), slug))
}

func getPageByID(ctx context.Context, conn db.Queryer, pageID domain.PageID) (*domain.Page, error) {
	stmt := `SELECT ` + pageColumns + ` FROM pages WHERE page_id = $1`
	return scanPage(conn.QueryRow(ctx, stmt, int64(pageID)))
}

func liveBySlug(ctx context.Context, conn db.Queryer, wikiID domain.WikiID, slug string) (bool, error) {
	const stmt = `SELECT page_id FROM pages WHERE wiki_id = $1 AND slug = $2 AND deleted_at IS NULL`
	var id int64
	err := conn.QueryRow(ctx, stmt, int64(wikiID), slug).Scan(&id)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, apperr.NewDatabaseError("page.liveBySlug", err)
	}
	return true, nil
}

// findDeletedPage resolves the Restore target: by explicit pageID (verified
// to belong to wikiID) if nonzero, otherwise the most recently created
// soft-deleted page matching (wikiID, slug).
func findDeletedPage(ctx context.Context, conn db.Queryer, wikiID domain.WikiID, pageID domain.PageID, slug string) (*domain.Page, error) {
	if pageID != 0 {
		p, err := getPageByID(ctx, conn, pageID)
		if err != nil {
			return nil, err
		}
		if p.WikiID != wikiID {
			return nil, apperr.ErrPageNotFound
		}
		if !p.Deleted() {
			return nil, apperr.ErrPageExists
		}
		return p, nil
	}

	stmt := `SELECT ` + pageColumns + ` FROM pages
		WHERE wiki_id = $1 AND slug = $2 AND deleted_at IS NOT NULL
		ORDER BY created_at DESC LIMIT 1`
	return scanPage(conn.QueryRow(ctx, stmt, int64(wikiID), slug))
}

func mostRecentNonDeleteCommit(ctx context.Context, conn db.Queryer, pageID domain.PageID) (string, error) {
	const stmt = `SELECT git_commit FROM revisions
		WHERE page_id = $1 AND change_type != 'delete'
		ORDER BY revision_id DESC LIMIT 1`
	var hash string
	if err := conn.QueryRow(ctx, stmt, int64(pageID)).Scan(&hash); err != nil {
		if db.IsNoRows(err) {
			return "", apperr.ErrRevisionNotFound
		}
		return "", apperr.NewDatabaseError("page.mostRecentNonDeleteCommit", err)
	}
	return hash, nil
}

func insertRevision(ctx context.Context, conn db.Queryer, c Commit, change domain.ChangeType, gitCommit string) error {
	_, err := insertRevisionReturningID(ctx, conn, c, change, gitCommit)
	return err
}

func insertRevisionReturningID(ctx context.Context, conn db.Queryer, c Commit, change domain.ChangeType, gitCommit string) (domain.RevisionID, error) {
	const stmt = `
		INSERT INTO revisions (page_id, user_id, message, git_commit, change_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING revision_id`
	var id int64
	err := conn.QueryRow(ctx, stmt, int64(c.PageID), int64(c.UserID), c.Message, gitCommit, string(change), time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, apperr.NewDatabaseError("page.insertRevision", err)
	}
	return domain.RevisionID(id), nil
}

func getRevision(ctx context.Context, conn db.Queryer, revisionID domain.RevisionID) (*domain.Revision, error) {
	const stmt = `
		SELECT revision_id, page_id, user_id, message, git_commit, change_type, created_at
		FROM revisions WHERE revision_id = $1`
	var (
		r          domain.Revision
		id         int64
		pageID     int64
		userID     int64
		changeType string
	)
	err := conn.QueryRow(ctx, stmt, int64(revisionID)).Scan(&id, &pageID, &userID, &r.Message, &r.GitCommit, &changeType, &r.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.ErrRevisionNotFound
		}
		return nil, apperr.NewDatabaseError("page.getRevision", err)
	}
	r.ID = domain.RevisionID(id)
	r.PageID = domain.PageID(pageID)
	r.UserID = domain.UserID(userID)
	r.ChangeType = domain.ChangeType(changeType)
	return &r, nil
}
