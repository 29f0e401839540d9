// Package server implements the single entry point that composes the Page
// Service, User Manager, Password Engine, Session Manager, and Wiki
// Catalog behind one shared database handle, normalizing slugs and
// domains before delegating.
package server

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"github.com/baitcenter/deepwell/internal/apperr"
	"github.com/baitcenter/deepwell/internal/catalog"
	"github.com/baitcenter/deepwell/internal/db"
	"github.com/baitcenter/deepwell/internal/domain"
	"github.com/baitcenter/deepwell/internal/logger"
	"github.com/baitcenter/deepwell/internal/page"
	"github.com/baitcenter/deepwell/internal/password"
	"github.com/baitcenter/deepwell/internal/session"
	"github.com/baitcenter/deepwell/internal/slugutil"
	"github.com/baitcenter/deepwell/internal/user"
)

// Server composes every component over a shared database handle. It is the
// only type client-facing transports should depend on.
type Server struct {
	conn db.DB
	log  *slog.Logger

	Catalog  *catalog.Catalog
	Users    *user.Manager
	Password *password.Engine
	Sessions *session.Manager
	Pages    *page.Service
}

// New composes a Server from already-constructed components sharing conn.
func New(conn db.DB, log *slog.Logger, cat *catalog.Catalog, users *user.Manager, pw *password.Engine, sessions *session.Manager, pages *page.Service) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{conn: conn, log: log, Catalog: cat, Users: users, Password: pw, Sessions: sessions, Pages: pages}
}

// report logs err at the severity its error family calls for —
// infrastructure at error, authentication at info, everything else at
// warn — and passes it through unchanged.
func (s *Server) report(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	logger.FromContext(ctx, s.log).Log(ctx, apperr.Level(err), "operation failed", "op", op, "error", err)
	return err
}

// CreateWiki normalizes slug and lowercases domain, creates the wiki row
// and cache entry, then registers its revision store.
func (s *Server) CreateWiki(ctx context.Context, name, slug, domainName string) (*domain.Wiki, error) {
	wiki, err := s.Catalog.Create(ctx, name, slugutil.Normalize(slug), strings.ToLower(domainName))
	if err != nil {
		return nil, s.report(ctx, "create_wiki", err)
	}
	if err := s.Pages.AddStore(*wiki); err != nil {
		return nil, s.report(ctx, "create_wiki", err)
	}
	return wiki, nil
}

// CreateUser validates the username, normalizes the email, and atomically
// inserts the user row plus its password record: both writes run against
// the same transaction, so a policy-rejected password leaves no user row
// behind.
func (s *Server) CreateUser(ctx context.Context, name, email, plainPassword string) (*domain.User, error) {
	if !user.ValidName(name) {
		return nil, s.report(ctx, "create_user", apperr.ErrInvalidUserName)
	}
	normalizedEmail := user.NormalizeEmail(email)

	var id domain.UserID
	err := db.WithTx(ctx, s.conn, func(tx db.Tx) error {
		var err error
		if id, err = s.Users.InsertIn(ctx, tx, name, normalizedEmail); err != nil {
			return err
		}
		return s.Password.SetIn(ctx, tx, id, plainPassword)
	})
	if err != nil {
		return nil, s.report(ctx, "create_user", err)
	}
	u, err := s.Users.GetByID(ctx, id)
	if err != nil {
		return nil, s.report(ctx, "create_user", err)
	}
	return u, nil
}

// CreateSession authenticates username against password and, only on
// success, issues a session token — composed in one logical operation so a
// failed authentication never yields a token.
func (s *Server) CreateSession(ctx context.Context, name, plainPassword string, ip net.IPNet) (string, error) {
	u, err := s.Users.GetByName(ctx, name)
	if err != nil {
		if apperr.IsNotFound(err) {
			err = apperr.ErrAuthenticationFailed
		}
		return "", s.report(ctx, "create_session", err)
	}
	if u.Deleted() {
		return "", s.report(ctx, "create_session", apperr.ErrAuthenticationFailed)
	}
	if err := s.Password.Check(ctx, u.ID, plainPassword); err != nil {
		return "", s.report(ctx, "create_session", err)
	}
	token, err := s.Sessions.CreateToken(ctx, u.ID, ip)
	if err != nil {
		return "", s.report(ctx, "create_session", err)
	}
	return token, nil
}

// EndSession revokes the active session for userID.
func (s *Server) EndSession(ctx context.Context, userID domain.UserID) (bool, error) {
	revoked, err := s.Sessions.RevokeToken(ctx, userID)
	if err != nil {
		return false, s.report(ctx, "end_session", err)
	}
	return revoked, nil
}

// CreatePage normalizes slug and delegates to the Page Service.
func (s *Server) CreatePage(ctx context.Context, wikiID domain.WikiID, slug, title string, altTitle *string, content []byte, message string, userID domain.UserID, username string) (*domain.Page, error) {
	normalized := slugutil.Normalize(slug)
	p, err := s.Pages.Create(ctx, page.Commit{
		WikiID: wikiID, Slug: normalized, Message: message, UserID: userID, Username: username,
	}, content, title, altTitle)
	if err != nil {
		return nil, s.report(ctx, "create_page", err)
	}
	return p, nil
}

// RenamePage normalizes both slugs and delegates to the Page Service.
func (s *Server) RenamePage(ctx context.Context, wikiID domain.WikiID, oldSlug, newSlug, message string, userID domain.UserID, username string) (*domain.Page, error) {
	p, err := s.Pages.Rename(ctx, wikiID, slugutil.Normalize(oldSlug), slugutil.Normalize(newSlug), message, userID, username)
	if err != nil {
		return nil, s.report(ctx, "rename_page", err)
	}
	return p, nil
}

// SetPageTags normalizes slug and delegates to the Page Service, returning
// the computed added/removed sets.
func (s *Server) SetPageTags(ctx context.Context, wikiID domain.WikiID, slug string, tags []string, message string, userID domain.UserID, username string) (added, removed []string, err error) {
	normalized := slugutil.Normalize(slug)
	added, removed, err = s.Pages.Tags(ctx, page.Commit{
		WikiID: wikiID, Slug: normalized, Message: message, UserID: userID, Username: username,
	}, tags)
	if err != nil {
		return nil, nil, s.report(ctx, "set_page_tags", err)
	}
	return added, removed, nil
}

// EditPage normalizes slug and delegates to the Page Service's Commit
// operation, updating content and/or metadata of a live page.
func (s *Server) EditPage(ctx context.Context, wikiID domain.WikiID, slug string, content []byte, fields page.EditFields, message string, userID domain.UserID, username string) (*domain.Page, error) {
	normalized := slugutil.Normalize(slug)
	p, err := s.Pages.Commit(ctx, page.Commit{
		WikiID: wikiID, Slug: normalized, Message: message, UserID: userID, Username: username,
	}, content, fields)
	if err != nil {
		return nil, s.report(ctx, "edit_page", err)
	}
	return p, nil
}

// RemovePage normalizes slug and soft-deletes the live page, removing its
// blob from the store.
func (s *Server) RemovePage(ctx context.Context, wikiID domain.WikiID, slug, message string, userID domain.UserID, username string) error {
	normalized := slugutil.Normalize(slug)
	err := s.Pages.Remove(ctx, page.Commit{
		WikiID: wikiID, Slug: normalized, Message: message, UserID: userID, Username: username,
	})
	return s.report(ctx, "remove_page", err)
}

// RestorePage normalizes slug and revives the most recently deleted page
// matching it, or the explicit pageID if nonzero.
func (s *Server) RestorePage(ctx context.Context, wikiID domain.WikiID, slug string, pageID domain.PageID, message string, userID domain.UserID, username string) (*domain.Page, error) {
	normalized := slugutil.Normalize(slug)
	p, err := s.Pages.Restore(ctx, page.Commit{
		WikiID: wikiID, PageID: pageID, Slug: normalized, Message: message, UserID: userID, Username: username,
	})
	if err != nil {
		return nil, s.report(ctx, "restore_page", err)
	}
	return p, nil
}
