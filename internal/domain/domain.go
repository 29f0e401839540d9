// Package domain holds the plain data types shared by every deepwell
// component, mirroring the relational schema.
package domain

import (
	"net"
	"time"
)

// WikiID, UserID, PageID and RevisionID are opaque 64-bit identifiers.
type (
	WikiID     int64
	UserID     int64
	PageID     int64
	RevisionID int64
)

// Wiki is a tenant: a named, slug-addressed collection of pages with its
// own revision-store working directory.
type Wiki struct {
	ID     WikiID
	Name   string
	Slug   string
	Domain string
}

// User is an author/reader account.
type User struct {
	ID         UserID
	Name       string
	Email      string
	IsVerified bool
	IsBot      bool
	AuthorPage string
	Website    string
	About      string
	Gender     string
	Location   string
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

// Deleted reports whether the user has been soft-deleted.
func (u *User) Deleted() bool { return u.DeletedAt != nil }

// Password is the per-user memory-hard hash record.
type Password struct {
	UserID UserID
	Hash   []byte
	Salt   []byte
	LogN   uint8
	R      uint32
	P      uint32
}

// Session is the single active login session for a user.
type Session struct {
	UserID    UserID
	Token     string
	IPAddress net.IPNet
	CreatedAt time.Time
}

// ChangeType enumerates the kinds of revision a page can record.
type ChangeType string

const (
	ChangeCreate  ChangeType = "create"
	ChangeModify  ChangeType = "modify"
	ChangeRename  ChangeType = "rename"
	ChangeDelete  ChangeType = "delete"
	ChangeRestore ChangeType = "restore"
	ChangeTags    ChangeType = "tags"
)

// Verb returns the word used in the store commit message for this change
// type.
func (c ChangeType) Verb() string {
	switch c {
	case ChangeCreate:
		return "created"
	case ChangeModify:
		return "modified"
	case ChangeRename:
		return "renamed"
	case ChangeDelete:
		return "deleted"
	case ChangeRestore:
		return "restored"
	case ChangeTags:
		return "tagged"
	default:
		return string(c)
	}
}

// Page is a named document within a wiki, identified by a unique
// (wiki_id, slug) pair while live.
type Page struct {
	ID        PageID
	WikiID    WikiID
	Slug      string
	Title     string
	AltTitle  *string
	Tags      []string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the page is currently soft-deleted.
func (p *Page) Deleted() bool { return p.DeletedAt != nil }

// Revision is a relational record pairing a store commit id with
// human-facing metadata.
type Revision struct {
	ID         RevisionID
	PageID     PageID
	UserID     UserID
	Message    string
	GitCommit  string
	ChangeType ChangeType
	CreatedAt  time.Time
}

// TagChange is the sorted, disjoint added/removed tag sets attached to a
// Tags revision.
type TagChange struct {
	RevisionID  RevisionID
	AddedTags   []string
	RemovedTags []string
}

// BlameLine attributes one line of a page's current (or historical)
// content to the commit that last touched it.
type BlameLine struct {
	Line       int
	Commit     string
	Author     string
	SourceLine int
}
