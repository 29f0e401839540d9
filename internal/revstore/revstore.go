// Package revstore implements a per-wiki content-addressed history of page
// blobs backed by an in-process git repository, keyed by opaque commit
// hashes instead of shelling out to a git binary.
package revstore

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/baitcenter/deepwell/internal/apperr"
	"github.com/baitcenter/deepwell/internal/domain"
	"github.com/baitcenter/deepwell/internal/slugutil"
)

// blobCacheSize caps the number of (hash, slug) -> content entries kept per
// wiki, rather than letting historical reads grow the working set
// unbounded.
const blobCacheSize = 512

type blobCacheKey struct {
	hash string
	slug string
}

// CommitInfo carries the author name and the already-formatted commit
// message for a store-level commit. Callers generate Message in whatever
// format their domain needs ("User ID <uid> <verb> page ID <pid> on wiki
// ID <wid>" for the page service); the store itself is agnostic to that
// format.
type CommitInfo struct {
	Username string
	Message  string
}

// Store is a single wiki's content-addressed blob history: a linear,
// merge-free commit chain over a working directory of slug-named files.
type Store struct {
	mu     sync.RWMutex
	repo   *git.Repository
	wt     *git.Worktree
	fs     billy.Filesystem
	domain string

	blobs *lru.Cache[blobCacheKey, []byte]
}

// Open opens the git repository rooted at dir, initializing a fresh one if
// none exists yet. domain is the author-suffix used for future commits.
func Open(dir, domainName string) (*Store, error) {
	repo, err := git.PlainOpen(dir)
	if err == git.ErrRepositoryNotExists {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, apperr.NewIOError("revstore.Open", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, apperr.NewIOError("revstore.Open.worktree", err)
	}

	blobs, err := lru.New[blobCacheKey, []byte](blobCacheSize)
	if err != nil {
		return nil, apperr.NewInternalError("revstore.Open: build blob cache", err)
	}

	return &Store{repo: repo, wt: wt, fs: wt.Filesystem, domain: domainName, blobs: blobs}, nil
}

// SetDomain updates the author-suffix used for future commits. Idempotent.
func (s *Store) SetDomain(newDomain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domain = newDomain
}

// InitialCommit creates the first, empty commit on a freshly initialized
// repository. Must be called exactly once per wiki, by the Page Service's
// add_store operation.
func (s *Store) InitialCommit() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked("Initial commit", "DEEPWELL", true)
}

// Commit writes content to the blob named slug (creating or overwriting it)
// and records a commit attributed to info.Username with message info.Message.
func (s *Store) Commit(slug string, content []byte, info CommitInfo) (string, error) {
	if !slugutil.IsNormal(slug) {
		return "", apperr.ErrSlugNotNormal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeFile(slug, content); err != nil {
		return "", err
	}
	if _, err := s.wt.Add(slug); err != nil {
		return "", apperr.NewIOError("revstore.Commit.add", err)
	}
	return s.commitLocked(info.Message, info.Username, false)
}

// Rename moves the blob at oldSlug to newSlug and commits. Fails with
// apperr.ErrPageNotFound if oldSlug is absent, apperr.ErrPageExists if
// newSlug is already occupied.
func (s *Store) Rename(oldSlug, newSlug string, info CommitInfo) (string, error) {
	if !slugutil.IsNormal(oldSlug) || !slugutil.IsNormal(newSlug) {
		return "", apperr.ErrSlugNotNormal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.readFile(oldSlug)
	if err != nil {
		return "", err
	}
	if content == nil {
		return "", apperr.ErrPageNotFound
	}
	existing, err := s.readFile(newSlug)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", apperr.ErrPageExists
	}

	if _, err := s.wt.Remove(oldSlug); err != nil {
		return "", apperr.NewIOError("revstore.Rename.remove", err)
	}
	if err := s.writeFile(newSlug, content); err != nil {
		return "", err
	}
	if _, err := s.wt.Add(newSlug); err != nil {
		return "", apperr.NewIOError("revstore.Rename.add", err)
	}
	return s.commitLocked(info.Message, info.Username, false)
}

// Remove deletes the blob named slug and commits. Returns ok=false without
// committing if slug was already absent.
func (s *Store) Remove(slug string, info CommitInfo) (hash string, ok bool, err error) {
	if !slugutil.IsNormal(slug) {
		return "", false, apperr.ErrSlugNotNormal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.readFile(slug)
	if err != nil {
		return "", false, err
	}
	if content == nil {
		return "", false, nil
	}

	if _, err := s.wt.Remove(slug); err != nil {
		return "", false, apperr.NewIOError("revstore.Remove", err)
	}
	hash, err = s.commitLocked(info.Message, info.Username, false)
	return hash, true, err
}

// Restore copies the blob that existed at commit atHash under name oldSlug
// to name newSlug, and commits.
func (s *Store) Restore(newSlug, oldSlug, atHash string, info CommitInfo) (string, error) {
	if !slugutil.IsNormal(newSlug) || !slugutil.IsNormal(oldSlug) {
		return "", apperr.ErrSlugNotNormal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.blobAt(atHash, oldSlug)
	if err != nil {
		return "", err
	}
	if content == nil {
		return "", apperr.ErrPageNotFound
	}

	if err := s.writeFile(newSlug, content); err != nil {
		return "", err
	}
	if _, err := s.wt.Add(newSlug); err != nil {
		return "", apperr.NewIOError("revstore.Restore.add", err)
	}
	return s.commitLocked(info.Message, info.Username, false)
}

// EmptyCommit records a commit with no tree change, for tag-only revisions
// so every revision id still maps to a commit id.
func (s *Store) EmptyCommit(info CommitInfo) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(info.Message, info.Username, true)
}

// GetPage returns the current contents of slug, or nil if absent.
func (s *Store) GetPage(slug string) ([]byte, error) {
	if !slugutil.IsNormal(slug) {
		return nil, apperr.ErrSlugNotNormal
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readFile(slug)
}

// GetPageVersion returns the contents of slug as of commit hash, or nil if
// the blob did not exist at that commit.
func (s *Store) GetPageVersion(slug, hash string) ([]byte, error) {
	if !slugutil.IsNormal(slug) {
		return nil, apperr.ErrSlugNotNormal
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blobAt(hash, slug)
}

// GetDiff returns a line-oriented unified-style diff of slug's content
// between commits first and second.
func (s *Store) GetDiff(slug, first, second string) (string, error) {
	if !slugutil.IsNormal(slug) {
		return "", apperr.ErrSlugNotNormal
	}

	before, err := s.GetPageVersion(slug, first)
	if err != nil {
		return "", err
	}
	after, err := s.GetPageVersion(slug, second)
	if err != nil {
		return "", err
	}

	dmp := diffmatchpatch.New()
	charsBefore, charsAfter, lineArray := dmp.DiffLinesToChars(string(before), string(after))
	diffs := dmp.DiffMain(charsBefore, charsAfter, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var b strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			b.WriteString(prefix)
			b.WriteString(strings.TrimSuffix(line, "\n"))
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// GetBlame returns per-line attribution for slug as of hashOpt (or the
// current HEAD if nil), or nil if the blob does not exist there.
func (s *Store) GetBlame(slug string, hashOpt *string) ([]domain.BlameLine, error) {
	if !slugutil.IsNormal(slug) {
		return nil, apperr.ErrSlugNotNormal
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var commit *object.Commit
	var err error
	if hashOpt != nil {
		commit, err = s.repo.CommitObject(plumbing.NewHash(*hashOpt))
	} else {
		var head *plumbing.Reference
		head, err = s.repo.Head()
		if err == nil {
			commit, err = s.repo.CommitObject(head.Hash())
		}
	}
	if err != nil {
		return nil, apperr.NewIOError("revstore.GetBlame", err)
	}

	result, err := git.Blame(commit, slug)
	if err != nil {
		if err == object.ErrFileNotFound {
			return nil, nil
		}
		return nil, apperr.NewIOError("revstore.GetBlame.blame", err)
	}

	out := make([]domain.BlameLine, len(result.Lines))
	for i, line := range result.Lines {
		out[i] = domain.BlameLine{
			Line:       i + 1,
			Commit:     line.Hash.String(),
			Author:     line.Author,
			SourceLine: i + 1,
		}
	}
	return out, nil
}

// commitLocked records a commit; caller must hold s.mu.
func (s *Store) commitLocked(message, username string, allowEmpty bool) (string, error) {
	sig := &object.Signature{
		Name:  username,
		Email: fmt.Sprintf("noreply@%s", s.domain),
		When:  time.Now(),
	}
	hash, err := s.wt.Commit(message, &git.CommitOptions{
		Author:            sig,
		AllowEmptyCommits: allowEmpty,
	})
	if err != nil {
		return "", apperr.NewIOError("revstore.commit", err)
	}
	commitsTotal.WithLabelValues(s.domain).Inc()
	return hash.String(), nil
}

// blobAt reads slug's content as of commit hash, returning nil if absent.
// Historical reads are cached by (hash, slug) since a commit's tree never
// changes once written.
func (s *Store) blobAt(hash, slug string) ([]byte, error) {
	key := blobCacheKey{hash: hash, slug: slug}
	if cached, ok := s.blobs.Get(key); ok {
		blobCacheHits.WithLabelValues(s.domain).Inc()
		return cached, nil
	}
	blobCacheMisses.WithLabelValues(s.domain).Inc()

	commit, err := s.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, apperr.NewIOError("revstore.blobAt", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, apperr.NewIOError("revstore.blobAt.tree", err)
	}
	file, err := tree.File(slug)
	if err != nil {
		if err == object.ErrFileNotFound {
			return nil, nil
		}
		return nil, apperr.NewIOError("revstore.blobAt.file", err)
	}
	content, err := file.Contents()
	if err != nil {
		return nil, apperr.NewIOError("revstore.blobAt.contents", err)
	}
	out := []byte(content)
	s.blobs.Add(key, out)
	return out, nil
}

// readFile reads slug directly from the working tree, returning nil if absent.
func (s *Store) readFile(slug string) ([]byte, error) {
	f, err := s.fs.Open(slug)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.NewIOError("revstore.readFile", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperr.NewIOError("revstore.readFile", err)
	}
	return data, nil
}

// writeFile overwrites slug in the working tree with content.
func (s *Store) writeFile(slug string, content []byte) error {
	f, err := s.fs.Create(slug)
	if err != nil {
		return apperr.NewIOError("revstore.writeFile", err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return apperr.NewIOError("revstore.writeFile", err)
	}
	return nil
}
