package revstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baitcenter/deepwell/internal/apperr"
	"github.com/baitcenter/deepwell/internal/revstore"
)

func newTestStore(t *testing.T) *revstore.Store {
	t.Helper()
	s, err := revstore.Open(t.TempDir(), "example.net")
	require.NoError(t, err)
	_, err = s.InitialCommit()
	require.NoError(t, err)
	return s
}

func TestCommitAndGetPage(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.Commit("hello-world", []byte("hello\n"), revstore.CommitInfo{
		Username: "squirrelbird",
		Message:  "User ID 1 created page ID 1 on wiki ID 1",
	})
	require.NoError(t, err)
	assert.Len(t, hash, 40)

	content, err := s.GetPage("hello-world")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))

	missing, err := s.GetPage("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestCreateModifyDiff commits a page, modifies it, and checks the diff
// between the two commits contains both versions of the content.
func TestCreateModifyDiff(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Commit("page", []byte("hello\n"), revstore.CommitInfo{
		Username: "user", Message: "created",
	})
	require.NoError(t, err)

	second, err := s.Commit("page", []byte("hello world\n"), revstore.CommitInfo{
		Username: "user", Message: "modified",
	})
	require.NoError(t, err)

	diff, err := s.GetDiff("page", first, second)
	require.NoError(t, err)
	assert.Contains(t, diff, "hello\n")
	assert.Contains(t, diff, "hello world\n")
}

// TestRoundTripDeleteRestore checks that removing then restoring a blob
// reproduces its exact content.
func TestRoundTripDeleteRestore(t *testing.T) {
	s := newTestStore(t)

	atCreate, err := s.Commit("page", []byte("content"), revstore.CommitInfo{
		Username: "user", Message: "created",
	})
	require.NoError(t, err)

	_, ok, err := s.Remove("page", revstore.CommitInfo{Username: "user", Message: "deleted"})
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = s.Remove("page", revstore.CommitInfo{Username: "user", Message: "deleted"})
	require.NoError(t, err)
	assert.False(t, ok)

	gone, err := s.GetPage("page")
	require.NoError(t, err)
	assert.Nil(t, gone)

	_, err = s.Restore("page", "page", atCreate, revstore.CommitInfo{Username: "user", Message: "restored"})
	require.NoError(t, err)

	back, err := s.GetPage("page")
	require.NoError(t, err)
	assert.Equal(t, "content", string(back))
}

// TestRenameUniqueness checks that renaming onto an occupied slug fails
// and that renaming onto a free slug frees the old one.
func TestRenameUniqueness(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Commit("a", []byte("A"), revstore.CommitInfo{Username: "user", Message: "created a"})
	require.NoError(t, err)
	_, err = s.Commit("b", []byte("B"), revstore.CommitInfo{Username: "user", Message: "created b"})
	require.NoError(t, err)

	_, err = s.Rename("a", "b", revstore.CommitInfo{Username: "user", Message: "renamed"})
	assert.ErrorIs(t, err, apperr.ErrPageExists)

	_, err = s.Rename("a", "c", revstore.CommitInfo{Username: "user", Message: "renamed"})
	require.NoError(t, err)

	gone, err := s.GetPage("a")
	require.NoError(t, err)
	assert.Nil(t, gone)

	got, err := s.GetPage("c")
	require.NoError(t, err)
	assert.Equal(t, "A", string(got))
}

func TestSlugNotNormalRejected(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Commit("Not Normal", []byte("x"), revstore.CommitInfo{Username: "user", Message: "m"})
	assert.ErrorIs(t, err, apperr.ErrSlugNotNormal)
}
