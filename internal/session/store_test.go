package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "db.json")
}

func TestOpenMissingFileFails(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestOpenCorruptFileFails(t *testing.T) {
	path := storePath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Open(path)
	require.Error(t, err)
}

func TestPutPersistsImmediately(t *testing.T) {
	path := storePath(t)
	require.NoError(t, Seed(path))

	store, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, 0, store.Len())

	require.NoError(t, store.Put("42", Session{Token: "tok-1", StudentID: "100"}))

	// A second Open must see the write without any explicit flush.
	reloaded, err := Open(path)
	require.NoError(t, err)
	sess, ok := reloaded.Get("42")
	require.True(t, ok)
	require.Equal(t, "tok-1", sess.Token)
	require.Equal(t, "100", sess.StudentID)
}

func TestPutOverwritesWholesale(t *testing.T) {
	path := storePath(t)
	require.NoError(t, Seed(path))

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Put("42", Session{Token: "old", StudentID: "1"}))
	require.NoError(t, store.Put("42", Session{Token: "new", StudentID: "2"}))

	sess, ok := store.Get("42")
	require.True(t, ok)
	require.Equal(t, Session{Token: "new", StudentID: "2"}, sess)
	require.Equal(t, 1, store.Len())
}

func TestGetAbsentChat(t *testing.T) {
	path := storePath(t)
	require.NoError(t, Seed(path))
	store, err := Open(path)
	require.NoError(t, err)

	_, ok := store.Get("99")
	require.False(t, ok)
}

func TestSeedRefusesExistingFile(t *testing.T) {
	path := storePath(t)
	require.NoError(t, Seed(path))
	require.Error(t, Seed(path))
}
