package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiskStoreWriteAndRemove(t *testing.T) {
	store, err := NewDiskStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	rel, err := store.Write("abc123.png", []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, "abc123.png", rel)

	full, err := store.Path(rel)
	require.NoError(t, err)

	data, err := os.ReadFile(full)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)

	require.NoError(t, store.Remove(rel))
	_, err = os.Stat(full)
	require.True(t, os.IsNotExist(err))

	// Removing twice is a no-op.
	require.NoError(t, store.Remove(rel))
}

func TestDiskStoreRejectsUnsafeNames(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../escape", "a/b.png", `a\b.png`, "..", "x..y"} {
		_, err := store.Write(name, []byte("x"))
		require.Error(t, err, "name %q must be rejected", name)
	}

	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	require.Empty(t, entries, "no file may be written for rejected names")
}

func TestNewDiskStoreRequiresRoot(t *testing.T) {
	_, err := NewDiskStore("  ")
	require.Error(t, err)
}

func TestDiskStoreOverwriteKeepsLatestContent(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Write("same.bin", []byte("first"))
	require.NoError(t, err)

	// Content-addressed names collide only for identical content, but an
	// interrupted earlier write may leave a partial file behind.
	_, err = store.Write("same.bin", []byte("second"))
	require.NoError(t, err)

	full, err := store.Path("same.bin")
	require.NoError(t, err)
	data, err := os.ReadFile(full)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), data)
}
