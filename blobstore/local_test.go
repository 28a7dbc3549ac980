package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Lifecycle(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	name := "bundle-001.cyt"
	data := []byte("hello world, this is a test blob for cytogo")

	// Create and write
	w, err := store.Create(ctx, name)
	require.NoError(t, err)

	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	// Open and read back
	blob, err := store.Open(ctx, name)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())

	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.NoError(t, blob.Close())

	// Reads after Close fail instead of touching unmapped memory.
	_, err = blob.Read(make([]byte, 1))
	require.ErrorIs(t, err, os.ErrClosed)

	// List
	name2 := "bundle-002.cyt"
	require.NoError(t, store.Put(ctx, name2, []byte("x")))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{name, name2}, names)

	// Delete
	require.NoError(t, store.Delete(ctx, name))
	require.NoError(t, store.Delete(ctx, name)) // already gone

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{name2}, names)

	_, err = store.Open(ctx, name)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_NestedNames(t *testing.T) {
	root := t.TempDir()
	store := NewLocalStore(root)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "models/a/bundle.cyt", []byte("a")))
	require.NoError(t, store.Put(ctx, "models/b/bundle.cyt", []byte("b")))
	require.NoError(t, store.Put(ctx, "other.cyt", []byte("o")))

	names, err := store.List(ctx, "models/")
	require.NoError(t, err)
	require.Equal(t, []string{"models/a/bundle.cyt", "models/b/bundle.cyt"}, names)

	blob, err := store.Open(ctx, "models/b/bundle.cyt")
	require.NoError(t, err)
	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), got)
	require.NoError(t, blob.Close())

	// Names map onto real paths under the root.
	_, err = os.Stat(filepath.Join(root, "models", "a", "bundle.cyt"))
	require.NoError(t, err)
}

func TestLocalStore_CreateIsAtomic(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	w, err := store.Create(ctx, "pending.cyt")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	// The in-flight write is invisible.
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = store.Open(ctx, "pending.cyt")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Close())

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"pending.cyt"}, names)
}

func TestLocalStore_Abort(t *testing.T) {
	root := t.TempDir()
	store := NewLocalStore(root)
	ctx := context.Background()

	w, err := store.Create(ctx, "aborted.cyt")
	require.NoError(t, err)
	_, err = w.Write([]byte("discard me"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	_, err = store.Open(ctx, "aborted.cyt")
	require.ErrorIs(t, err, ErrNotFound)

	// The temp file is cleaned up as well.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Abort after Abort is a no-op; Write and Close after Abort fail.
	require.NoError(t, w.Abort())
	_, err = w.Write([]byte("x"))
	require.ErrorIs(t, err, os.ErrClosed)
	require.ErrorIs(t, w.Close(), os.ErrClosed)
}

func TestLocalStore_Overwrite(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "bundle.cyt", []byte("version one")))
	require.NoError(t, store.Put(ctx, "bundle.cyt", []byte("two")))

	blob, err := store.Open(ctx, "bundle.cyt")
	require.NoError(t, err)
	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), got)
	require.NoError(t, blob.Close())
}

func TestLocalStore_EmptyBlob(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "empty.cyt", nil))

	blob, err := store.Open(ctx, "empty.cyt")
	require.NoError(t, err)
	require.Equal(t, int64(0), blob.Size())

	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, blob.Close())
}

func TestLocalStore_MissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "never-created"))
	ctx := context.Background()

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = store.Open(ctx, "anything")
	require.ErrorIs(t, err, ErrNotFound)
}
