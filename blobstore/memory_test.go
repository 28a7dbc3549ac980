package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "b.cyt", []byte("bravo")))
	require.NoError(t, store.Put(ctx, "a.cyt", []byte("alpha")))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.cyt", "b.cyt"}, names)

	blob, err := store.Open(ctx, "a.cyt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), blob.Size())

	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), got)
	require.NoError(t, blob.Close())

	require.NoError(t, store.Delete(ctx, "a.cyt"))
	_, err = store.Open(ctx, "a.cyt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CreateCommitsOnClose(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	w, err := store.Create(ctx, "streamed.cyt")
	require.NoError(t, err)
	_, err = w.Write([]byte("part one "))
	require.NoError(t, err)
	_, err = w.Write([]byte("part two"))
	require.NoError(t, err)

	// Invisible until Close.
	_, err = store.Open(ctx, "streamed.cyt")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Close())

	blob, err := store.Open(ctx, "streamed.cyt")
	require.NoError(t, err)
	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	assert.Equal(t, "part one part two", string(got))
	require.NoError(t, blob.Close())
}

func TestMemoryStore_AbortDiscards(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	w, err := store.Create(ctx, "dropped.cyt")
	require.NoError(t, err)
	_, err = w.Write([]byte("never seen"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	_, err = store.Open(ctx, "dropped.cyt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_OpenIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "shared.cyt", []byte("original")))

	blob, err := store.Open(ctx, "shared.cyt")
	require.NoError(t, err)

	// Overwriting must not affect the already open reader.
	require.NoError(t, store.Put(ctx, "shared.cyt", []byte("replaced")))

	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
	require.NoError(t, blob.Close())
}

func TestMemoryStore_ListPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "models/a.cyt", nil))
	require.NoError(t, store.Put(ctx, "models/b.cyt", nil))
	require.NoError(t, store.Put(ctx, "other/c.cyt", nil))

	names, err := store.List(ctx, "models/")
	require.NoError(t, err)
	assert.Equal(t, []string{"models/a.cyt", "models/b.cyt"}, names)
}
