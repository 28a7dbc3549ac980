package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for accessing immutable, named blobs
// (model bundles and the small pointer objects used to publish them).
type Store interface {
	// Open opens a blob for sequential reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Create starts a streaming write. The blob becomes visible to
	// readers only after Close returns nil.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Put writes a blob in one shot. The write is atomic: readers see
	// either the previous content or the new content, never a mix.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the blob names under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a blob.
type Blob interface {
	io.Reader
	io.Closer

	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is a streaming handle for writing a blob.
// It is not safe for concurrent use.
type WritableBlob interface {
	io.Writer
	io.Closer

	// Abort discards the blob. Nothing is committed and any partially
	// uploaded data is cleaned up. Abort after Close is a no-op.
	Abort() error

	// Sync flushes buffered data to stable storage where the backend
	// supports it. Remote stores commit only on Close and treat Sync
	// as a no-op.
	Sync() error
}
