// Package blobstore provides storage abstraction for trained model bundles.
//
// Store is the interface for reading and writing immutable blobs by name.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with memory-mapped reads and atomic writes
//   - MemoryStore: in-memory store for tests
//   - CachingStore: read-through bundle cache in front of another store
//   - s3.Store: Amazon S3 with streaming uploads and paginated listing
//   - minio.Store: MinIO and other S3-compatible systems
//
// # Custom Implementations
//
// Implement the Store interface to support custom storage backends:
//
//	type Store interface {
//	    Open(ctx, name) (Blob, error)            // Open for sequential reading
//	    Create(ctx, name) (WritableBlob, error)  // Create for streaming writes
//	    Put(ctx, name, data) error               // Atomic one-shot write
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// A blob written through Create becomes visible only once Close returns
// nil, so an interrupted writer never leaves a partial bundle behind.
package blobstore
