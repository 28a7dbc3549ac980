// Package s3 provides an S3 implementation of the blobstore.Store interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("models/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	model, err := cytogo.NewFromStore(ctx, store, "bundle-00000042.cyt")
//
// # Features
//
//   - Streaming reads and multipart uploads for large bundles
//   - CRC32C integrity validation on one-shot writes
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//
// # Versioned publishing
//
// DDBCommitStore layers DynamoDB conditional writes on top of any
// blobstore.Store to publish bundles under monotonically increasing
// versions with an atomically updated LATEST pointer. Concurrent
// publishers are detected instead of silently overwriting each other.
package s3
