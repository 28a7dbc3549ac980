// Package testutil provides testing utilities for cytogo.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded thread-safe random source and generators for
// synthetic reference data: labeled Gaussian blobs, uniform and Gaussian
// vector batches, and identity loadings for embeddings whose coordinates
// coincide with their raw vectors.
//
// # Labeled Reference Data
//
//	rng := testutil.NewRNG(42)
//	vectors, labels := rng.LabeledBlobs(0.3,
//		testutil.Blob{Label: "b_cell", Center: []float32{4, 0}, Count: 20},
//		testutil.Blob{Label: "t_cell", Center: []float32{0, 4}, Count: 20},
//	)
//
// # Embeddings Over the Identity Basis
//
//	emb, err := embedding.New(vectors, testutil.IdentityLoadings(2), make([]float32, 2))
package testutil
