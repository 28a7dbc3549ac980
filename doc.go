// Package cytogo provides reference-based cell type classification for
// single-cell expression data.
//
// Cytogo trains one-vs-rest probabilistic classifiers in a low-dimensional
// embedding of a labeled reference atlas, then transfers those labels to new
// query datasets by projecting them into the same embedding.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	// Reference: an embedding (projection basis plus per-sample coordinates)
//	// and one category label per embedded sample.
//	model, _ := cytogo.Train(ctx, emb, labels)
//
//	// Query: raw feature vectors from a new experiment.
//	query, _ := dataset.New(vectors, dataset.WithIDs(ids))
//	results, _ := model.Predict(ctx, query)
//	for _, r := range results {
//	    fmt.Println(r.ID, r.Label, r.Probabilities[r.Label])
//	}
//
// Samples whose best probability falls below the decision threshold are
// labeled Unassigned rather than forced into a category.
//
// # Builder API
//
// The fluent builder covers the same surface as the option functions:
//
//	model, err := cytogo.Classifier(emb, labels).
//	    Linear().
//	    Folds(10).
//	    Seed(7).
//	    Train(ctx)
//
// # Query Alignment
//
// Queries are projected into the reference basis and corrected toward the
// reference distribution before scoring. Alignment is memoized per query
// fingerprint, so repeated prediction over the same dataset reuses the
// projected coordinates:
//
//	state, _ := model.Align(ctx, query)                             // computed
//	state, _ = model.Align(ctx, query, cytogo.WithRecompute(false)) // reused
//
// # Partial Retraining
//
// Individual categories can be retrained against revised labels without
// touching the models of the remaining categories:
//
//	err := model.Retrain(ctx, revised, cytogo.WithCategories("t_cell"))
//
// # Model Persistence
//
// Models serialize to a single compressed bundle, written to local files or
// to any blobstore.Store implementation:
//
//	_ = model.SaveToFile(ctx, "immune.cyt")
//	model, _ = cytogo.NewFromFile(ctx, "immune.cyt")
//
//	store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("models/"))
//	_ = model.SaveToStore(ctx, store, "immune.cyt")
//
// # Key Features
//
//   - Per-dimension, per-category feature scoring (Mann-Whitney U)
//   - One-vs-rest RBF kernel, linear logistic and nearest-centroid trainers
//   - Cross-validated sensitivity, specificity and AUC per category
//   - Partial retraining of selected categories
//   - Anchor-based batch correction with memoized query alignment
//   - Compressed single-file bundles (zstd, lz4)
//   - Cloud-native model storage (S3, MinIO, DynamoDB-versioned publishing)
package cytogo
