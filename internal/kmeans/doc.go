// Package kmeans implements k-means clustering on flattened float32 vectors.
//
// Used internally by the anchor-based alignment corrector to learn a set of
// reference anchors from embedded coordinates.
package kmeans
