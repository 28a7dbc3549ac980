package cytogo_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/cytogo"
	"github.com/hupe1980/cytogo/dataset"
	"github.com/hupe1980/cytogo/embedding"
	"github.com/hupe1980/cytogo/testutil"
	"github.com/hupe1980/cytogo/trainer"
	"github.com/hupe1980/cytogo/trainer/centroid"
	"github.com/hupe1980/cytogo/trainer/linear"
	"github.com/hupe1980/cytogo/trainer/rbf"
)

func benchReference(b *testing.B, perCategory int) (*embedding.Embedding, []string) {
	b.Helper()

	rng := testutil.NewRNG(1)
	vectors, labels := rng.LabeledBlobs(0.4,
		testutil.Blob{Label: "b_cell", Center: []float32{4, 0, 0, 0, 0, 0, 0, 0}, Count: perCategory},
		testutil.Blob{Label: "nk_cell", Center: []float32{0, 4, 0, 0, 0, 0, 0, 0}, Count: perCategory},
		testutil.Blob{Label: "t_cell", Center: []float32{0, 0, 4, 0, 0, 0, 0, 0}, Count: perCategory},
	)

	emb, err := embedding.New(vectors, testutil.IdentityLoadings(8), make([]float32, 8))
	if err != nil {
		b.Fatalf("embedding: %v", err)
	}

	return emb, labels
}

func BenchmarkTrain(b *testing.B) {
	ctx := context.Background()
	emb, labels := benchReference(b, 100)

	trainers := []struct {
		name string
		tr   trainer.Trainer
	}{
		{"Linear", linear.New()},
		{"Centroid", centroid.New()},
		{"RBF", rbf.New(rbf.WithMaxAnchors(16))},
	}

	for _, tc := range trainers {
		b.Run(tc.name, func(b *testing.B) {
			b.ReportAllocs()

			for b.Loop() {
				_, err := cytogo.Train(ctx, emb, labels,
					cytogo.WithTrainer(tc.tr),
					cytogo.WithSeed(1),
				)
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// benchQuery builds a blob-structured query batch with a systematic
// shift relative to the reference, the shape alignment is tuned for.
func benchQuery(b *testing.B, seed int64, perCategory int) *dataset.Dataset {
	b.Helper()

	vectors, _ := testutil.NewRNG(seed).LabeledBlobs(0.4,
		testutil.Blob{Label: "b_cell", Center: []float32{4, 0, 0, 0, 0, 0, 0, 0}, Count: perCategory},
		testutil.Blob{Label: "nk_cell", Center: []float32{0, 4, 0, 0, 0, 0, 0, 0}, Count: perCategory},
		testutil.Blob{Label: "t_cell", Center: []float32{0, 0, 4, 0, 0, 0, 0, 0}, Count: perCategory},
	)

	query, err := dataset.New(testutil.Shifted(vectors, []float32{1, -1, 1, 0, 0, 0, 0, 0}))
	if err != nil {
		b.Fatalf("dataset: %v", err)
	}

	return query
}

func BenchmarkPredict(b *testing.B) {
	ctx := context.Background()
	emb, labels := benchReference(b, 100)

	model, err := cytogo.Train(ctx, emb, labels,
		cytogo.WithTrainer(linear.New()),
		cytogo.WithSeed(1),
	)
	if err != nil {
		b.Fatal(err)
	}

	for _, size := range []int{300, 3000} {
		b.Run(fmt.Sprintf("n=%d", size), func(b *testing.B) {
			query := benchQuery(b, 2, size/3)

			// Warm the alignment memo so the loop measures scoring,
			// not the one-time projection of the query batch.
			if _, err := model.Predict(ctx, query); err != nil {
				b.Fatal(err)
			}

			b.ReportAllocs()
			b.ResetTimer()

			for b.Loop() {
				if _, err := model.Predict(ctx, query, cytogo.WithRecompute(false)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkAlign(b *testing.B) {
	ctx := context.Background()
	emb, labels := benchReference(b, 100)

	model, err := cytogo.Train(ctx, emb, labels,
		cytogo.WithTrainer(centroid.New()),
		cytogo.WithSeed(1),
	)
	if err != nil {
		b.Fatal(err)
	}

	query := benchQuery(b, 3, 200)

	b.ReportAllocs()

	for b.Loop() {
		if _, err := model.Align(ctx, query, cytogo.WithRecompute(true)); err != nil {
			b.Fatal(err)
		}
	}
}
