package cytogo_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cytogo"
	"github.com/hupe1980/cytogo/blobstore"
	"github.com/hupe1980/cytogo/dataset"
	"github.com/hupe1980/cytogo/embedding"
	"github.com/hupe1980/cytogo/registry"
	"github.com/hupe1980/cytogo/testutil"
	"github.com/hupe1980/cytogo/trainer"
	"github.com/hupe1980/cytogo/trainer/linear"
	"github.com/hupe1980/cytogo/trainer/rbf"
)

// immuneReference builds a labeled reference over three separated Gaussian
// blobs. The identity basis with zero means makes projection the identity
// map, so the reference coordinates double as raw query vectors.
func immuneReference(t *testing.T) (*embedding.Embedding, []string, [][]float32) {
	t.Helper()

	rng := testutil.NewRNG(1)
	vectors, labels := rng.LabeledBlobs(0.3,
		testutil.Blob{Label: "b_cell", Center: []float32{4, 0, 0, 0}, Count: 40},
		testutil.Blob{Label: "nk_cell", Center: []float32{0, 4, 0, 0}, Count: 40},
		testutil.Blob{Label: "t_cell", Center: []float32{0, 0, 4, 0}, Count: 40},
	)

	emb, err := embedding.New(vectors, testutil.IdentityLoadings(4), make([]float32, 4))
	require.NoError(t, err)

	return emb, labels, vectors
}

// trainModel trains a model over the immune reference with a fast linear
// trainer unless the options say otherwise.
func trainModel(t *testing.T, optFns ...cytogo.Option) (*cytogo.Model, []string, [][]float32) {
	t.Helper()

	emb, labels, vectors := immuneReference(t)

	opts := append([]cytogo.Option{cytogo.WithTrainer(linear.New())}, optFns...)
	model, err := cytogo.Train(context.Background(), emb, labels, opts...)
	require.NoError(t, err)

	return model, labels, vectors
}

// entryState returns the serialized entry of one category.
func entryState(t *testing.T, st *registry.State, category string) registry.EntryState {
	t.Helper()

	for _, e := range st.Entries {
		if e.Category == category {
			return e
		}
	}

	t.Fatalf("category %q not in registry state", category)
	return registry.EntryState{}
}

func TestTrain(t *testing.T) {
	emb, labels, _ := immuneReference(t)

	model, err := cytogo.Train(context.Background(), emb, labels, cytogo.WithTrainer(linear.New()))
	require.NoError(t, err)

	assert.Equal(t, []string{"b_cell", "nk_cell", "t_cell"}, model.Categories())
	assert.Same(t, emb, model.Embedding())
	assert.Equal(t, 4, model.FeatureSpace().Width())

	summaries := model.Summaries()
	require.Len(t, summaries, 3)

	for _, s := range summaries {
		assert.Equal(t, linear.ModelMethod, s.Method)
		assert.Equal(t, 4, s.Features)
		assert.Equal(t, 5, s.Folds)
		assert.Equal(t, 1, s.Repeats)
		assert.Greater(t, s.AUC, 0.95, "category %s", s.Category)
	}

	s, ok := model.Summary("t_cell")
	require.True(t, ok)
	assert.Equal(t, "t_cell", s.Category)

	_, ok = model.Summary("dendritic")
	assert.False(t, ok)
}

func TestTrain_Progress(t *testing.T) {
	emb, labels, _ := immuneReference(t)

	var events []cytogo.ProgressEvent

	_, err := cytogo.Train(context.Background(), emb, labels,
		cytogo.WithTrainer(linear.New()),
		cytogo.WithProgress(func(e cytogo.ProgressEvent) {
			events = append(events, e)
		}),
	)
	require.NoError(t, err)

	require.Len(t, events, 3)

	var seen []string
	for i, e := range events {
		assert.Equal(t, i+1, e.Completed)
		assert.Equal(t, 3, e.Total)
		assert.Equal(t, e.Category, e.Summary.Category)
		seen = append(seen, e.Category)
	}

	assert.ElementsMatch(t, []string{"b_cell", "nk_cell", "t_cell"}, seen)
}

func TestTrain_InsufficientData(t *testing.T) {
	t.Run("SingleCategory", func(t *testing.T) {
		vectors := testutil.NewRNG(2).UniformVectors(10, 4)
		labels := make([]string, 10)
		for i := range labels {
			labels[i] = "t_cell"
		}

		emb, err := embedding.New(vectors, testutil.IdentityLoadings(4), make([]float32, 4))
		require.NoError(t, err)

		model, err := cytogo.Train(context.Background(), emb, labels)
		require.Error(t, err)
		assert.Nil(t, model)

		var ie *cytogo.ErrInsufficientData
		require.ErrorAs(t, err, &ie)
		assert.Empty(t, ie.Category)
		assert.Equal(t, 1, ie.Count)
	})

	t.Run("TinyCategory", func(t *testing.T) {
		vectors := testutil.NewRNG(2).UniformVectors(10, 4)
		labels := make([]string, 10)
		for i := range labels {
			labels[i] = "t_cell"
		}
		labels[0] = "rare"

		emb, err := embedding.New(vectors, testutil.IdentityLoadings(4), make([]float32, 4))
		require.NoError(t, err)

		_, err = cytogo.Train(context.Background(), emb, labels)
		require.Error(t, err)

		var ie *cytogo.ErrInsufficientData
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "rare", ie.Category)
		assert.Equal(t, 1, ie.Count)
	})
}

func TestTrain_TrainerFailure(t *testing.T) {
	emb, labels, _ := immuneReference(t)

	model, err := cytogo.Train(context.Background(), emb, labels,
		cytogo.WithTrainer(linear.New()),
		cytogo.WithCategoryTrainer("nk_cell", failingTrainer{}),
	)
	require.Error(t, err)

	var te *cytogo.ErrTrainer
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "nk_cell", te.Category)

	// Siblings keep training through a per-category failure.
	require.NotNil(t, model)
	assert.Equal(t, []string{"b_cell", "t_cell"}, model.Categories())
}

func TestTrain_Canceled(t *testing.T) {
	emb, labels, _ := immuneReference(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model, err := cytogo.Train(ctx, emb, labels, cytogo.WithTrainer(linear.New()))
	require.Error(t, err)
	assert.Nil(t, model)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrain_DeterministicAcrossParallelism(t *testing.T) {
	emb, labels, vectors := immuneReference(t)
	ctx := context.Background()

	trainerFn := func() *rbf.Trainer { return rbf.New(rbf.WithMaxAnchors(8)) }

	m1, err := cytogo.Train(ctx, emb, labels,
		cytogo.WithTrainer(trainerFn()), cytogo.WithSeed(7), cytogo.WithParallelism(1))
	require.NoError(t, err)

	m2, err := cytogo.Train(ctx, emb, labels,
		cytogo.WithTrainer(trainerFn()), cytogo.WithSeed(7), cytogo.WithParallelism(4))
	require.NoError(t, err)

	st1, err := m1.Registry().State()
	require.NoError(t, err)
	st2, err := m2.Registry().State()
	require.NoError(t, err)
	assert.Equal(t, st1, st2)

	query, err := dataset.New(vectors)
	require.NoError(t, err)

	preds1, err := m1.Predict(ctx, query, cytogo.WithParallelism(3))
	require.NoError(t, err)
	preds2, err := m2.Predict(ctx, query, cytogo.WithParallelism(1))
	require.NoError(t, err)
	assert.Equal(t, preds1, preds2)
}

func TestModel_Predict(t *testing.T) {
	model, labels, vectors := trainModel(t)

	ids := make([]string, len(vectors))
	for i := range ids {
		ids[i] = fmt.Sprintf("cell-%03d", i)
	}

	query, err := dataset.New(vectors, dataset.WithIDs(ids))
	require.NoError(t, err)

	results, err := model.Predict(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, results, len(vectors))

	correct := 0
	for i, r := range results {
		assert.Equal(t, ids[i], r.ID)
		require.Len(t, r.Probabilities, 3)
		require.Len(t, r.Coords, 4)

		if r.Label == labels[i] {
			correct++
		}
	}

	assert.GreaterOrEqual(t, float64(correct)/float64(len(results)), 0.9)
}

func TestModel_Predict_DefaultIDs(t *testing.T) {
	model, _, vectors := trainModel(t)

	query, err := dataset.New(vectors[:3])
	require.NoError(t, err)

	results, err := model.Predict(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("%d", i), r.ID)
	}
}

func TestModel_Predict_ThresholdOverride(t *testing.T) {
	model, _, vectors := trainModel(t)

	query, err := dataset.New(vectors)
	require.NoError(t, err)

	// The regularized fit cannot produce probabilities this extreme, so
	// every sample stays unassigned.
	results, err := model.Predict(context.Background(), query, cytogo.WithThreshold(0.999999999))
	require.NoError(t, err)

	for _, r := range results {
		assert.Equal(t, cytogo.Unassigned, r.Label)
		assert.Len(t, r.Probabilities, 3)
	}
}

func TestModel_Predict_CategorySubset(t *testing.T) {
	model, _, vectors := trainModel(t)

	query, err := dataset.New(vectors)
	require.NoError(t, err)

	results, err := model.Predict(context.Background(), query, cytogo.WithCategories("b_cell", "t_cell"))
	require.NoError(t, err)

	for _, r := range results {
		require.Len(t, r.Probabilities, 2)
		assert.Contains(t, r.Probabilities, "b_cell")
		assert.Contains(t, r.Probabilities, "t_cell")
		assert.Contains(t, []string{"b_cell", "t_cell", cytogo.Unassigned}, r.Label)
	}
}

func TestModel_Predict_DimensionMismatch(t *testing.T) {
	model, _, _ := trainModel(t)

	query, err := dataset.New([][]float32{{1, 2, 3}})
	require.NoError(t, err)

	results, err := model.Predict(context.Background(), query)
	require.Error(t, err)
	assert.Nil(t, results)

	var dm *cytogo.ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 3, dm.Actual)
}

func TestModel_Align_Memoization(t *testing.T) {
	model, _, vectors := trainModel(t)
	ctx := context.Background()

	query, err := dataset.New(vectors)
	require.NoError(t, err)

	st1, err := model.Align(ctx, query)
	require.NoError(t, err)
	require.Equal(t, len(vectors), st1.Len())

	// Matching fingerprint reuses the memoized state.
	st2, err := model.Align(ctx, query, cytogo.WithRecompute(false))
	require.NoError(t, err)
	assert.Same(t, st1, st2)

	// Recompute produces a fresh state with identical coordinates.
	st3, err := model.Align(ctx, query)
	require.NoError(t, err)
	assert.NotSame(t, st1, st3)
	assert.Equal(t, st1.Coords(), st3.Coords())
	assert.Equal(t, st1.Fingerprint(), st3.Fingerprint())

	// A different query misses the memo even with recompute disabled.
	shifted, err := dataset.New(testutil.Shifted(vectors, []float32{1, 0, 0, 0}))
	require.NoError(t, err)

	st4, err := model.Align(ctx, shifted, cytogo.WithRecompute(false))
	require.NoError(t, err)
	assert.NotEqual(t, st1.Fingerprint(), st4.Fingerprint())
}

func TestModel_Retrain(t *testing.T) {
	model, labels, _ := trainModel(t, cytogo.WithTrainer(rbf.New(rbf.WithMaxAnchors(8))))
	ctx := context.Background()

	before, err := model.Registry().State()
	require.NoError(t, err)

	err = model.Retrain(ctx, labels,
		cytogo.WithCategories("t_cell"),
		cytogo.WithTrainer(linear.New()),
	)
	require.NoError(t, err)

	after, err := model.Registry().State()
	require.NoError(t, err)

	assert.Equal(t, []string{"b_cell", "nk_cell", "t_cell"}, model.Categories())

	// Unselected categories keep their models bit for bit.
	assert.Equal(t, entryState(t, before, "b_cell"), entryState(t, after, "b_cell"))
	assert.Equal(t, entryState(t, before, "nk_cell"), entryState(t, after, "nk_cell"))

	// The selected category carries the new model family.
	tBefore := entryState(t, before, "t_cell")
	tAfter := entryState(t, after, "t_cell")
	assert.Equal(t, rbf.ModelMethod, tBefore.Method)
	assert.Equal(t, linear.ModelMethod, tAfter.Method)
	assert.NotEqual(t, tBefore.Payload, tAfter.Payload)

	s, ok := model.Summary("t_cell")
	require.True(t, ok)
	assert.Equal(t, linear.ModelMethod, s.Method)
}

func TestModel_Retrain_UnknownCategory(t *testing.T) {
	model, labels, _ := trainModel(t)

	regBefore := model.Registry()

	err := model.Retrain(context.Background(), labels, cytogo.WithCategories("dendritic"))
	require.Error(t, err)

	var uc *cytogo.ErrUnknownCategory
	require.ErrorAs(t, err, &uc)
	assert.Equal(t, "dendritic", uc.Category)

	assert.Same(t, regBefore, model.Registry())
}

func TestModel_SaveLoad(t *testing.T) {
	model, _, vectors := trainModel(t)
	ctx := context.Background()

	query, err := dataset.New(vectors)
	require.NoError(t, err)

	want, err := model.Predict(ctx, query)
	require.NoError(t, err)

	verify := func(t *testing.T, loaded *cytogo.Model) {
		t.Helper()

		assert.Equal(t, model.Categories(), loaded.Categories())
		assert.Equal(t, model.Summaries(), loaded.Summaries())

		st1, err := model.Registry().State()
		require.NoError(t, err)
		st2, err := loaded.Registry().State()
		require.NoError(t, err)
		assert.Equal(t, st1, st2)

		got, err := loaded.Predict(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	t.Run("Writer", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, model.SaveToWriter(ctx, &buf))

		loaded, err := cytogo.NewFromReader(ctx, &buf)
		require.NoError(t, err)
		verify(t, loaded)
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "immune.cyt")
		require.NoError(t, model.SaveToFile(ctx, path))

		loaded, err := cytogo.NewFromFile(ctx, path)
		require.NoError(t, err)
		verify(t, loaded)
	})

	t.Run("Store", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		require.NoError(t, model.SaveToStore(ctx, store, "models/immune.cyt"))

		names, err := store.List(ctx, "models/")
		require.NoError(t, err)
		assert.Contains(t, names, "models/immune.cyt")

		loaded, err := cytogo.NewFromStore(ctx, store, "models/immune.cyt")
		require.NoError(t, err)
		verify(t, loaded)
	})
}

func TestCrossTab(t *testing.T) {
	truth := []string{"b_cell", "b_cell", "t_cell", "t_cell"}
	results := []cytogo.Result{
		{Label: "b_cell"},
		{Label: "t_cell"},
		{Label: "t_cell"},
		{Label: cytogo.Unassigned},
	}

	ct, err := cytogo.CrossTab(truth, results)
	require.NoError(t, err)

	assert.Equal(t, []string{"b_cell", "t_cell"}, ct.Rows())
	assert.Equal(t, []string{"b_cell", "t_cell", "unassigned"}, ct.Columns())
	assert.Equal(t, 4, ct.Total())

	assert.Equal(t, 1, ct.Count("b_cell", "b_cell"))
	assert.Equal(t, 1, ct.Count("b_cell", "t_cell"))
	assert.Equal(t, 1, ct.Count("t_cell", "t_cell"))
	assert.Equal(t, 1, ct.Count("t_cell", cytogo.Unassigned))
	assert.Equal(t, 0, ct.Count("t_cell", "b_cell"))

	assert.InDelta(t, 0.5, ct.Proportion("b_cell", "b_cell"), 1e-12)
	assert.InDelta(t, 0.5, ct.Proportion("t_cell", cytogo.Unassigned), 1e-12)
}

func TestModel_Metrics(t *testing.T) {
	emb, labels, vectors := immuneReference(t)
	ctx := context.Background()

	mc := &cytogo.BasicMetricsCollector{}

	model, err := cytogo.Train(ctx, emb, labels,
		cytogo.WithTrainer(linear.New()), cytogo.WithMetricsCollector(mc))
	require.NoError(t, err)

	query, err := dataset.New(vectors)
	require.NoError(t, err)

	_, err = model.Align(ctx, query)
	require.NoError(t, err)

	_, err = model.Predict(ctx, query)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, model.SaveToWriter(ctx, &buf))

	_, err = cytogo.NewFromReader(ctx, &buf, cytogo.WithMetricsCollector(mc))
	require.NoError(t, err)

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.TrainCount)
	assert.Equal(t, int64(3), stats.TrainCategories)
	assert.Equal(t, int64(0), stats.TrainFailed)
	assert.Equal(t, int64(1), stats.AlignCount)
	assert.Equal(t, int64(len(vectors)), stats.AlignSamples)
	assert.Equal(t, int64(1), stats.PredictCount)
	assert.Equal(t, int64(len(vectors)), stats.PredictSamples)
	assert.Equal(t, int64(1), stats.SaveCount)
	assert.Equal(t, int64(1), stats.LoadCount)
	assert.Equal(t, int64(0), stats.PredictErrors)
}

func TestTrain_Logging(t *testing.T) {
	emb, labels, _ := immuneReference(t)

	var buf bytes.Buffer
	logger := cytogo.NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := cytogo.Train(context.Background(), emb, labels,
		cytogo.WithTrainer(linear.New()), cytogo.WithLogger(logger))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "training completed")
	assert.Contains(t, buf.String(), "categories=3")
}

// failingTrainer always errors, standing in for a category whose data the
// model family cannot fit.
type failingTrainer struct{}

func (failingTrainer) Train(context.Context, [][]float32, []bool, *rand.Rand) (trainer.Model, error) {
	return nil, errors.New("no fit")
}

func (failingTrainer) Method() string { return "failing" }

var _ trainer.Trainer = failingTrainer{}
