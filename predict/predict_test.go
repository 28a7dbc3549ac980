package predict

import (
	"context"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cytogo/codec"
	"github.com/hupe1980/cytogo/embedding"
	"github.com/hupe1980/cytogo/registry"
	"github.com/hupe1980/cytogo/testutil"
	"github.com/hupe1980/cytogo/trainer"
	"github.com/hupe1980/cytogo/trainer/linear"
)

// logisticRegistry builds a registry from explicit logistic weights so every
// probability in the tests is an exact closed-form value.
func logisticRegistry(t *testing.T, width int, weights map[string][]float64) *registry.Registry {
	t.Helper()

	categories := make([]string, 0, len(weights))
	for category := range weights {
		categories = append(categories, category)
	}

	sort.Strings(categories)

	st := &registry.State{Width: width}

	for _, category := range categories {
		payload, err := codec.Default.Marshal(struct {
			Weights []float64 `json:"weights"`
		}{Weights: weights[category]})
		require.NoError(t, err)

		st.Entries = append(st.Entries, registry.EntryState{
			Category: category,
			Method:   linear.ModelMethod,
			Payload:  payload,
			Summary:  trainer.Summary{Category: category, Method: linear.ModelMethod},
		})
	}

	reg, err := registry.FromState(st)
	require.NoError(t, err)

	return reg
}

func sigmoid(f float64) float64 {
	return 1 / (1 + math.Exp(-f))
}

func TestPredict(t *testing.T) {
	reg := logisticRegistry(t, 2, map[string][]float64{
		"b_cell":  {0, 4, 0},
		"nk_cell": {-4, 0, 0},
		"t_cell":  {0, 0, 4},
	})

	preds, err := Predict(context.Background(), [][]float32{
		{1, 0},
		{0, 1},
	}, reg)
	require.NoError(t, err)
	require.Len(t, preds, 2)

	assert.Equal(t, "b_cell", preds[0].Label)
	assert.Len(t, preds[0].Probabilities, 3)
	assert.InDelta(t, sigmoid(4), preds[0].Probabilities["b_cell"], 1e-12)
	assert.InDelta(t, 0.5, preds[0].Probabilities["t_cell"], 1e-12)
	assert.InDelta(t, sigmoid(-4), preds[0].Probabilities["nk_cell"], 1e-12)

	assert.Equal(t, "t_cell", preds[1].Label)
	assert.InDelta(t, sigmoid(4), preds[1].Probabilities["t_cell"], 1e-12)
}

func TestPredict_Binary(t *testing.T) {
	// With exactly two categories the first model's probability is mirrored
	// onto the second, so the reported pair is always complementary.
	reg := logisticRegistry(t, 2, map[string][]float64{
		"b_cell": {0, 4, 0},
		"t_cell": {0, 0, 4},
	})

	preds, err := Predict(context.Background(), [][]float32{
		{1, 0},
		{-1, 0},
	}, reg)
	require.NoError(t, err)
	require.Len(t, preds, 2)

	assert.Equal(t, "b_cell", preds[0].Label)
	assert.InDelta(t, sigmoid(4), preds[0].Probabilities["b_cell"], 1e-12)
	assert.Equal(t, 1-preds[0].Probabilities["b_cell"], preds[0].Probabilities["t_cell"])

	assert.Equal(t, "t_cell", preds[1].Label)
	assert.InDelta(t, sigmoid(-4), preds[1].Probabilities["b_cell"], 1e-12)
	assert.Equal(t, 1-preds[1].Probabilities["b_cell"], preds[1].Probabilities["t_cell"])
}

func TestPredict_BinaryNeverUnassignedAtHalf(t *testing.T) {
	// Near-zero weights keep every probability close to 0.5 from both
	// sides; the larger of p and 1-p still never drops below 0.5.
	reg := logisticRegistry(t, 2, map[string][]float64{
		"a": {0, 1e-3, -1e-3},
		"b": {0, -1e-3, 1e-3},
	})

	coords := testutil.NewRNG(3).UniformVectors(500, 2)

	preds, err := Predict(context.Background(), coords, reg, WithThreshold(0.5))
	require.NoError(t, err)

	for i, pred := range preds {
		assert.NotEqualf(t, Unassigned, pred.Label, "sample %d", i)
		assert.GreaterOrEqual(t, pred.Probabilities[pred.Label], 0.5)
	}
}

func TestPredict_Unassigned(t *testing.T) {
	// Zero weights pin every probability to exactly 0.5.
	reg := logisticRegistry(t, 2, map[string][]float64{
		"a": {0, 0, 0},
		"b": {0, 0, 0},
	})

	coords := [][]float32{{3, -1}}

	preds, err := Predict(context.Background(), coords, reg)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, Unassigned, preds[0].Label)
	assert.InDelta(t, 0.5, preds[0].Probabilities["a"], 1e-12)

	// Only a best probability strictly below the threshold unassigns, so
	// 0.5 survives a threshold of exactly 0.5.
	preds, err = Predict(context.Background(), coords, reg, WithThreshold(0.5))
	require.NoError(t, err)
	assert.Equal(t, "a", preds[0].Label)
}

func TestPredict_TieBreak(t *testing.T) {
	reg := logisticRegistry(t, 2, map[string][]float64{
		"delta": {0, 2, 1},
		"alpha": {0, 2, 1},
		"beta":  {0, 2, 1},
	})

	preds, err := Predict(context.Background(), [][]float32{{1, 1}}, reg, WithThreshold(0.5))
	require.NoError(t, err)
	require.Len(t, preds, 1)

	assert.Equal(t, "alpha", preds[0].Label)
	assert.Len(t, preds[0].Probabilities, 3)
}

func TestPredict_ThresholdMonotonicity(t *testing.T) {
	reg := logisticRegistry(t, 2, map[string][]float64{
		"a": {0, 3, 0},
		"b": {0, 0, 3},
	})

	coords := testutil.NewRNG(42).UniformVectors(200, 2)

	low, err := Predict(context.Background(), coords, reg, WithThreshold(0.55))
	require.NoError(t, err)

	high, err := Predict(context.Background(), coords, reg, WithThreshold(0.9))
	require.NoError(t, err)

	for i := range coords {
		if low[i].Label == Unassigned {
			assert.Equal(t, Unassigned, high[i].Label)
			continue
		}

		if high[i].Label != Unassigned {
			assert.Equal(t, low[i].Label, high[i].Label)
		}
	}
}

func TestPredict_CategorySubset(t *testing.T) {
	reg := logisticRegistry(t, 2, map[string][]float64{
		"a": {0, 4, 0},
		"b": {0, 0, 4},
	})

	preds, err := Predict(context.Background(), [][]float32{
		{0, 1},
		{1, 0},
	}, reg, WithCategories("b", "b"))
	require.NoError(t, err)
	require.Len(t, preds, 2)

	assert.Equal(t, "b", preds[0].Label)
	assert.Len(t, preds[0].Probabilities, 1)
	assert.NotContains(t, preds[0].Probabilities, "a")

	// The restricted view never consults a's classifier, so a b-negative
	// sample has nowhere to go.
	assert.Equal(t, Unassigned, preds[1].Label)
}

func TestPredict_UnknownCategory(t *testing.T) {
	reg := logisticRegistry(t, 2, map[string][]float64{
		"a": {0, 4, 0},
	})

	_, err := Predict(context.Background(), [][]float32{{1, 0}}, reg, WithCategories("nk_cell"))
	require.Error(t, err)

	var unknownErr *registry.ErrUnknownCategory
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "nk_cell", unknownErr.Category)
}

func TestPredict_Validation(t *testing.T) {
	reg := logisticRegistry(t, 2, map[string][]float64{
		"a": {0, 4, 0},
	})

	_, err := Predict(context.Background(), nil, reg, WithThreshold(0))
	require.Error(t, err)

	_, err = Predict(context.Background(), nil, reg, WithThreshold(1))
	require.Error(t, err)

	// Row widths are checked up front for the whole batch.
	_, err = Predict(context.Background(), [][]float32{
		{1, 0},
		{1, 0, 3},
	}, reg)
	require.Error(t, err)

	var dimErr *embedding.ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 2, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Actual)
}

func TestPredict_DeterministicAcrossParallelism(t *testing.T) {
	reg := logisticRegistry(t, 3, map[string][]float64{
		"a": {0, 3, 0, -1},
		"b": {0, 0, 3, 1},
		"c": {-1, 1, 1, 1},
	})

	coords := testutil.NewRNG(7).UniformVectors(257, 3)

	sequential, err := Predict(context.Background(), coords, reg)
	require.NoError(t, err)

	parallel, err := Predict(context.Background(), coords, reg, WithParallelism(8))
	require.NoError(t, err)

	require.Equal(t, sequential, parallel)
}

func TestPredict_Empty(t *testing.T) {
	reg := logisticRegistry(t, 2, map[string][]float64{
		"a": {0, 4, 0},
	})

	preds, err := Predict(context.Background(), [][]float32{}, reg)
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestPredict_Cancellation(t *testing.T) {
	reg := logisticRegistry(t, 2, map[string][]float64{
		"a": {0, 4, 0},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Predict(ctx, testutil.NewRNG(1).UniformVectors(16, 2), reg)
	require.ErrorIs(t, err, context.Canceled)
}
