package bundle

import (
	"bytes"
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cytogo/codec"
	"github.com/hupe1980/cytogo/embedding"
	"github.com/hupe1980/cytogo/feature"
	"github.com/hupe1980/cytogo/registry"
	"github.com/hupe1980/cytogo/resource"
	"github.com/hupe1980/cytogo/testutil"
	"github.com/hupe1980/cytogo/trainer/linear"
)

func newTestBundle(t *testing.T) *Bundle {
	t.Helper()

	rng := testutil.NewRNG(42)
	vectors, labels := rng.LabeledBlobs(0.4,
		testutil.Blob{Label: "b_cell", Center: []float32{4, 0}, Count: 16},
		testutil.Blob{Label: "t_cell", Center: []float32{0, 4}, Count: 16},
	)

	emb, err := embedding.New(vectors, testutil.IdentityLoadings(2), make([]float32, 2),
		embedding.WithExplainedVariance([]float64{0.6, 0.3}))
	require.NoError(t, err)

	space, err := feature.Build(emb, labels)
	require.NoError(t, err)

	reg, err := registry.Train(context.Background(), space, emb, labels,
		registry.WithTrainer(linear.New()), registry.WithSeed(7))
	require.NoError(t, err)

	return &Bundle{Space: space, Registry: reg, Embedding: emb}
}

// requireEqualBundles compares the serializable state of two bundles.
func requireEqualBundles(t *testing.T, want, got *Bundle) {
	t.Helper()

	require.Equal(t, want.Space.State(), got.Space.State())

	wantReg, err := want.Registry.State()
	require.NoError(t, err)

	gotReg, err := got.Registry.State()
	require.NoError(t, err)
	require.Equal(t, wantReg, gotReg)

	require.Equal(t, want.Embedding.Coords(), got.Embedding.Coords())
	require.Equal(t, want.Embedding.Loadings(), got.Embedding.Loadings())
	require.Equal(t, want.Embedding.Means(), got.Embedding.Means())
	require.Equal(t, want.Embedding.Names(), got.Embedding.Names())
	require.Equal(t, want.Embedding.ExplainedVariance(), got.Embedding.ExplainedVariance())
}

func TestBundleRoundTrip(t *testing.T) {
	b := newTestBundle(t)

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, b))

	got, err := Read(context.Background(), &buf)
	require.NoError(t, err)

	requireEqualBundles(t, b, got)
	assert.False(t, got.CreatedAt.IsZero())

	// The reloaded classifiers score exactly like the originals.
	wantModel, ok := b.Registry.Model("b_cell")
	require.True(t, ok)

	gotModel, ok := got.Registry.Model("b_cell")
	require.True(t, ok)

	probe := []float32{4, 0}
	assert.Equal(t, wantModel.PredictProbability(probe), gotModel.PredictProbability(probe))
}

func TestBundle_Compressions(t *testing.T) {
	b := newTestBundle(t)

	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		var buf bytes.Buffer
		require.NoError(t, Write(context.Background(), &buf, b, WithCompression(compression)))

		got, err := Read(context.Background(), &buf)
		require.NoError(t, err)

		requireEqualBundles(t, b, got)
	}
}

func TestBundle_StandardJSONCodec(t *testing.T) {
	b := newTestBundle(t)

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, b, WithCodec(codec.JSON{})))

	// The codec is resolved from the header, not from read options.
	got, err := Read(context.Background(), &buf)
	require.NoError(t, err)

	requireEqualBundles(t, b, got)
}

func TestBundle_ChecksumMismatch(t *testing.T) {
	b := newTestBundle(t)

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, b, WithCompression(CompressionNone)))

	// Flip a float byte in the matrix section, just ahead of the trailer.
	data := buf.Bytes()
	data[len(data)-5] ^= 0xFF

	_, err := Read(context.Background(), bytes.NewReader(data))
	require.Error(t, err)

	var mismatchErr *ChecksumMismatchError
	require.ErrorAs(t, err, &mismatchErr)
	assert.NotEqual(t, mismatchErr.Expected, mismatchErr.Actual)
}

func TestBundle_InvalidMagic(t *testing.T) {
	b := newTestBundle(t)

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, b))

	data := buf.Bytes()
	data[0] ^= 0xFF

	_, err := Read(context.Background(), bytes.NewReader(data))
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestBundle_UnsupportedVersion(t *testing.T) {
	b := newTestBundle(t)

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, b))

	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[4:], 0x00990000)

	_, err := Read(context.Background(), bytes.NewReader(data))
	require.ErrorIs(t, err, ErrInvalidVersion)
}

func TestBundle_UnknownCodec(t *testing.T) {
	b := newTestBundle(t)

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, b))

	// The codec name lives in header bytes 12..20.
	data := buf.Bytes()
	copy(data[12:20], []byte("nope\x00\x00\x00\x00"))

	_, err := Read(context.Background(), bytes.NewReader(data))
	require.ErrorIs(t, err, ErrUnknownCodec)
}

func TestBundle_Truncated(t *testing.T) {
	b := newTestBundle(t)

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, b))

	data := buf.Bytes()

	_, err := Read(context.Background(), bytes.NewReader(data[:len(data)-10]))
	require.Error(t, err)
}

func TestBundle_Peek(t *testing.T) {
	b := newTestBundle(t)

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, b))

	manifest, err := Peek(&buf)
	require.NoError(t, err)

	assert.Equal(t, []string{"b_cell", "t_cell"}, manifest.Categories)
	assert.Equal(t, 32, manifest.Samples)
	assert.Equal(t, 2, manifest.FeatureDim)
	assert.Equal(t, 2, manifest.EmbeddingDim)
	assert.Equal(t, 2, manifest.Width)
	assert.Positive(t, manifest.CreatedAt)
}

func TestBundle_SaveLoadFile(t *testing.T) {
	b := newTestBundle(t)

	path := filepath.Join(t.TempDir(), "model.cyt")
	require.NoError(t, SaveToFile(context.Background(), path, b))

	got, err := LoadFromFile(context.Background(), path)
	require.NoError(t, err)
	requireEqualBundles(t, b, got)

	// Saving again replaces the file atomically.
	require.NoError(t, SaveToFile(context.Background(), path, b))

	got, err = LoadFromFile(context.Background(), path)
	require.NoError(t, err)
	requireEqualBundles(t, b, got)
}

func TestBundle_WithController(t *testing.T) {
	b := newTestBundle(t)

	ctrl := resource.NewController(resource.Config{
		MemoryLimitBytes:   8 << 20,
		IOLimitBytesPerSec: 64 << 20,
	})

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, b, WithController(ctrl)))

	got, err := Read(context.Background(), &buf, WithController(ctrl))
	require.NoError(t, err)
	requireEqualBundles(t, b, got)

	// Section reservations are transient.
	assert.Zero(t, ctrl.MemoryUsage())
}

func TestWrite_Validation(t *testing.T) {
	b := newTestBundle(t)

	var buf bytes.Buffer

	err := Write(context.Background(), &buf, &Bundle{Space: b.Space, Registry: b.Registry})
	require.Error(t, err)

	err = Write(context.Background(), &buf, nil)
	require.Error(t, err)

	// A registry trained against a different feature width is rejected.
	payload, err := codec.Default.Marshal(struct {
		Weights []float64 `json:"weights"`
	}{Weights: []float64{0, 1, 2, 3}})
	require.NoError(t, err)

	wide, err := registry.FromState(&registry.State{
		Width: 3,
		Entries: []registry.EntryState{
			{Category: "a", Method: linear.ModelMethod, Payload: payload},
			{Category: "b", Method: linear.ModelMethod, Payload: payload},
		},
	})
	require.NoError(t, err)

	err = Write(context.Background(), &buf, &Bundle{Space: b.Space, Registry: wide, Embedding: b.Embedding})
	require.Error(t, err)
}

func TestBundle_Cancellation(t *testing.T) {
	b := newTestBundle(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	require.ErrorIs(t, Write(ctx, &buf, b), context.Canceled)
}
