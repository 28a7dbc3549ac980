// Package bundle persists a trained model as one self-describing binary
// artifact: the feature space, the classifier registry and the reference
// embedding the aligner anchors to. The header records format version,
// codec and compression; a CRC32 trailer guards the section stream, and
// file saves go through an atomic temp-file rename.
//
// A bundle carries everything prediction needs that is independent of the
// raw reference data, so models move between processes without their
// training set.
package bundle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/cytogo/codec"
	"github.com/hupe1980/cytogo/embedding"
	"github.com/hupe1980/cytogo/feature"
	"github.com/hupe1980/cytogo/registry"
	"github.com/hupe1980/cytogo/resource"
)

// Bundle is a complete trained model.
type Bundle struct {
	Space     *feature.Space
	Registry  *registry.Registry
	Embedding *embedding.Embedding

	// CreatedAt is stamped on write when zero.
	CreatedAt time.Time
}

// Manifest describes a bundle without decoding its model sections.
type Manifest struct {
	CreatedAt    int64    `json:"created_at"`
	Categories   []string `json:"categories"`
	Samples      int      `json:"samples"`
	FeatureDim   int      `json:"feature_dim"`
	EmbeddingDim int      `json:"embedding_dim"`
	Width        int      `json:"width"`
}

// basisMeta is the embedding metadata section. The matrices travel in
// their own binary section.
type basisMeta struct {
	Names    []string  `json:"names"`
	Variance []float64 `json:"variance,omitempty"`
}

// Options configures bundle IO. Codec and compression are recorded in the
// header on write; reads resolve both from the file.
type Options struct {
	// Codec encodes the model sections. Nil selects codec.Default.
	Codec codec.Codec

	// Compression is the section compression applied on write.
	Compression Compression

	// Controller rate-limits IO and accounts the transient section
	// buffers. Nil disables both.
	Controller *resource.Controller
}

// DefaultOptions is the default bundle configuration.
var DefaultOptions = Options{
	Compression: CompressionZstd,
}

// WithCodec sets the section codec.
func WithCodec(c codec.Codec) func(o *Options) {
	return func(o *Options) {
		o.Codec = c
	}
}

// WithCompression sets the section compression.
func WithCompression(c Compression) func(o *Options) {
	return func(o *Options) {
		o.Compression = c
	}
}

// WithController sets the resource controller for bundle IO.
func WithController(ctrl *resource.Controller) func(o *Options) {
	return func(o *Options) {
		o.Controller = ctrl
	}
}

// Write serializes the bundle.
func Write(ctx context.Context, w io.Writer, b *Bundle, optFns ...func(o *Options)) error {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	c := opts.Codec
	if c == nil {
		c = codec.Default
	}

	if b == nil || b.Space == nil || b.Registry == nil || b.Embedding == nil {
		return fmt.Errorf("bundle: incomplete bundle")
	}

	if b.Space.FullDim() != b.Embedding.Dim() {
		return fmt.Errorf("bundle: feature space spans %d dimensions, embedding has %d", b.Space.FullDim(), b.Embedding.Dim())
	}

	if b.Registry.Width() != b.Space.Width() {
		return fmt.Errorf("bundle: registry width %d does not match feature width %d", b.Registry.Width(), b.Space.Width())
	}

	name := c.Name()
	if len(name) > 8 {
		return fmt.Errorf("bundle: codec name %q exceeds 8 bytes", name)
	}

	out := io.Writer(w)
	if opts.Controller != nil {
		out = resource.NewRateLimitedWriter(w, opts.Controller, ctx)
	}

	header := fileHeader{
		Magic:       MagicNumber,
		Version:     Version,
		Compression: uint8(opts.Compression),
		Sections:    sectionCount,
	}
	copy(header.Codec[:], name)

	if err := binary.Write(out, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("bundle: write header: %w", err)
	}

	cw := newChecksumWriter(out)

	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	manifest := &Manifest{
		CreatedAt:    created.Unix(),
		Categories:   b.Registry.Categories(),
		Samples:      b.Embedding.Samples(),
		FeatureDim:   b.Embedding.FeatureDim(),
		EmbeddingDim: b.Embedding.Dim(),
		Width:        b.Space.Width(),
	}

	sections := []struct {
		id     uint8
		encode func() ([]byte, error)
	}{
		{sectionManifest, func() ([]byte, error) {
			return c.Marshal(manifest)
		}},
		{sectionFeature, func() ([]byte, error) {
			st := b.Space.State()
			return c.Marshal(&st)
		}},
		{sectionRegistry, func() ([]byte, error) {
			st, err := b.Registry.State()
			if err != nil {
				return nil, err
			}

			return c.Marshal(st)
		}},
		{sectionBasis, func() ([]byte, error) {
			return c.Marshal(&basisMeta{
				Names:    b.Embedding.Names(),
				Variance: b.Embedding.ExplainedVariance(),
			})
		}},
		{sectionMatrix, func() ([]byte, error) {
			return encodeMatrix(b.Embedding)
		}},
	}

	for _, s := range sections {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, err := s.encode()
		if err != nil {
			return fmt.Errorf("bundle: encode section %d: %w", s.id, err)
		}

		if err := writeSection(cw, s.id, payload, opts.Compression); err != nil {
			return err
		}
	}

	if err := binary.Write(out, binary.LittleEndian, cw.Sum()); err != nil {
		return fmt.Errorf("bundle: write checksum: %w", err)
	}

	return nil
}

func writeSection(cw *checksumWriter, id uint8, payload []byte, compression Compression) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("bundle: section %d exceeds 4 GiB", id)
	}

	compressed, ok, err := compress(payload, compression)
	if err != nil {
		return err
	}

	hdr := sectionHeader{ID: id, UncompressedSize: uint32(len(payload))}

	body := payload
	if ok {
		hdr.CompressedSize = uint32(len(compressed))
		body = compressed
	}

	if err := binary.Write(cw, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("bundle: write section %d: %w", id, err)
	}

	if _, err := cw.Write(body); err != nil {
		return fmt.Errorf("bundle: write section %d: %w", id, err)
	}

	return nil
}

// Read deserializes a bundle. The checksum trailer is verified before any
// model state is rebuilt.
func Read(ctx context.Context, r io.Reader, optFns ...func(o *Options)) (*Bundle, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	in := io.Reader(r)
	if opts.Controller != nil {
		in = resource.NewRateLimitedReader(r, opts.Controller, ctx)
	}

	header, c, err := readHeader(in)
	if err != nil {
		return nil, err
	}

	compression := Compression(header.Compression)
	cr := newChecksumReader(in)

	var (
		manifest Manifest
		spaceSt  feature.State
		regSt    registry.State
		meta     basisMeta
		matrix   []byte
	)

	seen := make(map[uint8]bool, header.Sections)

	for i := uint32(0); i < header.Sections; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, payload, err := readSection(ctx, cr, compression, opts.Controller)
		if err != nil {
			return nil, err
		}

		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate section %d", ErrInvalidSection, id)
		}
		seen[id] = true

		switch id {
		case sectionManifest:
			err = c.Unmarshal(payload, &manifest)
		case sectionFeature:
			err = c.Unmarshal(payload, &spaceSt)
		case sectionRegistry:
			err = c.Unmarshal(payload, &regSt)
		case sectionBasis:
			err = c.Unmarshal(payload, &meta)
		case sectionMatrix:
			matrix = payload
		default:
			return nil, fmt.Errorf("%w: unknown section %d", ErrInvalidSection, id)
		}

		if err != nil {
			return nil, fmt.Errorf("bundle: decode section %d: %w", id, err)
		}
	}

	var expected uint32
	if err := binary.Read(in, binary.LittleEndian, &expected); err != nil {
		return nil, fmt.Errorf("bundle: read checksum: %w", err)
	}

	if err := cr.verify(expected); err != nil {
		return nil, err
	}

	for id := sectionManifest; id <= sectionMatrix; id++ {
		if !seen[id] {
			return nil, fmt.Errorf("%w: missing section %d", ErrInvalidSection, id)
		}
	}

	space, err := feature.FromState(spaceSt)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}

	reg, err := registry.FromState(&regSt)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}

	emb, err := decodeMatrix(matrix, &meta)
	if err != nil {
		return nil, err
	}

	if space.FullDim() != emb.Dim() {
		return nil, fmt.Errorf("bundle: feature space spans %d dimensions, embedding has %d", space.FullDim(), emb.Dim())
	}

	if reg.Width() != space.Width() {
		return nil, fmt.Errorf("bundle: registry width %d does not match feature width %d", reg.Width(), space.Width())
	}

	return &Bundle{
		Space:     space,
		Registry:  reg,
		Embedding: emb,
		CreatedAt: time.Unix(manifest.CreatedAt, 0).UTC(),
	}, nil
}

// Peek reads only the header and the manifest section. It does not verify
// the checksum trailer.
func Peek(r io.Reader) (*Manifest, error) {
	header, c, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	id, payload, err := readSection(context.Background(), r, Compression(header.Compression), nil)
	if err != nil {
		return nil, err
	}

	if id != sectionManifest {
		return nil, fmt.Errorf("%w: first section is %d, want manifest", ErrInvalidSection, id)
	}

	var manifest Manifest
	if err := c.Unmarshal(payload, &manifest); err != nil {
		return nil, fmt.Errorf("bundle: decode manifest: %w", err)
	}

	return &manifest, nil
}

func readHeader(r io.Reader) (*fileHeader, codec.Codec, error) {
	var header fileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, nil, fmt.Errorf("bundle: read header: %w", err)
	}

	if header.Magic != MagicNumber {
		return nil, nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, header.Magic)
	}

	if header.Version != Version {
		return nil, nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, header.Version)
	}

	if Compression(header.Compression) > CompressionZstd {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownCompression, header.Compression)
	}

	name := string(bytes.TrimRight(header.Codec[:], "\x00"))

	c, ok := codec.ByName(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}

	if header.Sections != sectionCount {
		return nil, nil, fmt.Errorf("%w: %d sections, want %d", ErrInvalidSection, header.Sections, sectionCount)
	}

	return &header, c, nil
}

// readSection reads one section and returns its decoded payload. Memory
// reservations cover the transient buffers only; the decoded model belongs
// to the caller.
func readSection(ctx context.Context, r io.Reader, compression Compression, ctrl *resource.Controller) (uint8, []byte, error) {
	var hdr sectionHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return 0, nil, fmt.Errorf("bundle: read section header: %w", err)
	}

	stored := hdr.UncompressedSize
	if hdr.CompressedSize != 0 {
		stored = hdr.CompressedSize
	}

	reserve := int64(stored) + int64(hdr.UncompressedSize)
	if err := ctrl.AcquireMemory(ctx, reserve); err != nil {
		return 0, nil, err
	}
	defer ctrl.ReleaseMemory(reserve)

	payload := make([]byte, stored)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("bundle: read section %d: %w", hdr.ID, err)
	}

	if hdr.CompressedSize == 0 {
		return hdr.ID, payload, nil
	}

	out, err := decompress(payload, int(hdr.UncompressedSize), compression)
	if err != nil {
		return 0, nil, err
	}

	return hdr.ID, out, nil
}

// encodeMatrix lays out the embedding matrices as little-endian float32
// blocks: coords, then loadings, then the centering means.
func encodeMatrix(emb *embedding.Embedding) ([]byte, error) {
	n, d, p := emb.Samples(), emb.Dim(), emb.FeatureDim()

	var buf bytes.Buffer
	buf.Grow(12 + (n*d+p*d+p)*4)

	for _, v := range []uint32{uint32(n), uint32(d), uint32(p)} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}

	fw := newFloatWriter(&buf)

	for _, row := range emb.Coords() {
		if err := fw.write(row); err != nil {
			return nil, err
		}
	}

	for _, row := range emb.Loadings() {
		if err := fw.write(row); err != nil {
			return nil, err
		}
	}

	if err := fw.write(emb.Means()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeMatrix(payload []byte, meta *basisMeta) (*embedding.Embedding, error) {
	r := bytes.NewReader(payload)

	var n, d, p uint32
	for _, dst := range []*uint32{&n, &d, &p} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, fmt.Errorf("bundle: matrix section: %w", err)
		}
	}

	want := (int(n)*int(d) + int(p)*int(d) + int(p)) * 4
	if r.Len() != want {
		return nil, fmt.Errorf("bundle: matrix section has %d payload bytes, want %d", r.Len(), want)
	}

	fr := newFloatReader(r)

	coords, err := readMatrixRows(fr, int(n), int(d))
	if err != nil {
		return nil, fmt.Errorf("bundle: matrix section: %w", err)
	}

	loadings, err := readMatrixRows(fr, int(p), int(d))
	if err != nil {
		return nil, fmt.Errorf("bundle: matrix section: %w", err)
	}

	means := make([]float32, p)
	if err := fr.read(means); err != nil {
		return nil, fmt.Errorf("bundle: matrix section: %w", err)
	}

	var optFns []func(o *embedding.Options)
	if meta.Names != nil {
		optFns = append(optFns, embedding.WithDimensionNames(meta.Names))
	}

	if meta.Variance != nil {
		optFns = append(optFns, embedding.WithExplainedVariance(meta.Variance))
	}

	emb, err := embedding.New(coords, loadings, means, optFns...)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}

	return emb, nil
}

// readMatrixRows reads rows*cols floats into row slices sharing one
// backing array.
func readMatrixRows(fr *floatReader, rows, cols int) ([][]float32, error) {
	flat := make([]float32, rows*cols)
	if err := fr.read(flat); err != nil {
		return nil, err
	}

	out := make([][]float32, rows)
	for i := range out {
		out[i] = flat[i*cols : (i+1)*cols : (i+1)*cols]
	}

	return out, nil
}

// SaveToFile writes the bundle to path atomically: a temp file in the same
// directory is synced, then renamed over the target.
func SaveToFile(ctx context.Context, path string, b *Bundle, optFns ...func(o *Options)) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	_ = tmp.Chmod(0644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := Write(ctx, buf, b, optFns...); err != nil {
		return err
	}

	if err := buf.Flush(); err != nil {
		return err
	}

	if err := tmp.Sync(); err != nil {
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	// Best effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	// Success: prevent the deferred cleanup from removing the final file.
	tmpName = ""
	return nil
}

// LoadFromFile reads a bundle from path.
func LoadFromFile(ctx context.Context, path string, optFns ...func(o *Options)) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Read(ctx, bufio.NewReaderSize(f, 256*1024), optFns...)
}
