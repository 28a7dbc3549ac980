package bundle

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the section compression algorithm.
type Compression uint8

const (
	// CompressionNone stores sections raw.
	CompressionNone Compression = iota

	// CompressionLZ4 trades ratio for speed.
	CompressionLZ4

	// CompressionZstd is the default: better ratio at model-save speeds.
	CompressionZstd
)

// Shared coders; EncodeAll and DecodeAll are safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// compress returns the compressed payload, or ok=false when the section
// should be stored raw because compression does not pay off.
func compress(data []byte, c Compression) ([]byte, bool, error) {
	if c == CompressionNone || len(data) == 0 {
		return nil, false, nil
	}

	var compressed []byte

	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))

		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, false, fmt.Errorf("bundle: lz4: %w", err)
		}

		if n == 0 {
			// Incompressible input.
			return nil, false, nil
		}

		compressed = buf[:n]
	case CompressionZstd:
		compressed = zstdEncoder.EncodeAll(data, nil)
	default:
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}

	// Sections that barely shrink are stored raw.
	if len(compressed)*10 > len(data)*9 {
		return nil, false, nil
	}

	return compressed, true, nil
}

// decompress expands a compressed section payload to its recorded size.
func decompress(payload []byte, size int, c Compression) ([]byte, error) {
	switch c {
	case CompressionLZ4:
		out := make([]byte, size)

		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("bundle: lz4: %w", err)
		}

		if n != size {
			return nil, fmt.Errorf("bundle: lz4: decompressed %d bytes, want %d", n, size)
		}

		return out, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("bundle: zstd: %w", err)
		}

		if len(out) != size {
			return nil, fmt.Errorf("bundle: zstd: decompressed %d bytes, want %d", len(out), size)
		}

		return out, nil
	case CompressionNone:
		return nil, fmt.Errorf("bundle: compressed section in an uncompressed bundle")
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}
}
