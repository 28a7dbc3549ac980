package bundle

import "errors"

const (
	// MagicNumber identifies cytogo bundle files (ASCII: "CYT0").
	MagicNumber = 0x43595430

	// Version is the current bundle format version (v1.0.0).
	Version = 0x00010000
)

// Section identifiers, in file order.
const (
	sectionManifest uint8 = iota + 1
	sectionFeature
	sectionRegistry
	sectionBasis
	sectionMatrix
)

const sectionCount = 5

var (
	ErrInvalidMagic       = errors.New("bundle: invalid magic number")
	ErrInvalidVersion     = errors.New("bundle: unsupported version")
	ErrInvalidSection     = errors.New("bundle: invalid section layout")
	ErrUnknownCodec       = errors.New("bundle: unknown codec")
	ErrUnknownCompression = errors.New("bundle: unknown compression")
)

// fileHeader is the fixed 32-byte header at the start of every bundle.
// Codec holds the zero-padded codec name, so bundles are self-describing.
type fileHeader struct {
	Magic       uint32
	Version     uint32
	Compression uint8
	Padding     [3]byte
	Codec       [8]byte
	Sections    uint32
	Reserved    [8]byte
}

// sectionHeader precedes every section payload. A zero CompressedSize means
// the payload is stored raw.
type sectionHeader struct {
	ID               uint8
	Padding          [3]byte
	UncompressedSize uint32
	CompressedSize   uint32
}
