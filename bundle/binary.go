package bundle

import (
	"encoding/binary"
	"io"
	"math"
)

// Float blocks are encoded little-endian in explicit 4-byte units, so a
// bundle written on one architecture reads back identically on any other.

// floatChunk is the number of floats staged per IO burst.
const floatChunk = 4096

type floatWriter struct {
	w   io.Writer
	buf []byte
}

func newFloatWriter(w io.Writer) *floatWriter {
	return &floatWriter{w: w, buf: make([]byte, floatChunk*4)}
}

func (fw *floatWriter) write(vals []float32) error {
	for len(vals) > 0 {
		n := min(len(vals), floatChunk)

		for i, v := range vals[:n] {
			binary.LittleEndian.PutUint32(fw.buf[i*4:], math.Float32bits(v))
		}

		if _, err := fw.w.Write(fw.buf[:n*4]); err != nil {
			return err
		}

		vals = vals[n:]
	}

	return nil
}

type floatReader struct {
	r   io.Reader
	buf []byte
}

func newFloatReader(r io.Reader) *floatReader {
	return &floatReader{r: r, buf: make([]byte, floatChunk*4)}
}

func (fr *floatReader) read(dst []float32) error {
	for len(dst) > 0 {
		n := min(len(dst), floatChunk)

		if _, err := io.ReadFull(fr.r, fr.buf[:n*4]); err != nil {
			return err
		}

		for i := range dst[:n] {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(fr.buf[i*4:]))
		}

		dst = dst[n:]
	}

	return nil
}
