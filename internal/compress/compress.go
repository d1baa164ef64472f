// Package compress implements the optional lossless compression stage
// (C2, spec §4.2) ahead of stirring. LZ4 is the default algorithm spec.md
// names explicitly; github.com/pierrec/lz4/v4 is the same library the
// wider example pack already depends on for exactly this purpose.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// LZ4Compressor implements domain.Compressor using streaming LZ4 framing.
type LZ4Compressor struct{}

// New creates an LZ4-backed compressor.
func New() *LZ4Compressor {
	return &LZ4Compressor{}
}

// Compress returns the LZ4-framed form of data. It never fails for valid
// input; the error return exists for the interface contract and I/O
// failures against the in-memory buffer, which cannot occur in practice.
func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Per spec §4.2, decompress(compress(x)) ==
// x is the only round-trip guarantee required; decompression is not on
// the deposit path and exists only for diagnostic tooling.
func (c *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}
