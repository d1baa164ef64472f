// Package stir implements the deterministic sliding-window stirring
// transform used to distill a source's processed bytes before they are
// offered to the entropy pool (spec §4.1, component C1).
package stir

import (
	"crypto/sha256"

	"github.com/eliteGoblin/egd/internal/domain"
)

// Transform adapts the package-level Stir function to domain.Stirrer for
// dependency injection into the source cycle runner.
type Transform struct{}

// New creates a domain.Stirrer backed by Stir.
func New() *Transform {
	return &Transform{}
}

// Stir implements domain.Stirrer.
func (t *Transform) Stir(input []byte) []byte {
	return Stir(input)
}

var _ domain.Stirrer = (*Transform)(nil)

// WindowSize is the number of trailing bytes hashed for each block, W in
// spec §4.1.
const WindowSize = 1024

// BlockSize is the XOR granularity, B in spec §4.1. SHA-256's output size
// equals BlockSize, so the whole digest is folded into the block.
const BlockSize = 32

// Stir distills input into a same-length output via a sliding-window
// hash XOR: each non-overlapping BlockSize-byte block is XORed with the
// leading BlockSize bytes of SHA-256(window), where window is the
// min(WindowSize, blockEnd) bytes of input ending at the block's end.
// Early blocks — those fewer than WindowSize bytes into the input — use a
// shrinking prefix window instead of a full WindowSize window; this is
// the documented contract for sub-window inputs (spec §4.1 open
// question).
//
// Stir is pure and deterministic: equal inputs always yield equal
// outputs, and len(Stir(x)) == len(x) for every x.
func Stir(input []byte) []byte {
	if len(input) == 0 {
		return []byte{}
	}

	out := make([]byte, len(input))

	// Windows are always drawn from the original input, never from
	// already-stirred output: the spec defines each block's window as
	// "the bytes of input ending at e", so earlier blocks' output must
	// not feed later blocks' hashes.
	for start := 0; start < len(input); start += BlockSize {
		end := start + BlockSize
		if end > len(input) {
			end = len(input)
		}

		windowStart := end - WindowSize
		if windowStart < 0 {
			windowStart = 0
		}
		window := input[windowStart:end]

		digest := sha256.Sum256(window)
		for i := start; i < end; i++ {
			out[i] = input[i] ^ digest[i-start]
		}
	}

	return out
}
