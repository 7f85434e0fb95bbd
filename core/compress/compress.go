// Package compress provides the block compressor used by the latest package
// generation.
//
// Build modes:
//   - Default: pure Go zstd from github.com/klauspost/compress
//   - CGO mode (-tags cgo_zstd): libzstd through github.com/dolthub/gozstd
//
// Both produce standard zstd frames, so packages written in one mode are read
// by the other.
package compress

import (
	"encoding/binary"
	"fmt"
)

// Magic is the little-endian magic number that starts every zstd frame.
const Magic uint32 = 0xFD2FB528

// DefaultLevel is the compression level used when none is given.
const DefaultLevel = 3

// Compressor compresses and decompresses whole buffers.
type Compressor interface {
	Compress(src []byte, level int) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// Default returns the compressor selected at build time.
func Default() Compressor {
	return defaultCompressor
}

// Name identifies the compressor implementation selected at build time.
func Name() string {
	return implName
}

// IsCompressed reports whether data starts with the zstd frame magic.
func IsCompressed(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data) == Magic
}

// MaybeDecompress decompresses data if it starts with the zstd magic and
// returns it unchanged otherwise.
func MaybeDecompress(c Compressor, data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return data, nil
	}
	out, err := c.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}
