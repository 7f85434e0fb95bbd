//go:build cgo_zstd

// CGO zstd compressor using libzstd through github.com/dolthub/gozstd.
//
// Build with: go build -tags cgo_zstd
// Requires: CGO_ENABLED=1
package compress

import (
	"github.com/dolthub/gozstd"
)

const implName = "dolthub/gozstd"

var defaultCompressor Compressor = NewZstd()

// Zstd is the libzstd compressor.
type Zstd struct{}

// NewZstd creates a libzstd compressor.
func NewZstd() *Zstd {
	return &Zstd{}
}

// Compress compresses src into a single zstd frame.
func (z *Zstd) Compress(src []byte, level int) ([]byte, error) {
	if level <= 0 {
		level = DefaultLevel
	}
	return gozstd.CompressLevel(nil, src, level), nil
}

// Decompress decodes every frame in src.
func (z *Zstd) Decompress(src []byte) ([]byte, error) {
	return gozstd.Decompress(nil, src)
}
