//go:build !cgo_zstd

package compress

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

const implName = "klauspost/compress/zstd"

// maxDecodedSize bounds the memory a single frame may decode to.
const maxDecodedSize = 1 << 31

var defaultCompressor Compressor = NewZstd()

// Zstd is the pure Go zstd compressor.
type Zstd struct {
	mu       sync.Mutex
	encoders map[int]*zstd.Encoder
	decoder  *zstd.Decoder
}

// NewZstd creates a pure Go zstd compressor. Encoders and the decoder are
// created on first use and reused afterwards.
func NewZstd() *Zstd {
	return &Zstd{encoders: make(map[int]*zstd.Encoder)}
}

// Compress compresses src into a single zstd frame.
func (z *Zstd) Compress(src []byte, level int) ([]byte, error) {
	if level <= 0 {
		level = DefaultLevel
	}
	z.mu.Lock()
	enc, ok := z.encoders[level]
	if !ok {
		var err error
		enc, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithZeroFrames(true))
		if err != nil {
			z.mu.Unlock()
			return nil, err
		}
		z.encoders[level] = enc
	}
	z.mu.Unlock()
	return enc.EncodeAll(src, make([]byte, 0, len(src)/2+64)), nil
}

// Decompress decodes every frame in src.
func (z *Zstd) Decompress(src []byte) ([]byte, error) {
	z.mu.Lock()
	if z.decoder == nil {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
		if err != nil {
			z.mu.Unlock()
			return nil, err
		}
		z.decoder = dec
	}
	dec := z.decoder
	z.mu.Unlock()
	return dec.DecodeAll(src, nil)
}
