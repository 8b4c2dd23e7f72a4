package txservice

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressThresholdBytes is the payload size above which Compress actually
// applies zstd; smaller payloads are passed through unchanged, since the
// frame header plus zstd's own overhead would net-lose on tiny inputs
// (spec.md §4.I recommends 100 B).
const CompressThresholdBytes = 100

var encoderPool = sync.Pool{
	New: func() interface{} {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			panic(err) // only fails on invalid static options, never at runtime
		}
		return enc
	},
}

var decoderPool = sync.Pool{
	New: func() interface{} {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
		return dec
	},
}

// Compress applies zstd when payload exceeds CompressThresholdBytes. The
// one-byte prefix flag indicating whether compression was applied lives in
// the mesh envelope/frame layer, not here — Compress only returns the
// (possibly) compressed bytes and a bool telling the caller whether it did.
func Compress(payload []byte) (data []byte, compressed bool) {
	if len(payload) <= CompressThresholdBytes {
		return payload, false
	}
	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)
	return enc.EncodeAll(payload, nil), true
}

// Decompress reverses Compress. Callers must only invoke this when the
// frame's compression flag is set.
func Decompress(data []byte) ([]byte, error) {
	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)
	return dec.DecodeAll(data, nil)
}
