// Element codecs: per-type little-endian (portable) serialization for
// raw and compressed stored vectors (SPEC_FULL §4.5 "Native vs portable
// raw layout"). Go has no memcpy-safe generic reinterpret-cast the way
// the original's native strategy does, so every instantiation goes
// through an explicit Codec[T] rather than an unsafe cast; this is
// still a single tight encode/decode call per element, not a generic
// reflection-based path.
package anydb

import (
	"encoding/binary"
	"math"
)

// Codec describes how to serialize one element of type T to and from
// its fixed-width little-endian on-disk representation.
type Codec[T any] struct {
	Size   int
	Encode func(dst []byte, v T)
	Decode func(src []byte) T
}

func Uint32Codec() Codec[uint32] {
	return Codec[uint32]{
		Size:   4,
		Encode: func(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) },
		Decode: func(src []byte) uint32 { return binary.LittleEndian.Uint32(src) },
	}
}

func Uint64Codec() Codec[uint64] {
	return Codec[uint64]{
		Size:   8,
		Encode: func(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) },
		Decode: func(src []byte) uint64 { return binary.LittleEndian.Uint64(src) },
	}
}

func Int64Codec() Codec[int64] {
	return Codec[int64]{
		Size:   8,
		Encode: func(dst []byte, v int64) { binary.LittleEndian.PutUint64(dst, uint64(v)) },
		Decode: func(src []byte) int64 { return int64(binary.LittleEndian.Uint64(src)) },
	}
}

func Float32Codec() Codec[float32] {
	return Codec[float32]{
		Size:   4,
		Encode: func(dst []byte, v float32) { binary.LittleEndian.PutUint32(dst, math.Float32bits(v)) },
		Decode: func(src []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(src)) },
	}
}

func Float64Codec() Codec[float64] {
	return Codec[float64]{
		Size:   8,
		Encode: func(dst []byte, v float64) { binary.LittleEndian.PutUint64(dst, math.Float64bits(v)) },
		Decode: func(src []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(src)) },
	}
}

// encodeAll serializes vs into one contiguous buffer.
func encodeAll[T any](codec Codec[T], vs []T) []byte {
	buf := make([]byte, len(vs)*codec.Size)
	for i, v := range vs {
		codec.Encode(buf[i*codec.Size:], v)
	}
	return buf
}

// decodeAll parses a contiguous buffer of packed elements. buf's length
// must be a multiple of codec.Size.
func decodeAll[T any](codec Codec[T], buf []byte) []T {
	n := len(buf) / codec.Size
	out := make([]T, n)
	for i := range out {
		out[i] = codec.Decode(buf[i*codec.Size:])
	}
	return out
}
