// Package algo implements the thin recursive parallel algorithm
// templates of spec.md §4.8 — reduce, scan, search, and min/max — over
// sched's fork/join scheduler and ori's checkout/checkin coherence
// engine. It is "shown for completeness" per the spec's own framing:
// a reference layer exercising the full stack, not a general-purpose
// parallel algorithms library.
package algo

import "math"

// Codec describes how to decode/encode one fixed-width element of
// type T to and from its big-endian wire representation, matching the
// manual big-endian encoding used throughout net/gvm/ori for atomics
// and collectives payloads.
type Codec[T any] struct {
	Size   int
	Decode func([]byte) T
	Encode func(T, []byte)
}

// Int64 codes a global array of 64-bit signed integers, the element
// type of every worked scenario in spec.md §8.4 except the histogram.
var Int64 = Codec[int64]{
	Size: 8,
	Decode: func(b []byte) int64 {
		return int64(beUint64(b))
	},
	Encode: func(v int64, b []byte) {
		putBEUint64(uint64(v), b)
	},
}

// Float64 codes a global array of 64-bit floats, used by the
// histogram reducer's sample array (spec.md §8.4 scenario 4).
var Float64 = Codec[float64]{
	Size: 8,
	Decode: func(b []byte) float64 {
		return math.Float64frombits(beUint64(b))
	},
	Encode: func(v float64, b []byte) {
		putBEUint64(math.Float64bits(v), b)
	},
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putBEUint64(v uint64, b []byte) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
