package cmap

import (
	"hash/maphash"

	"github.com/cespare/xxhash/v2"
)

// Hasher computes a 64-bit hash code for a key. Implementations need not
// spread bits themselves; spread() does that uniformly for every hasher
// so a poor-quality hash still distributes across bins reasonably.
type Hasher[K comparable] interface {
	Hash(key K) uint64
}

// HasherFunc adapts a plain function to Hasher.
type HasherFunc[K comparable] func(key K) uint64

func (f HasherFunc[K]) Hash(key K) uint64 { return f(key) }

// spread post-processes a raw hash by xor-folding its high bits into its
// low bits, then clears the top bit so a real entry's hash can never
// collide with a special marker's sentinel (node.go). The multiplier is
// the first constant of MurmurHash3's 64-bit finalizer (fmix64).
func spread(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 29

	return h &^ topBit
}

// mapHasher is the default Hasher for an arbitrary comparable key type. It
// is built on stdlib hash/maphash's generic maphash.Comparable (Go
// >=1.24), the idiomatic modern-Go default for hashing an arbitrary
// `comparable` type parameter without per-type boilerplate.
type mapHasher[K comparable] struct {
	seed maphash.Seed
}

func newMapHasher[K comparable]() mapHasher[K] {
	return mapHasher[K]{seed: maphash.MakeSeed()}
}

func (h mapHasher[K]) Hash(key K) uint64 {
	return maphash.Comparable(h.seed, key)
}

// BytesHasher hashes string keys with xxhash (github.com/cespare/xxhash/v2).
// A []byte is not comparable and so cannot be K; byte-slice data is keyed
// by its string conversion.
func BytesHasher() HasherFunc[string] {
	return func(key string) uint64 {
		return xxhash.Sum64String(key)
	}
}

// StringHasher returns the same xxhash-backed string hasher as BytesHasher.
func StringHasher() HasherFunc[string] {
	return BytesHasher()
}
