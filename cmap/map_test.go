package cmap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyMap(t *testing.T) {
	m := New[int, int]()

	_, ok := m.Get(42)
	require.False(t, ok)

	_, ok = m.Remove(42)
	require.False(t, ok)

	require.Equal(t, 0, m.Len())
	require.True(t, m.IsEmpty())
}

func TestInsertGetReplace(t *testing.T) {
	m := New[int, int]()

	old, had := m.Insert(42, 0)
	require.False(t, had)
	require.Zero(t, old)

	v, ok := m.Get(42)
	require.True(t, ok)
	require.Equal(t, 0, v)

	old, had = m.Insert(42, 1)
	require.True(t, had)
	require.Equal(t, 0, old)

	v, ok = m.Get(42)
	require.True(t, ok)
	require.Equal(t, 1, v)

	require.Equal(t, 1, m.Len())
}

func TestTryInsert(t *testing.T) {
	m := New[int, int]()

	require.NoError(t, m.TryInsert(1, 10))

	err := m.TryInsert(1, 20)
	require.Error(t, err)

	var dup *KeyAlreadyPresentError[int, int]
	require.True(t, errors.As(err, &dup))
	require.Equal(t, 10, dup.Existing)

	v, ok := m.Get(1)
	require.True(t, ok)
	require.Equal(t, 10, v)
}

// collidingHasher forces every key into bin 0, exercising the single-bin
// chain walk on insert, replace, and ordered removal.
type collidingHasher struct{}

func (collidingHasher) Hash(string) uint64 { return 0 }

func TestSingleBinAdversarialHasher(t *testing.T) {
	m := New[string, int](WithHasher[string, int](collidingHasher{}))

	m.Insert("head", 0)
	m.Insert("middle", 10)
	m.Insert("tail", 100)

	old, had := m.Insert("head", 1)
	require.True(t, had)
	require.Equal(t, 0, old)

	old, had = m.Insert("middle", 11)
	require.True(t, had)
	require.Equal(t, 10, old)

	old, had = m.Insert("tail", 101)
	require.True(t, had)
	require.Equal(t, 100, old)

	v, ok := m.Remove("middle")
	require.True(t, ok)
	require.Equal(t, 11, v)

	v, ok = m.Remove("tail")
	require.True(t, ok)
	require.Equal(t, 101, v)

	v, ok = m.Remove("head")
	require.True(t, ok)
	require.Equal(t, 1, v)

	require.Equal(t, 0, m.Len())
}

// TestSingleBinAdversarialHasherNoLessStaysChain exercises the same-hash,
// no-ordering case: with every key sharing one spread hash and no WithLess
// supplied, the bin must keep growing as a chain rather than treeify, since
// a nil less gives putTreeVal/findTree no valid tie-break for entries that
// collide on hash. Every inserted key must remain reachable even once the
// table has grown well past the capacity that would otherwise trigger
// treeification.
func TestSingleBinAdversarialHasherNoLessStaysChain(t *testing.T) {
	m := New[string, int](WithHasher[string, int](collidingHasher{}))

	const n = 100
	for i := 0; i < n; i++ {
		m.Insert(fmt.Sprintf("key%03d", i), i)
	}

	require.Equal(t, n, m.Len())

	for i := 0; i < n; i++ {
		v, ok := m.Get(fmt.Sprintf("key%03d", i))
		require.Truef(t, ok, "key%03d missing", i)
		require.Equal(t, i, v)
	}
}

func TestComputeIfPresent(t *testing.T) {
	m := New[int, int]()
	m.Insert(42, 0)

	v, ok := m.ComputeIfPresent(42, func(_ int, v int) (int, bool) {
		return v + 1, true
	})
	require.True(t, ok)
	require.Equal(t, 1, v)

	got, ok := m.Get(42)
	require.True(t, ok)
	require.Equal(t, 1, got)

	v, ok = m.ComputeIfPresent(42, func(int, int) (int, bool) {
		return 0, false
	})
	require.False(t, ok)
	require.Zero(t, v)

	_, ok = m.Get(42)
	require.False(t, ok)

	// No-op on an absent key.
	v, ok = m.ComputeIfPresent(42, func(int, int) (int, bool) {
		t.Fatal("fn must not run on an absent key")

		return 0, true
	})
	require.False(t, ok)
	require.Zero(t, v)
}

func TestComputeIfPresentPanicReleasesLock(t *testing.T) {
	m := New[int, int]()
	m.Insert(1, 1)

	func() {
		defer func() { _ = recover() }()

		m.ComputeIfPresent(1, func(int, int) (int, bool) {
			panic("boom")
		})
	}()

	// The bin lock must have been released by the deferred unlock; a
	// subsequent operation on the same bin must not deadlock.
	v, ok := m.Get(1)
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = m.Insert(1, 2)
	require.True(t, ok)
}

func TestRetain(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 32; i++ {
		m.Insert(i, i)
	}

	m.Retain(func(_ int, v int) bool { return v%2 == 0 })

	require.Equal(t, 16, m.Len())

	m.Iter(func(_ int, v int) bool {
		require.Zero(t, v%2)

		return true
	})
}

func TestRetainTrueIsNoop(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 10; i++ {
		m.Insert(i, i)
	}

	m.Retain(func(int, int) bool { return true })
	require.Equal(t, 10, m.Len())
}

func TestRetainFalseEmptiesMap(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 10; i++ {
		m.Insert(i, i)
	}

	m.Retain(func(int, int) bool { return false })
	require.Equal(t, 0, m.Len())
}

func TestRetainForcePanicReleasesTreeWriterStamp(t *testing.T) {
	m := New[string, int](
		WithHasher[string, int](collidingHasher{}),
		WithLess[string, int](func(a, b string) bool { return a < b }),
	)

	// Past treeThreshold on a single bin with capacity at minTreeifyCapacity
	// or above, this chain treeifies; RetainForce then exercises the
	// tree-writer-stamp path rather than the plain chain-lock path.
	const n = 100
	for i := 0; i < n; i++ {
		m.Insert(fmt.Sprintf("key%03d", i), i)
	}

	func() {
		defer func() { _ = recover() }()

		m.RetainForce(func(string, int) bool {
			panic("boom")
		})
	}()

	// If the bin lock or the tree-bin writer stamp leaked, this Insert into
	// the same bin would spin forever.
	_, had := m.Insert("key000", 0)
	require.True(t, had)

	require.Equal(t, n, m.Len())
}

func TestClear(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 10; i++ {
		m.Insert(i, i)
	}

	m.Clear()
	require.Equal(t, 0, m.Len())

	_, ok := m.Get(0)
	require.False(t, ok)

	m.Insert(0, 99)

	v, ok := m.Get(0)
	require.True(t, ok)
	require.Equal(t, 99, v)
}

func TestAtPanicsOnMissingKey(t *testing.T) {
	m := New[int, int]()
	m.Insert(1, 1)

	require.Equal(t, 1, m.At(1))
	require.Panics(t, func() { m.At(2) })
}

func TestEqual(t *testing.T) {
	a := New[int, int]()
	b := New[int, int]()

	for i := 0; i < 5; i++ {
		a.Insert(i, i*2)
		b.Insert(i, i*2)
	}

	require.True(t, a.Equal(b, func(x, y int) bool { return x == y }))

	b.Insert(5, 10)
	require.False(t, a.Equal(b, func(x, y int) bool { return x == y }))
}

func TestPinnedForwarding(t *testing.T) {
	m := New[int, int]()

	p := m.Pin()
	defer p.Unpin()

	p.Insert(1, 1)
	v, ok := p.Get(1)
	require.True(t, ok)
	require.Equal(t, 1, v)

	require.True(t, p.ContainsKey(1))
	require.Equal(t, 1, p.Len())

	v, ok = p.Remove(1)
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.True(t, p.IsEmpty())
}

func TestShardHintPresizesCounter(t *testing.T) {
	m := New[int, int](WithShardHint[int, int](8))

	for i := 0; i < 100; i++ {
		m.Insert(i, i)
	}

	require.Equal(t, 100, m.Len())
}

func TestResizeGrowsAndPreservesEntries(t *testing.T) {
	m := New[int, int](WithCapacity[int, int](2))

	const n = 2000
	for i := 0; i < n; i++ {
		m.Insert(i, i)
	}

	require.Equal(t, n, m.Len())

	for i := 0; i < n; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestTreeifyUntreeify(t *testing.T) {
	m := New[string, int](
		WithHasher[string, int](collidingHasher{}),
		WithLess[string, int](func(a, b string) bool { return a < b }),
	)

	const n = 100
	for i := 0; i < n; i++ {
		m.Insert(fmt.Sprintf("key%03d", i), i)
	}

	require.Equal(t, n, m.Len())

	for i := 0; i < n; i++ {
		v, ok := m.Get(fmt.Sprintf("key%03d", i))
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	// Removing down past untreeifyThreshold collapses the bin back to a
	// plain chain; the remaining entries must still be reachable.
	for i := 0; i < n-4; i++ {
		_, ok := m.Remove(fmt.Sprintf("key%03d", i))
		require.True(t, ok)
	}

	require.Equal(t, 4, m.Len())

	for i := n - 4; i < n; i++ {
		v, ok := m.Get(fmt.Sprintf("key%03d", i))
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}
