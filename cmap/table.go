package cmap

import (
	"go.uber.org/atomic"
)

// table is the bucket table: a fixed-capacity array of atomic bin heads, a
// pointer to the table a live resize is migrating into, and the shared
// progress index recording the next stride of bins to migrate.
//
// sizeCtl is the sizing control word: it holds the resize threshold
// (0.75 * capacity) while no resize has started, -1 while the initiator
// allocates the next table, and -2 from then on. It records neither a
// resize generation nor a helper count; completion is tracked by
// transferDone instead.
type table[K comparable, V any] struct {
	bins  []atomicPointer[binEntry[K, V]]
	locks []spinlock

	next atomicPointer[table[K, V]]

	sizeCtl       atomic.Int64
	transferIndex atomic.Int64 // counts down from len(bins) as strides are claimed
	transferDone  atomic.Int64 // counts up as strides finish; migration complete when it reaches len(bins)
	finalized     atomic.Bool  // guards one-time publish of the completed next table
}

func newTable[K comparable, V any](capacity int) *table[K, V] {
	t := &table[K, V]{
		bins:  make([]atomicPointer[binEntry[K, V]], capacity),
		locks: make([]spinlock, capacity),
	}
	t.sizeCtl.Store(int64(capacity) - int64(capacity)>>2) // 0.75 * capacity

	return t
}

func (t *table[K, V]) capacity() int { return len(t.bins) }

func (t *table[K, V]) mask() uint64 { return uint64(len(t.bins)) - 1 }

func (t *table[K, V]) binIndex(hash uint64) uint64 { return hash & t.mask() }

// boxEntry wraps a binEntry value in the pointer identity the underlying
// atomic.Pointer[T] CAS compares by address, not by structural equality.
// Every CAS retry loop below must reuse the exact *box it most recently
// loaded as "old" rather than re-wrapping a freshly read value.
func boxEntry[K comparable, V any](e binEntry[K, V]) *binEntry[K, V] {
	if e == nil {
		return nil
	}

	return &e
}

func entryOf[K comparable, V any](box *binEntry[K, V]) binEntry[K, V] {
	if box == nil {
		return nil
	}

	return *box
}

// loadBinBox returns the live box pointer for idx (nil if the bin is
// empty). Keep the returned pointer around to pass as "old" to casBinBox.
func (t *table[K, V]) loadBinBox(idx uint64) *binEntry[K, V] {
	return t.bins[idx].load()
}

func (t *table[K, V]) loadBin(idx uint64) binEntry[K, V] {
	return entryOf(t.loadBinBox(idx))
}

func (t *table[K, V]) storeBin(idx uint64, e binEntry[K, V]) {
	t.bins[idx].store(boxEntry(e))
}

// casBinBox swaps oldBox for a freshly boxed new value. oldBox must be a
// pointer previously returned by loadBinBox/casBinBox for this bin, not a
// newly constructed box, or the compare will spuriously fail forever.
func (t *table[K, V]) casBinBox(idx uint64, oldBox *binEntry[K, V], new binEntry[K, V]) (*binEntry[K, V], bool) { //nolint:predeclared
	return t.bins[idx].casCurrent(oldBox, boxEntry(new))
}

// spinlock is the per-bin mutation token. Java's ConcurrentHashMap stores
// this lock on the bin-head object itself via an intrinsic monitor; Go has
// no per-object monitor, so the idiomatic translation is a parallel array
// of lightweight spinlocks indexed the same way as the bins. A bin lock is
// held only for the duration of a single-bin mutation.
type spinlock struct {
	state atomic.Uint32
}

func (s *spinlock) lock() {
	for !s.state.CompareAndSwap(0, 1) {
		spinWait()
	}
}

func (s *spinlock) unlock() {
	s.state.Store(0)
}
