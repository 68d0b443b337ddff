package cmap

import (
	"sync"

	"go.uber.org/atomic"
)

// reclaimer is a safe memory reclamation layer: callers pin before
// dereferencing any pointer loaded from an atomic slot, and retired
// nodes/tables are only destroyed once every pin active at retirement time
// has ended. Go's runtime is itself a tracing collector, so this reclaimer
// never frees a byte directly the way a manual Box-free or arena-backed
// scheme would. Its job is purely sequencing: deferring a retired table's
// last reference drop, and any registered cleanup callback, until no pin
// predating the retirement can still observe it. The actual bytes are
// freed by the Go garbage collector once that last reference drops; this
// is pointer-based SMR discipline, not a collector-backed replacement for
// it.
//
// The three-bucket limbo list and epoch-advance-on-unpin shape follows
// crossbeam-epoch's design, the Rust ecosystem's epoch-based GC, adapted
// to go.uber.org/atomic counters.
type reclaimer[K comparable, V any] struct {
	globalEpoch atomic.Uint64

	mu    sync.Mutex
	slots []*pinSlot
	limbo [3][]func()
}

type pinSlot struct {
	active atomic.Bool
	epoch  atomic.Uint64
}

func newReclaimer[K comparable, V any]() *reclaimer[K, V] {
	return &reclaimer[K, V]{}
}

// Guard is a scoped pin returned by pin(). Pointers
// loaded from atomic slots while a Guard is live remain safe to dereference
// until unpin, even if another goroutine retires them in the meantime.
// Guards are not safe for concurrent use from multiple goroutines; each
// goroutine pins its own.
type Guard[K comparable, V any] struct {
	r    *reclaimer[K, V]
	slot *pinSlot
	done bool
}

// unpin ends the guard. Ending a pin may, but need not, run pending
// reclamations; here it opportunistically tries to advance the epoch and
// drain whatever limbo bucket that unblocks.
func (g *Guard[K, V]) unpin() {
	if g.done {
		return
	}

	g.done = true
	g.slot.active.Store(false)
	g.r.tryAdvance()
}

// pin acquires a scoped guard. Re-entrant: a goroutine may hold nested
// pins, each tracked by its own slot.
func (r *reclaimer[K, V]) pin() *Guard[K, V] {
	slot := r.acquireSlot()
	slot.epoch.Store(r.globalEpoch.Load())
	slot.active.Store(true)

	return &Guard[K, V]{r: r, slot: slot}
}

func (r *reclaimer[K, V]) acquireSlot() *pinSlot {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Claim the slot under mu so two concurrent pins never share one.
	for _, s := range r.slots {
		if !s.active.Load() {
			s.active.Store(true)

			return s
		}
	}

	s := &pinSlot{}
	s.active.Store(true)
	r.slots = append(r.slots, s)

	return s
}

// retire enqueues fn to run once no pin that existed at the moment of the
// call can still be observing whatever fn cleans up. fn must not itself
// pin or block.
func (r *reclaimer[K, V]) retire(fn func()) {
	r.mu.Lock()
	r.limbo[r.globalEpoch.Load()%3] = append(r.limbo[r.globalEpoch.Load()%3], fn)
	r.mu.Unlock()
}

// deferDropTable retires a migrated-away bucket table once resize
// completes. The callback only clears the table's own slice fields so
// everything it referenced becomes collectible the instant the last
// pinned reader stops observing it through a forwarding marker.
func (r *reclaimer[K, V]) deferDropTable(t *table[K, V]) {
	r.retire(func() {
		t.bins = nil
		t.locks = nil
	})
}

// tryAdvance bumps the global epoch if every active pin has already
// observed it, then drains whichever limbo bucket that makes safe to run.
// Called opportunistically on unpin; never blocks.
func (r *reclaimer[K, V]) tryAdvance() {
	r.mu.Lock()

	cur := r.globalEpoch.Load()

	for _, s := range r.slots {
		if s.active.Load() && s.epoch.Load() != cur {
			r.mu.Unlock()

			return
		}
	}

	next := cur + 1
	r.globalEpoch.Store(next)

	collectIdx := (next + 1) % 3
	collect := r.limbo[collectIdx]
	r.limbo[collectIdx] = nil

	r.mu.Unlock()

	for _, fn := range collect {
		fn()
	}
}
