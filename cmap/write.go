package cmap

import (
	"github.com/go-kit/log/level"

	"github.com/tempo-labs/cmap/internal/cmaplog"
)

// putVal is the shared skeleton behind Insert and TryInsert.
// onlyIfAbsent selects TryInsert's abort-if-present behaviour.
func (m *Map[K, V]) putVal(hash uint64, key K, val V, onlyIfAbsent bool) (oldValue V, hadOld bool) {
	g := m.reclaim.pin()
	defer g.unpin()

	tab := m.table.load()

	for {
		idx := tab.binIndex(hash)
		box := tab.loadBinBox(idx)

		switch head := entryOf(box).(type) {
		case nil:
			if _, ok := tab.casBinBox(idx, box, newNode[K, V](hash, key, val)); !ok {
				continue
			}

			m.addCount(1, tab)

			var zero V

			return zero, false

		case *movedEntry[K, V]:
			tab = m.helpTransfer(tab, head)

		default:
			lock := &tab.locks[idx]
			lock.lock()

			if tab.loadBinBox(idx) != box {
				lock.unlock()

				continue
			}

			old, had, grewPastThreshold, treeified := m.mutateBinForPut(tab, idx, head, hash, key, val, onlyIfAbsent)

			lock.unlock()

			if treeified {
				m.metrics.observeTreeify()
				level.Debug(cmaplog.Logger).Log("msg", "bin treeified", "bin", idx)
			}

			if !had {
				m.addCount(1, tab)
			}

			if grewPastThreshold {
				m.tryStartResize(tab)
			}

			return old, had
		}
	}
}

// mutateBinForPut performs the locked portion of a put: walk or descend the
// bin, replace-in-place or append, and convert chain to tree at threshold.
// Caller holds tab.locks[idx].
func (m *Map[K, V]) mutateBinForPut(
	tab *table[K, V],
	idx uint64,
	head binEntry[K, V],
	hash uint64,
	key K,
	val V,
	onlyIfAbsent bool,
) (oldValue V, hadOld bool, grewPastThreshold bool, treeified bool) {
	switch e := head.(type) {
	case *node[K, V]:
		if n := e.find(hash, key); n != nil {
			old := n.value()

			if !onlyIfAbsent {
				nv := val
				n.val.store(&nv)
			}

			return old, true, false, false
		}

		length := 1

		tail := e
		for tail.next.load() != nil {
			tail = tail.next.load()
			length++
		}

		tail.next.store(newNode[K, V](hash, key, val))
		length++

		// Without an ordering over K there is no valid tie-break for nodes
		// that share a spread hash, so a nil less must never treeify: the
		// bin keeps growing as a chain instead.
		if length >= treeThreshold && m.less != nil {
			if tab.capacity() >= minTreeifyCapacity {
				tab.storeBin(idx, buildTreeBin[K, V](e, m.less))

				return oldValue, false, false, true
			}

			return oldValue, false, true, false
		}

		return oldValue, false, false, false

	case *treeBin[K, V]:
		e.lockWriter()
		existing, inserted := e.putTreeVal(hash, key, val)
		e.unlockWriter()

		if !inserted {
			old := existing.value()

			if !onlyIfAbsent {
				nv := val
				existing.val.store(&nv)
			}

			return old, true, false, false
		}

		return oldValue, false, false, false

	default:
		// empty/moved/reservation never reach here: the caller only takes
		// this path for a non-empty, non-forwarding bin head.
		return oldValue, false, false, false
	}
}

// Insert maps key to val, returning the previous value if one was replaced.
func (m *Map[K, V]) Insert(key K, val V) (V, bool) {
	return m.putVal(m.spreadHash(key), key, val, false)
}

// TryInsert maps key to val only if key is absent. On a present key it
// returns a *KeyAlreadyPresentError carrying the existing value and leaves
// the map unchanged.
func (m *Map[K, V]) TryInsert(key K, val V) error {
	_, had := m.putVal(m.spreadHash(key), key, val, true)
	if !had {
		return nil
	}

	existing, _ := m.Get(key)

	return asKeyAlreadyPresentError[K, V](key, existing)
}

// ComputeIfPresent invokes fn with the existing (key, value) if key is
// present; if fn returns (newVal, true) the entry is replaced in place, if
// (_, false) the entry is removed. No-op on an absent key.
// Returns the value stored after the call and whether key remained mapped.
func (m *Map[K, V]) ComputeIfPresent(key K, fn func(K, V) (V, bool)) (V, bool) {
	hash := m.spreadHash(key)

	g := m.reclaim.pin()
	defer g.unpin()

	tab := m.table.load()

	for {
		idx := tab.binIndex(hash)
		box := tab.loadBinBox(idx)

		switch head := entryOf(box).(type) {
		case nil:
			var zero V

			return zero, false

		case *movedEntry[K, V]:
			tab = m.helpTransfer(tab, head)

		case *node[K, V]:
			lock := &tab.locks[idx]
			lock.lock()

			if tab.loadBinBox(idx) != box {
				lock.unlock()

				continue
			}

			// fn runs under the bin lock; the deferred unlock inside
			// computeInChainLocked ensures a panicking callback still
			// releases it before the panic propagates, rather than
			// leaving the bin locked.
			v, ok, removed := m.computeInChainLocked(lock, tab, idx, head, hash, key, fn)

			if removed {
				m.addCount(-1, tab)
			}

			return v, ok

		case *treeBin[K, V]:
			lock := &tab.locks[idx]
			lock.lock()

			if tab.loadBinBox(idx) != box {
				lock.unlock()

				continue
			}

			v, ok, removed := m.computeInTreeLocked(lock, tab, idx, head, hash, key, fn)

			if removed {
				m.addCount(-1, tab)
			}

			return v, ok

		default:
			var zero V

			return zero, false
		}
	}
}

func (m *Map[K, V]) computeInChainLocked(
	lock *spinlock,
	tab *table[K, V],
	idx uint64,
	head *node[K, V],
	hash uint64,
	key K,
	fn func(K, V) (V, bool),
) (v V, ok bool, removed bool) {
	defer lock.unlock()

	n := head.find(hash, key)
	if n == nil {
		var zero V

		return zero, false, false
	}

	newVal, keep := fn(n.key, n.value())
	if keep {
		nv := newVal
		n.val.store(&nv)

		return newVal, true, false
	}

	tab.storeBin(idx, unlinkChainNode(head, n))

	var zero V

	return zero, false, true
}

// unlinkChainNode rebuilds head's bin entry with n spliced out. Only the
// small number of nodes before n are copied; the tail from n.next onward is
// reused as-is.
func unlinkChainNode[K comparable, V any](head, n *node[K, V]) binEntry[K, V] {
	if head == n {
		if rest := head.next.load(); rest != nil {
			return rest
		}

		return nil
	}

	var newHead, newTail *node[K, V]

	for p := head; p != n; p = p.next.load() {
		nn := newNode[K, V](p.hash, p.key, p.value())

		if newHead == nil {
			newHead = nn
		} else {
			newTail.next.store(nn)
		}

		newTail = nn
	}

	newTail.next.store(n.next.load())

	return newHead
}

func (m *Map[K, V]) computeInTreeLocked(
	lock *spinlock,
	tab *table[K, V],
	idx uint64,
	tb *treeBin[K, V],
	hash uint64,
	key K,
	fn func(K, V) (V, bool),
) (v V, ok bool, removed bool) {
	defer lock.unlock()

	tb.lockWriter()
	defer tb.unlockWriter()

	tn := tb.findTree(hash, key)

	if tn == nil {
		var zero V

		return zero, false, false
	}

	newVal, keep := fn(tn.key, tn.value())
	if keep {
		nv := newVal
		tn.val.store(&nv)

		return newVal, true, false
	}

	remaining := tb.removeTreeNode(tn)

	if remaining <= untreeifyThreshold {
		tab.storeBin(idx, tb.treeToChain())
	}

	var zero V

	return zero, false, true
}

// retireRemoved enqueues one no-op reclamation retirement. Go's tracing
// collector (see reclaim.go) already owns freeing the unlinked node once it
// becomes unreachable, so there is nothing for the callback itself to do.
// removeVal (Remove/RemoveEntry) calls it once per removed entry; entries
// removed by ComputeIfPresent, Retain or RetainForce are not retired.
func (m *Map[K, V]) retireRemoved() {
	m.reclaim.retire(func() {})
}

// removeVal backs Remove/RemoveEntry.
func (m *Map[K, V]) removeVal(hash uint64, key K) (K, V, bool) {
	g := m.reclaim.pin()
	defer g.unpin()

	tab := m.table.load()

	for {
		idx := tab.binIndex(hash)
		box := tab.loadBinBox(idx)

		switch head := entryOf(box).(type) {
		case nil:
			var zeroK K

			var zeroV V

			return zeroK, zeroV, false

		case *movedEntry[K, V]:
			tab = m.helpTransfer(tab, head)

		case *node[K, V]:
			lock := &tab.locks[idx]
			lock.lock()

			if tab.loadBinBox(idx) != box {
				lock.unlock()

				continue
			}

			n := head.find(hash, key)
			if n == nil {
				lock.unlock()

				var zeroK K

				var zeroV V

				return zeroK, zeroV, false
			}

			tab.storeBin(idx, unlinkChainNode(head, n))
			lock.unlock()

			m.addCount(-1, tab)
			m.retireRemoved()

			return n.key, n.value(), true

		case *treeBin[K, V]:
			lock := &tab.locks[idx]
			lock.lock()

			if tab.loadBinBox(idx) != box {
				lock.unlock()

				continue
			}

			tn := head.findTree(hash, key)
			if tn == nil {
				lock.unlock()

				var zeroK K

				var zeroV V

				return zeroK, zeroV, false
			}

			head.lockWriter()
			remaining := head.removeTreeNode(tn)
			head.unlockWriter()

			if remaining <= untreeifyThreshold {
				tab.storeBin(idx, head.treeToChain())
			}

			lock.unlock()

			m.addCount(-1, tab)
			m.retireRemoved()

			return tn.key, tn.value(), true

		default:
			var zeroK K

			var zeroV V

			return zeroK, zeroV, false
		}
	}
}

// Remove deletes key, returning the removed value if present.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	_, v, ok := m.removeVal(m.spreadHash(key), key)

	return v, ok
}

// RemoveEntry deletes key, returning the removed (key, value) pair. The
// returned key is the map's stored copy.
func (m *Map[K, V]) RemoveEntry(key K) (K, V, bool) {
	return m.removeVal(m.spreadHash(key), key)
}

// Retain keeps only entries for which fn returns true.
// Unlike RetainForce it does not traverse forwarding markers, so entries
// may be skipped or double-visited under a concurrent resize.
func (m *Map[K, V]) Retain(fn func(K, V) bool) {
	g := m.reclaim.pin()
	defer g.unpin()

	tab := m.table.load()
	m.retainOverTable(tab, fn, false)
}

// RetainForce keeps only entries for which fn returns true, guaranteeing
// every entry live at call time is considered exactly once by following
// forwarding markers to completion.
func (m *Map[K, V]) RetainForce(fn func(K, V) bool) {
	g := m.reclaim.pin()
	defer g.unpin()

	tab := m.table.load()
	m.retainOverTable(tab, fn, true)
}

func (m *Map[K, V]) retainOverTable(tab *table[K, V], fn func(K, V) bool, force bool) {
	// visit handles one bin; a forwarding marker (force only) is followed to
	// just the pair of bins in the next table that the old bin split into.
	var visit func(t *table[K, V], idx uint64)

	visit = func(t *table[K, V], idx uint64) {
		switch head := t.loadBin(idx).(type) {
		case *movedEntry[K, V]:
			if force {
				bit := uint64(t.capacity())
				visit(head.nextTable, idx)
				visit(head.nextTable, idx+bit)
			}

		case *node[K, V]:
			m.retainChainBin(t, idx, head, fn)

		case *treeBin[K, V]:
			m.retainTreeBin(t, idx, head, fn)
		}
	}

	for idx := uint64(0); idx < uint64(tab.capacity()); idx++ {
		visit(tab, idx)
	}
}

func (m *Map[K, V]) retainChainBin(tab *table[K, V], idx uint64, head *node[K, V], fn func(K, V) bool) {
	lock := &tab.locks[idx]
	lock.lock()
	defer lock.unlock()

	if entryOf(tab.loadBinBox(idx)) != binEntry[K, V](head) {
		return
	}

	var newHead, newTail *node[K, V]

	removed := 0

	for p := head; p != nil; p = p.next.load() {
		if fn(p.key, p.value()) {
			nn := newNode[K, V](p.hash, p.key, p.value())

			if newHead == nil {
				newHead = nn
			} else {
				newTail.next.store(nn)
			}

			newTail = nn
		} else {
			removed++
		}
	}

	if removed == 0 {
		return
	}

	tab.storeBin(idx, newHead)
	m.addCount(-int64(removed), tab)
}

func (m *Map[K, V]) retainTreeBin(tab *table[K, V], idx uint64, tb *treeBin[K, V], fn func(K, V) bool) {
	lock := &tab.locks[idx]
	lock.lock()
	defer lock.unlock()

	if entryOf(tab.loadBinBox(idx)) != binEntry[K, V](tb) {
		return
	}

	removed := m.retainTreeEntries(tb, fn)

	if removed == 0 {
		return
	}

	if tb.count <= untreeifyThreshold {
		tab.storeBin(idx, tb.treeToChain())
	}

	m.addCount(-int64(removed), tab)
}

// retainTreeEntries walks the tree bin under its writer stamp, removing
// every entry for which fn returns false. The writer stamp is released via
// defer so a panicking fn still unwedges the bin instead of poisoning the
// tree bin for every future caller.
func (m *Map[K, V]) retainTreeEntries(tb *treeBin[K, V], fn func(K, V) bool) int {
	tb.lockWriter()
	defer tb.unlockWriter()

	removed := 0

	for tn := tb.first.load(); tn != nil; {
		next := tn.link.load()

		if !fn(tn.key, tn.value()) {
			tb.removeTreeNode(tn)
			removed++
		}

		tn = next
	}

	return removed
}
