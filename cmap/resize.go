package cmap

import (
	"github.com/go-kit/log/level"

	"github.com/tempo-labs/cmap/internal/cmaplog"
)

// transferStride is the number of bins a single resize helper claims per
// fetch-and-add on transferIndex.
const transferStride = 16

// addCount folds delta into the striped counter and, on growth past the
// 0.75*capacity threshold, kicks off (or, if one is already running, simply
// leaves to its participants) a resize.
func (m *Map[K, V]) addCount(delta int64, tab *table[K, V]) {
	m.size.add(delta, m.stripeHint())

	if delta <= 0 {
		return
	}

	if m.size.sum() >= tab.sizeCtl.Load() {
		m.tryStartResize(tab)
	}
}

// tryStartResize attempts to become the table's resize initiator via CAS
// on sizeCtl. Losing the CAS means a resize is already in flight; the
// loser simply returns; it will be enlisted as a helper the next time it
// encounters a forwarding marker.
func (m *Map[K, V]) tryStartResize(tab *table[K, V]) {
	threshold := tab.sizeCtl.Load()
	if threshold < 0 {
		return
	}

	if !tab.sizeCtl.CompareAndSwap(threshold, -1) {
		return
	}

	next := newTable[K, V](tab.capacity() * 2)
	tab.next.store(next)
	tab.transferIndex.Store(int64(tab.capacity()))
	tab.sizeCtl.Store(-2)

	m.metrics.observeResize()
	level.Debug(cmaplog.Logger).Log("msg", "resize start", "from", tab.capacity(), "to", next.capacity())
	m.migrate(tab, next)
}

// helpTransfer is called by a writer or reader that encounters a
// forwarding marker: it assists migrating one stride of the old table, then
// returns the table to continue operating on.
func (m *Map[K, V]) helpTransfer(tab *table[K, V], moved *movedEntry[K, V]) *table[K, V] {
	next := moved.nextTable
	if next == nil {
		return tab
	}

	if tab.transferIndex.Load() > 0 || !tab.finalized.Load() {
		m.migrateStride(tab, next)
	}

	return next
}

// migrate drives the initiating thread's own claiming loop until every
// stride of tab has been claimed (not necessarily finished by this thread;
// helpers racing in may finish the tail end).
func (m *Map[K, V]) migrate(tab, next *table[K, V]) {
	for tab.transferIndex.Load() > 0 {
		m.migrateStride(tab, next)
	}
}

// migrateStride claims one stride of bins via fetch-and-add on
// transferIndex and migrates each, finalizing the resize exactly once when
// the last bin completes.
func (m *Map[K, V]) migrateStride(tab, next *table[K, V]) {
	end := tab.transferIndex.Add(-transferStride) + transferStride
	if end <= 0 {
		return
	}

	start := end - transferStride
	if start < 0 {
		start = 0
	}

	migrated := int64(0)

	for idx := start; idx < end; idx++ {
		m.migrateBin(tab, next, uint64(idx))
		migrated++
	}

	if tab.transferDone.Add(migrated) >= int64(tab.capacity()) {
		m.finishResize(tab, next)
	}
}

// finishResize publishes next as the live table and retires tab. Guarded so
// only the helper that observes completion runs it.
func (m *Map[K, V]) finishResize(tab, next *table[K, V]) {
	if !tab.finalized.CompareAndSwap(false, true) {
		return
	}

	next.sizeCtl.Store(int64(next.capacity()) - int64(next.capacity())>>2)
	m.table.store(next)
	m.reclaim.deferDropTable(tab)

	level.Debug(cmaplog.Logger).Log("msg", "resize complete", "capacity", next.capacity())
}

// migrateBin migrates the bin at idx from tab into next, installing a
// forwarding marker in tab once done. It retries whenever a
// concurrent writer on the still-live old table changes the bin out from
// under it (an ordinary Insert can still land on tab until the swap to next
// in finishResize), so every bin is guaranteed to end up forwarded.
func (m *Map[K, V]) migrateBin(tab, next *table[K, V], idx uint64) {
	for {
		box := tab.loadBinBox(idx)

		switch head := entryOf(box).(type) {
		case *movedEntry[K, V]:
			return

		case nil:
			if _, ok := tab.casBinBox(idx, box, &movedEntry[K, V]{nextTable: next}); ok {
				return
			}

		case *node[K, V]:
			lock := &tab.locks[idx]
			lock.lock()

			if tab.loadBinBox(idx) != box {
				lock.unlock()

				continue
			}

			bit := uint64(tab.capacity())

			lowHead, highHead := splitChain[K, V](head, bit)

			if lowHead != nil {
				next.storeBin(idx, lowHead)
			}

			if highHead != nil {
				next.storeBin(idx+bit, highHead)
			}

			tab.storeBin(idx, &movedEntry[K, V]{nextTable: next})
			lock.unlock()

			return

		case *treeBin[K, V]:
			lock := &tab.locks[idx]
			lock.lock()

			if tab.loadBinBox(idx) != box {
				lock.unlock()

				continue
			}

			bit := uint64(tab.capacity())

			chain := head.treeToChain()
			lowHead, highHead := splitChain[K, V](chain, bit)

			if lowHead != nil {
				next.storeBin(idx, rebinAfterTreeSplit[K, V](lowHead, m.less))
			}

			if highHead != nil {
				next.storeBin(idx+bit, rebinAfterTreeSplit[K, V](highHead, m.less))
			}

			tab.storeBin(idx, &movedEntry[K, V]{nextTable: next})
			lock.unlock()

			return
		}
	}
}

// splitChain partitions a chain starting at head into a low and a high
// sub-chain based on the newly-significant bit, reusing the trailing run of
// nodes that already agree on that bit instead of copying them. Grounded
// on the classic ConcurrentHashMap.transfer split, translated to this
// package's atomicPointer-linked chain.
func splitChain[K comparable, V any](head *node[K, V], bit uint64) (lowHead, highHead *node[K, V]) {
	lastRun := head
	runHigh := head.hash&bit != 0

	for p := head.next.load(); p != nil; p = p.next.load() {
		high := p.hash&bit != 0
		if high != runHigh {
			runHigh = high
			lastRun = p
		}
	}

	if runHigh {
		highHead = lastRun
	} else {
		lowHead = lastRun
	}

	for p := head; p != lastRun; p = p.next.load() {
		nn := newNode[K, V](p.hash, p.key, p.value())

		if p.hash&bit == 0 {
			nn.next.store(lowHead)
			lowHead = nn
		} else {
			nn.next.store(highHead)
			highHead = nn
		}
	}

	return lowHead, highHead
}

// rebinAfterTreeSplit decides whether a post-split sub-chain should remain
// a tree bin or collapse to a plain chain: it collapses when its count is
// untreeifyThreshold or fewer, so a set of exactly untreeifyThreshold
// entries also becomes a chain. A nil less never rebuilds a tree bin, matching
// mutateBinForPut's treeify gate: a tree bin only ever exists when less is
// set, so this guard should be unreachable in practice.
func rebinAfterTreeSplit[K comparable, V any](head *node[K, V], less lessFunc[K]) binEntry[K, V] {
	count := 0

	for p := head; p != nil; p = p.next.load() {
		count++
	}

	if count <= untreeifyThreshold || less == nil {
		return head
	}

	return buildTreeBin[K, V](head, less)
}

// Reserve ensures capacity for len()+n more entries, triggering a resize
// if necessary. It participates in the resize itself rather than merely
// requesting one, matching the cooperative migration model.
func (m *Map[K, V]) Reserve(n int) {
	g := m.reclaim.pin()
	defer g.unpin()

	tab := m.table.load()

	target := m.size.sum() + int64(n)

	for int64(tab.capacity())-int64(tab.capacity())>>2 < target {
		if tab.sizeCtl.Load() < 0 {
			next := tab.next.load()
			if next == nil {
				spinWait()

				continue
			}

			m.migrateStride(tab, next)

			if tab.transferDone.Load() >= int64(tab.capacity()) {
				tab = m.table.load()
			}

			continue
		}

		m.tryStartResize(tab)
		tab = m.table.load()
	}
}
