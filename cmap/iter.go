package cmap

// Iter calls fn for every (key, value) pair, stopping early if fn returns
// false. Iteration is weakly consistent: it reflects the table at some
// moment at or after the call and may or may not observe concurrent
// modifications. A forwarding marker is followed exactly like the read
// path does, so a bin mid-resize is visited through whichever table
// currently holds it.
func (m *Map[K, V]) Iter(fn func(K, V) bool) {
	g := m.reclaim.pin()
	defer g.unpin()

	m.iterTable(m.table.load(), fn)
}

// Keys calls fn for every key, stopping early if fn returns false.
func (m *Map[K, V]) Keys(fn func(K) bool) {
	m.Iter(func(k K, _ V) bool { return fn(k) })
}

// Values calls fn for every value, stopping early if fn returns false.
func (m *Map[K, V]) Values(fn func(V) bool) {
	m.Iter(func(_ K, v V) bool { return fn(v) })
}

func (m *Map[K, V]) iterTable(tab *table[K, V], fn func(K, V) bool) bool {
	for idx := uint64(0); idx < uint64(tab.capacity()); idx++ {
		if !m.iterBin(tab, idx, fn) {
			return false
		}
	}

	return true
}

// iterBin visits one bin, recursing into the forwarded table's
// corresponding pair of bins when it encounters a moved marker. A resize
// cannot cascade past one step without completing, but the recursion
// handles nesting generically rather than assuming that depth.
func (m *Map[K, V]) iterBin(tab *table[K, V], idx uint64, fn func(K, V) bool) bool {
	switch head := tab.loadBin(idx).(type) {
	case nil:
		return true

	case *movedEntry[K, V]:
		bit := uint64(tab.capacity())

		if !m.iterBin(head.nextTable, idx, fn) {
			return false
		}

		return m.iterBin(head.nextTable, idx+bit, fn)

	case *node[K, V]:
		for n := head; n != nil; n = n.next.load() {
			if !fn(n.key, n.value()) {
				return false
			}
		}

		return true

	case *treeBin[K, V]:
		for tn := head.first.load(); tn != nil; tn = tn.link.load() {
			if !fn(tn.key, tn.value()) {
				return false
			}
		}

		return true

	default:
		return true
	}
}
