package cmap

// lookup implements the lock-free read path: pin, load the current table,
// and dispatch on the bin's tag via lookupPinned.
func (m *Map[K, V]) lookup(hash uint64, key K) (V, bool) {
	g := m.reclaim.pin()
	defer g.unpin()

	return m.lookupPinned(m.table.load(), hash, key)
}

// lookupPinned is the lock-free read path proper: compute the bin index and
// dispatch on the bin's tag. A forwarding marker restarts the walk on the
// table it points to; a reservation marker means the bin is mid-insert for
// a different key and so this lookup cannot be present yet. Returns the
// value and whether key was found; the zero value otherwise. The caller
// must already hold a guard covering tab.
func (m *Map[K, V]) lookupPinned(tab *table[K, V], hash uint64, key K) (V, bool) {
	for {
		if tab == nil || tab.capacity() == 0 {
			var zero V

			return zero, false
		}

		idx := tab.binIndex(hash)
		e := tab.loadBin(idx)

		switch head := e.(type) {
		case nil:
			var zero V

			return zero, false

		case *node[K, V]:
			if n := head.find(hash, key); n != nil {
				return n.value(), true
			}

			var zero V

			return zero, false

		case *treeBin[K, V]:
			if tn := head.find(hash, key); tn != nil {
				return tn.value(), true
			}

			var zero V

			return zero, false

		case *movedEntry[K, V]:
			tab = head.nextTable

		case *reservation[K, V]:
			// No current write path installs a reservation (see node.go);
			// this case exists for completeness of the tagged variant set.
			var zero V

			return zero, false

		default:
			var zero V

			return zero, false
		}
	}
}

// Get returns the value stored for key and whether it was present.
func (m *Map[K, V]) Get(key K) (V, bool) {
	return m.lookup(m.spreadHash(key), key)
}

// ContainsKey reports whether key is present.
func (m *Map[K, V]) ContainsKey(key K) bool {
	_, ok := m.lookup(m.spreadHash(key), key)

	return ok
}

// GetKeyValue returns the stored key alongside its value. The stored key is
// returned (rather than the looked-up one) so callers relying on
// map-normalized key identity (e.g. interned strings) observe the map's
// own copy.
func (m *Map[K, V]) GetKeyValue(key K) (K, V, bool) {
	hash := m.spreadHash(key)

	g := m.reclaim.pin()
	defer g.unpin()

	tab := m.table.load()

	for {
		if tab == nil || tab.capacity() == 0 {
			var zeroK K

			var zeroV V

			return zeroK, zeroV, false
		}

		idx := tab.binIndex(hash)
		e := tab.loadBin(idx)

		switch head := e.(type) {
		case nil:
			var zeroK K

			var zeroV V

			return zeroK, zeroV, false

		case *node[K, V]:
			if n := head.find(hash, key); n != nil {
				return n.key, n.value(), true
			}

			var zeroK K

			var zeroV V

			return zeroK, zeroV, false

		case *treeBin[K, V]:
			if tn := head.find(hash, key); tn != nil {
				return tn.key, tn.value(), true
			}

			var zeroK K

			var zeroV V

			return zeroK, zeroV, false

		case *movedEntry[K, V]:
			tab = head.nextTable

		default:
			var zeroK K

			var zeroV V

			return zeroK, zeroV, false
		}
	}
}

// At returns the value for key, panicking if absent. This is an indexing
// convenience for a missing key since Go has no operator-overload
// equivalent; every other accessor returns an absent value instead.
func (m *Map[K, V]) At(key K) V {
	v, ok := m.Get(key)
	if !ok {
		panic("cmap: key not found")
	}

	return v
}

func (m *Map[K, V]) spreadHash(key K) uint64 {
	return spread(m.hasher.Hash(key))
}
