package cmap

// Pinned ties a reclamation pin to a lexical scope so callers don't manage
// a Guard by hand. It forwards every operation unchanged, adding only the
// lifetime contract: values returned through a Pinned remain valid until
// Unpin is called.
type Pinned[K comparable, V any] struct {
	m *Map[K, V]
	g *Guard[K, V]
}

// Pin returns a Pinned handle, pinning the calling goroutine for the
// lifetime of the handle.
func (m *Map[K, V]) Pin() *Pinned[K, V] {
	return &Pinned[K, V]{m: m, g: m.reclaim.pin()}
}

// Unpin ends the scope. Forgetting to call it only delays reclamation: for
// as long as a Pinned is held, it prevents any table or node retired after
// it was created from being reclaimed; Go's GC is the real backstop, so
// this is a liveness concern, not a memory-safety one.
func (p *Pinned[K, V]) Unpin() {
	p.g.unpin()
}

func (p *Pinned[K, V]) Len() int      { return p.m.Len() }
func (p *Pinned[K, V]) IsEmpty() bool { return p.m.IsEmpty() }

func (p *Pinned[K, V]) Get(key K) (V, bool)            { return p.m.Get(key) }
func (p *Pinned[K, V]) ContainsKey(key K) bool         { return p.m.ContainsKey(key) }
func (p *Pinned[K, V]) GetKeyValue(key K) (K, V, bool) { return p.m.GetKeyValue(key) }
func (p *Pinned[K, V]) At(key K) V                     { return p.m.At(key) }

func (p *Pinned[K, V]) Insert(key K, val V) (V, bool)  { return p.m.Insert(key, val) }
func (p *Pinned[K, V]) TryInsert(key K, val V) error   { return p.m.TryInsert(key, val) }
func (p *Pinned[K, V]) Remove(key K) (V, bool)         { return p.m.Remove(key) }
func (p *Pinned[K, V]) RemoveEntry(key K) (K, V, bool) { return p.m.RemoveEntry(key) }

func (p *Pinned[K, V]) Retain(fn func(K, V) bool)      { p.m.Retain(fn) }
func (p *Pinned[K, V]) RetainForce(fn func(K, V) bool) { p.m.RetainForce(fn) }
func (p *Pinned[K, V]) Reserve(n int)                  { p.m.Reserve(n) }
func (p *Pinned[K, V]) Clear()                         { p.m.Clear() }

func (p *Pinned[K, V]) Iter(fn func(K, V) bool) { p.m.Iter(fn) }
func (p *Pinned[K, V]) Keys(fn func(K) bool)    { p.m.Keys(fn) }
func (p *Pinned[K, V]) Values(fn func(V) bool)  { p.m.Values(fn) }

func (p *Pinned[K, V]) ComputeIfPresent(key K, fn func(K, V) (V, bool)) (V, bool) {
	return p.m.ComputeIfPresent(key, fn)
}

// Equal compares the underlying maps with Map.Equal, which holds a guard on
// each map for the whole comparison; it is not an atomic snapshot of either
// map.
func (p *Pinned[K, V]) Equal(other *Pinned[K, V], valueEqual func(a, b V) bool) bool {
	return p.m.Equal(other.m, valueEqual)
}
