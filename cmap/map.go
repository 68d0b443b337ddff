// Package cmap implements a concurrent, lock-striped, incrementally
// resized hash map in the lineage of Java's ConcurrentHashMap v8: many
// goroutines may read and write disjoint keys without contending on a
// global lock, bucket tables grow in place via cooperative migration, and
// readers never block on a resize in progress.
package cmap

import (
	"go.uber.org/atomic"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tempo-labs/cmap/internal/cmaplog"
)

const defaultCapacity = 16

// Map is a concurrent hash map keyed by K with values V. The zero value is
// not usable; construct one with New. A *Map is safe for concurrent use by
// multiple goroutines without external synchronization.
type Map[K comparable, V any] struct {
	table   atomicPointer[table[K, V]]
	reclaim *reclaimer[K, V]
	size    *counter

	hasher Hasher[K]
	less   lessFunc[K]

	metrics *mapMetrics

	hintSeq atomic.Uint32
}

// Option configures a Map at construction time.
type Option[K comparable, V any] func(*mapConfig[K, V])

type mapConfig[K comparable, V any] struct {
	capacity int
	hasher   Hasher[K]
	less     lessFunc[K]

	metricsNamespace string
	metricsReg       prometheus.Registerer

	shardHint int
}

// WithCapacity rounds n up to the next power of two and pre-sizes the
// initial bucket table for it.
func WithCapacity[K comparable, V any](n int) Option[K, V] {
	return func(c *mapConfig[K, V]) {
		c.capacity = n
	}
}

// WithHasher supplies a custom key Hasher, overriding the default
// hash/maphash-backed one.
func WithHasher[K comparable, V any](h Hasher[K]) Option[K, V] {
	return func(c *mapConfig[K, V]) {
		c.hasher = h
	}
}

// WithLess supplies a strict-less ordering over K, enabling treeification
// of long chains into red-black tree bins once a chain reaches
// treeThreshold entries in a table of at least minTreeifyCapacity bins.
// Without it, bins grow as chains indefinitely.
func WithLess[K comparable, V any](less func(a, b K) bool) Option[K, V] {
	return func(c *mapConfig[K, V]) {
		c.less = less
	}
}

// WithLogger installs l as the package-wide structured logger (ambient
// stack; silent by default). Shared across every Map in the process, in
// a package-level logger idiom.
func WithLogger[K comparable, V any](l log.Logger) Option[K, V] {
	return func(_ *mapConfig[K, V]) {
		cmaplog.SetLogger(l)
	}
}

// WithMetrics enables Prometheus instrumentation under namespace, registered
// against reg (pass prometheus.DefaultRegisterer for the global registry).
func WithMetrics[K comparable, V any](namespace string, reg prometheus.Registerer) Option[K, V] {
	return func(c *mapConfig[K, V]) {
		c.metricsNamespace = namespace
		c.metricsReg = reg
	}
}

// WithShardHint pre-sizes the size counter's stripe array to n cells
// (capped at GOMAXPROCS; n <= 1 leaves it unsized), skipping the contend-then-grow ramp-up for a caller that already knows
// its expected writer concurrency.
func WithShardHint[K comparable, V any](n int) Option[K, V] {
	return func(c *mapConfig[K, V]) {
		c.shardHint = n
	}
}

// New constructs an empty Map.
func New[K comparable, V any](opts ...Option[K, V]) *Map[K, V] {
	cfg := &mapConfig[K, V]{capacity: defaultCapacity}

	for _, opt := range opts {
		opt(cfg)
	}

	capacity := nextPowerOfTwo(cfg.capacity)
	if capacity < 1 {
		capacity = defaultCapacity
	}

	hasher := cfg.hasher
	if hasher == nil {
		h := newMapHasher[K]()
		hasher = h
	}

	m := &Map[K, V]{
		reclaim: newReclaimer[K, V](),
		size:    newCounter(),
		hasher:  hasher,
		less:    cfg.less,
	}
	m.table.store(newTable[K, V](capacity))
	m.size.presize(cfg.shardHint)

	if cfg.metricsNamespace != "" {
		m.metrics = newMapMetrics(cfg.metricsNamespace, cfg.metricsReg, func() float64 {
			return float64(m.Len())
		})
	}

	return m
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}

	p := 1
	for p < n {
		p <<= 1
	}

	return p
}

func (m *Map[K, V]) stripeHint() uint32 {
	return m.hintSeq.Add(1)
}

// Len returns the advisory live entry count; it approximates the true
// live-entry count and may lag slightly under concurrent writers.
func (m *Map[K, V]) Len() int {
	n := m.size.sum()
	if n < 0 {
		return 0
	}

	return int(n)
}

// IsEmpty reports whether Len() == 0.
func (m *Map[K, V]) IsEmpty() bool {
	return m.Len() == 0
}

// Clear removes all entries. Not atomic with concurrent inserts: a
// concurrent Insert may survive a Clear, or vice versa.
func (m *Map[K, V]) Clear() {
	g := m.reclaim.pin()
	defer g.unpin()

	old := m.table.load()
	fresh := newTable[K, V](defaultCapacity)
	m.table.store(fresh)
	m.size.reset()
	m.reclaim.deferDropTable(old)
}

// Equal reports whether m and other have the same size and every key in m
// maps to an equal value in other, evaluated under one guard held on each
// map for the whole comparison rather than an atomic snapshot of either.
func (m *Map[K, V]) Equal(other *Map[K, V], valueEqual func(a, b V) bool) bool {
	if m.Len() != other.Len() {
		return false
	}

	g := m.reclaim.pin()
	defer g.unpin()

	og := other.reclaim.pin()
	defer og.unpin()

	tab := m.table.load()
	otherTab := other.table.load()

	equal := true

	m.iterTable(tab, func(k K, v V) bool {
		ov, ok := other.lookupPinned(otherTab, other.spreadHash(k), k)
		if !ok || !valueEqual(v, ov) {
			equal = false

			return false
		}

		return true
	})

	return equal
}
