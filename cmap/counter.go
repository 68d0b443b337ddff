package cmap

import (
	"runtime"
	"sync"

	"go.uber.org/atomic"
)

// counter is a striped additive size counter: an attempt to add lands on
// base first; on contention it picks a stripe cell from the caller's hint
// instead, growing the stripe array (bounded by GOMAXPROCS) under
// further contention, in the shape of Java's LongAdder. sum adds base and
// every cell with relaxed loads; the result can lag but is monotonic
// absent removals between reads.
type counter struct {
	base atomic.Int64

	mu      sync.Mutex
	cells   []*atomic.Int64
	cellsOK atomic.Bool
}

func newCounter() *counter {
	return &counter{}
}

// presize grows the stripe array to n cells up front, letting a caller who
// knows its expected writer concurrency skip the contend-then-grow ramp-up.
func (c *counter) presize(n int) {
	if n <= 1 {
		return
	}

	c.growCells(n)
}

// add applies delta (positive for insert, negative for remove). hint
// selects a stripe on contention; Map passes a per-call sequence number
// (stripeHint), which need not be stable across calls; it only spreads
// contention out.
func (c *counter) add(delta int64, hint uint32) {
	if !c.cellsOK.Load() {
		old := c.base.Load()
		if c.base.CompareAndSwap(old, old+delta) {
			return
		}
	}

	// Base is contended: fall back to a stripe cell, growing the array on
	// further contention.
	c.addToCell(delta, hint)
}

func (c *counter) addToCell(delta int64, hint uint32) {
	for {
		cells := c.loadCells()
		if len(cells) == 0 {
			c.growCells(2)

			continue
		}

		idx := hint % uint32(len(cells))
		cell := cells[idx]
		old := cell.Load()

		if cell.CompareAndSwap(old, old+delta) {
			return
		}

		if len(cells) < maxStripes() {
			c.growCells(len(cells) * 2)
		}
	}
}

func (c *counter) loadCells() []*atomic.Int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cells
}

func (c *counter) growCells(target int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if target < 2 {
		target = 2
	}

	if target > maxStripes() {
		target = maxStripes()
	}

	if len(c.cells) >= target {
		return
	}

	grown := make([]*atomic.Int64, target)

	copy(grown, c.cells)

	for i := len(c.cells); i < target; i++ {
		grown[i] = atomic.NewInt64(0)
	}

	c.cells = grown
	c.cellsOK.Store(true)
}

func maxStripes() int {
	n := runtime.GOMAXPROCS(0)
	if n < 2 {
		return 2
	}

	return n
}

// sum returns the advisory size: base plus every stripe cell, all loaded
// with relaxed ordering. The result is advisory and may lag under
// concurrent writers.
func (c *counter) sum() int64 {
	total := c.base.Load()

	c.mu.Lock()
	cells := c.cells
	c.mu.Unlock()

	for _, cell := range cells {
		total += cell.Load()
	}

	return total
}

func (c *counter) reset() {
	c.base.Store(0)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cell := range c.cells {
		cell.Store(0)
	}
}
