package cmap

import "runtime"

// spinWait yields the processor while contending for a bin lock or a
// tree-bin writer stamp. Bin locks are held only for the duration of a
// single-bin mutation, so a short spin beats parking a goroutine.
func spinWait() {
	runtime.Gosched()
}
