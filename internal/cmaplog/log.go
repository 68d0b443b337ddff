// Package cmaplog holds the package-level logger used for the rare
// lifecycle and diagnostic events the concurrent map core logs: resize
// start/completion and chain-to-tree conversion. The hot path (Get,
// Insert, Remove) never logs.
package cmaplog

import (
	"github.com/go-kit/log"
)

// Logger is the shared sink for cmap diagnostics. It defaults to a no-op
// logger so importing cmap has no observable side effect until a caller
// opts in with SetLogger.
var Logger log.Logger = log.NewNopLogger()

// SetLogger replaces the package-level logger. Passing nil restores the
// no-op default.
func SetLogger(l log.Logger) {
	if l == nil {
		l = log.NewNopLogger()
		Logger = l

		return
	}

	Logger = l
}
