package backfill

import (
	"fmt"
	"sync"
)

// Result contains statistics from a backfill run.
type Result struct {
	mu sync.Mutex

	// Scanned is how many unembedded rows the run picked up.
	Scanned int

	// Embedded is how many rows received a vector.
	Embedded int

	// Failed is how many rows could not be embedded or stored.
	Failed int
}

func (r *Result) addEmbedded() {
	r.mu.Lock()
	r.Embedded++
	r.mu.Unlock()
}

func (r *Result) addFailed() {
	r.mu.Lock()
	r.Failed++
	r.mu.Unlock()
}

// Summary returns a human-readable summary of the backfill result.
func (r *Result) Summary() string {
	return fmt.Sprintf("Backfill complete: %d scanned, %d embedded, %d failed",
		r.Scanned, r.Embedded, r.Failed)
}
