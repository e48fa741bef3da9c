package decision

import (
	"sync/atomic"

	"github.com/jmlee/statarb/internal/contracts"
	"github.com/jmlee/statarb/internal/training"
)

// ActiveSnapshot is the immutable (model pair, θ) view the engine reads
// on every tick. A snapshot is never mutated after publication; updates
// replace the whole pointer.
type ActiveSnapshot struct {
	Version string
	AI1     *training.CalibratedModel
	AI2     *training.CalibratedModel
	Theta   contracts.ThetaParams
}

// Holder is the atomically swapped reference to the active snapshot.
// Single writer (the lifecycle manager); any number of readers. Readers
// never observe a half-updated pair.
type Holder struct {
	ptr atomic.Pointer[ActiveSnapshot]
}

// Load returns the current snapshot, nil when nothing is deployed.
func (h *Holder) Load() *ActiveSnapshot {
	return h.ptr.Load()
}

// Swap publishes a new snapshot and returns the previous one.
func (h *Holder) Swap(next *ActiveSnapshot) *ActiveSnapshot {
	return h.ptr.Swap(next)
}
