package contracts

import (
	"fmt"
	"time"
)

// LifecycleState is the state of one model version.
type LifecycleState string

const (
	StateDraft      LifecycleState = "draft"
	StateCandidate  LifecycleState = "candidate"
	StateApproved   LifecycleState = "approved"
	StateDeployed   LifecycleState = "deployed"
	StateRejected   LifecycleState = "rejected"
	StateRolledBack LifecycleState = "rolled_back"
)

// allowedTransitions is the full state machine:
// draft → candidate → approved → deployed, rejected from candidate/approved,
// rolled_back only from deployed. A deployment superseded by a newer
// version returns to approved so it stays eligible as a rollback target.
var allowedTransitions = map[LifecycleState][]LifecycleState{
	StateDraft:     {StateCandidate},
	StateCandidate: {StateApproved, StateRejected},
	StateApproved:  {StateDeployed, StateRejected},
	StateDeployed:  {StateRolledBack, StateApproved},
}

// CanTransition reports whether from → to is a legal lifecycle transition.
func CanTransition(from, to LifecycleState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LifecycleRecord is one row of the append-only transition log.
type LifecycleRecord struct {
	Version    string         `json:"version"`
	UniverseID string         `json:"universe_id"`
	FromState  LifecycleState `json:"from_state"`
	ToState    LifecycleState `json:"to_state"`
	Actor      string         `json:"actor"`
	Reason     string         `json:"reason"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Validate checks that the record describes a legal transition.
func (r LifecycleRecord) Validate() error {
	if r.Version == "" {
		return fmt.Errorf("version is required")
	}
	if r.Actor == "" {
		return fmt.Errorf("actor is required")
	}
	if !CanTransition(r.FromState, r.ToState) {
		return fmt.Errorf("illegal transition %s → %s", r.FromState, r.ToState)
	}
	return nil
}
