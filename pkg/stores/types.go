package stores

import (
	"time"
)

// TransitionRecord is one journaled tier change.
type TransitionRecord struct {
	// ID is the journal row ID.
	ID int64 `json:"id"`

	// Frame is the frame the transition was applied in.
	Frame uint64 `json:"frame"`

	// NodeID is the node that transitioned.
	NodeID string `json:"node_id"`

	// FromTier is the tier before the transition. Empty for registration.
	FromTier string `json:"from_tier,omitempty"`

	// ToTier is the tier after the transition. Empty for removal.
	ToTier string `json:"to_tier,omitempty"`

	// Cause is why the transition happened.
	Cause string `json:"cause"`

	// Forced is true for capacity and pressure demotions.
	Forced bool `json:"forced"`

	// At is when the transition was applied.
	At time.Time `json:"at"`
}

// CauseCount is an aggregate of journaled transitions by cause.
type CauseCount struct {
	Cause string `json:"cause"`
	Count int64  `json:"count"`
}
