package engine

import (
	"time"
)

// FrameReport is the diagnostics surface for one reconcile pass.
type FrameReport struct {
	// Frame is the frame counter assigned by the driver.
	Frame uint64 `json:"frame"`

	// StartedAt is when the pass began.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the full frame took, set by the driver.
	Duration time.Duration `json:"duration"`

	// CreatesIssued counts create effects handed to the backend.
	CreatesIssued int `json:"creates_issued"`

	// DestroysIssued counts destroy effects handed to the backend.
	DestroysIssued int `json:"destroys_issued"`

	// CreateSuccesses counts creation outcomes applied as Mapped.
	CreateSuccesses int `json:"create_successes"`

	// CreateFailures counts creation outcomes that entered backoff.
	CreateFailures int `json:"create_failures"`

	// DestroyConfirms counts destroy confirmations applied.
	DestroyConfirms int `json:"destroy_confirms"`

	// Demotions counts forced demotions applied this frame, by cause.
	Demotions map[TransitionCause]int `json:"demotions,omitempty"`

	// PinnedOverflows counts soft-bound overflows (all candidates pinned).
	PinnedOverflows int `json:"pinned_overflows"`

	// RejectedIntents counts Phase 1 intents surfaced with errors.
	RejectedIntents int `json:"rejected_intents"`

	// BlockedNodes is the blocked-record count after the pass.
	BlockedNodes int `json:"blocked_nodes"`

	// TerminalNodes lists nodes at the retry cap after the pass.
	TerminalNodes []NodeID `json:"terminal_nodes,omitempty"`

	// Pressure is the pressure signal consumed this frame.
	Pressure PressureLevel `json:"pressure"`

	// ActiveCount, WarmCount, ColdCount are tier tallies after the pass.
	ActiveCount int `json:"active_count"`
	WarmCount   int `json:"warm_count"`
	ColdCount   int `json:"cold_count"`

	// MappedCount and InFlightCount are handle-table tallies after the pass.
	MappedCount   int `json:"mapped_count"`
	InFlightCount int `json:"in_flight_count"`

	// Transitions are all tier changes applied this frame, Phase 1 and
	// Phase 2, in application order.
	Transitions []Transition `json:"transitions,omitempty"`
}

// NewFrameReport creates an empty report stamped with the current time.
func NewFrameReport(now time.Time) *FrameReport {
	return &FrameReport{
		StartedAt: now,
		Demotions: make(map[TransitionCause]int),
		Pressure:  PressureUnknown,
	}
}

// CountTransitions folds a batch of transitions into the report's demotion
// tallies and transition log.
func (r *FrameReport) CountTransitions(transitions []Transition) {
	for _, t := range transitions {
		if t.Forced {
			r.Demotions[t.Cause]++
		}
	}
	r.Transitions = append(r.Transitions, transitions...)
}

// EffectsIssued returns the total number of effects handed to the backend.
func (r *FrameReport) EffectsIssued() int {
	return r.CreatesIssued + r.DestroysIssued
}
