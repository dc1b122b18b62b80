package engine

import (
	"encoding/json"
	"fmt"
)

// Tier is the declared liveness level for a node's renderer resource.
type Tier string

const (
	// TierActive indicates the node should have a live, rendering resource.
	TierActive Tier = "active"

	// TierWarm indicates the node's resource is kept alive but parked.
	TierWarm Tier = "warm"

	// TierCold indicates the node should have no resource at all.
	TierCold Tier = "cold"
)

// LivenessRank orders tiers by runtime cost: Active > Warm > Cold.
func (t Tier) LivenessRank() int {
	switch t {
	case TierActive:
		return 2
	case TierWarm:
		return 1
	default:
		return 0
	}
}

// WantsResource reports whether the tier requires a live resource mapping.
func (t Tier) WantsResource() bool {
	return t == TierActive || t == TierWarm
}

// Validate checks if the tier is valid.
func (t Tier) Validate() error {
	switch t {
	case TierActive, TierWarm, TierCold:
		return nil
	default:
		return fmt.Errorf("invalid tier: %s", t)
	}
}

// TransitionCause records why a lifecycle transition happened. Equivalent
// transitions with different causes are distinguished for diagnostics and for
// the hard-cold and retry-clearing rules below.
type TransitionCause string

const (
	// CauseUserSelect indicates the user focused the node.
	CauseUserSelect TransitionCause = "user_select"

	// CauseViewportVisible indicates the node's tile became visible.
	CauseViewportVisible TransitionCause = "viewport_visible"

	// CauseSelectedPrewarm indicates the node was pre-warmed for an
	// anticipated focus.
	CauseSelectedPrewarm TransitionCause = "selected_prewarm"

	// CauseWorkspaceRetention indicates the node left focus but stays warm.
	CauseWorkspaceRetention TransitionCause = "workspace_retention"

	// CauseActiveCapacityOverflow indicates a forced demotion by the
	// Active tier's LRU bound.
	CauseActiveCapacityOverflow TransitionCause = "active_capacity_overflow"

	// CauseWarmCapacityOverflow indicates a forced demotion by the Warm
	// tier's LRU bound.
	CauseWarmCapacityOverflow TransitionCause = "warm_capacity_overflow"

	// CauseMemoryPressureWarning indicates a Warning-level pressure trim.
	CauseMemoryPressureWarning TransitionCause = "memory_pressure_warning"

	// CauseMemoryPressureCritical indicates a Critical-level pressure trim.
	CauseMemoryPressureCritical TransitionCause = "memory_pressure_critical"

	// CauseRetryExhausted indicates creation retries hit the cap.
	CauseRetryExhausted TransitionCause = "create_retry_exhausted"

	// CauseExplicitClose indicates the user closed the node's content.
	CauseExplicitClose TransitionCause = "explicit_close"

	// CauseNodeRemoval indicates the node was deleted from the graph.
	CauseNodeRemoval TransitionCause = "node_removal"

	// CauseRestore indicates a session restore brought the node back.
	CauseRestore TransitionCause = "restore"
)

// IsExplicitUser reports whether the cause is a direct user action. Only
// explicit user causes clear a terminal blocked state; automatic promotions
// must not restart a failing creation loop.
func (c TransitionCause) IsExplicitUser() bool {
	return c == CauseUserSelect || c == CauseRestore
}

// IsHardCold reports whether a demotion with this cause bypasses the Warm
// tier and lands the node in Cold directly.
func (c TransitionCause) IsHardCold() bool {
	switch c {
	case CauseExplicitClose, CauseNodeRemoval, CauseMemoryPressureCritical, CauseRetryExhausted:
		return true
	default:
		return false
	}
}

// Validate checks if the transition cause is valid.
func (c TransitionCause) Validate() error {
	switch c {
	case CauseUserSelect, CauseViewportVisible, CauseSelectedPrewarm,
		CauseWorkspaceRetention, CauseActiveCapacityOverflow,
		CauseWarmCapacityOverflow, CauseMemoryPressureWarning,
		CauseMemoryPressureCritical, CauseRetryExhausted,
		CauseExplicitClose, CauseNodeRemoval, CauseRestore:
		return nil
	default:
		return fmt.Errorf("invalid transition cause: %s", c)
	}
}

// MappingState is the progress flag on a node's resource mapping. It acts as
// a single-writer guard: no second create effect is issued while a mapping is
// CreatePending, and no destroy is issued unless the mapping is Mapped.
type MappingState string

const (
	// MappingUnmapped indicates no resource exists for the node.
	MappingUnmapped MappingState = "unmapped"

	// MappingCreatePending indicates a create effect was issued and its
	// outcome has not arrived yet.
	MappingCreatePending MappingState = "create_pending"

	// MappingMapped indicates a live resource is attached.
	MappingMapped MappingState = "mapped"

	// MappingDestroyPending indicates a destroy effect was issued and its
	// confirmation has not arrived yet.
	MappingDestroyPending MappingState = "destroy_pending"
)

// IsInFlight reports whether an effect for this mapping is awaiting an
// asynchronous outcome.
func (s MappingState) IsInFlight() bool {
	return s == MappingCreatePending || s == MappingDestroyPending
}

// Validate checks if the mapping state is valid.
func (s MappingState) Validate() error {
	switch s {
	case MappingUnmapped, MappingCreatePending, MappingMapped, MappingDestroyPending:
		return nil
	default:
		return fmt.Errorf("invalid mapping state: %s", s)
	}
}

// PressureLevel is the severity of a memory-pressure signal.
type PressureLevel string

const (
	// PressureUnknown indicates no sample is available.
	PressureUnknown PressureLevel = "unknown"

	// PressureNormal indicates memory headroom is comfortable.
	PressureNormal PressureLevel = "normal"

	// PressureWarning indicates headroom is shrinking; tiers are trimmed.
	PressureWarning PressureLevel = "warning"

	// PressureCritical indicates headroom is nearly gone; tiers are
	// halved and in-flight creations are cancelled on resolve.
	PressureCritical PressureLevel = "critical"
)

// Rank orders pressure levels by severity.
func (p PressureLevel) Rank() int {
	switch p {
	case PressureNormal:
		return 1
	case PressureWarning:
		return 2
	case PressureCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether the level is at least as severe as other.
func (p PressureLevel) AtLeast(other PressureLevel) bool {
	return p.Rank() >= other.Rank()
}

// Validate checks if the pressure level is valid.
func (p PressureLevel) Validate() error {
	switch p {
	case PressureUnknown, PressureNormal, PressureWarning, PressureCritical:
		return nil
	default:
		return fmt.Errorf("invalid pressure level: %s", p)
	}
}

// ClassifyPressure maps a memory sample to a pressure level using the
// browser's thresholds: Critical at <=512 MiB or <=8% available, Warning at
// <=1024 MiB or <=15%.
func ClassifyPressure(availableBytes, totalBytes uint64) PressureLevel {
	if totalBytes == 0 {
		return PressureUnknown
	}
	availableMiB := availableBytes / (1024 * 1024)
	availablePct := float64(availableBytes) / float64(totalBytes)
	switch {
	case availableMiB <= 512 || availablePct <= 0.08:
		return PressureCritical
	case availableMiB <= 1024 || availablePct <= 0.15:
		return PressureWarning
	default:
		return PressureNormal
	}
}

// IntentKind selects an intent variant.
type IntentKind string

const (
	// IntentRegisterNode creates the lifecycle record for a new node.
	IntentRegisterNode IntentKind = "register_node"

	// IntentSetDesiredTier changes a node's desired tier.
	IntentSetDesiredTier IntentKind = "set_desired_tier"

	// IntentRemoveNode deletes a node's lifecycle record.
	IntentRemoveNode IntentKind = "remove_node"

	// IntentSetPinned updates a node's pin flag.
	IntentSetPinned IntentKind = "set_pinned"

	// IntentMemoryPressure records a pressure signal for the next
	// reconcile pass.
	IntentMemoryPressure IntentKind = "memory_pressure_signal"

	// IntentRetryCreate explicitly clears a terminal creation failure.
	IntentRetryCreate IntentKind = "retry_create"
)

// Validate checks if the intent kind is valid.
func (k IntentKind) Validate() error {
	switch k {
	case IntentRegisterNode, IntentSetDesiredTier, IntentRemoveNode,
		IntentSetPinned, IntentMemoryPressure, IntentRetryCreate:
		return nil
	default:
		return fmt.Errorf("invalid intent kind: %s", k)
	}
}

// FollowUpKind selects a follow-up intent variant.
type FollowUpKind string

const (
	// FollowUpDiagnosticReport requests a diagnostic report for a node
	// whose creation attempt failed.
	FollowUpDiagnosticReport FollowUpKind = "diagnostic_report"

	// FollowUpTerminalFailure reports a node whose retries are exhausted.
	FollowUpTerminalFailure FollowUpKind = "terminal_failure"
)

// MarshalJSON implements custom JSON marshaling for type-safe serialization.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*t = Tier(str)
	return t.Validate()
}
