package engine

import (
	"time"
)

// NodeID is the stable identifier of a graph node. Nodes themselves are owned
// by the graph store; the engine only ever references them by ID.
type NodeID string

// Handle is the opaque identifier of a live renderer resource. The engine
// never dereferences a handle; it only maps it to and from a node through the
// HandleTable.
type Handle string

// DesiredRecord is the declared lifecycle state for one known node.
type DesiredRecord struct {
	// NodeID is the node this record belongs to.
	NodeID NodeID `json:"node_id"`

	// Tier is the desired liveness tier.
	Tier Tier `json:"tier"`

	// Cause records why the most recent transition happened.
	Cause TransitionCause `json:"cause"`

	// Pinned marks the node as exempt from eviction and pressure cascades.
	// The flag is owned by an external collaborator; the capacity policy
	// only reads it.
	Pinned bool `json:"pinned"`

	// LastTransitionAt is when the tier last changed.
	LastTransitionAt time.Time `json:"last_transition_at"`
}

// ResourceMapping tracks the runtime resource attached to a node, if any.
type ResourceMapping struct {
	// NodeID is the node this mapping belongs to.
	NodeID NodeID `json:"node_id"`

	// Handle is the attached resource handle. Empty unless State is
	// Mapped or DestroyPending.
	Handle Handle `json:"handle,omitempty"`

	// State is the mapping progress flag.
	State MappingState `json:"state"`
}

// BlockedRecord exists only for nodes whose most recent creation attempt
// failed and whose backoff window has not elapsed.
type BlockedRecord struct {
	// NodeID is the blocked node.
	NodeID NodeID `json:"node_id"`

	// RetryCount is the number of failed creation attempts so far.
	RetryCount int `json:"retry_count"`

	// NextRetryAt is when the node becomes retry-eligible again.
	NextRetryAt time.Time `json:"next_retry_at"`

	// CurrentBackoff is the backoff window applied after the last failure.
	CurrentBackoff time.Duration `json:"current_backoff"`
}

// Transition records a single tier change, for journaling and diagnostics.
type Transition struct {
	// NodeID is the node that transitioned.
	NodeID NodeID `json:"node_id"`

	// From is the tier before the transition. Empty for registration.
	From Tier `json:"from,omitempty"`

	// To is the tier after the transition. Empty for removal.
	To Tier `json:"to,omitempty"`

	// Cause is why the transition happened.
	Cause TransitionCause `json:"cause"`

	// Forced is true when the transition was a capacity or pressure
	// demotion rather than a requested one.
	Forced bool `json:"forced"`

	// At is when the transition was applied.
	At time.Time `json:"at"`
}

// Intent is an external event consumed by the reducer during Phase 1.
// Exactly one Kind-appropriate subset of the fields is meaningful.
type Intent struct {
	// Kind selects the intent variant.
	Kind IntentKind `json:"kind"`

	// NodeID is the target node for node-scoped intents.
	NodeID NodeID `json:"node_id,omitempty"`

	// Tier is the requested tier for SetDesiredTier and RegisterNode.
	Tier Tier `json:"tier,omitempty"`

	// Cause qualifies SetDesiredTier and RegisterNode.
	Cause TransitionCause `json:"cause,omitempty"`

	// Pinned is the requested pin flag for SetPinned.
	Pinned bool `json:"pinned,omitempty"`

	// Severity is the pressure level for MemoryPressureSignal.
	Severity PressureLevel `json:"severity,omitempty"`
}

// IntentResult pairs an intent with its application error. The reducer
// surfaces rejected intents as values; it never drops them silently.
type IntentResult struct {
	Intent Intent
	Err    error
}

// FollowUpIntent is emitted by the reconciler and handed back to the intent
// stream for the external diagnostics collaborator.
type FollowUpIntent struct {
	// Kind selects the follow-up variant.
	Kind FollowUpKind `json:"kind"`

	// NodeID is the node the follow-up concerns.
	NodeID NodeID `json:"node_id"`

	// Reason is a human-readable summary.
	Reason string `json:"reason"`

	// Err carries the classified error for failure follow-ups.
	Err *EngineError `json:"err,omitempty"`
}

// CreationOutcome is the asynchronously delivered result of a create effect.
type CreationOutcome struct {
	// NodeID is the node the creation was issued for.
	NodeID NodeID `json:"node_id"`

	// Handle is the created resource handle on success.
	Handle Handle `json:"handle,omitempty"`

	// Err is the classified creation error, nil on success.
	Err *EngineError `json:"err,omitempty"`

	// CompletedAt is when the backend finished the attempt.
	CompletedAt time.Time `json:"completed_at"`
}

// OK reports whether the creation succeeded.
func (o CreationOutcome) OK() bool { return o.Err == nil }

// DestroyConfirmation is the asynchronously delivered confirmation of a
// destroy effect.
type DestroyConfirmation struct {
	// Handle is the resource that was destroyed.
	Handle Handle `json:"handle"`

	// ConfirmedAt is when the backend confirmed destruction.
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Config holds the engine's recognized options.
type Config struct {
	// ActiveCapacity bounds the Active tier membership.
	ActiveCapacity int `json:"active_capacity" yaml:"active_capacity" validate:"min=0"`

	// WarmCapacity bounds the Warm tier membership.
	WarmCapacity int `json:"warm_capacity" yaml:"warm_capacity" validate:"min=0"`

	// BaseBackoff is the first retry delay after a creation failure.
	BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff" validate:"gt=0"`

	// MaxBackoff caps the exponential backoff window.
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff" validate:"gt=0"`

	// MaxRetryCount caps creation retries; a node at the cap is a
	// terminal failure until an explicit retry intent resets it.
	MaxRetryCount int `json:"max_retry_count" yaml:"max_retry_count" validate:"min=1"`

	// WarningTrimFraction is the share of each tier demoted on a
	// Warning-level pressure signal.
	WarningTrimFraction float64 `json:"warning_trim_fraction" yaml:"warning_trim_fraction" validate:"gte=0,lte=1"`

	// CriticalTrimFraction is the share of each tier demoted on a
	// Critical-level pressure signal.
	CriticalTrimFraction float64 `json:"critical_trim_fraction" yaml:"critical_trim_fraction" validate:"gte=0,lte=1"`

	// CreateTimeout bounds how long a creation attempt may stay pending
	// before it is treated as a failed attempt. Zero disables the probe.
	CreateTimeout time.Duration `json:"create_timeout" yaml:"create_timeout" validate:"min=0"`
}

// Defaults matching the browser's shipped limits.
const (
	DefaultActiveCapacity = 3
	DefaultWarmCapacity   = 8
	DefaultMaxRetryCount  = 3

	DefaultBaseBackoff   = 1 * time.Second
	DefaultMaxBackoff    = 8 * time.Second
	DefaultCreateTimeout = 8 * time.Second

	DefaultWarningTrimFraction  = 0.10
	DefaultCriticalTrimFraction = 0.50
)

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() Config {
	return Config{
		ActiveCapacity:       DefaultActiveCapacity,
		WarmCapacity:         DefaultWarmCapacity,
		BaseBackoff:          DefaultBaseBackoff,
		MaxBackoff:           DefaultMaxBackoff,
		MaxRetryCount:        DefaultMaxRetryCount,
		WarningTrimFraction:  DefaultWarningTrimFraction,
		CriticalTrimFraction: DefaultCriticalTrimFraction,
		CreateTimeout:        DefaultCreateTimeout,
	}
}

// Validate checks the configuration for internally consistent values.
func (c Config) Validate() error {
	if c.ActiveCapacity < 0 {
		return NewValidationError("active_capacity must be >= 0", nil)
	}
	if c.WarmCapacity < 0 {
		return NewValidationError("warm_capacity must be >= 0", nil)
	}
	if c.BaseBackoff <= 0 {
		return NewValidationError("base_backoff must be positive", nil)
	}
	if c.MaxBackoff < c.BaseBackoff {
		return NewValidationError("max_backoff must be >= base_backoff", nil)
	}
	if c.MaxRetryCount < 1 {
		return NewValidationError("max_retry_count must be >= 1", nil)
	}
	if c.WarningTrimFraction < 0 || c.WarningTrimFraction > 1 {
		return NewValidationError("warning_trim_fraction must be in [0, 1]", nil)
	}
	if c.CriticalTrimFraction < 0 || c.CriticalTrimFraction > 1 {
		return NewValidationError("critical_trim_fraction must be in [0, 1]", nil)
	}
	if c.CreateTimeout < 0 {
		return NewValidationError("create_timeout must be >= 0", nil)
	}
	return nil
}
