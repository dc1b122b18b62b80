package engine

import (
	"time"
)

// StateStore owns the desired lifecycle records and the two recency-ordered
// tier membership sequences. It is mutated by the reducer during Phase 1 and
// by forced demotions during Phase 2; it never touches runtime resources.
//
// Membership sequences are ordered most-recently-promoted first. The tail is
// the eviction candidate. Capacity is enforced as a post-condition of SetTier,
// so a caller can never observe an over-capacity tier with an evictable
// member.
type StateStore struct {
	records map[NodeID]*DesiredRecord

	active []NodeID
	warm   []NodeID

	activeCapacity int
	warmCapacity   int

	// pressure is the most severe signal recorded since the last
	// reconcile pass consumed it.
	pressure PressureLevel

	// retryRequests are explicit retry intents awaiting Phase 2.
	retryRequests []NodeID

	// transitions accumulates tier changes since the last TakeTransitions.
	transitions []Transition

	// pinnedOverflows counts soft-bound overflows since the last report.
	pinnedOverflows int

	now func() time.Time
}

// NewStateStore creates a state store with the given tier capacities.
func NewStateStore(activeCapacity, warmCapacity int) *StateStore {
	return &StateStore{
		records:        make(map[NodeID]*DesiredRecord),
		activeCapacity: activeCapacity,
		warmCapacity:   warmCapacity,
		pressure:       PressureUnknown,
		now:            time.Now,
	}
}

// Register creates the lifecycle record for a newly created node and places
// it in the requested tier. Registering an already known node is a caller
// error.
func (s *StateStore) Register(nodeID NodeID, tier Tier, cause TransitionCause) error {
	if _, exists := s.records[nodeID]; exists {
		return NewValidationError("node already registered", nil).WithNode(nodeID)
	}
	if err := tier.Validate(); err != nil {
		return NewValidationError("invalid tier", err).WithNode(nodeID)
	}
	// The record seeds with no tier so the registration transition
	// journals an empty From, distinguishing it from a cold promotion.
	s.records[nodeID] = &DesiredRecord{
		NodeID:           nodeID,
		Cause:            cause,
		LastTransitionAt: s.now(),
	}
	return s.SetTier(nodeID, tier, cause)
}

// SetTier updates a node's desired tier, moves it to the head of the new
// tier's sequence, and enforces tier capacities, cascading forced demotions
// as needed. Promotion to a tier the node already occupies still moves it to
// the head; that move is the eviction mechanism's recency signal.
func (s *StateStore) SetTier(nodeID NodeID, tier Tier, cause TransitionCause) error {
	rec, ok := s.records[nodeID]
	if !ok {
		return NewUnknownNodeError(nodeID)
	}
	if err := tier.Validate(); err != nil {
		return NewValidationError("invalid tier", err).WithNode(nodeID)
	}

	// Some causes are always hard-cold: a warm demotion requested for a
	// closed, removed, or critically pressured node lands in Cold.
	if tier == TierWarm && cause.IsHardCold() {
		tier = TierCold
	}

	s.applyTier(rec, tier, cause, false)
	s.enforceCapacity()
	return nil
}

// ForceTier applies a demotion the node did not ask for, such as a pressure
// trim. It follows the same hard-cold and capacity rules as SetTier but marks
// the transition forced.
func (s *StateStore) ForceTier(nodeID NodeID, tier Tier, cause TransitionCause) error {
	rec, ok := s.records[nodeID]
	if !ok {
		return NewUnknownNodeError(nodeID)
	}
	if err := tier.Validate(); err != nil {
		return NewValidationError("invalid tier", err).WithNode(nodeID)
	}
	if tier == TierWarm && cause.IsHardCold() {
		tier = TierCold
	}
	s.applyTier(rec, tier, cause, true)
	s.enforceCapacity()
	return nil
}

// applyTier performs the record update and membership move for one node.
func (s *StateStore) applyTier(rec *DesiredRecord, tier Tier, cause TransitionCause, forced bool) {
	from := rec.Tier
	s.active = removeNode(s.active, rec.NodeID)
	s.warm = removeNode(s.warm, rec.NodeID)

	rec.Tier = tier
	rec.Cause = cause
	rec.LastTransitionAt = s.now()

	switch tier {
	case TierActive:
		s.active = append([]NodeID{rec.NodeID}, s.active...)
	case TierWarm:
		s.warm = append([]NodeID{rec.NodeID}, s.warm...)
	}

	s.transitions = append(s.transitions, Transition{
		NodeID: rec.NodeID,
		From:   from,
		To:     tier,
		Cause:  cause,
		Forced: forced,
		At:     rec.LastTransitionAt,
	})
}

// enforceCapacity demotes tail entries until both tiers fit their bounds.
// Pinned nodes are skipped; if every member of an over-capacity tier is
// pinned the overflow is accepted as a soft bound. Active overflow feeds the
// Warm tier, so the Warm pass runs after the Active pass and the cascade is
// bounded by total node count.
func (s *StateStore) enforceCapacity() {
	for len(s.active) > s.activeCapacity {
		victim, ok := s.evictionCandidate(s.active)
		if !ok {
			s.pinnedOverflows++
			break
		}
		s.applyTier(s.records[victim], TierWarm, CauseActiveCapacityOverflow, true)
	}
	for len(s.warm) > s.warmCapacity {
		victim, ok := s.evictionCandidate(s.warm)
		if !ok {
			s.pinnedOverflows++
			break
		}
		s.applyTier(s.records[victim], TierCold, CauseWarmCapacityOverflow, true)
	}
}

// evictionCandidate returns the least-recently-promoted non-pinned member of
// seq, searching from the tail toward the head.
func (s *StateStore) evictionCandidate(seq []NodeID) (NodeID, bool) {
	for i := len(seq) - 1; i >= 0; i-- {
		if rec := s.records[seq[i]]; rec != nil && !rec.Pinned {
			return seq[i], true
		}
	}
	return "", false
}

// Remove deletes a node's lifecycle record and membership. Removal is the
// only way a record disappears; demotion never deletes it.
func (s *StateStore) Remove(nodeID NodeID) error {
	rec, ok := s.records[nodeID]
	if !ok {
		return NewUnknownNodeError(nodeID)
	}
	s.active = removeNode(s.active, nodeID)
	s.warm = removeNode(s.warm, nodeID)
	delete(s.records, nodeID)
	s.transitions = append(s.transitions, Transition{
		NodeID: nodeID,
		From:   rec.Tier,
		Cause:  CauseNodeRemoval,
		At:     s.now(),
	})
	return nil
}

// SetPinned updates a node's pin flag.
func (s *StateStore) SetPinned(nodeID NodeID, pinned bool) error {
	rec, ok := s.records[nodeID]
	if !ok {
		return NewUnknownNodeError(nodeID)
	}
	rec.Pinned = pinned
	return nil
}

// Record returns a copy of a node's lifecycle record.
func (s *StateStore) Record(nodeID NodeID) (DesiredRecord, bool) {
	rec, ok := s.records[nodeID]
	if !ok {
		return DesiredRecord{}, false
	}
	return *rec, true
}

// Known reports whether a lifecycle record exists for the node.
func (s *StateStore) Known(nodeID NodeID) bool {
	_, ok := s.records[nodeID]
	return ok
}

// Active returns the Active sequence, most-recently-promoted first.
func (s *StateStore) Active() []NodeID {
	return append([]NodeID(nil), s.active...)
}

// Warm returns the Warm sequence, most-recently-promoted first.
func (s *StateStore) Warm() []NodeID {
	return append([]NodeID(nil), s.warm...)
}

// Cold returns every known node that is in neither ordered sequence. The
// Cold tier is implicit and unordered.
func (s *StateStore) Cold() []NodeID {
	cold := make([]NodeID, 0)
	for id, rec := range s.records {
		if rec.Tier == TierCold {
			cold = append(cold, id)
		}
	}
	return cold
}

// Counts returns the membership tallies per tier.
func (s *StateStore) Counts() (active, warm, cold int) {
	active = len(s.active)
	warm = len(s.warm)
	cold = len(s.records) - active - warm
	return active, warm, cold
}

// RecordPressure notes a memory-pressure signal for the next reconcile pass.
// Only the most severe signal within a frame is kept.
func (s *StateStore) RecordPressure(level PressureLevel) {
	if level.AtLeast(s.pressure) {
		s.pressure = level
	}
}

// TakePressure consumes the pending pressure signal.
func (s *StateStore) TakePressure() PressureLevel {
	level := s.pressure
	s.pressure = PressureUnknown
	return level
}

// RequestRetry notes an explicit retry request for the next reconcile pass.
func (s *StateStore) RequestRetry(nodeID NodeID) {
	s.retryRequests = append(s.retryRequests, nodeID)
}

// TakeRetryRequests consumes the pending retry requests.
func (s *StateStore) TakeRetryRequests() []NodeID {
	reqs := s.retryRequests
	s.retryRequests = nil
	return reqs
}

// TakeTransitions consumes the tier changes accumulated since the last call.
func (s *StateStore) TakeTransitions() []Transition {
	t := s.transitions
	s.transitions = nil
	return t
}

// TakePinnedOverflows consumes the soft-bound overflow count.
func (s *StateStore) TakePinnedOverflows() int {
	n := s.pinnedOverflows
	s.pinnedOverflows = 0
	return n
}

// ActiveCapacity returns the configured Active tier bound.
func (s *StateStore) ActiveCapacity() int { return s.activeCapacity }

// WarmCapacity returns the configured Warm tier bound.
func (s *StateStore) WarmCapacity() int { return s.warmCapacity }

func removeNode(seq []NodeID, nodeID NodeID) []NodeID {
	for i, id := range seq {
		if id == nodeID {
			return append(seq[:i], seq[i+1:]...)
		}
	}
	return seq
}
