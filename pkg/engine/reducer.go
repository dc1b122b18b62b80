package engine

// ApplyIntents is Phase 1: it folds this frame's intents into the state
// store, in arrival order, with no reordering or batching across frames. It
// is pure with respect to runtime resources; it never creates, destroys, or
// queries a resource handle.
//
// The returned slice is aligned 1:1 with the input. An intent for an unknown
// node yields an UnknownNode error in its result; it is surfaced to the
// originator, never silently dropped, and never aborts the remaining intents.
func ApplyIntents(store *StateStore, intents []Intent) []IntentResult {
	results := make([]IntentResult, len(intents))
	for i, intent := range intents {
		results[i] = IntentResult{
			Intent: intent,
			Err:    applyIntent(store, intent),
		}
	}
	return results
}

func applyIntent(store *StateStore, intent Intent) error {
	if err := intent.Kind.Validate(); err != nil {
		return NewValidationError("invalid intent", err).WithNode(intent.NodeID)
	}

	switch intent.Kind {
	case IntentRegisterNode:
		tier := intent.Tier
		if tier == "" {
			// New nodes default to Active; the graph store passes
			// Warm for background restores.
			tier = TierActive
		}
		return store.Register(intent.NodeID, tier, intent.Cause)

	case IntentSetDesiredTier:
		if err := intent.Tier.Validate(); err != nil {
			return NewValidationError("invalid tier", err).WithNode(intent.NodeID)
		}
		if err := intent.Cause.Validate(); err != nil {
			return NewValidationError("invalid cause", err).WithNode(intent.NodeID)
		}
		return store.SetTier(intent.NodeID, intent.Tier, intent.Cause)

	case IntentRemoveNode:
		return store.Remove(intent.NodeID)

	case IntentSetPinned:
		return store.SetPinned(intent.NodeID, intent.Pinned)

	case IntentMemoryPressure:
		if err := intent.Severity.Validate(); err != nil {
			return NewValidationError("invalid pressure level", err)
		}
		store.RecordPressure(intent.Severity)
		return nil

	case IntentRetryCreate:
		if !store.Known(intent.NodeID) {
			return NewUnknownNodeError(intent.NodeID)
		}
		store.RequestRetry(intent.NodeID)
		return nil
	}
	return NewValidationError("unhandled intent kind", nil).WithNode(intent.NodeID)
}

// RejectedIntents filters the results down to those that failed.
func RejectedIntents(results []IntentResult) []IntentResult {
	var rejected []IntentResult
	for _, r := range results {
		if r.Err != nil {
			rejected = append(rejected, r)
		}
	}
	return rejected
}
