// Package engine keeps per-node renderer resources converged with their
// desired residency tiers.
//
// # Overview
//
// Every content node carries a desired tier: Active nodes are visible and
// need a live resource, Warm nodes are prewarmed and also hold one, Cold
// nodes hold nothing. The engine compares that desired state against the
// observed runtime state each frame and issues the create and destroy
// effects needed to close the gap. Effects complete asynchronously; the
// engine never blocks a frame waiting on one.
//
// # Two-phase frame
//
// Work is split into two phases that never interleave:
//
//  1. Reduce - ApplyIntents folds all queued intents (tier changes, pins,
//     pressure signals, retries) into the state store, in arrival order.
//  2. Reconcile - the Reconciler issues effects, applies backend outcomes
//     delivered since the last pass, and runs pressure cascades.
//
// FrameDriver enforces the contract: one RunFrame call runs both phases,
// is never concurrent with itself, and hands a FrameReport to registered
// observers afterwards.
//
// # Core Domain Types
//
//   - DesiredLifecycleRecord: a node's desired tier, cause, and pin flag
//   - StateStore: recency-ordered tier membership with capacity cascades
//   - HandleTable: node to resource-handle mapping with a single-writer
//     state guard (unmapped/create_pending/mapped/destroy_pending)
//   - Backpressure: exponential creation backoff and terminal failures
//   - Intent / FollowUpIntent: inputs to Phase 1, outputs of Phase 2
//   - FrameReport: per-frame diagnostics and the transition log
//
// # Backend Interface
//
// Hosts supply the effect executor through ResourceBackend:
//
//	type ResourceBackend interface {
//	    CreateResource(ctx context.Context, nodeID NodeID) error
//	    DestroyResource(ctx context.Context, handle Handle) error
//	}
//
// Outcomes flow back through an OutcomeQueue and are drained at most once
// per frame.
//
// # Error Classification
//
// Errors carry codes for the host's retry and reporting logic: transient
// creation failures feed backoff, RETRY_EXHAUSTED marks a node terminally
// failed until an explicit user action, and MAPPING_CONFLICT flags illegal
// handle-table transitions. Use errors.As with *EngineError to inspect
// them.
package engine
