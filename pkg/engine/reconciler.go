package engine

import (
	"context"
	"math"
	"time"
)

// Reconciler is Phase 2: it compares desired lifecycle state against observed
// runtime state, issues create and destroy effects, applies backend outcomes
// delivered since the last pass, and drives backpressure and memory-pressure
// cascades. No step blocks; every effect outcome is observed on a later pass.
type Reconciler struct {
	backend  ResourceBackend
	outcomes *OutcomeQueue

	warningTrim   float64
	criticalTrim  float64
	createTimeout time.Duration

	// destroyOnResolve marks CreatePending nodes whose resource must be
	// torn down as soon as the pending creation resolves. Creation is not
	// interruptible mid-flight, so cancellation is create-then-destroy.
	destroyOnResolve map[NodeID]struct{}

	// pendingSince records when each in-flight creation was issued, for
	// the stalled-create probe.
	pendingSince map[NodeID]time.Time

	now func() time.Time
}

// NewReconciler creates a reconciler for the given backend and outcome queue.
func NewReconciler(cfg Config, backend ResourceBackend, outcomes *OutcomeQueue) *Reconciler {
	return &Reconciler{
		backend:          backend,
		outcomes:         outcomes,
		warningTrim:      cfg.WarningTrimFraction,
		criticalTrim:     cfg.CriticalTrimFraction,
		createTimeout:    cfg.CreateTimeout,
		destroyOnResolve: make(map[NodeID]struct{}),
		pendingSince:     make(map[NodeID]time.Time),
		now:              time.Now,
	}
}

// Reconcile runs one pass. phase1 holds the transitions the reducer applied
// this frame; the reconciler uses them to keep backpressure state consistent
// with cause-driven tier changes. The returned report carries the frame's
// diagnostics and its full transition log.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	store *StateStore,
	handles *HandleTable,
	bp *Backpressure,
	phase1 []Transition,
) (*FrameReport, []FollowUpIntent) {
	report := NewFrameReport(r.now())
	report.CountTransitions(phase1)
	var followUps []FollowUpIntent

	// Phase 1 fallout. A node demoted to Cold, removed, or promoted by an
	// explicit user action sheds its blocked record; automatic promotions
	// must not restart a failing creation loop.
	for _, t := range phase1 {
		switch {
		case t.To == "" || t.To == TierCold:
			bp.Clear(t.NodeID)
		case t.Cause.IsExplicitUser():
			bp.Clear(t.NodeID)
		}
	}
	for _, nodeID := range store.TakeRetryRequests() {
		bp.Clear(nodeID)
	}

	now := r.now()

	// A creation attempt that has neither confirmed nor failed within the
	// probe window counts as a failed attempt. The backend's eventual
	// outcome, if any, arrives for an Unmapped node and is handled as a
	// stray.
	r.expireStalledCreates(now, store, handles, bp, report, &followUps)

	// Step 1: create effects for nodes that want a resource and have none.
	for _, nodeID := range append(store.Active(), store.Warm()...) {
		if handles.StateOf(nodeID) != MappingUnmapped {
			continue
		}
		if !bp.IsRetryEligible(nodeID, now) {
			continue
		}
		r.issueCreate(ctx, nodeID, handles, bp, report, &followUps)
	}

	// Step 2: destroy effects for mapped nodes that no longer want a
	// resource, including mappings whose node record is gone.
	r.destroyUnwanted(ctx, store, handles, report)

	// Step 3: apply creation outcomes delivered since the last pass.
	for _, outcome := range r.outcomes.DrainCreations() {
		r.applyCreationOutcome(ctx, outcome, store, handles, bp, report, &followUps)
	}

	// Step 4: apply destroy confirmations.
	for _, conf := range r.outcomes.DrainDestroys() {
		nodeID, err := handles.ConfirmDestroy(conf.Handle)
		if err != nil {
			// Confirmation for a handle the table no longer tracks;
			// nothing to release.
			continue
		}
		report.DestroyConfirms++
		delete(r.destroyOnResolve, nodeID)
		if !store.Known(nodeID) {
			_ = handles.Forget(nodeID)
		}
	}

	// Step 5: memory-pressure cascades.
	level := store.TakePressure()
	report.Pressure = level
	if level.AtLeast(PressureWarning) {
		r.applyPressure(ctx, level, store, handles, report)
	}

	report.CountTransitions(store.TakeTransitions())
	report.PinnedOverflows += store.TakePinnedOverflows()
	report.BlockedNodes = bp.BlockedCount()
	report.TerminalNodes = bp.TerminalNodes()
	report.ActiveCount, report.WarmCount, report.ColdCount = store.Counts()
	report.MappedCount = handles.MappedCount()
	report.InFlightCount = handles.InFlightCount()

	return report, followUps
}

// issueCreate hands a create effect to the backend and marks the node
// CreatePending. A submission error is folded into the ordinary failure path.
func (r *Reconciler) issueCreate(
	ctx context.Context,
	nodeID NodeID,
	handles *HandleTable,
	bp *Backpressure,
	report *FrameReport,
	followUps *[]FollowUpIntent,
) {
	if err := handles.BeginCreate(nodeID); err != nil {
		return
	}
	report.CreatesIssued++
	if err := r.backend.CreateResource(ctx, nodeID); err != nil {
		_ = handles.FailCreate(nodeID)
		r.recordCreateFailure(nodeID, NewCreationError("create submission rejected", err).WithNode(nodeID),
			bp, report, followUps)
		return
	}
	r.pendingSince[nodeID] = r.now()
}

// expireStalledCreates fails every creation attempt older than the probe
// window.
func (r *Reconciler) expireStalledCreates(
	now time.Time,
	store *StateStore,
	handles *HandleTable,
	bp *Backpressure,
	report *FrameReport,
	followUps *[]FollowUpIntent,
) {
	if r.createTimeout <= 0 {
		return
	}
	for nodeID, since := range r.pendingSince {
		if now.Sub(since) < r.createTimeout {
			continue
		}
		delete(r.pendingSince, nodeID)
		if handles.StateOf(nodeID) != MappingCreatePending {
			continue
		}
		_ = handles.FailCreate(nodeID)
		delete(r.destroyOnResolve, nodeID)
		if r.dropStaleFailure(nodeID, store, handles, bp) {
			continue
		}
		r.recordCreateFailure(nodeID,
			NewCreationError("creation attempt timed out", nil).WithNode(nodeID),
			bp, report, followUps)
	}
}

// dropStaleFailure handles a creation failure for a node that stopped
// wanting the resource while the attempt was in flight. Backoff only
// guards nodes that will retry; a blocked record for a removed or Cold
// node would never be cleared. Returns true when the failure was dropped.
func (r *Reconciler) dropStaleFailure(
	nodeID NodeID,
	store *StateStore,
	handles *HandleTable,
	bp *Backpressure,
) bool {
	rec, known := store.Record(nodeID)
	if known && rec.Tier.WantsResource() {
		return false
	}
	bp.Clear(nodeID)
	if !known {
		_ = handles.Forget(nodeID)
	}
	return true
}

// issueDestroy hands a destroy effect to the backend and marks the node
// DestroyPending. A submission error reverts the mapping so a later pass can
// retry.
func (r *Reconciler) issueDestroy(
	ctx context.Context,
	nodeID NodeID,
	handles *HandleTable,
	report *FrameReport,
) {
	handle, err := handles.BeginDestroy(nodeID)
	if err != nil {
		return
	}
	if err := r.backend.DestroyResource(ctx, handle); err != nil {
		_ = handles.AbortDestroy(nodeID)
		return
	}
	report.DestroysIssued++
}

// destroyUnwanted issues destroy effects for every Mapped node whose desired
// tier is Cold or whose record has been removed.
func (r *Reconciler) destroyUnwanted(
	ctx context.Context,
	store *StateStore,
	handles *HandleTable,
	report *FrameReport,
) {
	for _, nodeID := range handles.Nodes() {
		if handles.StateOf(nodeID) != MappingMapped {
			continue
		}
		rec, known := store.Record(nodeID)
		if known && rec.Tier.WantsResource() {
			continue
		}
		r.issueDestroy(ctx, nodeID, handles, report)
	}
}

// applyCreationOutcome folds one asynchronous creation outcome into the
// handle table and backpressure state.
func (r *Reconciler) applyCreationOutcome(
	ctx context.Context,
	outcome CreationOutcome,
	store *StateStore,
	handles *HandleTable,
	bp *Backpressure,
	report *FrameReport,
	followUps *[]FollowUpIntent,
) {
	delete(r.pendingSince, outcome.NodeID)

	if handles.StateOf(outcome.NodeID) != MappingCreatePending {
		// Stray outcome: the mapping was torn down while the attempt
		// was in flight. Destroy an orphaned live resource immediately
		// so nothing leaks.
		if outcome.OK() {
			_ = r.backend.DestroyResource(ctx, outcome.Handle)
			report.DestroysIssued++
		}
		return
	}

	if !outcome.OK() {
		_ = handles.FailCreate(outcome.NodeID)
		delete(r.destroyOnResolve, outcome.NodeID)
		if r.dropStaleFailure(outcome.NodeID, store, handles, bp) {
			return
		}
		r.recordCreateFailure(outcome.NodeID, outcome.Err, bp, report, followUps)
		return
	}

	if err := handles.CompleteCreate(outcome.NodeID, outcome.Handle); err != nil {
		_ = handles.FailCreate(outcome.NodeID)
		delete(r.destroyOnResolve, outcome.NodeID)
		if r.dropStaleFailure(outcome.NodeID, store, handles, bp) {
			return
		}
		r.recordCreateFailure(outcome.NodeID,
			NewCreationError("handle conflict on completed create", err).WithNode(outcome.NodeID),
			bp, report, followUps)
		return
	}
	bp.Clear(outcome.NodeID)
	report.CreateSuccesses++

	// Stale success: the node stopped wanting a resource while the create
	// was in flight. The destroy is issued in this same pass so a live
	// resource never dangles for an unwanted node.
	rec, known := store.Record(outcome.NodeID)
	_, cancel := r.destroyOnResolve[outcome.NodeID]
	if !known || !rec.Tier.WantsResource() || cancel {
		delete(r.destroyOnResolve, outcome.NodeID)
		r.issueDestroy(ctx, outcome.NodeID, handles, report)
	}
}

// recordCreateFailure applies backoff and emits the failure follow-ups.
func (r *Reconciler) recordCreateFailure(
	nodeID NodeID,
	cause *EngineError,
	bp *Backpressure,
	report *FrameReport,
	followUps *[]FollowUpIntent,
) {
	bp.RecordFailure(nodeID)
	report.CreateFailures++
	*followUps = append(*followUps, FollowUpIntent{
		Kind:   FollowUpDiagnosticReport,
		NodeID: nodeID,
		Reason: "resource creation failed",
		Err:    cause,
	})
	if bp.IsTerminal(nodeID) {
		*followUps = append(*followUps, FollowUpIntent{
			Kind:   FollowUpTerminalFailure,
			NodeID: nodeID,
			Reason: "creation retries exhausted; awaiting explicit retry",
			Err:    NewTerminalCreationError("creation retries exhausted", cause).WithNode(nodeID),
		})
	}
}

// applyPressure force-demotes the least-recently-promoted members of each
// tier. Warning trims a small fraction of each tier; Critical halves both
// tiers and marks in-flight creations for destroy-on-resolve. Pinned nodes
// are exempt from pressure cascades entirely.
func (r *Reconciler) applyPressure(
	ctx context.Context,
	level PressureLevel,
	store *StateStore,
	handles *HandleTable,
	report *FrameReport,
) {
	fraction := r.warningTrim
	cause := CauseMemoryPressureWarning
	if level == PressureCritical {
		fraction = r.criticalTrim
		cause = CauseMemoryPressureCritical
	}

	// Snapshot both tails before demoting, so nodes pushed into Warm by
	// the Active trim are not trimmed again in the same pass.
	activeVictims := r.pressureVictims(store, store.Active(), fraction)
	warmVictims := r.pressureVictims(store, store.Warm(), fraction)

	for _, nodeID := range activeVictims {
		// A hard-cold cause lands the victim in Cold directly.
		_ = store.ForceTier(nodeID, TierWarm, cause)
	}
	for _, nodeID := range warmVictims {
		_ = store.ForceTier(nodeID, TierCold, cause)
	}

	if level == PressureCritical {
		for _, nodeID := range handles.Nodes() {
			if handles.StateOf(nodeID) != MappingCreatePending {
				continue
			}
			if rec, known := store.Record(nodeID); known && rec.Pinned {
				continue
			}
			r.destroyOnResolve[nodeID] = struct{}{}
		}
	}

	// Demotions to Cold take effect within this pass: tear down the
	// resources of newly cold nodes now rather than a frame later.
	r.destroyUnwanted(ctx, store, handles, report)
}

// pressureVictims selects ceil(len(seq) * fraction) non-pinned members from
// the tail of seq, least-recently-promoted first.
func (r *Reconciler) pressureVictims(store *StateStore, seq []NodeID, fraction float64) []NodeID {
	if len(seq) == 0 || fraction <= 0 {
		return nil
	}
	n := int(math.Ceil(float64(len(seq)) * fraction))
	victims := make([]NodeID, 0, n)
	for i := len(seq) - 1; i >= 0 && len(victims) < n; i-- {
		if rec, ok := store.Record(seq[i]); ok && !rec.Pinned {
			victims = append(victims, seq[i])
		}
	}
	return victims
}
