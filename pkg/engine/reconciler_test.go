package engine

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// fakeBackend records submitted effects. Outcomes are delivered manually by
// the tests, mirroring the asynchronous production contract.
type fakeBackend struct {
	created   []NodeID
	destroyed []Handle

	createErr  map[NodeID]error
	destroyErr map[Handle]error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		createErr:  make(map[NodeID]error),
		destroyErr: make(map[Handle]error),
	}
}

func (b *fakeBackend) CreateResource(_ context.Context, nodeID NodeID) error {
	if err, ok := b.createErr[nodeID]; ok {
		return err
	}
	b.created = append(b.created, nodeID)
	return nil
}

func (b *fakeBackend) DestroyResource(_ context.Context, handle Handle) error {
	if err, ok := b.destroyErr[handle]; ok {
		return err
	}
	b.destroyed = append(b.destroyed, handle)
	return nil
}

type testRig struct {
	store      *StateStore
	handles    *HandleTable
	bp         *Backpressure
	backend    *fakeBackend
	outcomes   *OutcomeQueue
	reconciler *Reconciler
}

func newTestRig(activeCap, warmCap int) *testRig {
	cfg := DefaultConfig()
	cfg.ActiveCapacity = activeCap
	cfg.WarmCapacity = warmCap
	backend := newFakeBackend()
	outcomes := NewOutcomeQueue()
	return &testRig{
		store:      NewStateStore(activeCap, warmCap),
		handles:    NewHandleTable(),
		bp:         NewBackpressure(cfg.BaseBackoff, cfg.MaxBackoff, cfg.MaxRetryCount),
		backend:    backend,
		outcomes:   outcomes,
		reconciler: NewReconciler(cfg, backend, outcomes),
	}
}

func (r *testRig) reconcile(t *testing.T) (*FrameReport, []FollowUpIntent) {
	t.Helper()
	phase1 := r.store.TakeTransitions()
	return r.reconciler.Reconcile(context.Background(), r.store, r.handles, r.bp, phase1)
}

// mapNode drives a node through a full successful creation.
func (r *testRig) mapNode(t *testing.T, nodeID NodeID, handle Handle) {
	t.Helper()
	if err := r.handles.BeginCreate(nodeID); err != nil {
		t.Fatal(err)
	}
	if err := r.handles.CompleteCreate(nodeID, handle); err != nil {
		t.Fatal(err)
	}
}

func TestReconcileIssuesCreatesForWantingNodes(t *testing.T) {
	rig := newTestRig(3, 8)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	if err := rig.store.Register("b", TierWarm, CauseWorkspaceRetention); err != nil {
		t.Fatal(err)
	}
	if err := rig.store.Register("c", TierCold, CauseExplicitClose); err != nil {
		t.Fatal(err)
	}

	report, _ := rig.reconcile(t)

	if report.CreatesIssued != 2 {
		t.Fatalf("expected 2 creates, got %d", report.CreatesIssued)
	}
	if len(rig.backend.created) != 2 {
		t.Fatalf("expected backend to see 2 creates, got %v", rig.backend.created)
	}
	if state := rig.handles.StateOf("c"); state != MappingUnmapped {
		t.Errorf("cold node must not get a create, state %s", state)
	}
	if report.InFlightCount != 2 {
		t.Errorf("expected 2 in flight, got %d", report.InFlightCount)
	}
}

func TestReconcileNoDuplicateCreateWhilePending(t *testing.T) {
	rig := newTestRig(3, 8)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}

	rig.reconcile(t)
	report, _ := rig.reconcile(t)

	if report.CreatesIssued != 0 {
		t.Errorf("expected no second create while pending, got %d", report.CreatesIssued)
	}
	if len(rig.backend.created) != 1 {
		t.Errorf("backend saw %d creates, expected 1", len(rig.backend.created))
	}
}

func TestReconcileAppliesCreationSuccess(t *testing.T) {
	rig := newTestRig(3, 8)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	rig.reconcile(t)

	rig.outcomes.PushCreation(CreationOutcome{NodeID: "a", Handle: "h-1", CompletedAt: time.Now()})
	report, _ := rig.reconcile(t)

	if report.CreateSuccesses != 1 {
		t.Fatalf("expected 1 success, got %d", report.CreateSuccesses)
	}
	if state := rig.handles.StateOf("a"); state != MappingMapped {
		t.Errorf("expected mapped, got %s", state)
	}
	if report.MappedCount != 1 {
		t.Errorf("expected mapped count 1, got %d", report.MappedCount)
	}
}

// A node demoted to Cold while its creation is in flight gets no interrupt:
// the success is applied, then the destroy is issued in the same pass.
func TestReconcileStaleSuccessDestroysSamePass(t *testing.T) {
	rig := newTestRig(3, 8)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	rig.reconcile(t)

	if err := rig.store.SetTier("a", TierCold, CauseExplicitClose); err != nil {
		t.Fatal(err)
	}
	rig.outcomes.PushCreation(CreationOutcome{NodeID: "a", Handle: "h-1", CompletedAt: time.Now()})
	report, _ := rig.reconcile(t)

	if report.CreateSuccesses != 1 {
		t.Errorf("expected success applied, got %d", report.CreateSuccesses)
	}
	if report.DestroysIssued != 1 {
		t.Errorf("expected destroy issued in same pass, got %d", report.DestroysIssued)
	}
	if state := rig.handles.StateOf("a"); state != MappingDestroyPending {
		t.Errorf("expected destroy_pending, got %s", state)
	}

	rig.outcomes.PushDestroy(DestroyConfirmation{Handle: "h-1", ConfirmedAt: time.Now()})
	report, _ = rig.reconcile(t)
	if report.DestroyConfirms != 1 {
		t.Errorf("expected confirmation applied, got %d", report.DestroyConfirms)
	}
	if state := rig.handles.StateOf("a"); state != MappingUnmapped {
		t.Errorf("expected unmapped after confirmation, got %s", state)
	}
}

func TestReconcileFailureEntersBackoffAndReports(t *testing.T) {
	rig := newTestRig(3, 8)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	rig.reconcile(t)

	rig.outcomes.PushCreation(CreationOutcome{
		NodeID:      "a",
		Err:         NewCreationError("renderer process died", nil).WithNode("a"),
		CompletedAt: time.Now(),
	})
	report, followUps := rig.reconcile(t)

	if report.CreateFailures != 1 {
		t.Fatalf("expected 1 failure, got %d", report.CreateFailures)
	}
	if state := rig.handles.StateOf("a"); state != MappingUnmapped {
		t.Errorf("expected unmapped after failure, got %s", state)
	}
	if report.BlockedNodes != 1 {
		t.Errorf("expected 1 blocked node, got %d", report.BlockedNodes)
	}
	if len(followUps) != 1 || followUps[0].Kind != FollowUpDiagnosticReport {
		t.Fatalf("expected diagnostic follow-up, got %v", followUps)
	}
	if !IsRetryable(followUps[0].Err) {
		t.Errorf("expected retryable error, got %v", followUps[0].Err)
	}

	// Inside the backoff window no retry is issued.
	report, _ = rig.reconcile(t)
	if report.CreatesIssued != 0 {
		t.Errorf("expected no create inside backoff window, got %d", report.CreatesIssued)
	}
}

func TestReconcileTerminalFailureLifecycle(t *testing.T) {
	rig := newTestRig(3, 8)
	rig.bp = NewBackpressure(time.Millisecond, time.Millisecond, 2)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}

	fail := func() []FollowUpIntent {
		report, _ := rig.reconcile(t)
		if report.CreatesIssued != 1 {
			t.Fatalf("expected create issued, got %d", report.CreatesIssued)
		}
		rig.outcomes.PushCreation(CreationOutcome{
			NodeID:      "a",
			Err:         NewCreationError("renderer process died", nil).WithNode("a"),
			CompletedAt: time.Now(),
		})
		time.Sleep(5 * time.Millisecond)
		_, followUps := rig.reconcile(t)
		return followUps
	}

	followUps := fail()
	if len(followUps) != 1 {
		t.Fatalf("expected only diagnostic after first failure, got %v", followUps)
	}

	followUps = fail()
	var terminal *FollowUpIntent
	for i := range followUps {
		if followUps[i].Kind == FollowUpTerminalFailure {
			terminal = &followUps[i]
		}
	}
	if terminal == nil {
		t.Fatalf("expected terminal follow-up at retry cap, got %v", followUps)
	}
	if !IsTerminalFailure(terminal.Err) {
		t.Errorf("expected terminal error class, got %v", terminal.Err)
	}

	// Terminal nodes get no further creates, no matter how long we wait.
	time.Sleep(5 * time.Millisecond)
	report, _ := rig.reconcile(t)
	if report.CreatesIssued != 0 {
		t.Errorf("expected no create for terminal node, got %d", report.CreatesIssued)
	}
	if len(report.TerminalNodes) != 1 || report.TerminalNodes[0] != "a" {
		t.Errorf("expected a reported terminal, got %v", report.TerminalNodes)
	}
}

func TestReconcileExplicitUserClearsTerminal(t *testing.T) {
	rig := newTestRig(3, 8)
	rig.bp = NewBackpressure(time.Second, time.Second, 1)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	rig.reconcile(t)
	rig.outcomes.PushCreation(CreationOutcome{
		NodeID: "a", Err: NewCreationError("boom", nil), CompletedAt: time.Now(),
	})
	rig.reconcile(t)
	if !rig.bp.IsTerminal("a") {
		t.Fatal("expected terminal")
	}

	// An automatic promotion must not clear the block.
	if err := rig.store.SetTier("a", TierActive, CauseViewportVisible); err != nil {
		t.Fatal(err)
	}
	report, _ := rig.reconcile(t)
	if report.CreatesIssued != 0 {
		t.Error("automatic promotion restarted a terminal creation loop")
	}

	// A direct user selection does.
	if err := rig.store.SetTier("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	report, _ = rig.reconcile(t)
	if report.CreatesIssued != 1 {
		t.Errorf("expected create after user selection, got %d", report.CreatesIssued)
	}
}

func TestReconcileRetryIntentClearsTerminal(t *testing.T) {
	rig := newTestRig(3, 8)
	rig.bp = NewBackpressure(time.Second, time.Second, 1)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	rig.reconcile(t)
	rig.outcomes.PushCreation(CreationOutcome{
		NodeID: "a", Err: NewCreationError("boom", nil), CompletedAt: time.Now(),
	})
	rig.reconcile(t)

	rig.store.RequestRetry("a")
	report, _ := rig.reconcile(t)
	if report.CreatesIssued != 1 {
		t.Errorf("expected create after explicit retry, got %d", report.CreatesIssued)
	}
}

func TestReconcileDestroysRemovedNodeResources(t *testing.T) {
	rig := newTestRig(3, 8)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	rig.mapNode(t, "a", "h-1")

	if err := rig.store.Remove("a"); err != nil {
		t.Fatal(err)
	}
	report, _ := rig.reconcile(t)
	if report.DestroysIssued != 1 {
		t.Fatalf("expected destroy for removed node, got %d", report.DestroysIssued)
	}

	rig.outcomes.PushDestroy(DestroyConfirmation{Handle: "h-1", ConfirmedAt: time.Now()})
	rig.reconcile(t)
	if len(rig.handles.Nodes()) != 0 {
		t.Error("expected mapping forgotten once the node is gone")
	}
}

func TestReconcileStraySuccessDestroysOrphan(t *testing.T) {
	rig := newTestRig(3, 8)
	// Outcome for a node with no mapping entry at all: the resource is
	// live but orphaned, so it is destroyed immediately.
	rig.outcomes.PushCreation(CreationOutcome{NodeID: "gone", Handle: "h-9", CompletedAt: time.Now()})

	report, _ := rig.reconcile(t)
	if report.DestroysIssued != 1 {
		t.Errorf("expected orphan destroy, got %d", report.DestroysIssued)
	}
	if len(rig.backend.destroyed) != 1 || rig.backend.destroyed[0] != "h-9" {
		t.Errorf("expected h-9 destroyed, got %v", rig.backend.destroyed)
	}
}

func TestReconcileCreateSubmissionErrorEntersBackoff(t *testing.T) {
	rig := newTestRig(3, 8)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	rig.backend.createErr["a"] = fmt.Errorf("ipc channel closed")

	report, followUps := rig.reconcile(t)
	if report.CreateFailures != 1 {
		t.Fatalf("expected submission error counted as failure, got %d", report.CreateFailures)
	}
	if state := rig.handles.StateOf("a"); state != MappingUnmapped {
		t.Errorf("expected unmapped after submission error, got %s", state)
	}
	if len(followUps) == 0 {
		t.Error("expected diagnostic follow-up")
	}
}

func TestReconcileDestroySubmissionErrorRetriesNextPass(t *testing.T) {
	rig := newTestRig(3, 8)
	if err := rig.store.Register("a", TierCold, CauseExplicitClose); err != nil {
		t.Fatal(err)
	}
	rig.mapNode(t, "a", "h-1")
	rig.backend.destroyErr["h-1"] = fmt.Errorf("ipc channel closed")

	report, _ := rig.reconcile(t)
	if report.DestroysIssued != 0 {
		t.Fatalf("expected failed submission not counted, got %d", report.DestroysIssued)
	}
	if state := rig.handles.StateOf("a"); state != MappingMapped {
		t.Fatalf("expected mapping reverted for retry, got %s", state)
	}

	delete(rig.backend.destroyErr, "h-1")
	report, _ = rig.reconcile(t)
	if report.DestroysIssued != 1 {
		t.Errorf("expected destroy retried, got %d", report.DestroysIssued)
	}
}

// Warning-level pressure trims a tenth of each tier, rounded up, skipping
// pinned nodes.
func TestReconcileWarningPressureTrim(t *testing.T) {
	rig := newTestRig(10, 10)
	for i := 0; i < 10; i++ {
		id := NodeID(fmt.Sprintf("n-%02d", i))
		if err := rig.store.Register(id, TierActive, CauseUserSelect); err != nil {
			t.Fatal(err)
		}
	}
	// n-00 is the tail; pin it so n-01 becomes the victim.
	if err := rig.store.SetPinned("n-00", true); err != nil {
		t.Fatal(err)
	}
	rig.store.RecordPressure(PressureWarning)

	report, _ := rig.reconcile(t)

	active, warm, _ := rig.store.Counts()
	if active != 9 || warm != 1 {
		t.Fatalf("expected 9 active / 1 warm after warning trim, got %d/%d", active, warm)
	}
	rec, _ := rig.store.Record("n-01")
	if rec.Tier != TierWarm || rec.Cause != CauseMemoryPressureWarning {
		t.Errorf("expected n-01 trimmed to warm, got %s/%s", rec.Tier, rec.Cause)
	}
	rec, _ = rig.store.Record("n-00")
	if rec.Tier != TierActive {
		t.Errorf("pinned node trimmed: %s", rec.Tier)
	}
	if report.Demotions[CauseMemoryPressureWarning] != 1 {
		t.Errorf("expected 1 warning demotion reported, got %d", report.Demotions[CauseMemoryPressureWarning])
	}
}

// Critical pressure halves both tiers. The critical cause is hard-cold, so
// trimmed actives bypass Warm, and destroys for newly cold mapped nodes go
// out in the same pass.
func TestReconcileCriticalPressureHalvesTiers(t *testing.T) {
	rig := newTestRig(10, 10)
	for i := 0; i < 10; i++ {
		id := NodeID(fmt.Sprintf("a-%02d", i))
		if err := rig.store.Register(id, TierActive, CauseUserSelect); err != nil {
			t.Fatal(err)
		}
		rig.mapNode(t, id, Handle("h-a-"+id))
	}
	for i := 0; i < 10; i++ {
		id := NodeID(fmt.Sprintf("w-%02d", i))
		if err := rig.store.Register(id, TierWarm, CauseWorkspaceRetention); err != nil {
			t.Fatal(err)
		}
		rig.mapNode(t, id, Handle("h-w-"+id))
	}
	rig.store.RecordPressure(PressureCritical)

	report, _ := rig.reconcile(t)

	active, warm, cold := rig.store.Counts()
	if active != 5 || warm != 5 || cold != 10 {
		t.Fatalf("expected 5/5/10 after critical trim, got %d/%d/%d", active, warm, cold)
	}
	if report.Pressure != PressureCritical {
		t.Errorf("expected critical pressure reported, got %s", report.Pressure)
	}
	if report.DestroysIssued != 10 {
		t.Errorf("expected destroys for all 10 newly cold nodes, got %d", report.DestroysIssued)
	}

	// Trimmed actives must not pass through Warm.
	rec, _ := rig.store.Record("a-00")
	if rec.Tier != TierCold {
		t.Errorf("expected trimmed active in cold, got %s", rec.Tier)
	}
}

// Critical pressure marks non-pinned in-flight creations for destruction as
// soon as they resolve.
func TestReconcileCriticalCancelsInFlightOnResolve(t *testing.T) {
	rig := newTestRig(3, 8)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	if err := rig.store.Register("b", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	rig.reconcile(t)
	if state := rig.handles.StateOf("b"); state != MappingCreatePending {
		t.Fatal("expected create in flight")
	}

	// The critical trim demotes the tail (a); b survives in Active but its
	// in-flight creation is marked for destruction on resolve.
	rig.store.RecordPressure(PressureCritical)
	rig.reconcile(t)
	rec, _ := rig.store.Record("b")
	if rec.Tier != TierActive {
		t.Fatalf("expected b to survive the trim, got %s", rec.Tier)
	}

	rig.outcomes.PushCreation(CreationOutcome{NodeID: "b", Handle: "h-1", CompletedAt: time.Now()})
	report, _ := rig.reconcile(t)
	if report.CreateSuccesses != 1 {
		t.Errorf("expected success applied first, got %d", report.CreateSuccesses)
	}
	if report.DestroysIssued != 1 {
		t.Errorf("expected cancel-on-resolve destroy, got %d", report.DestroysIssued)
	}
}

func TestReconcileReportTierCounts(t *testing.T) {
	rig := newTestRig(3, 8)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	if err := rig.store.Register("b", TierWarm, CauseWorkspaceRetention); err != nil {
		t.Fatal(err)
	}
	if err := rig.store.Register("c", TierCold, CauseExplicitClose); err != nil {
		t.Fatal(err)
	}

	report, _ := rig.reconcile(t)
	if report.ActiveCount != 1 || report.WarmCount != 1 || report.ColdCount != 1 {
		t.Errorf("expected 1/1/1, got %d/%d/%d",
			report.ActiveCount, report.WarmCount, report.ColdCount)
	}
	if report.EffectsIssued() != 2 {
		t.Errorf("expected 2 effects, got %d", report.EffectsIssued())
	}
}

func TestReconcileStalledCreateTimesOut(t *testing.T) {
	rig := newTestRig(3, 8)
	current := time.Now()
	rig.reconciler.now = func() time.Time { return current }
	rig.bp.now = func() time.Time { return current }

	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}

	report, _ := rig.reconcile(t)
	if report.CreatesIssued != 1 {
		t.Fatalf("expected 1 create, got %d", report.CreatesIssued)
	}
	if rig.handles.StateOf("a") != MappingCreatePending {
		t.Fatalf("expected create_pending, got %s", rig.handles.StateOf("a"))
	}

	// Inside the probe window nothing expires.
	current = current.Add(DefaultCreateTimeout / 2)
	report, _ = rig.reconcile(t)
	if report.CreateFailures != 0 {
		t.Errorf("expected no failures inside the probe window, got %d", report.CreateFailures)
	}

	// Past the window the attempt counts as failed.
	current = current.Add(DefaultCreateTimeout)
	report, followUps := rig.reconcile(t)
	if report.CreateFailures != 1 {
		t.Fatalf("expected 1 timed-out failure, got %d", report.CreateFailures)
	}
	if rig.handles.StateOf("a") != MappingUnmapped {
		t.Errorf("expected unmapped after timeout, got %s", rig.handles.StateOf("a"))
	}
	if len(followUps) != 1 || followUps[0].Kind != FollowUpDiagnosticReport {
		t.Fatalf("expected diagnostic follow-up, got %+v", followUps)
	}

	// The backend's eventual success is a stray; the orphaned resource is
	// destroyed at once.
	rig.outcomes.PushCreation(CreationOutcome{NodeID: "a", Handle: "h-late", CompletedAt: current})
	report, _ = rig.reconcile(t)
	if report.CreateSuccesses != 0 {
		t.Errorf("expected stray outcome not counted as success, got %d", report.CreateSuccesses)
	}
	if len(rig.backend.destroyed) != 1 || rig.backend.destroyed[0] != "h-late" {
		t.Errorf("expected orphaned handle destroyed, got %v", rig.backend.destroyed)
	}
}

func TestReconcileZeroCreateTimeoutDisablesProbe(t *testing.T) {
	rig := newTestRig(3, 8)
	rig.reconciler.createTimeout = 0
	current := time.Now()
	rig.reconciler.now = func() time.Time { return current }

	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	rig.reconcile(t)

	current = current.Add(time.Hour)
	report, _ := rig.reconcile(t)
	if report.CreateFailures != 0 {
		t.Errorf("expected pending create untouched with probe disabled, got %d failures", report.CreateFailures)
	}
	if rig.handles.StateOf("a") != MappingCreatePending {
		t.Errorf("expected create_pending, got %s", rig.handles.StateOf("a"))
	}
}

func TestReconcileFailureForRemovedNodeLeavesNoBlockedRecord(t *testing.T) {
	rig := newTestRig(3, 8)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	rig.reconcile(t)
	if rig.handles.StateOf("a") != MappingCreatePending {
		t.Fatalf("expected create_pending, got %s", rig.handles.StateOf("a"))
	}

	// The node is removed while the attempt is in flight; the failure
	// arrives afterwards.
	if err := rig.store.Remove("a"); err != nil {
		t.Fatal(err)
	}
	rig.outcomes.PushCreation(CreationOutcome{
		NodeID:      "a",
		Err:         NewCreationError("renderer rejected surface", nil).WithNode("a"),
		CompletedAt: time.Now(),
	})

	report, followUps := rig.reconcile(t)
	if report.BlockedNodes != 0 {
		t.Errorf("expected no blocked record for removed node, got %d", report.BlockedNodes)
	}
	if rig.bp.BlockedCount() != 0 {
		t.Errorf("expected backpressure empty, got %d", rig.bp.BlockedCount())
	}
	if len(followUps) != 0 {
		t.Errorf("expected no follow-ups for removed node, got %+v", followUps)
	}
	if _, ok := rig.handles.Mapping("a"); ok {
		t.Error("expected mapping entry forgotten for removed node")
	}

	// The record must not reappear on later frames.
	report, _ = rig.reconcile(t)
	if report.BlockedNodes != 0 {
		t.Errorf("expected blocked count to stay 0, got %d", report.BlockedNodes)
	}
}

func TestReconcileFailureForColdNodeLeavesNoBlockedRecord(t *testing.T) {
	rig := newTestRig(3, 8)
	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	rig.reconcile(t)

	// The user closes the node before the attempt resolves.
	if err := rig.store.SetTier("a", TierCold, CauseExplicitClose); err != nil {
		t.Fatal(err)
	}
	rig.outcomes.PushCreation(CreationOutcome{
		NodeID:      "a",
		Err:         NewCreationError("renderer rejected surface", nil).WithNode("a"),
		CompletedAt: time.Now(),
	})

	report, _ := rig.reconcile(t)
	if report.BlockedNodes != 0 {
		t.Errorf("expected no blocked record for cold node, got %d", report.BlockedNodes)
	}
	if report.CreateFailures != 0 {
		t.Errorf("expected stale failure not counted, got %d", report.CreateFailures)
	}
	if rig.handles.StateOf("a") != MappingUnmapped {
		t.Errorf("expected unmapped, got %s", rig.handles.StateOf("a"))
	}

	// Re-selecting the node starts a fresh, unblocked attempt.
	if err := rig.store.SetTier("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	report, _ = rig.reconcile(t)
	if report.CreatesIssued != 1 {
		t.Errorf("expected immediate re-create after promotion, got %d", report.CreatesIssued)
	}
}

func TestReconcileStalledCreateForRemovedNodeIsDropped(t *testing.T) {
	rig := newTestRig(3, 8)
	current := time.Now()
	rig.reconciler.now = func() time.Time { return current }
	rig.bp.now = func() time.Time { return current }

	if err := rig.store.Register("a", TierActive, CauseUserSelect); err != nil {
		t.Fatal(err)
	}
	rig.reconcile(t)
	if err := rig.store.Remove("a"); err != nil {
		t.Fatal(err)
	}

	current = current.Add(2 * DefaultCreateTimeout)
	report, followUps := rig.reconcile(t)
	if report.CreateFailures != 0 {
		t.Errorf("expected timed-out attempt for removed node dropped, got %d failures", report.CreateFailures)
	}
	if report.BlockedNodes != 0 {
		t.Errorf("expected no blocked record, got %d", report.BlockedNodes)
	}
	if len(followUps) != 0 {
		t.Errorf("expected no follow-ups, got %+v", followUps)
	}
	if _, ok := rig.handles.Mapping("a"); ok {
		t.Error("expected mapping entry forgotten for removed node")
	}
}
