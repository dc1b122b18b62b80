package stores

import (
	"context"
	"testing"
	"time"

	"github.com/loomview/renderstate/pkg/engine"
)

func setupTestJournal(t *testing.T, retainFrames int) *TransitionJournal {
	t.Helper()

	journal, err := NewTransitionJournal(JournalConfig{
		Path:         ":memory:",
		RetainFrames: retainFrames,
	})
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}

	ctx := context.Background()
	if err := journal.Init(ctx); err != nil {
		t.Fatalf("failed to initialize journal: %v", err)
	}
	if err := journal.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestNewTransitionJournalRequiresPath(t *testing.T) {
	if _, err := NewTransitionJournal(JournalConfig{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestJournalMigrateCreatesSchema(t *testing.T) {
	journal := setupTestJournal(t, 0)

	var count int
	err := journal.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='transitions'`,
	).Scan(&count)
	if err != nil {
		t.Fatalf("failed to query schema: %v", err)
	}
	if count != 1 {
		t.Errorf("expected transitions table to exist, got count %d", count)
	}
}

func TestJournalRecordAndQueryTransitions(t *testing.T) {
	journal := setupTestJournal(t, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	transitions := []engine.Transition{
		{NodeID: "n-1", From: "", To: engine.TierActive, Cause: engine.CauseUserSelect, At: now},
		{NodeID: "n-2", From: "", To: engine.TierActive, Cause: engine.CauseViewportVisible, At: now},
		{NodeID: "n-1", From: engine.TierActive, To: engine.TierWarm, Cause: engine.CauseActiveCapacityOverflow, Forced: true, At: now},
	}
	if err := journal.RecordTransitions(7, transitions); err != nil {
		t.Fatalf("failed to record transitions: %v", err)
	}

	records, err := journal.RecentTransitions(ctx, 10)
	if err != nil {
		t.Fatalf("failed to query recent transitions: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	// Newest first, so the forced demotion comes back at the head.
	head := records[0]
	if head.NodeID != "n-1" || head.ToTier != string(engine.TierWarm) {
		t.Errorf("unexpected head record: %+v", head)
	}
	if !head.Forced {
		t.Error("expected head record to be forced")
	}
	if head.Frame != 7 {
		t.Errorf("expected frame 7, got %d", head.Frame)
	}
	if head.FromTier != string(engine.TierActive) {
		t.Errorf("expected from_tier active, got %q", head.FromTier)
	}
}

func TestJournalRecordTransitionsEmptyIsNoOp(t *testing.T) {
	journal := setupTestJournal(t, 0)

	if err := journal.RecordTransitions(1, nil); err != nil {
		t.Fatalf("expected nil error for empty transitions, got %v", err)
	}

	records, err := journal.RecentTransitions(context.Background(), 10)
	if err != nil {
		t.Fatalf("failed to query transitions: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty journal, got %d records", len(records))
	}
}

func TestJournalRecordTransitionsUninitialized(t *testing.T) {
	journal, err := NewTransitionJournal(JournalConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}

	transitions := []engine.Transition{
		{NodeID: "n-1", To: engine.TierActive, Cause: engine.CauseUserSelect, At: time.Now()},
	}
	if err := journal.RecordTransitions(1, transitions); err == nil {
		t.Fatal("expected error for uninitialized journal")
	}
}

func TestJournalTransitionsForNode(t *testing.T) {
	journal := setupTestJournal(t, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := journal.RecordTransitions(1, []engine.Transition{
		{NodeID: "n-1", To: engine.TierActive, Cause: engine.CauseUserSelect, At: now},
		{NodeID: "n-2", To: engine.TierActive, Cause: engine.CauseUserSelect, At: now},
	}); err != nil {
		t.Fatalf("failed to record frame 1: %v", err)
	}
	if err := journal.RecordTransitions(2, []engine.Transition{
		{NodeID: "n-1", From: engine.TierActive, To: engine.TierCold, Cause: engine.CauseExplicitClose, At: now},
	}); err != nil {
		t.Fatalf("failed to record frame 2: %v", err)
	}

	records, err := journal.TransitionsForNode(ctx, "n-1", 10)
	if err != nil {
		t.Fatalf("failed to query node transitions: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records for n-1, got %d", len(records))
	}
	if records[0].Frame != 2 || records[1].Frame != 1 {
		t.Errorf("expected newest first, got frames %d, %d", records[0].Frame, records[1].Frame)
	}
	for _, r := range records {
		if r.NodeID != "n-1" {
			t.Errorf("expected only n-1 records, got %q", r.NodeID)
		}
	}
}

func TestJournalCountsByCause(t *testing.T) {
	journal := setupTestJournal(t, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := journal.RecordTransitions(1, []engine.Transition{
		{NodeID: "n-1", To: engine.TierActive, Cause: engine.CauseUserSelect, At: now},
		{NodeID: "n-2", To: engine.TierActive, Cause: engine.CauseUserSelect, At: now},
		{NodeID: "n-3", To: engine.TierActive, Cause: engine.CauseViewportVisible, At: now},
	}); err != nil {
		t.Fatalf("failed to record transitions: %v", err)
	}

	counts, err := journal.CountsByCause(ctx)
	if err != nil {
		t.Fatalf("failed to aggregate transitions: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 cause groups, got %d", len(counts))
	}
	if counts[0].Cause != string(engine.CauseUserSelect) || counts[0].Count != 2 {
		t.Errorf("unexpected top cause: %+v", counts[0])
	}
	if counts[1].Cause != string(engine.CauseViewportVisible) || counts[1].Count != 1 {
		t.Errorf("unexpected second cause: %+v", counts[1])
	}
}

func TestJournalForcedDemotions(t *testing.T) {
	journal := setupTestJournal(t, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := journal.RecordTransitions(1, []engine.Transition{
		{NodeID: "n-1", To: engine.TierActive, Cause: engine.CauseUserSelect, At: now},
		{NodeID: "n-2", From: engine.TierActive, To: engine.TierWarm, Cause: engine.CauseMemoryPressureWarning, Forced: true, At: now},
		{NodeID: "n-3", From: engine.TierWarm, To: engine.TierCold, Cause: engine.CauseWarmCapacityOverflow, Forced: true, At: now},
	}); err != nil {
		t.Fatalf("failed to record transitions: %v", err)
	}

	records, err := journal.ForcedDemotions(ctx, 10)
	if err != nil {
		t.Fatalf("failed to query forced demotions: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 forced demotions, got %d", len(records))
	}
	for _, r := range records {
		if !r.Forced {
			t.Errorf("expected forced record, got %+v", r)
		}
	}
	if records[0].NodeID != "n-3" {
		t.Errorf("expected newest forced demotion first, got %q", records[0].NodeID)
	}
}

func TestJournalRetentionPrunesOldFrames(t *testing.T) {
	journal := setupTestJournal(t, 2)
	now := time.Now().UTC()

	for frame := uint64(1); frame <= 5; frame++ {
		if err := journal.RecordTransitions(frame, []engine.Transition{
			{NodeID: "n-1", To: engine.TierActive, Cause: engine.CauseUserSelect, At: now},
		}); err != nil {
			t.Fatalf("failed to record frame %d: %v", frame, err)
		}
	}

	records, err := journal.RecentTransitions(context.Background(), 100)
	if err != nil {
		t.Fatalf("failed to query transitions: %v", err)
	}
	// Frame 5 with two frames of retention keeps frames 3, 4 and 5.
	if len(records) != 3 {
		t.Fatalf("expected 3 retained records, got %d", len(records))
	}
	for _, r := range records {
		if r.Frame < 3 {
			t.Errorf("expected frames below 3 pruned, found frame %d", r.Frame)
		}
	}
}

func TestJournalHealthCheck(t *testing.T) {
	journal := setupTestJournal(t, 0)
	if err := journal.HealthCheck(context.Background()); err != nil {
		t.Errorf("expected healthy journal, got %v", err)
	}

	fresh, err := NewTransitionJournal(JournalConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}
	if err := fresh.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for uninitialized journal")
	}
}
