package engine_test

import (
	"context"
	"fmt"

	"github.com/loomview/renderstate/pkg/engine"
)

// exampleBackend completes every effect by pushing its outcome straight onto
// the queue. A create issued in step 1 therefore resolves in step 3 of the
// same pass; a production backend would resolve frames later.
type exampleBackend struct {
	outcomes *engine.OutcomeQueue
	next     int
}

func (b *exampleBackend) CreateResource(_ context.Context, nodeID engine.NodeID) error {
	b.next++
	b.outcomes.PushCreation(engine.CreationOutcome{
		NodeID: nodeID,
		Handle: engine.Handle(fmt.Sprintf("h-%d", b.next)),
	})
	return nil
}

func (b *exampleBackend) DestroyResource(_ context.Context, handle engine.Handle) error {
	b.outcomes.PushDestroy(engine.DestroyConfirmation{Handle: handle})
	return nil
}

// Example_frameLoop walks a node through selection and close.
func Example_frameLoop() {
	backend := &exampleBackend{}
	driver := engine.NewFrameDriver(engine.DefaultConfig(), backend)
	backend.outcomes = driver.Outcomes()
	ctx := context.Background()

	// The user selects a node; the engine creates its resource.
	driver.Intents().Enqueue(engine.Intent{
		Kind:   engine.IntentRegisterNode,
		NodeID: "note-1",
		Tier:   engine.TierActive,
		Cause:  engine.CauseUserSelect,
	})
	result, _ := driver.RunFrame(ctx)
	fmt.Println("creates issued:", result.Report.CreatesIssued)
	fmt.Println("create successes:", result.Report.CreateSuccesses)
	fmt.Println("mapped:", result.Report.MappedCount)

	// The user closes it; the resource is torn down.
	driver.Intents().Enqueue(engine.Intent{
		Kind:   engine.IntentSetDesiredTier,
		NodeID: "note-1",
		Tier:   engine.TierCold,
		Cause:  engine.CauseExplicitClose,
	})
	result, _ = driver.RunFrame(ctx)
	fmt.Println("destroys issued:", result.Report.DestroysIssued)
	fmt.Println("destroy confirms:", result.Report.DestroyConfirms)
	fmt.Println("mapped:", result.Report.MappedCount)

	// Output:
	// creates issued: 1
	// create successes: 1
	// mapped: 1
	// destroys issued: 1
	// destroy confirms: 1
	// mapped: 0
}
