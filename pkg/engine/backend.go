package engine

import (
	"context"
	"sync"
)

// ResourceBackend is the injected capability that actually creates and
// destroys renderer resources. Both calls submit work and return immediately;
// the engine never awaits a result inside a frame. Outcomes are delivered
// through an OutcomeQueue and observed on a later pass.
//
// A submission error from either call is treated the same as an
// asynchronously reported failure, so backends are free to reject eagerly.
type ResourceBackend interface {
	// CreateResource begins creating a resource for the node.
	CreateResource(ctx context.Context, nodeID NodeID) error

	// DestroyResource begins destroying the resource behind the handle.
	DestroyResource(ctx context.Context, handle Handle) error
}

// OutcomeQueue carries asynchronous backend outcomes into the engine. The
// backend (or the host's event loop on its behalf) pushes from any goroutine;
// the reconciler is the single consumer, draining at most once per frame.
type OutcomeQueue struct {
	mu        sync.Mutex
	creations []CreationOutcome
	destroys  []DestroyConfirmation
}

// NewOutcomeQueue creates an empty outcome queue.
func NewOutcomeQueue() *OutcomeQueue {
	return &OutcomeQueue{}
}

// PushCreation delivers a creation outcome for a later reconcile pass.
func (q *OutcomeQueue) PushCreation(outcome CreationOutcome) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.creations = append(q.creations, outcome)
}

// PushDestroy delivers a destroy confirmation for a later reconcile pass.
func (q *OutcomeQueue) PushDestroy(confirmation DestroyConfirmation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.destroys = append(q.destroys, confirmation)
}

// DrainCreations removes and returns all pending creation outcomes in
// delivery order.
func (q *OutcomeQueue) DrainCreations() []CreationOutcome {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.creations
	q.creations = nil
	return out
}

// DrainDestroys removes and returns all pending destroy confirmations in
// delivery order.
func (q *OutcomeQueue) DrainDestroys() []DestroyConfirmation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.destroys
	q.destroys = nil
	return out
}

// Pending returns the number of undelivered outcomes of both kinds.
func (q *OutcomeQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.creations) + len(q.destroys)
}
