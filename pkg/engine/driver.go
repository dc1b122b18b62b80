package engine

import (
	"context"
	"sync"
	"time"
)

// FrameObserver receives every frame report after Phase 2 completes. Wired by
// the composition root for metrics and logging.
type FrameObserver interface {
	ObserveFrame(report *FrameReport)
}

// TransitionSink receives the durable transition log for each frame. Wired by
// the composition root for journaling.
type TransitionSink interface {
	RecordTransitions(frame uint64, transitions []Transition) error
}

// PhaseTracer brackets the two frame phases. Start methods return the
// context to run the phase under and a function called when the phase
// completes.
type PhaseTracer interface {
	StartReduce(ctx context.Context, intentCount int) (context.Context, func())
	StartReconcile(ctx context.Context) (context.Context, func())
}

// IntentQueue collects intents between frames. Producers enqueue from any
// goroutine; the frame driver drains it exactly once per frame.
type IntentQueue struct {
	mu      sync.Mutex
	intents []Intent
}

// NewIntentQueue creates an empty intent queue.
func NewIntentQueue() *IntentQueue {
	return &IntentQueue{}
}

// Enqueue appends an intent for the next frame.
func (q *IntentQueue) Enqueue(intent Intent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.intents = append(q.intents, intent)
}

// DrainAll removes and returns every queued intent in arrival order.
func (q *IntentQueue) DrainAll() []Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.intents
	q.intents = nil
	return drained
}

// Len returns the number of queued intents.
func (q *IntentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.intents)
}

// FrameResult is the outcome of one frame: the diagnostics report, the
// per-intent results from Phase 1, and any follow-up intents the host should
// surface or feed back.
type FrameResult struct {
	Report    *FrameReport
	Intents   []IntentResult
	FollowUps []FollowUpIntent
}

// FrameDriver owns the engine state and enforces the two-phase frame
// contract: Phase 1 applies all queued intents, then Phase 2 reconciles.
// Neither phase re-enters the other and RunFrame is never concurrent with
// itself.
type FrameDriver struct {
	store        *StateStore
	handles      *HandleTable
	backpressure *Backpressure
	reconciler   *Reconciler
	intents      *IntentQueue
	outcomes     *OutcomeQueue

	observers []FrameObserver
	sinks     []TransitionSink
	tracer    PhaseTracer

	frame   uint64
	inFrame bool
	mu      sync.Mutex

	now func() time.Time
}

// NewFrameDriver builds a driver and its internal state from the given
// configuration and backend. The configuration must already be validated.
func NewFrameDriver(cfg Config, backend ResourceBackend) *FrameDriver {
	outcomes := NewOutcomeQueue()
	return &FrameDriver{
		store:        NewStateStore(cfg.ActiveCapacity, cfg.WarmCapacity),
		handles:      NewHandleTable(),
		backpressure: NewBackpressure(cfg.BaseBackoff, cfg.MaxBackoff, cfg.MaxRetryCount),
		reconciler:   NewReconciler(cfg, backend, outcomes),
		intents:      NewIntentQueue(),
		outcomes:     outcomes,
		now:          time.Now,
	}
}

// AddObserver registers a frame observer. Not safe to call concurrently with
// RunFrame.
func (d *FrameDriver) AddObserver(obs FrameObserver) {
	d.observers = append(d.observers, obs)
}

// AddTransitionSink registers a transition sink. Not safe to call
// concurrently with RunFrame.
func (d *FrameDriver) AddTransitionSink(sink TransitionSink) {
	d.sinks = append(d.sinks, sink)
}

// SetTracer installs a phase tracer. Not safe to call concurrently with
// RunFrame.
func (d *FrameDriver) SetTracer(tracer PhaseTracer) {
	d.tracer = tracer
}

// Intents returns the queue external producers enqueue into.
func (d *FrameDriver) Intents() *IntentQueue {
	return d.intents
}

// Outcomes returns the queue the backend delivers asynchronous outcomes into.
func (d *FrameDriver) Outcomes() *OutcomeQueue {
	return d.outcomes
}

// Store returns the desired-state store for read-only inspection between
// frames.
func (d *FrameDriver) Store() *StateStore {
	return d.store
}

// Handles returns the handle table for read-only inspection between frames.
func (d *FrameDriver) Handles() *HandleTable {
	return d.handles
}

// Backpressure returns the backpressure controller for read-only inspection
// between frames.
func (d *FrameDriver) Backpressure() *Backpressure {
	return d.backpressure
}

// Frame returns the number of completed frames.
func (d *FrameDriver) Frame() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame
}

// RunFrame executes one frame: drain the intent queue, reduce it into desired
// state, then reconcile. Returns an error only on contract violation; intent
// rejections and effect failures are reported as values in the result.
func (d *FrameDriver) RunFrame(ctx context.Context) (*FrameResult, error) {
	d.mu.Lock()
	if d.inFrame {
		d.mu.Unlock()
		return nil, NewInternalError("frame re-entered while in progress", nil).
			WithOperation("run_frame")
	}
	d.inFrame = true
	d.frame++
	frame := d.frame
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFrame = false
		d.mu.Unlock()
	}()

	started := d.now()

	// Phase 1: reduce every queued intent into desired state. No effects
	// are issued here.
	intents := d.intents.DrainAll()
	var endReduce func()
	if d.tracer != nil {
		// The reducer is pure and takes no context; the span only brackets it.
		_, endReduce = d.tracer.StartReduce(ctx, len(intents))
	}
	results := ApplyIntents(d.store, intents)
	phase1 := d.store.TakeTransitions()
	if endReduce != nil {
		endReduce()
	}

	// Phase boundary: desired state is now fixed for this frame.

	// Phase 2: reconcile runtime state toward desired state.
	reconcileCtx := ctx
	var endReconcile func()
	if d.tracer != nil {
		reconcileCtx, endReconcile = d.tracer.StartReconcile(ctx)
	}
	report, followUps := d.reconciler.Reconcile(reconcileCtx, d.store, d.handles, d.backpressure, phase1)
	if endReconcile != nil {
		endReconcile()
	}
	report.Frame = frame
	report.RejectedIntents = len(RejectedIntents(results))
	report.Duration = d.now().Sub(started)

	for _, sink := range d.sinks {
		if err := sink.RecordTransitions(frame, report.Transitions); err != nil {
			followUps = append(followUps, FollowUpIntent{
				Kind:   FollowUpDiagnosticReport,
				Reason: "transition journal write failed",
				Err:    NewInternalError("transition journal write failed", err).WithOperation("record_transitions"),
			})
		}
	}
	for _, obs := range d.observers {
		obs.ObserveFrame(report)
	}

	return &FrameResult{
		Report:    report,
		Intents:   results,
		FollowUps: followUps,
	}, nil
}
