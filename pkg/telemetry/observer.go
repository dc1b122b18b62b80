package telemetry

import (
	"context"

	"github.com/loomview/renderstate/pkg/engine"
)

// FrameLogger logs a structured summary of every frame. Quiet frames are
// logged at debug level; frames with effects, rejections, or pressure at
// info and above. It implements engine.FrameObserver.
type FrameLogger struct {
	log *Logger
}

// NewFrameLogger creates a frame logger on top of a base logger.
func NewFrameLogger(base *Logger) *FrameLogger {
	return &FrameLogger{log: base.NewComponentLogger("frame")}
}

// ObserveFrame logs one frame report.
func (f *FrameLogger) ObserveFrame(report *engine.FrameReport) {
	log := f.log.WithFrame(report.Frame).
		WithField("duration_ms", report.Duration.Milliseconds()).
		WithField("active", report.ActiveCount).
		WithField("warm", report.WarmCount).
		WithField("cold", report.ColdCount)

	switch {
	case len(report.TerminalNodes) > 0:
		log.WithField("terminal_nodes", report.TerminalNodes).
			Errorf("frame completed with %d terminal nodes", len(report.TerminalNodes))
	case report.CreateFailures > 0 || report.PinnedOverflows > 0:
		log.WithField("create_failures", report.CreateFailures).
			WithField("pinned_overflows", report.PinnedOverflows).
			Warn("frame completed with failures")
	case report.EffectsIssued() > 0 || report.RejectedIntents > 0:
		log.WithField("creates", report.CreatesIssued).
			WithField("destroys", report.DestroysIssued).
			WithField("rejected_intents", report.RejectedIntents).
			Info("frame completed")
	default:
		log.Debug("frame completed")
	}
}

// EventBridge publishes lifecycle events derived from frame reports. It
// implements engine.FrameObserver.
type EventBridge struct {
	publisher *EventPublisher
}

// NewEventBridge creates an event bridge on top of a publisher.
func NewEventBridge(publisher *EventPublisher) *EventBridge {
	return &EventBridge{publisher: publisher}
}

// ObserveFrame publishes events for one frame report. Publish errors are
// dropped; event delivery is best effort and never disturbs the frame.
func (b *EventBridge) ObserveFrame(report *engine.FrameReport) {
	for _, t := range report.Transitions {
		_ = b.publisher.PublishTierChanged(report.Frame,
			string(t.NodeID), string(t.From), string(t.To), string(t.Cause), t.Forced)
	}
	if report.Pressure == engine.PressureWarning || report.Pressure == engine.PressureCritical {
		demotions := report.Demotions[engine.CauseMemoryPressureWarning] +
			report.Demotions[engine.CauseMemoryPressureCritical]
		_ = b.publisher.PublishPressureSignal(report.Frame, string(report.Pressure), demotions)
	}
	if report.PinnedOverflows > 0 {
		_ = b.publisher.PublishPinnedOverflow(report.Frame, report.PinnedOverflows)
	}
	if report.EffectsIssued() > 0 {
		_ = b.publisher.PublishFrameCompleted(report.Frame, report.EffectsIssued(), report.Duration)
	}
}

// DriverTracer brackets the reduce and reconcile phases with spans. It
// implements engine.PhaseTracer. When the context handed to RunFrame
// already carries a frame span (see WithFrameContext), the phase spans
// nest under it.
type DriverTracer struct {
	tracer *Tracer
}

// NewDriverTracer creates a phase tracer on top of a tracer.
func NewDriverTracer(tracer *Tracer) *DriverTracer {
	return &DriverTracer{tracer: tracer}
}

// StartReduce opens the reduce-phase span.
func (t *DriverTracer) StartReduce(ctx context.Context, intentCount int) (context.Context, func()) {
	spanCtx, span := t.tracer.StartReducePhaseSpan(ctx, intentCount)
	return spanCtx, func() { span.End() }
}

// StartReconcile opens the reconcile-phase span.
func (t *DriverTracer) StartReconcile(ctx context.Context) (context.Context, func()) {
	spanCtx, span := t.tracer.StartReconcilePhaseSpan(ctx)
	return spanCtx, func() { span.End() }
}

// FollowUpPublisher publishes events for reconcile follow-ups. The frame
// driver returns follow-ups to its caller; hosts hand them here.
type FollowUpPublisher struct {
	publisher *EventPublisher
}

// NewFollowUpPublisher creates a follow-up publisher.
func NewFollowUpPublisher(publisher *EventPublisher) *FollowUpPublisher {
	return &FollowUpPublisher{publisher: publisher}
}

// PublishFollowUps publishes one frame's follow-up intents.
func (p *FollowUpPublisher) PublishFollowUps(frame uint64, followUps []engine.FollowUpIntent) {
	for _, f := range followUps {
		switch f.Kind {
		case engine.FollowUpTerminalFailure:
			_ = p.publisher.PublishTerminalFailure(frame, string(f.NodeID))
		case engine.FollowUpDiagnosticReport:
			reason := f.Reason
			if f.Err != nil {
				reason = f.Err.Error()
			}
			_ = p.publisher.PublishCreateFailed(frame, string(f.NodeID), reason)
		}
	}
}
