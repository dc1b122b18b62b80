package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a lifecycle telemetry event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// Frame is the frame counter at the time of the event, if applicable.
	Frame uint64 `json:"frame,omitempty"`

	// NodeID is the associated node, if applicable.
	NodeID string `json:"node_id,omitempty"`

	// Handle is the associated resource handle, if applicable.
	Handle string `json:"handle,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeFrameCompleted  = "frame.completed"
	EventTypeTierChanged     = "node.tier_changed"
	EventTypeCreateFailed    = "resource.create_failed"
	EventTypeTerminalFailure = "resource.terminal_failure"
	EventTypePressureSignal  = "memory.pressure_signal"
	EventTypePinnedOverflow  = "capacity.pinned_overflow"
	EventTypeError           = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishFrameCompleted publishes a frame completion summary event.
func (ep *EventPublisher) PublishFrameCompleted(frame uint64, effects int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeFrameCompleted,
		Source:  "engine",
		Frame:   frame,
		Message: fmt.Sprintf("Frame %d completed with %d effects", frame, effects),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"effects":  effects,
			"duration": duration.Seconds(),
		},
	})
}

// PublishTierChanged publishes a tier transition event.
func (ep *EventPublisher) PublishTierChanged(frame uint64, nodeID, from, to, cause string, forced bool) error {
	return ep.Publish(Event{
		Type:    EventTypeTierChanged,
		Source:  "engine",
		Frame:   frame,
		NodeID:  nodeID,
		Message: fmt.Sprintf("Node %s moved from %s to %s (%s)", nodeID, from, to, cause),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"from":   from,
			"to":     to,
			"cause":  cause,
			"forced": forced,
		},
	})
}

// PublishCreateFailed publishes a creation failure event.
func (ep *EventPublisher) PublishCreateFailed(frame uint64, nodeID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeCreateFailed,
		Source:  "engine",
		Frame:   frame,
		NodeID:  nodeID,
		Message: fmt.Sprintf("Resource creation failed for node %s: %s", nodeID, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishTerminalFailure publishes a retry-exhaustion event.
func (ep *EventPublisher) PublishTerminalFailure(frame uint64, nodeID string) error {
	return ep.Publish(Event{
		Type:    EventTypeTerminalFailure,
		Source:  "engine",
		Frame:   frame,
		NodeID:  nodeID,
		Message: fmt.Sprintf("Node %s exhausted creation retries", nodeID),
		Level:   EventLevelError,
	})
}

// PublishPressureSignal publishes a memory pressure event.
func (ep *EventPublisher) PublishPressureSignal(frame uint64, level string, demotions int) error {
	return ep.Publish(Event{
		Type:    EventTypePressureSignal,
		Source:  "engine",
		Frame:   frame,
		Message: fmt.Sprintf("Memory pressure %s trimmed %d nodes", level, demotions),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"pressure_level": level,
			"demotions":      demotions,
		},
	})
}

// PublishPinnedOverflow publishes a soft-bound overflow event.
func (ep *EventPublisher) PublishPinnedOverflow(frame uint64, count int) error {
	return ep.Publish(Event{
		Type:    EventTypePinnedOverflow,
		Source:  "engine",
		Frame:   frame,
		Message: fmt.Sprintf("Tier over capacity with all candidates pinned (%d overflows)", count),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"count": count,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain what is left before shutting down
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		// Keep subscribers off the frame path
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a given level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByNodeID creates a filter that only allows events for a specific node.
func FilterByNodeID(nodeID string) EventFilter {
	return func(event Event) bool {
		return event.NodeID == nodeID
	}
}
