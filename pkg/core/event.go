package core

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a semantic event emitted by the loop or the planner.
type EventType string

const (
	EventRunStarted     EventType = "run.started"
	EventRunCompleted   EventType = "run.completed"
	EventRunAborted     EventType = "run.aborted"
	EventStateChanged   EventType = "loop.state"
	EventStepProposed   EventType = "loop.step.proposed"
	EventActionExecuted EventType = "loop.action.executed"
	EventCorrection     EventType = "loop.correction"
	EventPlanCreated    EventType = "planner.plan.created"
	EventNodeStarted    EventType = "planner.node.started"
	EventNodeCompleted  EventType = "planner.node.completed"
	EventNodeFailed     EventType = "planner.node.failed"
	EventNodeSkipped    EventType = "planner.node.skipped"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType
	RunID     string
	TaskID    string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// EventEmitterFunc adapts a function to EventEmitter.
type EventEmitterFunc func(ctx context.Context, event Event)

// Emit implements EventEmitter.
func (f EventEmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// EventCollector records every event it receives. Safe for concurrent use.
type EventCollector struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements EventEmitter.
func (c *EventCollector) Emit(_ context.Context, event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events returns a copy of the collected events.
func (c *EventCollector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// OfType returns the collected events of the given type.
func (c *EventCollector) OfType(t EventType) []Event {
	var out []Event
	for _, ev := range c.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// NewEvent builds a default event with timestamp.
func NewEvent(eventType EventType, runID, taskID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		RunID:     runID,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
