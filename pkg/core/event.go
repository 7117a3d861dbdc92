package core

import (
	"context"
	"slices"
	"sync"
	"time"
)

// EventType names a step of a kickoff that observers may react to.
type EventType string

const (
	EventCrewStarted   EventType = "crew.started"
	EventCrewCompleted EventType = "crew.completed"

	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskSkipped   EventType = "task.skipped"

	EventAgentThinking   EventType = "agent.thinking"
	EventAgentToolCall   EventType = "agent.tool_call"
	EventAgentDelegation EventType = "agent.delegation"
	EventAgentError      EventType = "agent.error"
)

// Event is one observation emitted during a kickoff. Agent and TaskID are
// empty for crew-level events.
type Event struct {
	Type      EventType
	Agent     string
	TaskID    string
	Timestamp time.Time
	Payload   map[string]any
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(typ EventType, agent, taskID string, payload map[string]any) Event {
	return Event{Type: typ, Agent: agent, TaskID: taskID, Timestamp: time.Now().UTC(), Payload: payload}
}

// EventEmitter observes a kickoff. Tasks run concurrently, so Emit must be
// safe for concurrent use and should return quickly.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event Event)

func (f EmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NoopEventEmitter drops every event.
type NoopEventEmitter struct{}

func (NoopEventEmitter) Emit(context.Context, Event) {}

// EventCollector keeps every event in arrival order.
type EventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *EventCollector) Emit(_ context.Context, event Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *EventCollector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}

// OfType filters the collected events by type.
func (c *EventCollector) OfType(typ EventType) []Event {
	events := c.Events()
	return slices.DeleteFunc(events, func(ev Event) bool { return ev.Type != typ })
}
