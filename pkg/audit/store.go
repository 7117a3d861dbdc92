// Package audit records the lifecycle of every task in a kickoff.
package audit

import (
	"context"
	"sync"
	"time"
)

// Event phases.
const (
	PhaseStarted  = "started"
	PhaseFinished = "finished"
)

// Event is one task lifecycle transition.
type Event struct {
	RunID      string
	TaskID     string
	AgentID    string
	Phase      string
	Status     string
	Output     string
	Error      string
	ErrorCode  string
	OutputPath string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store persists audit events.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter limits audit event queries.
type Filter struct {
	RunID  string
	TaskID string
	Phase  string
	Status string
	Limit  int
}

func (f Filter) match(ev Event) bool {
	if f.RunID != "" && ev.RunID != f.RunID {
		return false
	}
	if f.TaskID != "" && ev.TaskID != f.TaskID {
		return false
	}
	if f.Phase != "" && ev.Phase != f.Phase {
		return false
	}
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	return true
}

// MemoryStore keeps audit events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an audit event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, normalize(event))
	return nil
}

// List returns filtered audit events in insertion order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// normalize stores timestamps in UTC.
func normalize(ev Event) Event {
	if !ev.StartedAt.IsZero() {
		ev.StartedAt = ev.StartedAt.UTC()
	}
	if !ev.FinishedAt.IsZero() {
		ev.FinishedAt = ev.FinishedAt.UTC()
	}
	return ev
}
