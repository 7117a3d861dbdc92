// Package memory holds the run-scoped record of completed agent work.
//
// A Store lives for one kickoff. Agents append their final answers and read
// back a bounded window that is injected into later prompts.
package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBudget is the prompt budget for the memory window, in characters.
const DefaultBudget = 8000

// Record is a single memory entry.
type Record struct {
	ID        string
	Seq       int
	AgentID   string
	AgentRole string
	TaskID    string
	Content   string
	CreatedAt time.Time
}

// Store is an append-only, mutex-guarded memory. A nil *Store is disabled.
type Store struct {
	mu      sync.RWMutex
	records []Record
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Append records r, assigning its ID, sequence number and timestamp.
func (s *Store) Append(r Record) Record {
	if s == nil {
		return r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = uuid.NewString()
	r.Seq = len(s.records) + 1
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.records = append(s.records, r)
	return r
}

// Records returns a copy of all records in append order.
func (s *Store) Records() []Record {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.records...)
}

// Len returns the number of records.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Window returns the newest records whose rendered size fits budget
// characters, in append order. Oldest records are dropped first.
// A non-positive budget uses DefaultBudget.
func (s *Store) Window(budget int) []Record {
	if s == nil {
		return nil
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	used := 0
	start := len(s.records)
	for i := len(s.records) - 1; i >= 0; i-- {
		size := len(render(s.records[i]))
		if used+size > budget {
			break
		}
		used += size
		start = i
	}
	return append([]Record(nil), s.records[start:]...)
}

// Render formats records as a prompt block, one entry per paragraph.
func Render(records []Record) string {
	parts := make([]string, 0, len(records))
	for _, r := range records {
		parts = append(parts, render(r))
	}
	return strings.Join(parts, "\n")
}

func render(r Record) string {
	who := r.AgentRole
	if who == "" {
		who = r.AgentID
	}
	return "- [" + r.TaskID + "] " + who + ": " + r.Content + "\n"
}
