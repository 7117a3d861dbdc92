package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func sampleEvents() []Event {
	start := time.Now()
	return []Event{
		{RunID: "run-1", TaskID: "research_task", AgentID: "researcher", Phase: PhaseStarted, StartedAt: start},
		{RunID: "run-1", TaskID: "research_task", AgentID: "researcher", Phase: PhaseFinished, Status: "completed",
			Output: "design", OutputPath: "out/research_design.md", StartedAt: start, FinishedAt: start.Add(time.Second)},
		{RunID: "run-1", TaskID: "write_task", AgentID: "analyst", Phase: PhaseFinished, Status: "upstream_failure",
			Error: "[UPSTREAM_FAILURE] dependency failed", ErrorCode: "UPSTREAM_FAILURE", FinishedAt: start},
		{RunID: "run-2", TaskID: "research_task", AgentID: "researcher", Phase: PhaseStarted, StartedAt: start},
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range sampleEvents() {
		if err := store.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"by run", Filter{RunID: "run-1"}, 3},
		{"by task", Filter{RunID: "run-1", TaskID: "research_task"}, 2},
		{"by phase", Filter{Phase: PhaseStarted}, 2},
		{"by status", Filter{Status: "upstream_failure"}, 1},
		{"limit", Filter{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := store.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(events) != tt.want {
				t.Fatalf("expected %d events, got %d", tt.want, len(events))
			}
		})
	}

	events, err := store.List(ctx, Filter{RunID: "run-1", Phase: PhaseFinished})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if events[0].TaskID != "research_task" || events[0].OutputPath != "out/research_design.md" || events[0].Output != "design" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].ErrorCode != "UPSTREAM_FAILURE" || !events[1].StartedAt.IsZero() {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", "file:task_audit_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	exerciseStore(t, store)
}

func TestOpenSQLiteFile(t *testing.T) {
	store, err := OpenSQLite(t.TempDir() + "/audit.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.Record(context.Background(), Event{RunID: "r", TaskID: "t", Phase: PhaseStarted}); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestNewSQLiteStoreNilDB(t *testing.T) {
	if _, err := NewSQLiteStore(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}
