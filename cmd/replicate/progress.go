package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
)

// progressPrinter reports task and delegation events as one line each.
// Other events are ignored.
func progressPrinter(w io.Writer) core.EmitterFunc {
	var mu sync.Mutex
	dim := color.New(color.Faint)
	return func(_ context.Context, ev core.Event) {
		var line string
		switch ev.Type {
		case core.EventTaskStarted:
			line = fmt.Sprintf("▶ %s started by %s", ev.TaskID, ev.Agent)
		case core.EventTaskCompleted:
			line = fmt.Sprintf("✓ %s done", ev.TaskID)
		case core.EventTaskFailed:
			line = fmt.Sprintf("✗ %s %v", ev.TaskID, ev.Payload["error_code"])
		case core.EventTaskSkipped:
			line = fmt.Sprintf("- %s skipped", ev.TaskID)
		case core.EventAgentDelegation:
			line = fmt.Sprintf("  %s → %v (%v)", ev.Agent, ev.Payload["coworker"], ev.Payload["kind"])
		default:
			return
		}
		mu.Lock()
		defer mu.Unlock()
		dim.Fprintln(w, line)
	}
}
