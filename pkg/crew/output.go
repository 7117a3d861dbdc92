package crew

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/llm"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/task"
)

// Output is the result of one kickoff: one result per task, in task order.
type Output struct {
	RunID    string
	Results  []*task.Result
	Duration time.Duration
}

// Get returns the result of the task with the given id.
func (o *Output) Get(taskID string) (*task.Result, bool) {
	for _, res := range o.Results {
		if res.TaskID == taskID {
			return res, true
		}
	}
	return nil, false
}

// ByTask returns the results keyed by task id.
func (o *Output) ByTask() map[string]*task.Result {
	out := make(map[string]*task.Result, len(o.Results))
	for _, res := range o.Results {
		out[res.TaskID] = res
	}
	return out
}

// Final returns the raw output of the last completed task.
func (o *Output) Final() string {
	for i := len(o.Results) - 1; i >= 0; i-- {
		if o.Results[i].OK() {
			return o.Results[i].Raw
		}
	}
	return ""
}

// String returns the final output.
func (o *Output) String() string { return o.Final() }

// Failed returns the results that did not complete.
func (o *Output) Failed() []*task.Result {
	var out []*task.Result
	for _, res := range o.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the errors of every task that did not complete.
func (o *Output) Err() error {
	var errs []error
	for _, res := range o.Failed() {
		errs = append(errs, res.Err)
	}
	return stderrors.Join(errs...)
}

// Usage sums token usage across tasks.
func (o *Output) Usage() llm.Usage {
	var total llm.Usage
	for _, res := range o.Results {
		total.Add(res.Usage)
	}
	return total
}

// Summary renders one line per task.
func (o *Output) Summary() string {
	var b strings.Builder
	for _, res := range o.Results {
		fmt.Fprintf(&b, "%-24s %-18s", res.TaskID, res.Status)
		switch {
		case res.Err != nil:
			fmt.Fprintf(&b, " %v", res.Err)
		case res.WriteErr != nil:
			fmt.Fprintf(&b, " %s (write failed: %v)", res.OutputPath, res.WriteErr)
		case res.OutputPath != "":
			fmt.Fprintf(&b, " %s", res.OutputPath)
		}
		b.WriteString("\n")
	}
	return b.String()
}
