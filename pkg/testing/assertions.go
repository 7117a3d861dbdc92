// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	stderrors "errors"
	"slices"
	"strings"
	"testing"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/llm"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/task"
)

// RequireNoError stops the test when err is set.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

// RequestAssertions checks one captured chat request. Failures are reported
// with t.Errorf so a chain reports every mismatch.
type RequestAssertions struct {
	t   *testing.T
	req *llm.ChatRequest
}

func AssertRequest(t *testing.T, req *llm.ChatRequest) *RequestAssertions {
	t.Helper()
	if req == nil {
		t.Fatalf("no request was captured")
	}
	return &RequestAssertions{t: t, req: req}
}

func (r *RequestAssertions) HasModel(model string) *RequestAssertions {
	r.t.Helper()
	if r.req.Model != model {
		r.t.Errorf("request model = %q, want %q", r.req.Model, model)
	}
	return r
}

func (r *RequestAssertions) HasSystemMessage(substr string) *RequestAssertions {
	r.t.Helper()
	r.message(llm.RoleSystem, substr)
	return r
}

func (r *RequestAssertions) HasUserMessage(substr string) *RequestAssertions {
	r.t.Helper()
	r.message(llm.RoleUser, substr)
	return r
}

// HasTool checks that the named tool was offered to the model.
func (r *RequestAssertions) HasTool(name string) *RequestAssertions {
	r.t.Helper()
	if !r.offers(name) {
		r.t.Errorf("tool %q was not offered; offered %v", name, r.toolNames())
	}
	return r
}

func (r *RequestAssertions) HasNoTool(name string) *RequestAssertions {
	r.t.Helper()
	if r.offers(name) {
		r.t.Errorf("tool %q was offered but should not be", name)
	}
	return r
}

func (r *RequestAssertions) message(role llm.Role, substr string) {
	r.t.Helper()
	found := slices.ContainsFunc(r.req.Messages, func(m llm.Message) bool {
		return m.Role == role && strings.Contains(m.Content, substr)
	})
	if !found {
		r.t.Errorf("no %s message contains %q", role, substr)
	}
}

func (r *RequestAssertions) offers(name string) bool {
	return slices.Contains(r.toolNames(), name)
}

func (r *RequestAssertions) toolNames() []string {
	names := make([]string, len(r.req.Tools))
	for i, tool := range r.req.Tools {
		names[i] = tool.Function.Name
	}
	return names
}

// ResultAssertions checks one task result.
type ResultAssertions struct {
	t   *testing.T
	res *task.Result
}

func AssertResult(t *testing.T, res *task.Result) *ResultAssertions {
	t.Helper()
	if res == nil {
		t.Fatalf("no task result")
	}
	return &ResultAssertions{t: t, res: res}
}

func (r *ResultAssertions) HasStatus(status task.Status) *ResultAssertions {
	r.t.Helper()
	if r.res.Status != status {
		r.errorf("status = %s, want %s (err=%v)", r.res.Status, status, r.res.Err)
	}
	return r
}

func (r *ResultAssertions) OutputContains(substr string) *ResultAssertions {
	r.t.Helper()
	if !strings.Contains(r.res.Raw, substr) {
		r.errorf("output %q lacks %q", r.res.Raw, substr)
	}
	return r
}

func (r *ResultAssertions) PromptContains(substr string) *ResultAssertions {
	r.t.Helper()
	if !strings.Contains(r.res.Prompt, substr) {
		r.errorf("prompt lacks %q", substr)
	}
	return r
}

// FailedWith checks the result error against a sentinel such as errors.ErrToolTimeout.
func (r *ResultAssertions) FailedWith(sentinel error) *ResultAssertions {
	r.t.Helper()
	if !stderrors.Is(r.res.Err, sentinel) {
		r.errorf("error = %v (code %s), want %v", r.res.Err, errors.CodeOf(r.res.Err), sentinel)
	}
	return r
}

func (r *ResultAssertions) errorf(format string, args ...any) {
	r.t.Helper()
	r.t.Errorf("task %s: "+format, append([]any{r.res.TaskID}, args...)...)
}
