package agent

import (
	"context"
	stderrors "errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/cache"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/llm"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/memory"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/ratelimit"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/resilience"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/task"
	ktesting "github.com/hamid-vakilzadeh/replication-ai/pkg/testing"
)

func fastRetry() resilience.RetryConfig {
	return resilience.DefaultRetryConfig().
		WithInitialDelay(time.Millisecond).
		WithMaxDelay(5 * time.Millisecond)
}

func newTestAgent(t *testing.T, provider llm.Provider, opts ...Option) *Agent {
	t.Helper()
	base := []Option{
		WithRole("{measure} Researcher"),
		WithGoal("Find how {measure} is computed"),
		WithBackstory("You read accounting papers."),
		WithLLM(provider),
		WithModel("test-model"),
		WithLLMRetry(fastRetry()),
		WithToolRetry(fastRetry()),
	}
	a, err := New("researcher", append(base, opts...)...)
	if err != nil {
		t.Fatalf("agent creation failed: %v", err)
	}
	return a
}

func researchTask() *task.Task {
	return &task.Task{
		ID:             "research_task",
		Description:    "Research {measure}",
		ExpectedOutput: "A design document for {measure}",
	}
}

var inputs = map[string]string{"measure": "Discretionary Accruals"}

func TestNewValidation(t *testing.T) {
	provider := ktesting.NewScenarioProvider()
	tests := []struct {
		name string
		id   string
		opts []Option
	}{
		{"missing id", "", []Option{WithRole("r"), WithLLM(provider)}},
		{"missing role", "a", []Option{WithLLM(provider)}},
		{"missing llm", "a", []Option{WithRole("r")}},
		{"bad temperature", "a", []Option{WithRole("r"), WithLLM(provider), WithTemperature(3)}},
		{"bad iterations", "a", []Option{WithRole("r"), WithLLM(provider), WithMaxIterations(0)}},
		{"reserved tool", "a", []Option{WithRole("r"), WithLLM(provider), WithTools(ktesting.NewMockTool(DelegateWorkTool))}},
		{"duplicate tool", "a", []Option{WithRole("r"), WithLLM(provider), WithTools(ktesting.NewMockTool("s"), ktesting.NewMockTool("s"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.id, tt.opts...)
			if !errors.IsConfigError(err) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestExecuteFinalAnswer(t *testing.T) {
	provider := ktesting.NewScenarioProvider().AddResponse("the design")
	a := newTestAgent(t, provider)

	res, err := a.Execute(context.Background(), &Runtime{Inputs: inputs}, researchTask(), "")
	ktesting.RequireNoError(t, err, "execute")
	ktesting.AssertResult(t, res).
		HasStatus(task.StatusCompleted).
		OutputContains("the design").
		PromptContains("Current Task: Research Discretionary Accruals")
	if res.AgentRole != "Discretionary Accruals Researcher" {
		t.Fatalf("unexpected resolved role %q", res.AgentRole)
	}
	if res.Iterations != 1 || res.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected iterations/usage: %d/%d", res.Iterations, res.Usage.TotalTokens)
	}
	ktesting.AssertRequest(t, provider.LastRequest()).
		HasModel("test-model").
		HasSystemMessage("You are Discretionary Accruals Researcher.").
		HasSystemMessage("Your personal goal is: Find how Discretionary Accruals is computed").
		HasUserMessage("A design document for Discretionary Accruals")
}

func TestExecuteToolCallsUseCache(t *testing.T) {
	search := ktesting.NewMockTool("search")
	provider := ktesting.NewScenarioProvider().
		AddToolCallResponse(ktesting.ToolCall("c1", "search", map[string]any{"query": "accruals"})).
		AddToolCallResponse(ktesting.ToolCall("c2", "search", map[string]any{"query": "accruals"})).
		AddResponse("done")
	a := newTestAgent(t, provider, WithTools(search))

	rt := &Runtime{Inputs: inputs, Cache: cache.New()}
	res, err := a.Execute(context.Background(), rt, researchTask(), "")
	ktesting.RequireNoError(t, err, "execute")

	if search.Calls() != 1 {
		t.Fatalf("expected one real tool call, got %d", search.Calls())
	}
	if len(res.ToolCalls) != 2 || res.ToolCalls[0].Cached || !res.ToolCalls[1].Cached {
		t.Fatalf("unexpected tool call records: %+v", res.ToolCalls)
	}
	if res.ToolCalls[0].Output != res.ToolCalls[1].Output {
		t.Fatalf("cached output differs: %q vs %q", res.ToolCalls[0].Output, res.ToolCalls[1].Output)
	}
	ktesting.AssertRequest(t, provider.LastRequest()).HasTool("search").HasNoTool(DelegateWorkTool)

	last := provider.LastRequest().Messages
	if got := last[len(last)-1]; got.Role != llm.RoleTool || got.ToolCallID != "c2" || got.Content != "search(query=accruals)" {
		t.Fatalf("unexpected observation message: %+v", got)
	}
}

func TestExecuteTaskToolsOverrideAgentTools(t *testing.T) {
	provider := ktesting.NewScenarioProvider().AddResponse("ok")
	a := newTestAgent(t, provider, WithTools(ktesting.NewMockTool("search")))
	tk := researchTask()
	tk.Tools = []core.Tool{ktesting.NewMockTool("read_file")}

	_, err := a.Execute(context.Background(), &Runtime{Inputs: inputs}, tk, "")
	ktesting.RequireNoError(t, err, "execute")
	ktesting.AssertRequest(t, provider.LastRequest()).HasTool("read_file").HasNoTool("search")
}

func TestExecuteToolLoopExceeded(t *testing.T) {
	provider := ktesting.NewScenarioProvider().WithFallback(ktesting.ScriptedResponse{
		ToolCalls: []llm.ToolCall{ktesting.ToolCall("c", "search", map[string]any{"query": "again"})},
	})
	a := newTestAgent(t, provider, WithTools(ktesting.NewMockTool("search")), WithMaxIterations(2))

	res, err := a.Execute(context.Background(), &Runtime{Inputs: inputs}, researchTask(), "")
	if !stderrors.Is(err, errors.ErrToolLoopExceeded) {
		t.Fatalf("expected ToolLoopExceeded, got %v", err)
	}
	ktesting.AssertResult(t, res).HasStatus(task.StatusFailed).FailedWith(errors.ErrToolLoopExceeded)
	if provider.CallCount() != 2 {
		t.Fatalf("expected 2 llm calls, got %d", provider.CallCount())
	}
	if te := errors.As(err); te.TaskID != "research_task" || te.AgentID != "researcher" {
		t.Fatalf("expected owner to be recorded, got %s/%s", te.TaskID, te.AgentID)
	}
}

func TestExecuteLLMRetriesExhausted(t *testing.T) {
	provider := &llm.FailingMockProvider{Err: stderrors.New("503 from upstream")}
	a := newTestAgent(t, provider)

	res, err := a.Execute(context.Background(), &Runtime{Inputs: inputs}, researchTask(), "")
	if !stderrors.Is(err, errors.ErrAgentExecution) {
		t.Fatalf("expected AgentExecutionError, got %v", err)
	}
	if provider.Calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", provider.Calls)
	}
	if res.Status != task.StatusFailed || res.Raw != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecuteLLMRecoversAfterTransientError(t *testing.T) {
	provider := ktesting.NewScenarioProvider().
		AddErrorResponse(stderrors.New("connection reset")).
		AddResponse("second time lucky")
	a := newTestAgent(t, provider)

	res, err := a.Execute(context.Background(), &Runtime{Inputs: inputs}, researchTask(), "")
	ktesting.RequireNoError(t, err, "execute")
	ktesting.AssertResult(t, res).OutputContains("second time lucky")
}

func TestExecuteToolUnavailableIsNotRetried(t *testing.T) {
	broken := ktesting.NewMockTool("search")
	broken.Fn = func(context.Context, map[string]any) (string, error) {
		return "", errors.ToolUnavailable("search", stderrors.New("index offline"))
	}
	provider := ktesting.NewScenarioProvider().
		AddToolCallResponse(ktesting.ToolCall("c1", "search", map[string]any{"query": "a"})).
		AddToolCallResponse(ktesting.ToolCall("c2", "search", map[string]any{"query": "b"})).
		AddResponse("answered without search")
	a := newTestAgent(t, provider, WithTools(broken))

	res, err := a.Execute(context.Background(), &Runtime{Inputs: inputs, Cache: cache.New()}, researchTask(), "")
	ktesting.RequireNoError(t, err, "execute")
	ktesting.AssertResult(t, res).OutputContains("answered without search")

	if broken.Calls() != 1 {
		t.Fatalf("expected the tool to be invoked once, got %d", broken.Calls())
	}
	for i, rec := range res.ToolCalls {
		if !stderrors.Is(rec.Err, errors.ErrToolUnavailable) {
			t.Fatalf("record %d: expected ToolUnavailable, got %v", i, rec.Err)
		}
	}
	msgs := provider.LastRequest().Messages
	if obs := msgs[len(msgs)-1].Content; !strings.Contains(obs, "must not be used again") {
		t.Fatalf("unexpected observation %q", obs)
	}
}

func TestExecuteToolTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	slow := ktesting.NewMockTool("search")
	slow.Fn = func(ctx context.Context, _ map[string]any) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "found it", nil
	}
	provider := ktesting.NewScenarioProvider().
		AddToolCallResponse(ktesting.ToolCall("c1", "search", map[string]any{"query": "a"})).
		AddResponse("done")
	a := newTestAgent(t, provider, WithTools(slow), WithToolTimeout(20*time.Millisecond))

	res, err := a.Execute(context.Background(), &Runtime{Inputs: inputs}, researchTask(), "")
	ktesting.RequireNoError(t, err, "execute")
	if calls.Load() != 2 {
		t.Fatalf("expected a retry after timeout, got %d calls", calls.Load())
	}
	if res.ToolCalls[0].Output != "found it" || res.ToolCalls[0].Err != nil {
		t.Fatalf("unexpected record: %+v", res.ToolCalls[0])
	}
}

func TestExecuteUnknownToolBecomesObservation(t *testing.T) {
	provider := ktesting.NewScenarioProvider().
		AddToolCallResponse(ktesting.ToolCall("c1", "missing", nil)).
		AddResponse("done")
	a := newTestAgent(t, provider, WithTools(ktesting.NewMockTool("search")))

	_, err := a.Execute(context.Background(), &Runtime{Inputs: inputs}, researchTask(), "")
	ktesting.RequireNoError(t, err, "execute")
	msgs := provider.LastRequest().Messages
	if obs := msgs[len(msgs)-1].Content; !strings.Contains(obs, `tool "missing" does not exist`) || !strings.Contains(obs, "search") {
		t.Fatalf("unexpected observation %q", obs)
	}
}

func TestExecuteMemory(t *testing.T) {
	store := memory.NewStore()
	provider := ktesting.NewScenarioProvider().AddResponse("first finding").AddResponse("second finding")
	a := newTestAgent(t, provider)
	rt := &Runtime{Inputs: inputs, Memory: store, MemoryBudget: memory.DefaultBudget}

	_, err := a.Execute(context.Background(), rt, researchTask(), "")
	ktesting.RequireNoError(t, err, "first execute")
	second := &task.Task{ID: "follow_up", Description: "Follow up"}
	res, err := a.Execute(context.Background(), rt, second, "")
	ktesting.RequireNoError(t, err, "second execute")

	if store.Len() != 2 {
		t.Fatalf("expected 2 memory records, got %d", store.Len())
	}
	ktesting.AssertResult(t, res).
		PromptContains("Notes from earlier work in this run:").
		PromptContains("first finding")

	quiet := newTestAgent(t, ktesting.NewScenarioProvider().AddResponse("x"), WithMemory(false))
	res, err = quiet.Execute(context.Background(), rt, second, "")
	ktesting.RequireNoError(t, err, "quiet execute")
	if store.Len() != 2 || strings.Contains(res.Prompt, "Notes from earlier work") {
		t.Fatalf("memory-disabled agent touched memory")
	}
}

func TestExecuteUsesRateLimiter(t *testing.T) {
	var admitted atomic.Int32
	limiter, err := ratelimit.New(100, ratelimit.WithOnAdmit(func(time.Time) { admitted.Add(1) }))
	ktesting.RequireNoError(t, err, "limiter")
	provider := ktesting.NewScenarioProvider().
		AddToolCallResponse(ktesting.ToolCall("c1", "search", map[string]any{"query": "a"})).
		AddResponse("done")
	a := newTestAgent(t, provider, WithTools(ktesting.NewMockTool("search")))

	_, err = a.Execute(context.Background(), &Runtime{Inputs: inputs, Limiter: limiter}, researchTask(), "")
	ktesting.RequireNoError(t, err, "execute")
	if admitted.Load() != 3 {
		t.Fatalf("expected 2 llm calls and 1 tool call to be admitted, got %d", admitted.Load())
	}
}

func TestExecuteCacheHitSkipsRateLimiter(t *testing.T) {
	tests := []struct {
		name      string
		calls     []map[string]any
		toolCalls int
	}{
		{
			name:      "repeated args hit the cache",
			calls:     []map[string]any{{"query": "accruals"}, {"query": "accruals"}},
			toolCalls: 1,
		},
		{
			name:      "distinct args are both admitted",
			calls:     []map[string]any{{"query": "accruals"}, {"query": "earnings"}},
			toolCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var admitted atomic.Int32
			limiter, err := ratelimit.New(100, ratelimit.WithOnAdmit(func(time.Time) { admitted.Add(1) }))
			ktesting.RequireNoError(t, err, "limiter")
			search := ktesting.NewMockTool("search")
			provider := ktesting.NewScenarioProvider()
			for i, args := range tt.calls {
				provider.AddToolCallResponse(ktesting.ToolCall("c"+string(rune('1'+i)), "search", args))
			}
			provider.AddResponse("done")
			a := newTestAgent(t, provider, WithTools(search))

			rt := &Runtime{Inputs: inputs, Cache: cache.New(), Limiter: limiter}
			_, err = a.Execute(context.Background(), rt, researchTask(), "")
			ktesting.RequireNoError(t, err, "execute")

			if search.Calls() != tt.toolCalls {
				t.Fatalf("expected %d real tool calls, got %d", tt.toolCalls, search.Calls())
			}
			want := int32(provider.CallCount() + tt.toolCalls)
			if admitted.Load() != want {
				t.Fatalf("expected %d admissions, got %d", want, admitted.Load())
			}
		})
	}
}

func TestExecuteRetriesRateLimitTimeout(t *testing.T) {
	tests := []struct {
		name string
		rpm  int
		// retries counts attempts that failed on the wait ceiling.
		llmRetries  int
		toolRetries int
	}{
		{name: "tool and llm hit the ceiling", rpm: 1, llmRetries: 1, toolRetries: 1},
		{name: "room for every call", rpm: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := ratelimit.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
			var admitted atomic.Int32
			limiter, err := ratelimit.New(tt.rpm,
				ratelimit.WithClock(clock),
				ratelimit.WithMaxWait(time.Second),
				ratelimit.WithOnAdmit(func(time.Time) { admitted.Add(1) }),
			)
			ktesting.RequireNoError(t, err, "limiter")

			// A failed wait moves the clock past the window so the next
			// attempt finds a free slot.
			var llmRetries, toolRetries atomic.Int32
			onRetry := func(n *atomic.Int32) func(int, error) {
				return func(_ int, err error) {
					if stderrors.Is(err, errors.ErrRateLimitTimeout) {
						n.Add(1)
						clock.Advance(ratelimit.DefaultWindow + time.Second)
					}
				}
			}

			search := ktesting.NewMockTool("search")
			provider := ktesting.NewScenarioProvider().
				AddToolCallResponse(ktesting.ToolCall("c1", "search", map[string]any{"query": "a"})).
				AddResponse("done")
			a := newTestAgent(t, provider,
				WithTools(search),
				WithLLMRetry(fastRetry().WithOnRetry(onRetry(&llmRetries))),
				WithToolRetry(fastRetry().WithOnRetry(onRetry(&toolRetries))),
			)

			res, err := a.Execute(context.Background(), &Runtime{Inputs: inputs, Limiter: limiter}, researchTask(), "")
			ktesting.RequireNoError(t, err, "execute")

			if res.Raw != "done" || search.Calls() != 1 {
				t.Fatalf("unexpected result %q after %d tool calls", res.Raw, search.Calls())
			}
			if int(toolRetries.Load()) != tt.toolRetries || int(llmRetries.Load()) != tt.llmRetries {
				t.Fatalf("expected %d tool and %d llm retries, got %d and %d",
					tt.toolRetries, tt.llmRetries, toolRetries.Load(), llmRetries.Load())
			}
			if admitted.Load() != 3 {
				t.Fatalf("expected 3 admissions, got %d", admitted.Load())
			}
		})
	}
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAgent(t, ktesting.NewScenarioProvider().AddResponse("never"))

	res, err := a.Execute(ctx, &Runtime{Inputs: inputs}, researchTask(), "")
	if !stderrors.Is(err, errors.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	ktesting.AssertResult(t, res).HasStatus(task.StatusCancelled)
}

func TestExecuteEmitsEvents(t *testing.T) {
	events := &core.EventCollector{}
	provider := ktesting.NewScenarioProvider().
		AddToolCallResponse(ktesting.ToolCall("c1", "search", map[string]any{"query": "a"})).
		AddResponse("done")
	a := newTestAgent(t, provider, WithTools(ktesting.NewMockTool("search")))

	_, err := a.Execute(context.Background(), &Runtime{Inputs: inputs, Events: events}, researchTask(), "")
	ktesting.RequireNoError(t, err, "execute")
	if n := len(events.OfType(core.EventAgentThinking)); n != 2 {
		t.Fatalf("expected 2 thinking events, got %d", n)
	}
	if n := len(events.OfType(core.EventAgentToolCall)); n != 1 {
		t.Fatalf("expected 1 tool call event, got %d", n)
	}
}

func TestExecuteInterpolatesOnlyCrewTasks(t *testing.T) {
	tests := []struct {
		name  string
		depth int
		want  string
	}{
		{name: "crew task", depth: 0, want: "Estimate Discretionary Accruals per firm"},
		{name: "delegated task keeps braces", depth: 1, want: "Estimate {measure} per firm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := ktesting.NewScenarioProvider().AddResponse("ok")
			a := newTestAgent(t, provider)
			adhoc := &task.Task{ID: "adhoc", Description: "Estimate {measure} per firm"}

			res, err := a.Execute(context.Background(), &Runtime{Inputs: inputs, Depth: tt.depth}, adhoc, "")
			ktesting.RequireNoError(t, err, "execute")
			ktesting.AssertResult(t, res).PromptContains(tt.want)
		})
	}
}

func TestExecuteForwardsTemperature(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want *float64
	}{
		{name: "unset uses provider default"},
		{name: "explicit zero is kept", opts: []Option{WithTemperature(0)}, want: llm.Float(0)},
		{name: "explicit value", opts: []Option{WithTemperature(0.3)}, want: llm.Float(0.3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := ktesting.NewScenarioProvider().AddResponse("ok")
			a := newTestAgent(t, provider, tt.opts...)

			_, err := a.Execute(context.Background(), &Runtime{Inputs: inputs}, researchTask(), "")
			ktesting.RequireNoError(t, err, "execute")
			got := provider.LastRequest().Temperature
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Fatalf("unexpected temperature %v, want %v", got, tt.want)
			}
		})
	}
}
