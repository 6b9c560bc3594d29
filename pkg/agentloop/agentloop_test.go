package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/skilllearn/ent"
	"github.com/codeready-toolchain/skilllearn/pkg/busmsg"
	"github.com/codeready-toolchain/skilllearn/pkg/llmclient"
	"github.com/codeready-toolchain/skilllearn/pkg/prompt"
	"github.com/codeready-toolchain/skilllearn/pkg/skilltools"
)

// fakePendingQueue is an in-memory stand-in for pending.Queue, keyed by
// project/learningSpace, FIFO ordered like the real etcd-backed queue.
type fakePendingQueue struct {
	mu    sync.Mutex
	items map[string][]busmsg.DistilledContext
}

func newFakePendingQueue() *fakePendingQueue {
	return &fakePendingQueue{items: map[string][]busmsg.DistilledContext{}}
}

func (f *fakePendingQueue) key(project, ls string) string { return project + "/" + ls }

func (f *fakePendingQueue) Push(_ context.Context, project, ls string, item busmsg.DistilledContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(project, ls)
	f.items[k] = append(f.items[k], item)
	return nil
}

func (f *fakePendingQueue) Drain(_ context.Context, project, ls string, max int) ([]busmsg.DistilledContext, error) {
	if max <= 0 {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(project, ls)
	existing := f.items[k]
	if len(existing) == 0 {
		return nil, nil
	}
	n := max
	if n > len(existing) {
		n = len(existing)
	}
	out := existing[:n]
	f.items[k] = existing[n:]
	return out, nil
}

func (f *fakePendingQueue) len(project, ls string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items[f.key(project, ls)])
}

// fakeLLM returns one scripted Response per call, in order.
type fakeLLM struct {
	responses []llmclient.Response
	errs      []error
	calls     int
}

func (f *fakeLLM) Complete(_ context.Context, _ string, _ []llmclient.Message, _ []llmclient.ToolSchema, _ map[string]any) (*llmclient.Response, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.responses) {
		return &llmclient.Response{}, nil
	}
	resp := f.responses[i]
	return &resp, nil
}

func (f *fakeLLM) Close() error { return nil }

type fakeLocker struct {
	mu       sync.Mutex
	renewals int
	renewed  bool
	err      error
}

func (l *fakeLocker) RenewLock(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.renewals++
	return l.renewed, l.err
}

func noopDispatch(_ context.Context, _ *skilltools.Context, name string, _ json.RawMessage) (string, error) {
	return "ok:" + name, nil
}

func noopRefresh(context.Context, *ent.Client, string) ([]prompt.SkillSummary, error) {
	return nil, nil
}

func baseParams() Params {
	return Params{
		ProjectID:          "proj-1",
		LearningSpaceID:    "ls-1",
		MaxIterations:      5,
		MaxContextsPerRun:  10,
		ExtraItersPerBatch: 3,
	}
}

func toolCallResponse(name string) llmclient.Response {
	return llmclient.Response{ToolCalls: []llmclient.ToolCall{{ID: "1", Name: name, Arguments: "{}"}}}
}

func TestNoToolCallsStopsSuccessfully(t *testing.T) {
	llm := &fakeLLM{responses: []llmclient.Response{{Content: "nothing to do"}}}
	q := newFakePendingQueue()

	ids, err := Run(context.Background(), Deps{LLM: llm, Pending: q, DispatchTool: noopDispatch}, baseParams())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 1, llm.calls)
}

func TestMidRunInjectionExtendsBudget(t *testing.T) {
	// Scenario 2 from spec §8: max_iterations=2, extra_iters=3, iter 1 returns
	// report_thinking; between iter 1 and 2 a new context arrives, bumping
	// max_iterations to 5. The LM keeps calling report_thinking (never
	// finish, never a no-tool-call response), so the loop runs exactly to
	// the extended budget: total LM calls = 5.
	llm := &fakeLLM{responses: []llmclient.Response{
		toolCallResponse("report_thinking"),
		toolCallResponse("report_thinking"),
		toolCallResponse("report_thinking"),
		toolCallResponse("report_thinking"),
		toolCallResponse("report_thinking"),
	}}
	q := newFakePendingQueue()

	calls := 0
	var dispatchMu sync.Mutex
	dispatch := func(ctx context.Context, sctx *skilltools.Context, name string, args json.RawMessage) (string, error) {
		dispatchMu.Lock()
		defer dispatchMu.Unlock()
		calls++
		if calls == 1 {
			require.NoError(t, q.Push(ctx, "proj-1", "ls-1", busmsg.DistilledContext{Session: "s-new", DistilledText: "new work"}))
		}
		return "ok", nil
	}

	params := baseParams()
	params.MaxIterations = 2
	params.ExtraItersPerBatch = 3

	ids, err := Run(context.Background(), Deps{LLM: llm, Pending: q, DispatchTool: dispatch, RefreshSkills: noopRefresh}, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-new"}, ids)
	assert.Equal(t, 5, llm.calls)
}

// scriptedDrainQueue returns one programmed drain result per call (entry
// drain is call 0, then one call per mid-run drain), ignoring pushes.
type scriptedDrainQueue struct {
	results [][]busmsg.DistilledContext
	call    int
}

func (q *scriptedDrainQueue) Push(context.Context, string, string, busmsg.DistilledContext) error {
	return nil
}

func (q *scriptedDrainQueue) Drain(context.Context, string, string, int) ([]busmsg.DistilledContext, error) {
	if q.call >= len(q.results) {
		return nil, nil
	}
	r := q.results[q.call]
	q.call++
	return r, nil
}

func TestFinishOverriddenByMidRunInjection(t *testing.T) {
	// Scenario 3: finish in iter 1, but a drain before the stop check returns
	// one new context — the loop continues; next iteration finish is honored
	// once drain is empty.
	llm := &fakeLLM{responses: []llmclient.Response{
		toolCallResponse("finish"),
		toolCallResponse("finish"),
	}}
	q := &scriptedDrainQueue{results: [][]busmsg.DistilledContext{
		nil, // entry drain: empty
		{{Session: "s-injected", DistilledText: "x"}}, // mid-run drain after iter 1's finish
		nil, // mid-run drain after iter 2's finish: empty -> honored
	}}

	params := baseParams()
	params.MaxIterations = 5

	ids, err := Run(context.Background(), Deps{LLM: llm, Pending: q, DispatchTool: noopDispatch, RefreshSkills: noopRefresh}, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-injected"}, ids)
	assert.Equal(t, 2, llm.calls)
}

func TestCrashSafeRepush(t *testing.T) {
	// Scenario 4: entry-drained item X; iter 1 complete errors; X must be
	// re-pushed exactly once (queue length 0 -> 1, not 2).
	q := newFakePendingQueue()
	require.NoError(t, q.Push(context.Background(), "proj-1", "ls-1", busmsg.DistilledContext{Session: "s-x", DistilledText: "x"}))
	require.Equal(t, 1, q.len("proj-1", "ls-1"))

	llm := &fakeLLM{errs: []error{fmt.Errorf("transient LM fault")}}

	params := baseParams()
	_, err := Run(context.Background(), Deps{LLM: llm, Pending: q, DispatchTool: noopDispatch}, params)
	require.Error(t, err)
	assert.Equal(t, 1, q.len("proj-1", "ls-1"))
}

func TestUnknownToolAbortsAndRepushes(t *testing.T) {
	// Scenario 5: unknown tool aborts with failure; error names the tool;
	// drained items are re-pushed.
	q := newFakePendingQueue()
	require.NoError(t, q.Push(context.Background(), "proj-1", "ls-1", busmsg.DistilledContext{Session: "s-x", DistilledText: "x"}))

	llm := &fakeLLM{responses: []llmclient.Response{toolCallResponse("nonexistent_tool")}}
	dispatch := func(_ context.Context, _ *skilltools.Context, name string, _ json.RawMessage) (string, error) {
		return "", skilltools.ErrUnknownTool{Name: name}
	}

	_, err := Run(context.Background(), Deps{LLM: llm, Pending: q, DispatchTool: dispatch}, baseParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent_tool")
	assert.Equal(t, 1, q.len("proj-1", "ls-1"))
}

func TestMaxIterationsReachedWithoutFinishReturnsAccumulatedIDs(t *testing.T) {
	llm := &fakeLLM{responses: []llmclient.Response{
		toolCallResponse("report_thinking"),
		toolCallResponse("report_thinking"),
	}}
	q := newFakePendingQueue()
	require.NoError(t, q.Push(context.Background(), "proj-1", "ls-1", busmsg.DistilledContext{Session: "s-entry", DistilledText: "entry"}))

	params := baseParams()
	params.MaxIterations = 2

	ids, err := Run(context.Background(), Deps{LLM: llm, Pending: q, DispatchTool: noopDispatch}, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-entry"}, ids)
	assert.Equal(t, 2, llm.calls)
}

func TestDrainMaxZeroTouchesNothing(t *testing.T) {
	q := newFakePendingQueue()
	require.NoError(t, q.Push(context.Background(), "proj-1", "ls-1", busmsg.DistilledContext{Session: "s-1", DistilledText: "x"}))

	llm := &fakeLLM{responses: []llmclient.Response{{Content: "done"}}}
	params := baseParams()
	params.MaxContextsPerRun = 0

	ids, err := Run(context.Background(), Deps{LLM: llm, Pending: q, DispatchTool: noopDispatch}, params)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 1, q.len("proj-1", "ls-1"), "max=0 drain must not touch the queue")
}

func TestLockRenewedAfterEachIteration(t *testing.T) {
	llm := &fakeLLM{responses: []llmclient.Response{
		toolCallResponse("report_thinking"),
		{Content: "done"},
	}}
	q := newFakePendingQueue()
	locker := &fakeLocker{renewed: true}

	params := baseParams()
	params.LockKey = "skill_learn.ls-1"
	params.LockTTL = 30 * time.Second

	_, err := Run(context.Background(), Deps{LLM: llm, Pending: q, Locker: locker, DispatchTool: noopDispatch}, params)
	require.NoError(t, err)
	assert.Equal(t, 1, locker.renewals, "lock renews once per completed iteration, not per LM call")
}
