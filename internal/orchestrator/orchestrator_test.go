package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ShayCichocki/relay/internal/agent"
	"github.com/ShayCichocki/relay/internal/budget"
)

type capturingRunner struct {
	mu       sync.Mutex
	requests []agent.Request
	respond  func(req agent.Request) (*agent.Response, error)
}

func (r *capturingRunner) Run(ctx context.Context, req agent.Request) (*agent.Response, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.respond != nil {
		return r.respond(req)
	}
	return &agent.Response{AgentID: req.Agent.ID, Text: "ok from " + req.Agent.ID}, nil
}

func (r *capturingRunner) captured() []agent.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agent.Request, len(r.requests))
	copy(out, r.requests)
	return out
}

func testRegistry(t *testing.T, ids ...string) *agent.Registry {
	t.Helper()
	r := agent.NewRegistry(t.TempDir())
	for _, id := range ids {
		r.Register(&agent.Agent{ID: id, Name: id})
	}
	return r
}

func history(n int) []budget.Message {
	msgs := make([]budget.Message, n)
	for i := range msgs {
		msgs[i] = budget.Message{Role: budget.RoleUser, Content: string(rune('a' + i))}
	}
	return msgs
}

func TestDispatchSingleAgent(t *testing.T) {
	runner := &capturingRunner{}
	o := New(testRegistry(t, "solo"), runner, WithContextWindow(2))

	resp, err := o.Dispatch(context.Background(), []string{"solo"}, history(5), map[string]string{"origin": "test"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.AgentID != "solo" {
		t.Errorf("AgentID = %q, want solo", resp.AgentID)
	}

	reqs := runner.captured()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(reqs))
	}
	if len(reqs[0].Messages) != 2 {
		t.Errorf("window size = %d, want 2", len(reqs[0].Messages))
	}
	if reqs[0].Messages[1].Content != "e" {
		t.Errorf("window should keep the most recent messages, got %+v", reqs[0].Messages)
	}
	if reqs[0].Metadata["delegation"] != "direct" || reqs[0].Metadata["origin"] != "test" {
		t.Errorf("unexpected metadata: %v", reqs[0].Metadata)
	}
}

func TestDispatchFanOutAggregates(t *testing.T) {
	runner := &capturingRunner{
		respond: func(req agent.Request) (*agent.Response, error) {
			return &agent.Response{
				AgentID: req.Agent.ID,
				Text:    "report from " + req.Agent.ID,
				ToolCalls: []agent.ToolCall{
					{ID: req.Agent.ID + "-1", Name: "search", Input: json.RawMessage(`{}`)},
				},
			}, nil
		},
	}
	o := New(testRegistry(t, "A", "B"), runner)

	resp, err := o.Dispatch(context.Background(), []string{"A", "B"}, history(3), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Text, "[A]: report from A") || !strings.Contains(resp.Text, "[B]: report from B") {
		t.Errorf("aggregate text missing labeled segments: %q", resp.Text)
	}
	if len(resp.ToolCalls) != 2 {
		t.Errorf("tool calls = %d, want merged 2", len(resp.ToolCalls))
	}

	reqs := runner.captured()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(reqs))
	}
	priorities := map[string]int{}
	for _, req := range reqs {
		priorities[req.Agent.ID] = req.Priority
		if req.Metadata["delegation"] != "parallel" {
			t.Errorf("agent %s metadata = %v", req.Agent.ID, req.Metadata)
		}
	}
	if priorities["A"] <= priorities["B"] {
		t.Errorf("priority must decrease with list position: %v", priorities)
	}
}

func TestDispatchFanOutIndependentContexts(t *testing.T) {
	runner := &capturingRunner{
		respond: func(req agent.Request) (*agent.Response, error) {
			// A misbehaving run mutating its own copy must not leak into
			// the sibling's context.
			req.Messages[0].Content = "mutated by " + req.Agent.ID
			return &agent.Response{AgentID: req.Agent.ID}, nil
		},
	}
	o := New(testRegistry(t, "A", "B"), runner)

	if _, err := o.Dispatch(context.Background(), []string{"A", "B"}, history(2), nil); err != nil {
		t.Fatal(err)
	}
	for _, req := range runner.captured() {
		want := "mutated by " + req.Agent.ID
		if req.Messages[0].Content != want {
			t.Errorf("agent %s saw %q, contexts are shared", req.Agent.ID, req.Messages[0].Content)
		}
	}
}

func TestDispatchFailsFastOnUnknownAgent(t *testing.T) {
	var runs atomic.Int32
	runner := agent.RunnerFunc(func(ctx context.Context, req agent.Request) (*agent.Response, error) {
		runs.Add(1)
		return &agent.Response{AgentID: req.Agent.ID}, nil
	})
	o := New(testRegistry(t, "A"), runner)

	if _, err := o.Dispatch(context.Background(), []string{"A", "missing"}, nil, nil); err == nil {
		t.Fatal("expected error for unknown agent")
	}
	if runs.Load() != 0 {
		t.Errorf("no agent should run when any target is unresolvable, got %d runs", runs.Load())
	}
}

func TestDispatchFanOutPartialFailure(t *testing.T) {
	runner := &capturingRunner{
		respond: func(req agent.Request) (*agent.Response, error) {
			if req.Agent.ID == "B" {
				return nil, context.DeadlineExceeded
			}
			return &agent.Response{AgentID: req.Agent.ID, Text: "fine"}, nil
		},
	}
	o := New(testRegistry(t, "A", "B"), runner)

	resp, err := o.Dispatch(context.Background(), []string{"A", "B"}, nil, nil)
	if err == nil {
		t.Fatal("expected joined per-agent error")
	}
	if !strings.Contains(resp.Text, "[A]: fine") {
		t.Errorf("successful agent should still contribute: %q", resp.Text)
	}
	if strings.Contains(resp.Text, "[B]:") {
		t.Errorf("failed agent must not appear in the aggregate: %q", resp.Text)
	}
}

func TestDispatchNoAgents(t *testing.T) {
	o := New(testRegistry(t), agent.RunnerFunc(nil))
	if _, err := o.Dispatch(context.Background(), nil, nil, nil); err != ErrNoAgents {
		t.Errorf("err = %v, want ErrNoAgents", err)
	}
}

func TestEmitterReceivesFanOutEvents(t *testing.T) {
	emitter := NewEventEmitter(16)
	o := New(testRegistry(t, "A", "B"), &capturingRunner{}, WithEmitter(emitter))

	if _, err := o.Dispatch(context.Background(), []string{"A", "B"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	emitter.Close()

	types := map[EventType]int{}
	for ev := range emitter.Events() {
		types[ev.Type]++
	}
	if types[EventFanoutStarted] != 1 || types[EventFanoutCompleted] != 1 {
		t.Errorf("fan-out start/complete events missing: %v", types)
	}
	if types[EventAgentCompleted] != 2 {
		t.Errorf("expected 2 agent_completed events, got %v", types)
	}
}
