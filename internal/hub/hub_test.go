package hub

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ShayCichocki/relay/internal/protocol"
)

// fakeSender records frames instead of writing to a transport.
type fakeSender struct {
	mu     sync.Mutex
	frames []*protocol.Message
	closed bool
}

func (f *fakeSender) Send(m *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, m)
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) sent() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.Message, len(f.frames))
	copy(out, f.frames)
	return out
}

func startHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	h := New(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func attach(t *testing.T, h *Hub, id string) *fakeSender {
	t.Helper()
	s := &fakeSender{}
	err := h.AttachWorker(protocol.WorkerIdentity{ID: id, Name: id, Platform: "test"}, s)
	if err != nil {
		t.Fatalf("attach %s: %v", id, err)
	}
	return s
}

func TestSubmitRoutesToOnlyWorker(t *testing.T) {
	h := startHub(t)
	sender := attach(t, h, "w1")

	first, err := h.Submit("goal one", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.Submit("goal two", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	if first.WorkerID != "w1" || second.WorkerID != "w1" {
		t.Errorf("both tasks should route to w1: %s, %s", first.WorkerID, second.WorkerID)
	}
	if first.ID == second.ID {
		t.Errorf("task ids must be distinct, both %s", first.ID)
	}
	if first.Status != TaskPending {
		t.Errorf("new record status = %s, want pending", first.Status)
	}

	frames := sender.sent()
	if len(frames) != 2 {
		t.Fatalf("expected 2 task:submit frames, got %d", len(frames))
	}
	for _, f := range frames {
		if f.Type != protocol.TypeTaskSubmit {
			t.Errorf("unexpected frame type %s", f.Type)
		}
	}
}

func TestSubmitExplicitTarget(t *testing.T) {
	h := startHub(t)
	attach(t, h, "w1")
	w2 := attach(t, h, "w2")

	rec, err := h.Submit("routed", "w2", nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.WorkerID != "w2" {
		t.Errorf("routed to %s, want w2", rec.WorkerID)
	}
	if len(w2.sent()) != 1 {
		t.Error("expected the submit frame on w2's connection")
	}
}

func TestSubmitErrors(t *testing.T) {
	h := startHub(t)

	if _, err := h.Submit("g", "", nil); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("expected ErrNoWorkers, got %v", err)
	}

	attach(t, h, "w1")
	if _, err := h.Submit("g", "ghost", nil); !errors.Is(err, ErrWorkerNotFound) {
		t.Errorf("expected ErrWorkerNotFound, got %v", err)
	}
}

func TestTaskLifecycleTransitions(t *testing.T) {
	h := startHub(t)
	attach(t, h, "w1")

	rec, err := h.Submit("lifecycle", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	h.HandleMessage("w1", &protocol.Message{Type: protocol.TypeTaskStarted, TaskID: rec.ID})
	got, err := h.GetTask(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != TaskRunning {
		t.Errorf("after task:started status = %s, want running", got.Status)
	}

	workers := h.ListWorkers()
	if len(workers) != 1 || len(workers[0].RunningTasks) != 1 {
		t.Errorf("expected worker to show one running task: %+v", workers)
	}

	h.HandleMessage("w1", &protocol.Message{Type: protocol.TypeTaskCompleted, TaskID: rec.ID, Result: "42"})
	got, err = h.GetTask(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != TaskCompleted || got.Result != "42" {
		t.Errorf("after task:completed: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt must be set on completion")
	}
}

func TestTaskErrorTransition(t *testing.T) {
	h := startHub(t)
	attach(t, h, "w1")

	rec, _ := h.Submit("doomed", "", nil)
	h.HandleMessage("w1", &protocol.Message{Type: protocol.TypeTaskStarted, TaskID: rec.ID})
	h.HandleMessage("w1", &protocol.Message{Type: protocol.TypeTaskError, TaskID: rec.ID, Error: "oom"})

	got, err := h.GetTask(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != TaskError || got.Error != "oom" {
		t.Errorf("after task:error: %+v", got)
	}
}

func TestStopTaskForwardsAndMarks(t *testing.T) {
	h := startHub(t)
	sender := attach(t, h, "w1")

	rec, _ := h.Submit("to stop", "", nil)
	h.HandleMessage("w1", &protocol.Message{Type: protocol.TypeTaskStarted, TaskID: rec.ID})

	stopped, err := h.StopTask(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stopped.Status != TaskStopped {
		t.Errorf("status = %s, want stopped", stopped.Status)
	}

	frames := sender.sent()
	last := frames[len(frames)-1]
	if last.Type != protocol.TypeTaskStop || last.TaskID != rec.ID {
		t.Errorf("expected task:stop forward, got %+v", last)
	}

	// A straggler error from the worker no longer applies.
	h.HandleMessage("w1", &protocol.Message{Type: protocol.TypeTaskError, TaskID: rec.ID, Error: "late"})
	got, _ := h.GetTask(rec.ID)
	if got.Status != TaskStopped {
		t.Errorf("late task:error overwrote stopped status: %s", got.Status)
	}
}

func TestStopUnknownTask(t *testing.T) {
	h := startHub(t)
	if _, err := h.StopTask("ghost"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestDisconnectLeavesRecords(t *testing.T) {
	h := startHub(t)
	sender := attach(t, h, "w1")

	rec, _ := h.Submit("orphan", "", nil)
	h.HandleMessage("w1", &protocol.Message{Type: protocol.TypeTaskStarted, TaskID: rec.ID})

	h.DetachWorker("w1", sender)

	if workers := h.ListWorkers(); len(workers) != 0 {
		t.Errorf("registry should be empty after detach: %+v", workers)
	}

	// The record is untouched by disconnect; only explicit frames change it.
	got, err := h.GetTask(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != TaskRunning {
		t.Errorf("record status changed on disconnect: %s", got.Status)
	}
}

func TestReconnectReplacesStaleConnection(t *testing.T) {
	h := startHub(t)
	old := attach(t, h, "w1")
	attach(t, h, "w1")

	old.mu.Lock()
	closed := old.closed
	old.mu.Unlock()
	if !closed {
		t.Error("stale sender should be closed on reconnect")
	}
	if workers := h.ListWorkers(); len(workers) != 1 {
		t.Errorf("expected a single registry entry, got %d", len(workers))
	}
}

func TestStaleDetachKeepsLiveWorker(t *testing.T) {
	h := startHub(t)
	old := attach(t, h, "w1")
	attach(t, h, "w1")

	// Closing the stale socket makes its read loop exit and detach; that
	// detach must not evict the entry the fresh connection now owns.
	h.DetachWorker("w1", old)

	workers := h.ListWorkers()
	if len(workers) != 1 {
		t.Fatalf("live worker evicted by stale detach: registry has %d entries", len(workers))
	}
	if _, err := h.Submit("still routable", "", nil); err != nil {
		t.Errorf("submit after stale detach: %v", err)
	}
}

func TestHeartbeatBumpsLastSeen(t *testing.T) {
	h := startHub(t)
	attach(t, h, "w1")

	before := h.ListWorkers()[0].LastHeartbeat
	h.HandleMessage("w1", protocol.NewHeartbeat(protocol.HeartbeatStatus{Platform: "test", RunningTasks: 0}))
	after := h.ListWorkers()[0].LastHeartbeat

	if after.Before(before) {
		t.Error("LastHeartbeat must be monotonic")
	}
}

func TestBroadcastConfig(t *testing.T) {
	h := startHub(t)
	w1 := attach(t, h, "w1")
	w2 := attach(t, h, "w2")

	h.BroadcastConfig(map[string]any{"heartbeatInterval": "10s"})

	for _, s := range []*fakeSender{w1, w2} {
		frames := s.sent()
		if len(frames) != 1 || frames[0].Type != protocol.TypeConfigUpdate {
			t.Errorf("expected config:update on every connection, got %+v", frames)
		}
	}
}
