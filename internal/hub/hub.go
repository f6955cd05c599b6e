// Package hub implements the coordinator: it accepts worker connections,
// keeps an in-memory worker and task registry, and routes task submissions.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/relay/internal/budget"
	"github.com/ShayCichocki/relay/internal/protocol"
	"github.com/ShayCichocki/relay/internal/state"
)

// TaskStatus is the hub-side lifecycle of a submitted task.
type TaskStatus string

const (
	// TaskPending means the submission was accepted but not yet started.
	TaskPending TaskStatus = "pending"
	// TaskRunning means the owning worker reported task:started.
	TaskRunning TaskStatus = "running"
	// TaskCompleted means the worker reported a result.
	TaskCompleted TaskStatus = "completed"
	// TaskError means the worker reported an execution failure.
	TaskError TaskStatus = "error"
	// TaskStopped means an explicit stop was requested.
	TaskStopped TaskStatus = "stopped"
)

// ErrNoWorkers is returned when a submission arrives and no worker is
// connected.
var ErrNoWorkers = errors.New("no workers connected")

// ErrWorkerNotFound is returned when a submission targets an unknown worker.
var ErrWorkerNotFound = errors.New("worker not found")

// ErrTaskNotFound is returned for lookups of unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// ErrStopped is returned when the hub's run loop has exited.
var ErrStopped = errors.New("hub stopped")

// Sender delivers frames to one connected worker. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(m *protocol.Message) error
	Close() error
}

// WorkerInfo is the registry entry for one connected worker.
type WorkerInfo struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Platform      string    `json:"platform"`
	Capabilities  []string  `json:"capabilities"`
	Skills        []string  `json:"skills,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	RunningTasks  []string  `json:"runningTasks"`

	sender Sender
}

// TaskRecord tracks one submitted task.
type TaskRecord struct {
	ID          string     `json:"id"`
	WorkerID    string     `json:"workerId"`
	Goal        string     `json:"goal"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Hub owns the worker and task registries. Both are mutated only from the
// run loop: every external entry point posts a closure to cmds, so there are
// no concurrent writers by construction.
type Hub struct {
	workers map[string]*WorkerInfo
	// order preserves connection order; unspecified-target submissions take
	// the first entry. This is arbitrary selection, not load balancing.
	order []string
	tasks map[string]*TaskRecord

	// store mirrors record transitions when configured; nil disables it.
	store state.RecordStore

	cmds chan func()
	done chan struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithStore mirrors task record transitions into the given store.
func WithStore(s state.RecordStore) Option {
	return func(h *Hub) { h.store = s }
}

// New creates a Hub. Run must be called before use.
func New(opts ...Option) *Hub {
	h := &Hub{
		workers: make(map[string]*WorkerInfo),
		tasks:   make(map[string]*TaskRecord),
		cmds:    make(chan func(), 64),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes commands until ctx is cancelled. It is the hub's single
// mutation path.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.cmds:
			cmd()
		}
	}
}

// do posts fn to the run loop and waits for it to execute.
func (h *Hub) do(fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		fn()
		close(ran)
	}
	select {
	case h.cmds <- wrapped:
	case <-h.done:
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-h.done:
		return ErrStopped
	}
}

// AttachWorker registers a worker connection. A reconnecting worker with the
// same id replaces its previous entry; the stale sender is closed.
func (h *Hub) AttachWorker(identity protocol.WorkerIdentity, sender Sender) error {
	return h.do(func() {
		if prev, ok := h.workers[identity.ID]; ok {
			log.Printf("[hub] worker %s reconnected, dropping stale connection", identity.ID)
			_ = prev.sender.Close()
		} else {
			h.order = append(h.order, identity.ID)
		}

		now := time.Now()
		h.workers[identity.ID] = &WorkerInfo{
			ID:            identity.ID,
			Name:          identity.Name,
			Version:       identity.Version,
			Platform:      identity.Platform,
			Capabilities:  identity.Capabilities,
			Skills:        identity.Skills,
			ConnectedAt:   now,
			LastHeartbeat: now,
			RunningTasks:  []string{},
			sender:        sender,
		}
		log.Printf("[hub] worker %s (%s) connected", identity.ID, identity.Name)
	})
}

// DetachWorker removes a worker from the registry, but only while the entry
// still owns sender: after a reconnect replaces the entry, the stale
// connection's detach must not evict the live one. Task records owned by the
// worker are left as-is: only an explicit task:error or stop changes them.
func (h *Hub) DetachWorker(workerID string, sender Sender) {
	_ = h.do(func() {
		w, ok := h.workers[workerID]
		if !ok || w.sender != sender {
			return
		}
		delete(h.workers, workerID)
		for i, id := range h.order {
			if id == workerID {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
		log.Printf("[hub] worker %s disconnected", workerID)
	})
}

// HandleMessage processes one inbound frame from a worker.
func (h *Hub) HandleMessage(workerID string, m *protocol.Message) {
	_ = h.do(func() {
		w, ok := h.workers[workerID]
		if !ok {
			log.Printf("[hub] frame %s from unknown worker %s", m.Type, workerID)
			return
		}

		switch m.Type {
		case protocol.TypeHeartbeat, protocol.TypePong:
			w.LastHeartbeat = time.Now()
			if m.Status != nil {
				// Heartbeat carries the worker's own running-task count; the
				// registry keeps its own list from task lifecycle frames.
				log.Printf("[hub] heartbeat from %s: %d running", workerID, m.Status.RunningTasks)
			}

		case protocol.TypeTaskStarted:
			rec, ok := h.tasks[m.TaskID]
			if !ok {
				log.Printf("[hub] task:started for unknown task %s", m.TaskID)
				return
			}
			if rec.Status == TaskPending {
				rec.Status = TaskRunning
				w.RunningTasks = append(w.RunningTasks, rec.ID)
				h.mirror(rec)
			}

		case protocol.TypeTaskCompleted:
			h.finishTask(w, m.TaskID, TaskCompleted, m.Result, "")

		case protocol.TypeTaskError:
			h.finishTask(w, m.TaskID, TaskError, "", m.Error)

		case protocol.TypeTaskProgress:
			log.Printf("[hub] progress on task %s", m.TaskID)

		default:
			log.Printf("[hub] unhandled frame type %s from %s", m.Type, workerID)
		}
	})
}

// finishTask applies a terminal transition from a worker event. Must run on
// the loop.
func (h *Hub) finishTask(w *WorkerInfo, taskID string, status TaskStatus, result, errMsg string) {
	rec, ok := h.tasks[taskID]
	if !ok {
		log.Printf("[hub] %s for unknown task %s", status, taskID)
		return
	}
	if rec.Status != TaskRunning {
		// Stopped or already terminal; worker events no longer apply.
		return
	}
	now := time.Now()
	rec.Status = status
	rec.Result = result
	rec.Error = errMsg
	rec.CompletedAt = &now
	removeTask(w, taskID)
	h.mirror(rec)
	log.Printf("[hub] task %s %s", taskID, status)
}

// Submit routes a goal to a worker and returns the new task record. If
// workerID is empty, the first connected worker is chosen.
func (h *Hub) Submit(goal, workerID string, messages []budget.Message) (*TaskRecord, error) {
	var rec *TaskRecord
	var submitErr error

	err := h.do(func() {
		var w *WorkerInfo
		if workerID != "" {
			var ok bool
			w, ok = h.workers[workerID]
			if !ok {
				submitErr = fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
				return
			}
		} else {
			if len(h.order) == 0 {
				submitErr = ErrNoWorkers
				return
			}
			w = h.workers[h.order[0]]
		}

		rec = &TaskRecord{
			ID:        "task-" + uuid.New().String()[:8],
			WorkerID:  w.ID,
			Goal:      goal,
			Status:    TaskPending,
			CreatedAt: time.Now(),
		}
		h.tasks[rec.ID] = rec
		h.mirror(rec)

		if err := w.sender.Send(protocol.NewTaskSubmit(rec.ID, goal, messages)); err != nil {
			submitErr = fmt.Errorf("forward submit to %s: %w", w.ID, err)
			return
		}
		log.Printf("[hub] task %s submitted to worker %s", rec.ID, w.ID)
	})
	if err != nil {
		return nil, err
	}
	if submitErr != nil {
		return nil, submitErr
	}
	return copyRecord(rec), nil
}

// StopTask marks the task stopped and forwards a best-effort task:stop to
// the owning worker. There is no confirmation that the underlying work
// ceased before the record reads stopped.
func (h *Hub) StopTask(taskID string) (*TaskRecord, error) {
	var rec *TaskRecord
	var stopErr error

	err := h.do(func() {
		r, ok := h.tasks[taskID]
		if !ok {
			stopErr = fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
			return
		}
		now := time.Now()
		r.Status = TaskStopped
		r.CompletedAt = &now
		h.mirror(r)

		if w, ok := h.workers[r.WorkerID]; ok {
			removeTask(w, taskID)
			if err := w.sender.Send(protocol.NewTaskStop(taskID)); err != nil {
				log.Printf("[hub] stop forward to %s failed: %v", r.WorkerID, err)
			}
		}
		rec = r
	})
	if err != nil {
		return nil, err
	}
	if stopErr != nil {
		return nil, stopErr
	}
	return copyRecord(rec), nil
}

// GetTask returns a snapshot of the task record.
func (h *Hub) GetTask(taskID string) (*TaskRecord, error) {
	var rec *TaskRecord
	var getErr error
	err := h.do(func() {
		r, ok := h.tasks[taskID]
		if !ok {
			getErr = fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
			return
		}
		rec = copyRecord(r)
	})
	if err != nil {
		return nil, err
	}
	if getErr != nil {
		return nil, getErr
	}
	return rec, nil
}

// ListTasks returns snapshots of all task records, newest first.
func (h *Hub) ListTasks() []TaskRecord {
	var out []TaskRecord
	_ = h.do(func() {
		for _, r := range h.tasks {
			out = append(out, *copyRecord(r))
		}
	})
	sortRecords(out)
	return out
}

// ListWorkers returns snapshots of all connected workers in connection order.
func (h *Hub) ListWorkers() []WorkerInfo {
	var out []WorkerInfo
	_ = h.do(func() {
		for _, id := range h.order {
			w := h.workers[id]
			snapshot := *w
			snapshot.sender = nil
			snapshot.RunningTasks = append([]string{}, w.RunningTasks...)
			out = append(out, snapshot)
		}
	})
	return out
}

// BroadcastConfig pushes a config:update frame to every connected worker.
func (h *Hub) BroadcastConfig(cfg map[string]any) {
	_ = h.do(func() {
		frame := &protocol.Message{Type: protocol.TypeConfigUpdate, Config: cfg}
		for _, w := range h.workers {
			if err := w.sender.Send(frame); err != nil {
				log.Printf("[hub] config push to %s failed: %v", w.ID, err)
			}
		}
	})
}

// SendTaskMessage routes a mid-task input to the worker owning the task.
func (h *Hub) SendTaskMessage(taskID string, payload []byte) error {
	var sendErr error
	err := h.do(func() {
		r, ok := h.tasks[taskID]
		if !ok {
			sendErr = fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
			return
		}
		w, ok := h.workers[r.WorkerID]
		if !ok {
			sendErr = fmt.Errorf("%w: %s", ErrWorkerNotFound, r.WorkerID)
			return
		}
		sendErr = w.sender.Send(&protocol.Message{
			Type:    protocol.TypeTaskMessage,
			TaskID:  taskID,
			Message: payload,
		})
	})
	if err != nil {
		return err
	}
	return sendErr
}

// mirror persists a record transition when a store is configured. Must run
// on the loop.
func (h *Hub) mirror(r *TaskRecord) {
	if h.store == nil {
		return
	}
	err := h.store.SaveRecord(&state.TaskRecord{
		ID:          r.ID,
		WorkerID:    r.WorkerID,
		Goal:        r.Goal,
		Status:      string(r.Status),
		Result:      r.Result,
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	})
	if err != nil {
		log.Printf("[hub] mirror record %s: %v", r.ID, err)
	}
}

func removeTask(w *WorkerInfo, taskID string) {
	for i, id := range w.RunningTasks {
		if id == taskID {
			w.RunningTasks = append(w.RunningTasks[:i], w.RunningTasks[i+1:]...)
			return
		}
	}
}

func copyRecord(r *TaskRecord) *TaskRecord {
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func sortRecords(records []TaskRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
