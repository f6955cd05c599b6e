// Package models defines the shared task and plan value types exchanged
// between the hub, workers, and external persistence.
package models

import (
	"fmt"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is being worked on.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusBlocked indicates the task cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before finishing.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusBlocked,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// InvalidTransitionError is returned when a status transition is attempted
// from a state that does not permit it. It signals a caller bug and is never
// swallowed internally.
type InvalidTransitionError struct {
	TaskID string
	From   TaskStatus
	Op     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot %s from status %q", e.TaskID, e.Op, e.From)
}

// DependencyType describes how strongly a task depends on another.
type DependencyType string

const (
	// DependencyRequired blocks the dependent task until the referenced task
	// completes successfully.
	DependencyRequired DependencyType = "required"
	// DependencyOptional never blocks the dependent task.
	DependencyOptional DependencyType = "optional"
)

// Dependency references another task within the same plan.
type Dependency struct {
	// TaskID is the ID of the task this task depends on.
	TaskID string `json:"taskId"`
	// Type is the dependency strength (required or optional).
	Type DependencyType `json:"type"`
}

// StatusLookup resolves a task ID to its current status. Task holds no
// pointers to sibling tasks; dependency checks are delegated to a
// caller-supplied lookup so Task stays a plain, independently-serializable
// value with no cyclic ownership.
type StatusLookup func(taskID string) (TaskStatus, bool)

// Task represents a unit of work within a plan.
type Task struct {
	// ID is the unique identifier for this task within its plan.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedTo is the ID of the agent working on this task.
	AssignedTo string `json:"assignedTo,omitempty"`
	// Priority orders tasks of equal readiness; higher runs first.
	Priority int `json:"priority,omitempty"`
	// Dependencies lists tasks that gate this one.
	Dependencies []Dependency `json:"dependencies,omitempty"`
	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty"`
	// Metadata carries opaque caller data.
	Metadata map[string]string `json:"metadata,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"createdAt"`
	// StartedAt is when the task began running, if it has.
	StartedAt *time.Time `json:"startedAt,omitempty"`
	// CompletedAt is set when the task reaches a terminal status.
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	// Error contains the failure or block reason, if any.
	Error string `json:"error,omitempty"`
	// ActualTime is the wall-clock duration from start to completion.
	ActualTime time.Duration `json:"actualTime,omitempty"`
}

// NewTask creates a pending task with the given id and title.
func NewTask(id, title string) *Task {
	return &Task{
		ID:        id,
		Title:     title,
		Status:    TaskStatusPending,
		CreatedAt: time.Now(),
	}
}

// Start transitions the task from pending to running and records StartedAt.
func (t *Task) Start() error {
	if t.Status != TaskStatusPending {
		return &InvalidTransitionError{TaskID: t.ID, From: t.Status, Op: "start"}
	}
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	return nil
}

// Complete transitions the task from running to completed, recording
// CompletedAt and the elapsed ActualTime.
func (t *Task) Complete() error {
	if t.Status != TaskStatusRunning {
		return &InvalidTransitionError{TaskID: t.ID, From: t.Status, Op: "complete"}
	}
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	if t.StartedAt != nil {
		t.ActualTime = now.Sub(*t.StartedAt)
	}
	return nil
}

// Fail marks the task failed with the given reason and records CompletedAt.
// Fail has no precondition.
func (t *Task) Fail(reason string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.Error = reason
	t.CompletedAt = &now
	if t.StartedAt != nil {
		t.ActualTime = now.Sub(*t.StartedAt)
	}
}

// Cancel marks the task cancelled and records CompletedAt. Like Fail it is
// unconditional.
func (t *Task) Cancel() {
	now := time.Now()
	t.Status = TaskStatusCancelled
	t.CompletedAt = &now
}

// Block marks the task blocked with the given reason. Blocked is not
// terminal; Reset returns the task to pending.
func (t *Task) Block(reason string) {
	t.Status = TaskStatusBlocked
	t.Error = reason
}

// Reset returns a blocked task to pending and clears its error. This is the
// only supported re-entry from blocked.
func (t *Task) Reset() error {
	if t.Status != TaskStatusBlocked {
		return &InvalidTransitionError{TaskID: t.ID, From: t.Status, Op: "reset"}
	}
	t.Status = TaskStatusPending
	t.Error = ""
	return nil
}

// IsActionable reports whether the task is pending with no unmet required
// dependency. A nil lookup means no dependency blocks.
func (t *Task) IsActionable(lookup StatusLookup) bool {
	if t.Status != TaskStatusPending {
		return false
	}
	return !t.HasBlockingDependencies(lookup)
}

// HasBlockingDependencies reports whether any required dependency is not yet
// completed according to lookup. Optional dependencies never block.
func (t *Task) HasBlockingDependencies(lookup StatusLookup) bool {
	if lookup == nil {
		return false
	}
	for _, dep := range t.Dependencies {
		if dep.Type != DependencyRequired {
			continue
		}
		status, ok := lookup(dep.TaskID)
		if !ok || status != TaskStatusCompleted {
			return true
		}
	}
	return false
}
