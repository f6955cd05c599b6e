package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidIndices is returned by ReorderTasks when either index is out of
// range.
var ErrInvalidIndices = errors.New("invalid task indices")

// ErrDuplicateTaskID is returned by AddTask when a task with the same ID
// already exists in the plan.
var ErrDuplicateTaskID = errors.New("duplicate task id")

// Plan is an ordered collection of dependent tasks serving one goal.
// Plan is a single-writer structure; concurrent mutation by multiple callers
// is undefined.
type Plan struct {
	// Goal describes what the plan accomplishes.
	Goal string `json:"goal"`
	// Tasks is the ordered task list. IDs are unique within the plan.
	Tasks []*Task `json:"tasks"`
	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is bumped on every mutation.
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProgressSummary holds per-status counts for a plan.
type ProgressSummary struct {
	Total              int `json:"total"`
	Pending            int `json:"pending"`
	Running            int `json:"running"`
	Blocked            int `json:"blocked"`
	Completed          int `json:"completed"`
	Failed             int `json:"failed"`
	Cancelled          int `json:"cancelled"`
	ProgressPercentage int `json:"progressPercentage"`
}

// NewPlan creates an empty plan for the given goal.
func NewPlan(goal string) *Plan {
	now := time.Now()
	return &Plan{
		Goal:      goal,
		Tasks:     []*Task{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p *Plan) touch() {
	p.UpdatedAt = time.Now()
}

// AddTask appends a task to the plan. The task ID must be unique.
func (p *Plan) AddTask(t *Task) error {
	if existing := p.GetTaskByID(t.ID); existing != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateTaskID, t.ID)
	}
	p.Tasks = append(p.Tasks, t)
	p.touch()
	return nil
}

// RemoveTask removes the task with the given ID. Returns false if the task
// is not in the plan.
func (p *Plan) RemoveTask(id string) bool {
	for i, t := range p.Tasks {
		if t.ID == id {
			p.Tasks = append(p.Tasks[:i], p.Tasks[i+1:]...)
			p.touch()
			return true
		}
	}
	return false
}

// GetTaskByID returns the task with the given ID, or nil.
func (p *Plan) GetTaskByID(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// StatusLookup returns a StatusLookup over the plan's current tasks, suitable
// for passing to Task.IsActionable.
func (p *Plan) StatusLookup() StatusLookup {
	return func(taskID string) (TaskStatus, bool) {
		if t := p.GetTaskByID(taskID); t != nil {
			return t.Status, true
		}
		return "", false
	}
}

// UpdateTaskStatus applies the named transition to the task with the given
// ID. Supported transitions: start, complete, cancel. Fail and Block take a
// reason and have dedicated methods on Task; UpdateTaskStatus exists for
// callers driving tasks by ID.
func (p *Plan) UpdateTaskStatus(id string, status TaskStatus) error {
	t := p.GetTaskByID(id)
	if t == nil {
		return fmt.Errorf("task %s not found in plan", id)
	}
	var err error
	switch status {
	case TaskStatusRunning:
		err = t.Start()
	case TaskStatusCompleted:
		err = t.Complete()
	case TaskStatusCancelled:
		t.Cancel()
	case TaskStatusFailed:
		t.Fail("")
	case TaskStatusBlocked:
		t.Block("")
	case TaskStatusPending:
		err = t.Reset()
	default:
		return fmt.Errorf("unknown task status %q", status)
	}
	if err != nil {
		return err
	}
	p.touch()
	return nil
}

// GetNextActionableTask returns the first actionable task in insertion
// order, or nil if none is actionable.
func (p *Plan) GetNextActionableTask() *Task {
	lookup := p.StatusLookup()
	for _, t := range p.Tasks {
		if t.IsActionable(lookup) {
			return t
		}
	}
	return nil
}

// GetAllActionableTasks returns up to limit actionable tasks in insertion
// order. A limit <= 0 means no limit.
func (p *Plan) GetAllActionableTasks(limit int) []*Task {
	lookup := p.StatusLookup()
	var out []*Task
	for _, t := range p.Tasks {
		if !t.IsActionable(lookup) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// GetTasksByStatus returns all tasks with the given status in insertion order.
func (p *Plan) GetTasksByStatus(status TaskStatus) []*Task {
	var out []*Task
	for _, t := range p.Tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// GetTasksByAssignee returns all tasks assigned to the given agent.
func (p *Plan) GetTasksByAssignee(assignee string) []*Task {
	var out []*Task
	for _, t := range p.Tasks {
		if t.AssignedTo == assignee {
			out = append(out, t)
		}
	}
	return out
}

// IsComplete reports whether every task is completed or cancelled. An empty
// plan is complete.
func (p *Plan) IsComplete() bool {
	for _, t := range p.Tasks {
		if t.Status != TaskStatusCompleted && t.Status != TaskStatusCancelled {
			return false
		}
	}
	return true
}

// HasFailedTasks reports whether any task has failed.
func (p *Plan) HasFailedTasks() bool {
	return len(p.GetTasksByStatus(TaskStatusFailed)) > 0
}

// HasBlockedTasks reports whether any task is blocked.
func (p *Plan) HasBlockedTasks() bool {
	return len(p.GetTasksByStatus(TaskStatusBlocked)) > 0
}

// GetProgressSummary returns per-status counts and the completion
// percentage, rounded to the nearest integer. An empty plan reports 0%.
func (p *Plan) GetProgressSummary() ProgressSummary {
	s := ProgressSummary{Total: len(p.Tasks)}
	for _, t := range p.Tasks {
		switch t.Status {
		case TaskStatusPending:
			s.Pending++
		case TaskStatusRunning:
			s.Running++
		case TaskStatusBlocked:
			s.Blocked++
		case TaskStatusCompleted:
			s.Completed++
		case TaskStatusFailed:
			s.Failed++
		case TaskStatusCancelled:
			s.Cancelled++
		}
	}
	if s.Total > 0 {
		s.ProgressPercentage = int(math.Round(100 * float64(s.Completed) / float64(s.Total)))
	}
	return s
}

// ReorderTasks moves the task at index from to index to. Both indices must
// be within [0, len).
func (p *Plan) ReorderTasks(from, to int) error {
	n := len(p.Tasks)
	if from < 0 || from >= n || to < 0 || to >= n {
		return ErrInvalidIndices
	}
	if from == to {
		return nil
	}
	t := p.Tasks[from]
	p.Tasks = append(p.Tasks[:from], p.Tasks[from+1:]...)
	p.Tasks = append(p.Tasks[:to], append([]*Task{t}, p.Tasks[to:]...)...)
	p.touch()
	return nil
}
