package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPlanAddTaskRejectsDuplicateID(t *testing.T) {
	plan := NewPlan("ship feature")
	if err := plan.AddTask(NewTask("t1", "a")); err != nil {
		t.Fatal(err)
	}
	err := plan.AddTask(NewTask("t1", "b"))
	if !errors.Is(err, ErrDuplicateTaskID) {
		t.Errorf("expected ErrDuplicateTaskID, got %v", err)
	}
}

func TestPlanIsCompleteEmptyPlan(t *testing.T) {
	plan := NewPlan("nothing to do")
	if !plan.IsComplete() {
		t.Error("empty plan should be complete")
	}
	if got := plan.GetProgressSummary().ProgressPercentage; got != 0 {
		t.Errorf("empty plan progress = %d, want 0", got)
	}
}

func TestPlanProgressSummary(t *testing.T) {
	plan := NewPlan("three tasks")
	for _, id := range []string{"t1", "t2", "t3"} {
		if err := plan.AddTask(NewTask(id, id)); err != nil {
			t.Fatal(err)
		}
	}

	t1 := plan.GetTaskByID("t1")
	if err := t1.Start(); err != nil {
		t.Fatal(err)
	}
	if err := t1.Complete(); err != nil {
		t.Fatal(err)
	}

	s := plan.GetProgressSummary()
	if s.Total != 3 || s.Completed != 1 || s.Pending != 2 {
		t.Errorf("unexpected summary: %+v", s)
	}
	// round(100 * 1/3) == 33
	if s.ProgressPercentage != 33 {
		t.Errorf("progress = %d, want 33", s.ProgressPercentage)
	}

	plan.GetTaskByID("t2").Cancel()
	t3 := plan.GetTaskByID("t3")
	if err := t3.Start(); err != nil {
		t.Fatal(err)
	}
	if err := t3.Complete(); err != nil {
		t.Fatal(err)
	}
	// round(100 * 2/3) == 67; cancelled counts toward completeness, not progress.
	if got := plan.GetProgressSummary().ProgressPercentage; got != 67 {
		t.Errorf("progress = %d, want 67", got)
	}
	if !plan.IsComplete() {
		t.Error("plan with only completed and cancelled tasks should be complete")
	}
}

func TestPlanDependencyScenario(t *testing.T) {
	// design -> backend (required design) -> frontend (required design, required backend)
	plan := NewPlan("build app")
	design := NewTask("design", "design")
	backend := NewTask("backend", "backend")
	backend.Dependencies = []Dependency{{TaskID: "design", Type: DependencyRequired}}
	frontend := NewTask("frontend", "frontend")
	frontend.Dependencies = []Dependency{
		{TaskID: "design", Type: DependencyRequired},
		{TaskID: "backend", Type: DependencyRequired},
	}
	for _, task := range []*Task{design, backend, frontend} {
		if err := plan.AddTask(task); err != nil {
			t.Fatal(err)
		}
	}

	lookup := plan.StatusLookup()
	if backend.IsActionable(lookup) {
		t.Error("backend should not be actionable before design completes")
	}
	if next := plan.GetNextActionableTask(); next == nil || next.ID != "design" {
		t.Fatalf("expected design to be next actionable, got %v", next)
	}

	if err := design.Start(); err != nil {
		t.Fatal(err)
	}
	if err := design.Complete(); err != nil {
		t.Fatal(err)
	}

	if !backend.IsActionable(lookup) {
		t.Error("backend should be actionable after design completes")
	}
	if frontend.IsActionable(lookup) {
		t.Error("frontend should still be blocked by backend")
	}

	actionable := plan.GetAllActionableTasks(0)
	if len(actionable) != 1 || actionable[0].ID != "backend" {
		t.Errorf("expected [backend], got %v", actionable)
	}
}

func TestPlanGetAllActionableTasksLimit(t *testing.T) {
	plan := NewPlan("many")
	for _, id := range []string{"a", "b", "c"} {
		if err := plan.AddTask(NewTask(id, id)); err != nil {
			t.Fatal(err)
		}
	}
	got := plan.GetAllActionableTasks(2)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("expected first two in insertion order, got %v", got)
	}
}

func TestPlanReorderTasks(t *testing.T) {
	plan := NewPlan("order")
	for _, id := range []string{"a", "b", "c"} {
		if err := plan.AddTask(NewTask(id, id)); err != nil {
			t.Fatal(err)
		}
	}

	if err := plan.ReorderTasks(2, 0); err != nil {
		t.Fatal(err)
	}
	ids := []string{plan.Tasks[0].ID, plan.Tasks[1].ID, plan.Tasks[2].ID}
	if ids[0] != "c" || ids[1] != "a" || ids[2] != "b" {
		t.Errorf("unexpected order after reorder: %v", ids)
	}

	for _, bad := range [][2]int{{-1, 0}, {0, 3}, {3, 0}, {0, -1}} {
		if err := plan.ReorderTasks(bad[0], bad[1]); !errors.Is(err, ErrInvalidIndices) {
			t.Errorf("ReorderTasks(%d, %d) = %v, want ErrInvalidIndices", bad[0], bad[1], err)
		}
	}
}

func TestPlanRemoveAndAssignee(t *testing.T) {
	plan := NewPlan("team")
	a := NewTask("a", "a")
	a.AssignedTo = "agent-1"
	b := NewTask("b", "b")
	b.AssignedTo = "agent-2"
	for _, task := range []*Task{a, b} {
		if err := plan.AddTask(task); err != nil {
			t.Fatal(err)
		}
	}

	mine := plan.GetTasksByAssignee("agent-1")
	if len(mine) != 1 || mine[0].ID != "a" {
		t.Errorf("expected [a], got %v", mine)
	}

	if !plan.RemoveTask("a") {
		t.Error("expected RemoveTask to succeed")
	}
	if plan.RemoveTask("a") {
		t.Error("expected second RemoveTask to return false")
	}
	if plan.GetTaskByID("a") != nil {
		t.Error("task a should be gone")
	}
}

func TestPlanUpdatedAtBumpedOnMutation(t *testing.T) {
	plan := NewPlan("clock")
	before := plan.UpdatedAt
	if err := plan.AddTask(NewTask("a", "a")); err != nil {
		t.Fatal(err)
	}
	if !plan.UpdatedAt.After(before) && !plan.UpdatedAt.Equal(before) {
		t.Error("UpdatedAt moved backwards")
	}
	if plan.UpdatedAt.Before(before) {
		t.Error("UpdatedAt should not decrease on mutation")
	}
}

func TestPlanJSONRoundTrip(t *testing.T) {
	plan := NewPlan("serialize me")
	task := NewTask("t1", "a")
	task.Dependencies = []Dependency{{TaskID: "t0", Type: DependencyOptional}}
	if err := plan.AddTask(task); err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(plan)
	if err != nil {
		t.Fatal(err)
	}
	var got Plan
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}

	if got.Goal != plan.Goal {
		t.Errorf("goal: got %q, want %q", got.Goal, plan.Goal)
	}
	if !got.CreatedAt.Equal(plan.CreatedAt) || !got.UpdatedAt.Equal(plan.UpdatedAt) {
		t.Error("plan timestamps did not round-trip")
	}
	if len(got.Tasks) != 1 || got.Tasks[0].ID != "t1" {
		t.Errorf("tasks did not round-trip: %v", got.Tasks)
	}
	if len(got.Tasks[0].Dependencies) != 1 || got.Tasks[0].Dependencies[0].TaskID != "t0" {
		t.Error("task dependencies did not round-trip")
	}
}
