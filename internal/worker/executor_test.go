package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ShayCichocki/relay/internal/agent"
	"github.com/ShayCichocki/relay/internal/budget"
	"github.com/ShayCichocki/relay/internal/queue"
	"github.com/ShayCichocki/relay/pkg/models"
)

const twoStepPlan = `[
  {"title": "design", "description": "sketch the schema", "depends_on": []},
  {"title": "backend", "description": "implement the API", "depends_on": ["design"]}
]`

// scriptedRunner answers the first call (decomposition) with plan and every
// later call with a text derived from the task prompt.
type scriptedRunner struct {
	mu    sync.Mutex
	plan  string
	calls []agent.Request
}

func (r *scriptedRunner) Run(ctx context.Context, req agent.Request) (*agent.Response, error) {
	r.mu.Lock()
	n := len(r.calls)
	r.calls = append(r.calls, req)
	r.mu.Unlock()
	if n == 0 {
		return &agent.Response{Text: r.plan}, nil
	}
	last := req.Messages[len(req.Messages)-1].Content
	return &agent.Response{Text: "did " + last}, nil
}

func (r *scriptedRunner) captured() []agent.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agent.Request, len(r.calls))
	copy(out, r.calls)
	return out
}

func wideBudget() budget.ContextBudget {
	return budget.CalculateContextBudget(1_000_000, "", "", 0)
}

func TestExecuteWalksPlanInDependencyOrder(t *testing.T) {
	runner := &scriptedRunner{plan: twoStepPlan}
	e := NewPlanExecutor(runner, agent.Agent{ID: "default"}, wideBudget())

	var events []StepEvent
	progress := func(ev any) {
		if se, ok := ev.(StepEvent); ok {
			events = append(events, se)
		}
	}

	result, err := e.Execute(context.Background(), "build the service", nil, progress, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "design:") || !strings.Contains(result, "backend:") {
		t.Errorf("result missing per-task sections: %q", result)
	}

	var started []string
	for _, ev := range events {
		if ev.Stage == "started" {
			started = append(started, ev.Title)
		}
	}
	if len(started) != 2 || started[0] != "design" || started[1] != "backend" {
		t.Errorf("dependency order violated: %v", started)
	}
	last := events[len(events)-1]
	if last.Stage != "completed" || last.Progress.ProgressPercentage != 100 {
		t.Errorf("final event should report 100%%: %+v", last)
	}
}

func TestExecuteFailsOnUnparseableDecomposition(t *testing.T) {
	runner := &scriptedRunner{plan: "I cannot help with that."}
	e := NewPlanExecutor(runner, agent.Agent{}, wideBudget())

	if _, err := e.Execute(context.Background(), "goal", nil, nil, nil); err == nil {
		t.Fatal("expected decomposition parse error")
	}
}

func TestExecuteRejectsCircularDependencies(t *testing.T) {
	runner := &scriptedRunner{plan: `[
  {"title": "a", "depends_on": ["b"]},
  {"title": "b", "depends_on": ["a"]}
]`}
	e := NewPlanExecutor(runner, agent.Agent{}, wideBudget())

	_, err := e.Execute(context.Background(), "goal", nil, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "circular dependency") {
		t.Errorf("expected circular dependency error, got %v", err)
	}
}

func TestExecuteTaskFailureStopsPlan(t *testing.T) {
	var calls int
	runner := agent.RunnerFunc(func(ctx context.Context, req agent.Request) (*agent.Response, error) {
		calls++
		if calls == 1 {
			return &agent.Response{Text: twoStepPlan}, nil
		}
		return nil, errors.New("model refused")
	})
	e := NewPlanExecutor(runner, agent.Agent{}, wideBudget())

	_, err := e.Execute(context.Background(), "goal", nil, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "design") {
		t.Errorf("expected failure naming the failed task, got %v", err)
	}
	// Decomposition plus the one failed step; the dependent task never runs.
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestExecuteCancellationIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := agent.RunnerFunc(func(ctx context.Context, req agent.Request) (*agent.Response, error) {
		if len(req.Messages) == 1 && strings.Contains(req.Messages[0].Content, "Break this goal") {
			return &agent.Response{Text: `[{"title": "only", "depends_on": []}]`}, nil
		}
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := NewPlanExecutor(runner, agent.Agent{}, wideBudget())

	_, err := e.Execute(ctx, "goal", nil, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestExecuteDrainsInboxBetweenSteps(t *testing.T) {
	runner := &scriptedRunner{plan: twoStepPlan}
	e := NewPlanExecutor(runner, agent.Agent{}, wideBudget())

	inbox := queue.New()
	inbox.Add("also add caching", nil)

	if _, err := e.Execute(context.Background(), "goal", nil, nil, inbox); err != nil {
		t.Fatal(err)
	}
	if inbox.Len() != 0 || inbox.IsProcessing() {
		t.Errorf("inbox not drained: len=%d processing=%v", inbox.Len(), inbox.IsProcessing())
	}

	var seen bool
	for _, req := range runner.captured()[1:] {
		for _, m := range req.Messages {
			if m.Content == "also add caching" {
				seen = true
			}
		}
	}
	if !seen {
		t.Error("queued message never reached the model")
	}
}

func TestExecuteCompressesHistory(t *testing.T) {
	runner := &scriptedRunner{plan: `[{"title": "only", "depends_on": []}]`}
	// A budget small enough that the long seed history cannot fit whole.
	b := budget.CalculateContextBudget(5_000, "", "", 0)
	e := NewPlanExecutor(runner, agent.Agent{}, b)

	var history []budget.Message
	for i := 0; i < 50; i++ {
		history = append(history, budget.Message{
			Role:    budget.RoleUser,
			Content: fmt.Sprintf("old message %d %s", i, strings.Repeat("x", 200)),
		})
	}

	if _, err := e.Execute(context.Background(), "goal", history, nil, nil); err != nil {
		t.Fatal(err)
	}
	reqs := runner.captured()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(reqs))
	}
	step := reqs[1]
	if len(step.Messages) >= 50 {
		t.Errorf("history not compressed: %d messages", len(step.Messages))
	}
	if !strings.Contains(step.Messages[len(step.Messages)-1].Content, "Work on this task") {
		t.Error("newest message must survive compression")
	}
}

func TestDeadlockErrorCountsGatedPendingTasks(t *testing.T) {
	plan := models.NewPlan("stuck goal")

	a := models.NewTask("a", "abandoned prerequisite")
	a.Cancel()
	b := models.NewTask("b", "waits on the cancelled task")
	b.Dependencies = []models.Dependency{{TaskID: "a", Type: models.DependencyRequired}}
	c := models.NewTask("c", "needs operator input")
	c.Block("awaiting credentials")
	for _, task := range []*models.Task{a, b, c} {
		if err := plan.AddTask(task); err != nil {
			t.Fatal(err)
		}
	}

	if next := plan.GetNextActionableTask(); next != nil {
		t.Fatalf("plan should be stuck, got actionable task %q", next.ID)
	}
	err := deadlockError(plan)
	if err == nil {
		t.Fatal("expected an error for a stuck plan")
	}
	if !strings.Contains(err.Error(), "1 blocked, 1 pending with unmet dependencies") {
		t.Errorf("error does not account for gated pending tasks: %v", err)
	}
}
