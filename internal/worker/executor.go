// Package worker runs tasks dispatched by the hub: it maintains the hub
// connection, decomposes goals into plans, and executes plan steps against
// the reasoning service.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/relay/internal/agent"
	"github.com/ShayCichocki/relay/internal/budget"
	"github.com/ShayCichocki/relay/internal/queue"
	"github.com/ShayCichocki/relay/pkg/models"
)

// decompositionPrompt is the prompt template for goal decomposition.
const decompositionPrompt = `Break this goal into subtasks. Each task should be sized for a single session to complete.

Goal:
%s

Return ONLY a JSON array of tasks with this exact structure (no other text):
[
  {
    "title": "Short task title",
    "description": "Detailed task description",
    "depends_on": ["title of dependency 1"]
  }
]

Guidelines:
- Tasks should be as independent as possible
- Only add dependencies when task A must complete before task B
- Use empty array [] for depends_on if there are no dependencies`

// decomposedTask is the JSON structure the model returns for a single task.
type decomposedTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on"`
}

// Decomposer breaks a goal down into a dependency-ordered plan.
type Decomposer struct {
	runner  agent.Runner
	persona agent.Agent
}

// NewDecomposer creates a Decomposer invoking runner as persona.
func NewDecomposer(runner agent.Runner, persona agent.Agent) *Decomposer {
	return &Decomposer{runner: runner, persona: persona}
}

// Decompose prompts the reasoning service to break goal into tasks, parses
// the structured response, and validates the dependency graph is acyclic.
func (d *Decomposer) Decompose(ctx context.Context, goal string) (*models.Plan, error) {
	req := agent.Request{
		Agent: d.persona,
		Messages: []budget.Message{
			{Role: budget.RoleUser, Content: fmt.Sprintf(decompositionPrompt, goal)},
		},
	}
	resp, err := d.runner.Run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("decompose goal: %w", err)
	}

	tasks, err := parseDecompositionResponse(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("parse decomposition response: %w", err)
	}
	if err := validateNoCycles(tasks); err != nil {
		return nil, fmt.Errorf("validate dependencies: %w", err)
	}

	plan := models.NewPlan(goal)
	for _, t := range tasks {
		if err := plan.AddTask(t); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// parseDecompositionResponse parses the model's JSON response into tasks.
func parseDecompositionResponse(response string) ([]*models.Task, error) {
	// Find the JSON array in the response (the model might include extra text).
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("no valid JSON array found in response")
	}

	var decomposed []decomposedTask
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &decomposed); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if len(decomposed) == 0 {
		return nil, fmt.Errorf("empty task list returned")
	}

	titleToID := make(map[string]string)
	tasks := make([]*models.Task, len(decomposed))
	for i, dt := range decomposed {
		id := uuid.New().String()[:8]
		titleToID[dt.Title] = id
		tasks[i] = models.NewTask(id, dt.Title)
		tasks[i].Description = dt.Description
	}

	// Resolve dependency titles to ids.
	for i, dt := range decomposed {
		for _, depTitle := range dt.DependsOn {
			depID, ok := titleToID[depTitle]
			if !ok {
				return nil, fmt.Errorf("unknown dependency %q for task %q", depTitle, dt.Title)
			}
			tasks[i].Dependencies = append(tasks[i].Dependencies, models.Dependency{
				TaskID: depID,
				Type:   models.DependencyRequired,
			})
		}
	}
	return tasks, nil
}

// validateNoCycles checks that there are no circular dependencies among tasks.
func validateNoCycles(tasks []*models.Task) error {
	idToTask := make(map[string]*models.Task)
	for _, t := range tasks {
		idToTask[t.ID] = t
	}

	// 0=unvisited, 1=visiting, 2=visited
	state := make(map[string]int)

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		if state[id] == 2 {
			return nil
		}
		if state[id] == 1 {
			cycleStart := 0
			for i, p := range path {
				if p == id {
					cycleStart = i
					break
				}
			}
			cycle := append(path[cycleStart:], id)
			return fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
		}

		state[id] = 1
		if t := idToTask[id]; t != nil {
			for _, dep := range t.Dependencies {
				if err := visit(dep.TaskID, append(path, id)); err != nil {
					return err
				}
			}
		}
		state[id] = 2
		return nil
	}

	for _, t := range tasks {
		if state[t.ID] == 0 {
			if err := visit(t.ID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProgressFunc receives intermediate execution events.
type ProgressFunc func(event any)

// StepEvent is the progress payload emitted around each plan step.
type StepEvent struct {
	Stage    string                 `json:"stage"`
	TaskID   string                 `json:"taskId"`
	Title    string                 `json:"title"`
	Progress models.ProgressSummary `json:"progress"`
}

// PlanExecutor executes one submitted goal: it decomposes the goal into a
// plan, then walks actionable tasks in dependency order, invoking the
// reasoning service once per task with compressed history.
type PlanExecutor struct {
	runner     agent.Runner
	persona    agent.Agent
	decomposer *Decomposer
	budget     budget.ContextBudget
}

// NewPlanExecutor creates a PlanExecutor invoking runner as persona inside
// the given context budget.
func NewPlanExecutor(runner agent.Runner, persona agent.Agent, b budget.ContextBudget) *PlanExecutor {
	return &PlanExecutor{
		runner:     runner,
		persona:    persona,
		decomposer: NewDecomposer(runner, persona),
		budget:     b,
	}
}

// Execute runs goal to completion and returns the aggregated result text.
// history seeds the conversation; inbox, when non-nil, is drained between
// steps so mid-task messages reach the model on the next invocation.
// Cancellation surfaces as ctx.Err, never as a task failure.
func (e *PlanExecutor) Execute(ctx context.Context, goal string, history []budget.Message, progress ProgressFunc, inbox *queue.MessageQueue) (string, error) {
	plan, err := e.decomposer.Decompose(ctx, goal)
	if err != nil {
		return "", err
	}

	var results []string
	for !plan.IsComplete() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if plan.HasFailedTasks() {
			break
		}

		t := plan.GetNextActionableTask()
		if t == nil {
			return "", deadlockError(plan)
		}
		if err := t.Start(); err != nil {
			return "", err
		}
		emit(progress, StepEvent{Stage: "started", TaskID: t.ID, Title: t.Title, Progress: plan.GetProgressSummary()})

		history = append(history, drainInbox(inbox)...)
		history = append(history, budget.Message{
			Role:    budget.RoleUser,
			Content: fmt.Sprintf("Work on this task.\nTitle: %s\nDescription: %s", t.Title, t.Description),
		})
		msgs := budget.CompressMessages(history, e.budget)

		resp, err := e.runner.Run(ctx, agent.Request{Agent: e.persona, Messages: msgs})
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			t.Fail(err.Error())
			emit(progress, StepEvent{Stage: "failed", TaskID: t.ID, Title: t.Title, Progress: plan.GetProgressSummary()})
			continue
		}

		if err := t.Complete(); err != nil {
			return "", err
		}
		history = append(history, budget.Message{Role: budget.RoleAssistant, Content: resp.Text})
		results = append(results, fmt.Sprintf("%s: %s", t.Title, resp.Text))
		emit(progress, StepEvent{Stage: "completed", TaskID: t.ID, Title: t.Title, Progress: plan.GetProgressSummary()})
	}

	if plan.HasFailedTasks() {
		failed := plan.GetTasksByStatus(models.TaskStatusFailed)
		return "", fmt.Errorf("task %q failed: %s", failed[0].Title, failed[0].Error)
	}
	return strings.Join(results, "\n\n"), nil
}

// deadlockError names what is actually stuck: explicitly blocked tasks and
// pending tasks whose required dependencies will never complete.
func deadlockError(plan *models.Plan) error {
	blocked := len(plan.GetTasksByStatus(models.TaskStatusBlocked))
	lookup := plan.StatusLookup()
	gated := 0
	for _, t := range plan.GetTasksByStatus(models.TaskStatusPending) {
		if t.HasBlockingDependencies(lookup) {
			gated++
		}
	}
	return fmt.Errorf("no actionable tasks remain (%d blocked, %d pending with unmet dependencies)", blocked, gated)
}

func emit(progress ProgressFunc, event any) {
	if progress != nil {
		progress(event)
	}
}

// drainInbox empties the queue into user messages, acknowledging each item.
func drainInbox(inbox *queue.MessageQueue) []budget.Message {
	if inbox == nil {
		return nil
	}
	var msgs []budget.Message
	for {
		m := inbox.Next()
		if m == nil {
			return msgs
		}
		msgs = append(msgs, budget.Message{Role: budget.RoleUser, Content: m.Content})
		inbox.Complete(m.ID)
	}
}
