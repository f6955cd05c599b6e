package worker

import (
	"context"

	"github.com/ShayCichocki/relay/internal/budget"
	"github.com/ShayCichocki/relay/internal/orchestrator"
	"github.com/ShayCichocki/relay/internal/queue"
)

// FanOutExecutor runs each submitted goal through a fixed set of agents via
// the orchestrator: one agent delegates directly, several dispatch in
// parallel and the labeled aggregate becomes the task result.
type FanOutExecutor struct {
	orch     *orchestrator.Orchestrator
	agentIDs []string
}

// NewFanOutExecutor creates an executor dispatching to agentIDs.
func NewFanOutExecutor(orch *orchestrator.Orchestrator, agentIDs []string) *FanOutExecutor {
	return &FanOutExecutor{orch: orch, agentIDs: agentIDs}
}

// Execute implements Executor.
func (e *FanOutExecutor) Execute(ctx context.Context, goal string, history []budget.Message, progress ProgressFunc, inbox *queue.MessageQueue) (string, error) {
	history = append(history, drainInbox(inbox)...)
	history = append(history, budget.Message{Role: budget.RoleUser, Content: goal})

	emit(progress, map[string]any{"stage": "dispatch", "agents": e.agentIDs})
	resp, err := e.orch.Dispatch(ctx, e.agentIDs, history, map[string]string{"goal": goal})
	if err != nil {
		return "", err
	}
	emit(progress, map[string]any{"stage": "aggregated", "toolCalls": len(resp.ToolCalls)})
	return resp.Text, nil
}
