package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ShayCichocki/relay/internal/agent"
	"github.com/ShayCichocki/relay/internal/budget"
)

// DefaultContextWindow is the number of most-recent history messages handed
// to each agent when no explicit window is configured.
const DefaultContextWindow = 20

// ErrNoAgents is returned when a dispatch names no target agents.
var ErrNoAgents = errors.New("no target agents")

// Orchestrator routes a request to one or more agents. The single-agent path
// delegates directly; with two or more targets it dispatches concurrently and
// aggregates the results.
type Orchestrator struct {
	registry *agent.Registry
	runner   agent.Runner
	emitter  *EventEmitter
	window   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter attaches an event emitter for progress events.
func WithEmitter(e *EventEmitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithContextWindow sets how many most-recent history messages each agent
// receives. Values below 1 fall back to the default.
func WithContextWindow(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.window = n
		}
	}
}

// New creates an Orchestrator resolving agents from registry and executing
// them with runner.
func New(registry *agent.Registry, runner agent.Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		runner:   runner,
		window:   DefaultContextWindow,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dispatch routes history to the named agents and returns the (aggregated)
// response. An unresolvable agent id fails the whole dispatch before anything
// runs. With multiple targets, per-agent run errors are collected and joined;
// agents that succeeded still contribute to the aggregate.
func (o *Orchestrator) Dispatch(ctx context.Context, agentIDs []string, history []budget.Message, metadata map[string]string) (*agent.Response, error) {
	if len(agentIDs) == 0 {
		return nil, ErrNoAgents
	}

	// Resolve every target up front so a bad id never triggers partial work.
	agents := make([]*agent.Agent, len(agentIDs))
	for i, id := range agentIDs {
		a, err := o.registry.Resolve(id)
		if err != nil {
			return nil, fmt.Errorf("resolve agent %s: %w", id, err)
		}
		agents[i] = a
	}

	window := recentWindow(history, o.window)
	if len(agents) == 1 {
		return o.delegate(ctx, agents[0], window, metadata)
	}
	return o.fanOut(ctx, agents, window, metadata)
}

func (o *Orchestrator) delegate(ctx context.Context, a *agent.Agent, window []budget.Message, metadata map[string]string) (*agent.Response, error) {
	o.emit(OrchestratorEvent{Type: EventDelegationStarted, AgentID: a.ID})

	req := agent.Request{
		Agent:    *a,
		Messages: window,
		Metadata: withDelegation(metadata, "direct"),
	}
	resp, err := o.runner.Run(ctx, req)
	if err != nil {
		o.emit(OrchestratorEvent{Type: EventAgentFailed, AgentID: a.ID, Error: err})
		return nil, fmt.Errorf("run agent %s: %w", a.ID, err)
	}

	o.emit(OrchestratorEvent{Type: EventDelegationCompleted, AgentID: a.ID})
	return resp, nil
}

func (o *Orchestrator) fanOut(ctx context.Context, agents []*agent.Agent, window []budget.Message, metadata map[string]string) (*agent.Response, error) {
	o.emit(OrchestratorEvent{Type: EventFanoutStarted, Message: fmt.Sprintf("%d agents", len(agents))})

	type outcome struct {
		resp *agent.Response
		err  error
	}
	outcomes := make([]outcome, len(agents))

	var wg sync.WaitGroup
	for i, a := range agents {
		// Each descriptor gets its own copy of the window and a priority
		// decreasing with list position; priority is a tie-break, not an
		// execution-order guarantee.
		req := agent.Request{
			Agent:    *a,
			Messages: copyMessages(window),
			Metadata: withDelegation(metadata, "parallel"),
			Priority: len(agents) - i,
		}

		wg.Add(1)
		go func(i int, req agent.Request) {
			defer wg.Done()
			resp, err := o.runner.Run(ctx, req)
			outcomes[i] = outcome{resp: resp, err: err}
		}(i, req)
	}
	wg.Wait()

	var (
		segments  []string
		toolCalls []agent.ToolCall
		errs      []error
	)
	for i, out := range outcomes {
		id := agents[i].ID
		if out.err != nil {
			o.emit(OrchestratorEvent{Type: EventAgentFailed, AgentID: id, Error: out.err})
			errs = append(errs, fmt.Errorf("agent %s: %w", id, out.err))
			continue
		}
		o.emit(OrchestratorEvent{Type: EventAgentCompleted, AgentID: id})
		segments = append(segments, fmt.Sprintf("[%s]: %s", id, out.resp.Text))
		toolCalls = append(toolCalls, out.resp.ToolCalls...)
	}

	o.emit(OrchestratorEvent{Type: EventFanoutCompleted})
	return &agent.Response{
		Text:      strings.Join(segments, "\n\n"),
		ToolCalls: toolCalls,
	}, errors.Join(errs...)
}

func (o *Orchestrator) emit(event OrchestratorEvent) {
	if o.emitter != nil {
		o.emitter.Emit(event)
	}
}

// recentWindow returns a copy of the last n messages of history.
func recentWindow(history []budget.Message, n int) []budget.Message {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return copyMessages(history)
}

func copyMessages(msgs []budget.Message) []budget.Message {
	out := make([]budget.Message, len(msgs))
	copy(out, msgs)
	return out
}

func withDelegation(metadata map[string]string, mode string) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["delegation"] = mode
	return out
}
