// Package agent defines config-driven agents and the runner abstraction for
// invoking the external reasoning service. There is one concrete Agent type
// parameterized by configuration; behavior differences come from the config
// value, not subclassing.
package agent

import (
	"context"
	"encoding/json"

	"github.com/ShayCichocki/relay/internal/budget"
)

// Agent is a reasoning-service persona loaded from configuration.
type Agent struct {
	// ID is the unique agent identifier.
	ID string `yaml:"id" json:"id"`
	// Name is the human-readable agent name.
	Name string `yaml:"name" json:"name"`
	// Description states what the agent is for.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Model is the reasoning model this agent uses.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
	// SystemPrompt is the agent's standing instruction.
	SystemPrompt string `yaml:"system_prompt,omitempty" json:"systemPrompt,omitempty"`
	// Tools lists tool names the agent may call.
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	// MaxTokens caps completion size; 0 selects the runner default.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"maxTokens,omitempty"`
}

// ToolCall is one tool invocation produced by an agent.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Request is one invocation of an agent.
type Request struct {
	// Agent is the resolved agent configuration.
	Agent Agent
	// Messages is the (already budgeted) conversation history.
	Messages []budget.Message
	// Metadata tags the request, e.g. delegation provenance.
	Metadata map[string]string
	// Priority breaks ties between concurrent requests; it is not an
	// execution-order guarantee.
	Priority int
}

// Response is the outcome of one agent invocation.
type Response struct {
	// AgentID identifies which agent produced the response.
	AgentID string `json:"agentId"`
	// Text is the concatenated text output.
	Text string `json:"text"`
	// ToolCalls lists tool invocations the agent requested.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// Runner invokes the external reasoning service for one agent request.
// Implementations must honor ctx cancellation at every suspension point.
type Runner interface {
	Run(ctx context.Context, req Request) (*Response, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req Request) (*Response, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
