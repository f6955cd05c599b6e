// Package orchestrator routes requests to one or more agents and aggregates
// their results.
package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventDelegationStarted indicates a request was handed to a single agent.
	EventDelegationStarted EventType = "delegation_started"
	// EventDelegationCompleted indicates a single-agent delegation finished.
	EventDelegationCompleted EventType = "delegation_completed"
	// EventFanoutStarted indicates a parallel dispatch to multiple agents began.
	EventFanoutStarted EventType = "fanout_started"
	// EventAgentCompleted indicates one agent in a fan-out finished.
	EventAgentCompleted EventType = "agent_completed"
	// EventAgentFailed indicates one agent in a fan-out returned an error.
	EventAgentFailed EventType = "agent_failed"
	// EventFanoutCompleted indicates the aggregated fan-out result is ready.
	EventFanoutCompleted EventType = "fanout_completed"
)

// OrchestratorEvent represents an event emitted while routing requests.
type OrchestratorEvent struct {
	// Type is the kind of event.
	Type EventType
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
