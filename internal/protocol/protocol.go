// Package protocol defines the JSON frames exchanged between the hub and its
// workers over a persistent duplex connection.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/relay/internal/budget"
)

// Frame types sent by workers.
const (
	// TypeConnected announces worker identity right after the transport opens.
	TypeConnected = "connected"
	// TypeTaskStarted reports that execution of a submitted task began.
	TypeTaskStarted = "task:started"
	// TypeTaskProgress carries an intermediate execution event.
	TypeTaskProgress = "task:progress"
	// TypeTaskCompleted carries the final result of a task.
	TypeTaskCompleted = "task:completed"
	// TypeTaskError reports that a task's own work failed.
	TypeTaskError = "task:error"
	// TypeHeartbeat carries periodic liveness and load information.
	TypeHeartbeat = "heartbeat"
	// TypePong answers a hub ping.
	TypePong = "pong"
)

// Frame types sent by the hub.
const (
	// TypeTaskSubmit dispatches a goal to a worker.
	TypeTaskSubmit = "task:submit"
	// TypeTaskStop requests cancellation of a running task.
	TypeTaskStop = "task:stop"
	// TypeTaskMessage routes a mid-task input to a running task.
	TypeTaskMessage = "task:message"
	// TypePing probes worker liveness.
	TypePing = "ping"
	// TypeConfigUpdate pushes a configuration change to the worker.
	TypeConfigUpdate = "config:update"
)

// WorkerIdentity is the identity block of a connected frame.
type WorkerIdentity struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Platform     string   `json:"platform"`
	Capabilities []string `json:"capabilities"`
	RunningTasks []string `json:"runningTasks"`
	Skills       []string `json:"skills,omitempty"`
}

// HeartbeatStatus is the payload of a heartbeat frame.
type HeartbeatStatus struct {
	Platform     string  `json:"platform"`
	Uptime       float64 `json:"uptime"`
	Memory       uint64  `json:"memory"`
	RunningTasks int     `json:"runningTasks"`
}

// Message is one frame on the wire. Type discriminates which of the optional
// fields are meaningful; unused fields are omitted from the encoding.
type Message struct {
	Type string `json:"type"`

	// Worker frames.
	Worker  *WorkerIdentity  `json:"worker,omitempty"`
	TaskID  string           `json:"taskId,omitempty"`
	SpaceID string           `json:"spaceId,omitempty"`
	Event   json.RawMessage  `json:"event,omitempty"`
	Result  string           `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
	Status  *HeartbeatStatus `json:"status,omitempty"`

	// Hub frames.
	Goal     string           `json:"goal,omitempty"`
	Options  map[string]any   `json:"options,omitempty"`
	Messages []budget.Message `json:"messages,omitempty"`
	Message  json.RawMessage  `json:"message,omitempty"`
	Config   map[string]any   `json:"config,omitempty"`
}

// Encode serializes a frame to its wire form.
func Encode(m *Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("encode frame: missing type")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode frame %s: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses a wire frame. Unknown types decode fine; routing on Type is
// the receiver's concern.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type")
	}
	return &m, nil
}

// NewConnected builds the identity announcement frame.
func NewConnected(identity WorkerIdentity) *Message {
	return &Message{Type: TypeConnected, Worker: &identity}
}

// NewTaskStarted builds a task:started frame.
func NewTaskStarted(taskID, spaceID string) *Message {
	return &Message{Type: TypeTaskStarted, TaskID: taskID, SpaceID: spaceID}
}

// NewTaskProgress builds a task:progress frame from an arbitrary event value.
func NewTaskProgress(taskID string, event any) (*Message, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal progress event: %w", err)
	}
	return &Message{Type: TypeTaskProgress, TaskID: taskID, Event: raw}, nil
}

// NewTaskCompleted builds a task:completed frame.
func NewTaskCompleted(taskID, result string) *Message {
	return &Message{Type: TypeTaskCompleted, TaskID: taskID, Result: result}
}

// NewTaskError builds a task:error frame.
func NewTaskError(taskID, errMsg string) *Message {
	return &Message{Type: TypeTaskError, TaskID: taskID, Error: errMsg}
}

// NewHeartbeat builds a heartbeat frame.
func NewHeartbeat(status HeartbeatStatus) *Message {
	return &Message{Type: TypeHeartbeat, Status: &status}
}

// NewTaskSubmit builds a task:submit frame.
func NewTaskSubmit(taskID, goal string, messages []budget.Message) *Message {
	return &Message{Type: TypeTaskSubmit, TaskID: taskID, Goal: goal, Messages: messages}
}

// NewTaskStop builds a task:stop frame.
func NewTaskStop(taskID string) *Message {
	return &Message{Type: TypeTaskStop, TaskID: taskID}
}
