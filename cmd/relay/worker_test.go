package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ShayCichocki/relay/internal/orchestrator"
)

func TestDrainOrchestratorEvents(t *testing.T) {
	events := make(chan orchestrator.OrchestratorEvent, 3)
	events <- orchestrator.OrchestratorEvent{Type: orchestrator.EventFanoutStarted, Message: "2 agents"}
	events <- orchestrator.OrchestratorEvent{Type: orchestrator.EventAgentCompleted, AgentID: "A"}
	events <- orchestrator.OrchestratorEvent{Type: orchestrator.EventAgentFailed, AgentID: "B", Error: errors.New("model refused")}
	close(events)

	var lines []string
	drainOrchestratorEvents(events, func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	})

	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "fanout_started") || !strings.Contains(lines[0], "2 agents") {
		t.Errorf("fan-out start not surfaced: %q", lines[0])
	}
	if !strings.Contains(lines[1], "agent=A") {
		t.Errorf("completion not surfaced: %q", lines[1])
	}
	if !strings.Contains(lines[2], "agent=B") || !strings.Contains(lines[2], "model refused") {
		t.Errorf("failure not surfaced: %q", lines[2])
	}
}
