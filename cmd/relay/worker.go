package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/agent"
	"github.com/ShayCichocki/relay/internal/budget"
	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/orchestrator"
	"github.com/ShayCichocki/relay/internal/protocol"
	"github.com/ShayCichocki/relay/internal/version"
	"github.com/ShayCichocki/relay/internal/worker"
)

var workerHubURL string
var workerAgentID string
var workerFanOut []string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker attached to a hub",
	Long: `Start a relay worker: connects to the hub, announces itself, and
executes submitted goals. Each goal is decomposed into a dependency plan and
run step by step; progress, results, and errors stream back to the hub.

The persona the worker runs as comes from --agent (a YAML definition in the
configured agents directory) or falls back to a plain default. With --agents,
the worker instead routes each goal through the named agents: one delegates
directly, several run in parallel and their labeled outputs are aggregated.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerHubURL, "hub-url", "", "Hub websocket URL (overrides config)")
	workerCmd.Flags().StringVar(&workerAgentID, "agent", "", "Agent definition to run as")
	workerCmd.Flags().StringSliceVar(&workerFanOut, "agents", nil, "Fan out each goal to these agents instead of planning")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	hubURL := cfg.Worker.HubURL
	if workerHubURL != "" {
		hubURL = workerHubURL
	}
	token := cfg.Hub.Token
	if hubToken != "" {
		token = hubToken
	}

	persona := agent.Agent{ID: "default", Name: "relay worker"}
	if workerAgentID != "" {
		registry := agent.NewRegistry(cfg.Worker.AgentsDir)
		resolved, err := registry.Resolve(workerAgentID)
		if err != nil {
			return fmt.Errorf("load agent %q: %w", workerAgentID, err)
		}
		persona = *resolved
	}

	runner, err := agent.NewClaudeRunner(agent.ClaudeRunnerConfig{
		APIKey:        cfg.Anthropic.APIKey,
		Model:         anthropic.Model(cfg.Anthropic.Model),
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}

	var executor worker.Executor
	if len(workerFanOut) > 0 {
		registry := agent.NewRegistry(cfg.Worker.AgentsDir)
		emitter := orchestrator.NewEventEmitter(64)
		go drainOrchestratorEvents(emitter.Events(), log.Printf)
		orch := orchestrator.New(registry, runner,
			orchestrator.WithContextWindow(cfg.Defaults.ContextWindow),
			orchestrator.WithEmitter(emitter))
		executor = worker.NewFanOutExecutor(orch, workerFanOut)
	} else {
		b := budget.CalculateContextBudget(cfg.Defaults.TokenBudget, persona.SystemPrompt, "", persona.MaxTokens)
		executor = worker.NewPlanExecutor(runner, persona, b)
	}

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	conn := worker.New(worker.Config{
		HubURL: hubURL,
		Token:  token,
		Identity: protocol.WorkerIdentity{
			ID:           workerID,
			Name:         cfg.Worker.Name,
			Version:      version.Get(),
			Capabilities: cfg.Worker.Capabilities,
		},
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		ReconnectInterval: cfg.Worker.ReconnectInterval,
	}, executor)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Stop()
	}()

	log.Printf("[worker] %s starting, hub %s", workerID, hubURL)
	return conn.Run(ctx)
}

// drainOrchestratorEvents surfaces dispatch progress in the worker log.
func drainOrchestratorEvents(events <-chan orchestrator.OrchestratorEvent, logf func(string, ...any)) {
	for ev := range events {
		switch {
		case ev.Error != nil:
			logf("[worker] %s agent=%s: %v", ev.Type, ev.AgentID, ev.Error)
		case ev.AgentID != "":
			logf("[worker] %s agent=%s", ev.Type, ev.AgentID)
		default:
			logf("[worker] %s %s", ev.Type, ev.Message)
		}
	}
}
