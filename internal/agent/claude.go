package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/relay/internal/budget"
)

// defaultMaxTokens is the completion cap when the agent config leaves
// MaxTokens unset.
const defaultMaxTokens = 8192

// ClaudeRunnerConfig configures a ClaudeRunner.
type ClaudeRunnerConfig struct {
	// APIKey is the Anthropic API key. If empty, ANTHROPIC_API_KEY is used.
	APIKey string
	// Model is the fallback model when the agent config names none.
	Model anthropic.Model
	// UseAWSBedrock routes calls through AWS Bedrock instead of the direct API.
	UseAWSBedrock bool
	// AWSRegion is the Bedrock region (e.g. "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS shared-config profile.
	AWSProfile string
}

// ClaudeRunner invokes agents against the Anthropic API.
type ClaudeRunner struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeRunner creates a runner for the direct API or Bedrock.
func NewClaudeRunner(cfg ClaudeRunnerConfig) (*ClaudeRunner, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}

	return &ClaudeRunner{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// Run implements Runner. System-role history entries join the agent's own
// system prompt; the rest map to the conversation. Cancellation propagates
// through ctx into the HTTP call.
func (r *ClaudeRunner) Run(ctx context.Context, req Request) (*Response, error) {
	model := r.model
	if req.Agent.Model != "" {
		model = anthropic.Model(req.Agent.Model)
	}
	maxTokens := int64(req.Agent.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var system []anthropic.TextBlockParam
	if req.Agent.SystemPrompt != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.Agent.SystemPrompt})
	}

	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case budget.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case budget.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", req.Agent.ID, err)
	}

	out := &Response{AgentID: req.Agent.ID}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Text += variant.Text
		case anthropic.ToolUseBlock:
			input, _ := json.Marshal(variant.Input)
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: input,
			})
		}
	}
	return out, nil
}
