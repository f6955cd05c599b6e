// Package budget computes and enforces a token allowance over conversation
// history. Estimates are a fast bytes/4 approximation, not a real tokenizer;
// the validation margin below exists to absorb that error.
package budget

// DefaultCompletionTokens is the completion reservation used when the caller
// passes a non-positive value.
const DefaultCompletionTokens = 4000

// FixedOverheadTokens is reserved for request framing beyond the system
// prompt, tools, and completion.
const FixedOverheadTokens = 500

// validationMarginPercent is the fraction of the total limit above which a
// context is considered invalid (provider rejection territory).
const validationMarginPercent = 95

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem marks instructions that must survive compression.
	RoleSystem Role = "system"
	// RoleUser marks caller input.
	RoleUser Role = "user"
	// RoleAssistant marks model output.
	RoleAssistant Role = "assistant"
)

// Message is one conversation history entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ContextBudget is the computed token allowance for one reasoning call.
type ContextBudget struct {
	// TotalLimit is the model's context window size in tokens.
	TotalLimit int `json:"totalLimit"`
	// SystemPrompt is the estimated system prompt size.
	SystemPrompt int `json:"systemPrompt"`
	// Tools is the estimated tool-definition size.
	Tools int `json:"tools"`
	// Completion is the reserved completion space.
	Completion int `json:"completion"`
	// Overhead is the fixed request overhead reservation.
	Overhead int `json:"overhead"`
	// AvailableForMessages is what remains for history; never negative.
	AvailableForMessages int `json:"availableForMessages"`
}

// EstimateTokenCount approximates the token count of text as
// ceil(byteLength/4). Empty text estimates to 0.
func EstimateTokenCount(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// estimateMessages sums the estimated size of every message.
func estimateMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokenCount(m.Content)
	}
	return total
}

// CalculateContextBudget computes the allowance left for conversation history
// after reserving space for the system prompt, tool definitions, completion,
// and fixed overhead. completionTokens <= 0 selects DefaultCompletionTokens.
func CalculateContextBudget(totalLimit int, systemPromptText, toolsText string, completionTokens int) ContextBudget {
	if completionTokens <= 0 {
		completionTokens = DefaultCompletionTokens
	}

	system := EstimateTokenCount(systemPromptText)
	tools := EstimateTokenCount(toolsText)

	available := totalLimit - system - tools - completionTokens - FixedOverheadTokens
	if available < 0 {
		available = 0
	}

	return ContextBudget{
		TotalLimit:           totalLimit,
		SystemPrompt:         system,
		Tools:                tools,
		Completion:           completionTokens,
		Overhead:             FixedOverheadTokens,
		AvailableForMessages: available,
	}
}

// CompressMessages returns messages unchanged when their estimated size fits
// AvailableForMessages. Otherwise it drops whole messages oldest-first until
// the rest fit, unconditionally preserving every system-role message
// regardless of age. Messages are never partially truncated.
func CompressMessages(messages []Message, b ContextBudget) []Message {
	if estimateMessages(messages) <= b.AvailableForMessages {
		return messages
	}

	systemTotal := 0
	for _, m := range messages {
		if m.Role == RoleSystem {
			systemTotal += EstimateTokenCount(m.Content)
		}
	}

	// Walk newest-to-oldest deciding which non-system messages survive.
	remaining := b.AvailableForMessages - systemTotal
	keep := make([]bool, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleSystem {
			keep[i] = true
			continue
		}
		size := EstimateTokenCount(messages[i].Content)
		if size <= remaining {
			keep[i] = true
			remaining -= size
		} else {
			// Oldest-first dropping: once one message is too big, everything
			// older (non-system) goes too, preserving contiguity.
			remaining = 0
		}
	}

	out := make([]Message, 0, len(messages))
	for i, m := range messages {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}

// ValidateContext reports whether the estimated total usage of a request fits
// within the safety margin. It is invalid exactly when estimated usage
// exceeds 95% of the total limit.
func ValidateContext(messages []Message, b ContextBudget) bool {
	used := b.SystemPrompt + b.Tools + b.Completion + b.Overhead + estimateMessages(messages)
	// Integer comparison keeps the 95% boundary exact.
	return used*100 <= b.TotalLimit*validationMarginPercent
}
