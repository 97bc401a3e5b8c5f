package llm

import "time"

// Chat roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ToolName string `json:"tool_name,omitempty"` // For tool results
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Options are per-request model parameters. Zero values mean "provider
// default"; a nil Temperature is unset, so 0 can be requested
// explicitly.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Temp returns a pointer to v for [Options.Temperature].
func Temp(v float64) *float64 { return &v }

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries (ollama.go,
// anthropic.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	ToolCalls []ToolCall

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	TotalDuration time.Duration
}
