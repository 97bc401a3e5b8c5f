// Package memory keeps the message log of one conversation within a
// bounded size. Older turns are folded into a running summary by an LLM
// when the log grows past the configured message or token limits.
package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/stagehand/internal/llm"
	"github.com/nugget/stagehand/internal/prompts"
)

// Message roles.
const (
	RoleSystem = "system"
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleTool   = "tool"
)

// ToolCall records one tool invocation attached to a message.
type ToolCall struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result,omitempty"`
}

// Message is one entry in the log.
type Message struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	ToolName  string            `json:"tool_name,omitempty"` // tool messages only
	ToolCalls []ToolCall        `json:"tool_calls,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Config bounds the log.
type Config struct {
	MaxMessages int // Summarize when the log holds more messages (default 20)
	MaxTokens   int // Summarize when the estimate exceeds this (default 4000)
	KeepRecent  int // Messages kept verbatim by Summarize (default 6)
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{MaxMessages: 20, MaxTokens: 4000, KeepRecent: 6}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxMessages <= 0 {
		c.MaxMessages = d.MaxMessages
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = d.KeepRecent
	}
}

// History is the message log of one session. It is not safe for
// concurrent use; callers serialize turns per session.
type History struct {
	messages   []Message
	summary    string
	config     Config
	summarizer Summarizer
	logger     *slog.Logger
}

// NewHistory creates an empty log. summarizer may be nil, in which case
// Summarize never compresses anything.
func NewHistory(cfg Config, summarizer Summarizer, logger *slog.Logger) *History {
	cfg.applyDefaults()
	return &History{
		config:     cfg,
		summarizer: summarizer,
		logger:     logger.With("component", "history"),
	}
}

// Restore replaces the log and summary with previously persisted state.
func (h *History) Restore(messages []Message, summary string) {
	h.messages = append([]Message(nil), messages...)
	h.summary = summary
}

// Config returns the thresholds in effect.
func (h *History) Config() Config {
	return h.config
}

// Append adds m to the end of the log, stamping it if needed.
func (h *History) Append(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	h.messages = append(h.messages, m)
}

// SetSystemMessage replaces any system message with content at
// position 0.
func (h *History) SetSystemMessage(content string) {
	kept := make([]Message, 0, len(h.messages)+1)
	kept = append(kept, Message{Role: RoleSystem, Content: content, Timestamp: time.Now()})
	for _, m := range h.messages {
		if m.Role != RoleSystem {
			kept = append(kept, m)
		}
	}
	h.messages = kept
}

// Messages returns a copy of the log.
func (h *History) Messages() []Message {
	return append([]Message(nil), h.messages...)
}

// Summary returns the running summary, empty if none.
func (h *History) Summary() string {
	return h.summary
}

// Len returns the number of messages in the log.
func (h *History) Len() int {
	return len(h.messages)
}

// EstimateTokens approximates the prompt size as total content length
// divided by four, counting the summary.
func (h *History) EstimateTokens() int {
	total := len(h.summary)
	for _, m := range h.messages {
		total += len(m.Content)
	}
	return total / 4
}

// NeedsSummarization reports whether the log exceeds either limit.
func (h *History) NeedsSummarization() bool {
	return len(h.messages) > h.config.MaxMessages || h.EstimateTokens() > h.config.MaxTokens
}

// Summarize folds every non-system message except the last keepRecent
// into the running summary. It reports whether the log was compressed.
// Failures are logged and leave the log untouched.
func (h *History) Summarize(ctx context.Context, keepRecent int) bool {
	if keepRecent < 0 {
		keepRecent = 0
	}

	var system *Message
	rest := make([]Message, 0, len(h.messages))
	for i := range h.messages {
		if h.messages[i].Role == RoleSystem {
			system = &h.messages[i]
			continue
		}
		rest = append(rest, h.messages[i])
	}

	if len(rest) <= keepRecent {
		return false
	}
	if h.summarizer == nil {
		h.logger.Debug("summarization skipped: no summarizer configured")
		return false
	}

	older := rest[:len(rest)-keepRecent]
	recent := rest[len(rest)-keepRecent:]

	summary, err := h.summarizer.Summarize(ctx, older, h.summary)
	if err != nil {
		h.logger.Warn("summarization failed, keeping full history",
			"messages", len(h.messages), "error", err)
		return false
	}
	if summary == "" {
		h.logger.Warn("summarization returned nothing, keeping full history",
			"messages", len(h.messages))
		return false
	}

	rebuilt := make([]Message, 0, keepRecent+1)
	if system != nil {
		rebuilt = append(rebuilt, *system)
	}
	rebuilt = append(rebuilt, recent...)

	h.logger.Debug("history summarized",
		"compressed", len(older),
		"kept", len(recent),
		"summary_len", len(summary),
	)

	h.summary = summary
	h.messages = rebuilt
	return true
}

// FormattedMessages maps the log onto provider chat roles. A running
// summary comes first as a labelled system entry.
func (h *History) FormattedMessages() []llm.Message {
	out := make([]llm.Message, 0, len(h.messages)+1)
	if h.summary != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: prompts.SummaryMessage(h.summary)})
	}
	for _, m := range h.messages {
		switch m.Role {
		case RoleHuman:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case RoleAI:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		case RoleTool:
			out = append(out, llm.Message{Role: llm.RoleTool, Content: m.Content, ToolName: m.ToolName})
		case RoleSystem:
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: m.Content})
		}
	}
	return out
}
