package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/stagehand/internal/llm"
	"github.com/nugget/stagehand/internal/prompts"
)

// Summarizer compresses older messages into a short text. priorSummary
// carries the previous running summary forward and may be empty.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message, priorSummary string) (string, error)
}

// LLMSummarizer uses an LLM to generate summaries.
type LLMSummarizer struct {
	completer llm.Completer
	opts      llm.Options
}

// NewLLMSummarizer creates a summarizer that uses an LLM.
func NewLLMSummarizer(completer llm.Completer, opts llm.Options) *LLMSummarizer {
	return &LLMSummarizer{completer: completer, opts: opts}
}

// Summarize asks the model for a 2-3 sentence compression that keeps
// named entities and collected facts.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []Message, priorSummary string) (string, error) {
	prompt := prompts.CompactionPrompt(transcript(messages), priorSummary)

	comp, err := s.completer.Complete(ctx, "", []llm.Message{{Role: llm.RoleUser, Content: prompt}}, s.opts)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(comp.Text), nil
}

// transcript renders messages as "Speaker: content" paragraphs.
func transcript(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		var speaker string
		switch m.Role {
		case RoleHuman:
			speaker = "User"
		case RoleAI:
			speaker = "Assistant"
		case RoleTool:
			speaker = "Tool"
			if m.ToolName != "" {
				speaker += " (" + m.ToolName + ")"
			}
		default:
			continue
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n\n", speaker, m.Content))
	}
	return strings.TrimRight(sb.String(), "\n")
}
