package prompts

import (
	"fmt"
	"strings"
)

// compactionTemplate is the prompt sent to an LLM to compress the older part
// of a conversation. The single format verb is the conversation text.
const compactionTemplate = `Summarize the conversation below in 2-3 sentences.
Preserve every named entity (people, companies, products, places) and every
fact the user has already provided (names, dates, times, contact details,
problems described). Do not add anything that was not said.

Conversation:
%s

Summary:`

// priorSummarySection is appended when an earlier summary exists so the new
// summary carries it forward instead of dropping it.
const priorSummarySection = `

Earlier summary of this same conversation (fold it into the new summary):
%s`

// SummaryLabel marks the synthetic system entry that carries the running
// summary into the model context.
const SummaryLabel = "[Summary of prior conversation]"

// CompactionPrompt returns the fully interpolated prompt for history
// summarization. priorSummary may be empty.
func CompactionPrompt(conversationText, priorSummary string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(compactionTemplate, conversationText))
	if strings.TrimSpace(priorSummary) != "" {
		sb.WriteString(fmt.Sprintf(priorSummarySection, priorSummary))
	}
	return sb.String()
}

// SummaryMessage formats a stored summary as the content of the synthetic
// system entry.
func SummaryMessage(summary string) string {
	return SummaryLabel + "\n" + summary
}
