package prompts

import (
	"fmt"
	"strings"
)

// Context boundary markers. The model may only assert facts found between
// them.
const (
	ContextBegin = "<<<VERIFIED_CONTEXT>>>"
	ContextEnd   = "<<<END_VERIFIED_CONTEXT>>>"
)

const knowledgeGuardrail = `# Verified Knowledge

Only state facts that appear inside the %s ... %s boundary below.
If the answer is not inside the boundary, say "I don't know" (or offer to
find out) instead of guessing. Never invent prices, policies, dates or
product details.

%s
%s
%s`

const noKnowledgeNotice = `# Verified Knowledge

No verified information was found for this message. You have no grounded
facts to rely on: if the user asks something factual about the company,
products or policies, say "I don't know" rather than guessing.`

// KnowledgeSection wraps retrieved items in the context boundary together
// with the guardrail instruction. With no items it returns the explicit
// no-knowledge notice.
func KnowledgeSection(items []string) string {
	if len(items) == 0 {
		return noKnowledgeNotice
	}
	return fmt.Sprintf(knowledgeGuardrail, ContextBegin, ContextEnd,
		ContextBegin, strings.Join(items, "\n\n---\n\n"), ContextEnd)
}
