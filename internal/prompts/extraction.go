package prompts

import (
	"fmt"
	"strings"
)

// variableExtractionTemplate asks the model for a strict JSON object. The
// format verbs are: target variable list, known variables, recent
// transcript, and the user message.
const variableExtractionTemplate = `Extract values for these variables from the user's latest message:
%s

Rules:
- Return ONLY a JSON object whose keys are a subset of the variables above.
- Use null for anything the message does not state. Never guess.
- Do not repeat values that are already known unless the user corrects them.
- A day of the week is never a person's name.

Already known:
%s

Recent conversation:
%s

User message: %s

JSON:`

// extractionSystemPrompt is the system instruction paired with the
// extraction template.
const extractionSystemPrompt = `You are a precise information extraction engine. You reply with a single JSON object and nothing else.`

// ExtractionSystemPrompt returns the system instruction for extraction calls.
func ExtractionSystemPrompt() string {
	return extractionSystemPrompt
}

// VariableExtractionPrompt returns the fully interpolated extraction prompt.
// known lines are pre-rendered "name: value" pairs.
func VariableExtractionPrompt(targets []string, known []string, transcript, utterance string) string {
	var tb strings.Builder
	for _, t := range targets {
		tb.WriteString("- " + t + "\n")
	}

	knownText := "(nothing yet)"
	if len(known) > 0 {
		knownText = strings.Join(known, "\n")
	}
	if strings.TrimSpace(transcript) == "" {
		transcript = "(none)"
	}

	return fmt.Sprintf(variableExtractionTemplate,
		strings.TrimRight(tb.String(), "\n"), knownText, transcript, utterance)
}
