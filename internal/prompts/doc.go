// Package prompts contains all LLM prompt templates used by Stagehand.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation, benefit from compile-time embedding,
// and can be validated by tests. Per-agent content (company profile, stage
// instructions) lives in workflow files; this package holds the scaffolding
// we wrap around that content (stage prompt sections, the knowledge
// guardrail, variable extraction and history summarization).
//
// Convention: each prompt category gets its own file (stage.go,
// knowledge.go, extraction.go, compaction.go) with exported functions that
// accept the dynamic parts and return the fully interpolated text.
package prompts
