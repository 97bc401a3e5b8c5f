package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// CompanySection renders the company/context profile.
func CompanySection(profile string) string {
	return "# Company Profile\n\n" + strings.TrimSpace(profile)
}

// StageHeader renders the stage title line.
func StageHeader(name, stageType string) string {
	return fmt.Sprintf("# Current Stage: %s (%s)", name, stageType)
}

// ConditionsSection renders the advisory trigger description.
func ConditionsSection(conditions string) string {
	return "## When This Stage Applies\n\n" + strings.TrimSpace(conditions)
}

// InstructionsSection renders the stage instructions.
func InstructionsSection(instructions string) string {
	return "## Instructions\n\n" + strings.TrimSpace(instructions)
}

// KnownVariablesSection lists already-collected facts. known lines are
// pre-rendered "name: value" pairs.
func KnownVariablesSection(known []string) string {
	var sb strings.Builder
	sb.WriteString("## Already Known\n\n")
	if len(known) == 0 {
		sb.WriteString("Nothing has been collected yet.")
		return sb.String()
	}
	for i, k := range known {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- " + k)
	}
	sb.WriteString("\n\nDo not ask for these again.")
	return sb.String()
}

// MissingVariablesDirective tells the model exactly what it still has to
// collect and forbids moving on without it.
func MissingVariablesDirective(missing []string) string {
	var sb strings.Builder
	sb.WriteString("## REQUIRED BEFORE CONTINUING\n\n")
	sb.WriteString("You still need the following information from the user:\n")
	for _, m := range missing {
		sb.WriteString("- " + m + "\n")
	}
	sb.WriteString("\nAsk for the missing items naturally, one or two at a time. ")
	sb.WriteString("Do NOT proceed to the next stage, confirm anything, or take any action until every item above has been provided.")
	return sb.String()
}

// ActionHintSection describes the tool the agent may now invoke.
func ActionHintSection(kind, name string, settings map[string]string) string {
	var sb strings.Builder
	sb.WriteString("## Available Action\n\n")
	sb.WriteString(fmt.Sprintf("All required information is collected. You may now use the %q action (%s).", name, kind))
	if len(settings) > 0 {
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\nSettings:")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("\n- %s: %s", k, settings[k]))
		}
	}
	return sb.String()
}
