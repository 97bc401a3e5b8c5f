package workflow

import (
	"strings"

	"github.com/nugget/stagehand/internal/prompts"
	"github.com/nugget/stagehand/internal/vars"
)

// BuildPrompt assembles the system prompt for stage. The output is a
// deterministic function of its inputs. Sections appear in this order:
// company profile, stage header, conditions, instructions, known
// variables, the missing-variable directive, the knowledge block, and
// the action hint. The knowledge block is always present so the model
// is told explicitly when it has no grounded information; the action
// hint appears only once every required variable is bound.
func BuildPrompt(stage *Stage, variables vars.Map, missing []string, knowledge []string, companyProfile string) string {
	var sections []string

	if strings.TrimSpace(companyProfile) != "" {
		sections = append(sections, prompts.CompanySection(companyProfile))
	}

	if stage != nil {
		sections = append(sections, prompts.StageHeader(stage.Name, string(stage.Type)))
		if strings.TrimSpace(stage.Conditions) != "" {
			sections = append(sections, prompts.ConditionsSection(stage.Conditions))
		}
		sections = append(sections, prompts.InstructionsSection(stage.PromptInstructions))
	}

	var known []string
	for _, k := range variables.BoundKeys() {
		known = append(known, k+": "+vars.String(variables[k]))
	}
	sections = append(sections, prompts.KnownVariablesSection(known))

	if len(missing) > 0 {
		sections = append(sections, prompts.MissingVariablesDirective(missing))
	}

	sections = append(sections, prompts.KnowledgeSection(knowledge))

	if stage != nil && stage.ActionHint != nil && len(MissingVariables(stage, variables)) == 0 {
		h := stage.ActionHint
		sections = append(sections, prompts.ActionHintSection(string(h.Kind), h.Name, h.Settings))
	}

	return strings.Join(sections, "\n\n")
}
