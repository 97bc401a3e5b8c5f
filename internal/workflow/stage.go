package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// StageType classifies what a stage tries to accomplish.
type StageType string

// Known stage types.
const (
	TypeIdentify  StageType = "identify"
	TypeQualify   StageType = "qualify"
	TypeDiagnosis StageType = "diagnosis"
	TypeSchedule  StageType = "schedule"
	TypeSupport   StageType = "support"
	TypeHandoff   StageType = "handoff"
	TypeClosing   StageType = "closing"
	TypeCustom    StageType = "custom"
)

var knownTypes = map[StageType]bool{
	TypeIdentify: true, TypeQualify: true, TypeDiagnosis: true, TypeSchedule: true,
	TypeSupport: true, TypeHandoff: true, TypeClosing: true, TypeCustom: true,
}

// Valid reports whether t is one of the known stage types.
func (t StageType) Valid() bool {
	return knownTypes[t]
}

// ActionKind names an external tool family a stage may hint at.
type ActionKind string

// Known action kinds.
const (
	ActionCalendar    ActionKind = "calendar"
	ActionSpreadsheet ActionKind = "spreadsheet"
	ActionWebhook     ActionKind = "webhook"
	ActionHandoff     ActionKind = "handoff"
)

// requiredSettings lists the settings each action kind must carry.
var requiredSettings = map[ActionKind][]string{
	ActionCalendar:    {"calendar_id"},
	ActionSpreadsheet: {"sheet_id"},
	ActionWebhook:     {"url"},
	ActionHandoff:     nil,
}

// ActionHint names an external tool the agent may invoke once a stage's
// requirements are met. Settings are free-form strings whose required
// keys depend on Kind; they are checked when the workflow is validated.
type ActionHint struct {
	Kind     ActionKind        `yaml:"kind" json:"kind"`
	Name     string            `yaml:"name" json:"name"`
	Settings map[string]string `yaml:"settings,omitempty" json:"settings,omitempty"`
}

func (a *ActionHint) validate() error {
	req, ok := requiredSettings[a.Kind]
	if !ok {
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%s action has no name", a.Kind)
	}
	var missing []string
	for _, k := range req {
		if strings.TrimSpace(a.Settings[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%s action %q missing settings: %s", a.Kind, a.Name, strings.Join(missing, ", "))
	}
	return nil
}

// Stage is one immutable node of a workflow.
type Stage struct {
	ID                 string      `yaml:"id" json:"id"`
	Type               StageType   `yaml:"type" json:"type"`
	Name               string      `yaml:"name" json:"name"`
	Description        string      `yaml:"description,omitempty" json:"description,omitempty"`
	Conditions         string      `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	RequiredVariables  []string    `yaml:"required_variables,omitempty" json:"required_variables,omitempty"`
	PromptInstructions string      `yaml:"prompt_instructions" json:"prompt_instructions"`
	Order              int         `yaml:"order" json:"order"`
	NextStageID        string      `yaml:"next_stage_id,omitempty" json:"next_stage_id,omitempty"` // empty = terminal
	ActionHint         *ActionHint `yaml:"action_hint,omitempty" json:"action_hint,omitempty"`
}

// Terminal reports whether the stage has no successor.
func (s *Stage) Terminal() bool {
	return s.NextStageID == ""
}

func (s Stage) clone() *Stage {
	c := s
	c.RequiredVariables = append([]string(nil), s.RequiredVariables...)
	if s.ActionHint != nil {
		h := *s.ActionHint
		if s.ActionHint.Settings != nil {
			h.Settings = make(map[string]string, len(s.ActionHint.Settings))
			for k, v := range s.ActionHint.Settings {
				h.Settings[k] = v
			}
		}
		c.ActionHint = &h
	}
	return &c
}
