// Package workflow implements the stage graph that drives a
// conversation.
//
// A [Workflow] is an ordered set of immutable stages. Each stage lists
// the variables it requires and optionally names the stage that follows
// it. The engine operations here are pure: they decide which stage is
// current, what is still missing, whether to transition and what the
// system prompt looks like, but they never mutate a [Session] on their
// own. Transitions are one-directional and gated on every required
// variable being bound.
package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nugget/stagehand/internal/vars"
)

// Configuration errors.
var (
	ErrEmptyWorkflow     = errors.New("workflow has no stages")
	ErrDuplicateStage    = errors.New("duplicate stage id")
	ErrDanglingReference = errors.New("dangling reference")
	ErrCycle             = errors.New("stage cycle")
)

// ConfigError reports a configuration problem found while processing a
// turn. It is returned inside results so the conversation can continue
// in its current stage.
type ConfigError struct {
	StageID string
	Detail  string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("stage %q: %s: %v", e.StageID, e.Detail, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Workflow is the ordered stage graph of one agent. It is immutable
// after construction and safe for concurrent use.
type Workflow struct {
	AgentID        string
	CompanyProfile string

	stages []*Stage // sorted by Order, then ID
	byID   map[string]*Stage
}

// New builds a workflow from stages. Stage ids must be non-empty and
// unique. Reference problems are not checked here; see [Workflow.Validate].
func New(agentID, companyProfile string, stages []Stage) (*Workflow, error) {
	w := &Workflow{
		AgentID:        agentID,
		CompanyProfile: companyProfile,
		byID:           make(map[string]*Stage, len(stages)),
	}
	for i := range stages {
		s := stages[i].clone()
		if strings.TrimSpace(s.ID) == "" {
			return nil, fmt.Errorf("stage at position %d has no id", i)
		}
		if _, dup := w.byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStage, s.ID)
		}
		w.byID[s.ID] = s
		w.stages = append(w.stages, s)
	}
	sort.SliceStable(w.stages, func(i, j int) bool {
		if w.stages[i].Order != w.stages[j].Order {
			return w.stages[i].Order < w.stages[j].Order
		}
		return w.stages[i].ID < w.stages[j].ID
	})
	return w, nil
}

// Stages returns the stages in order. The returned stages are shared and
// must not be modified.
func (w *Workflow) Stages() []*Stage {
	return append([]*Stage(nil), w.stages...)
}

// Stage looks up a stage by id.
func (w *Workflow) Stage(id string) (*Stage, bool) {
	s, ok := w.byID[id]
	return s, ok
}

// InitialStage returns the stage with the lowest order, or nil for an
// empty workflow.
func (w *Workflow) InitialStage() *Stage {
	if len(w.stages) == 0 {
		return nil
	}
	return w.stages[0]
}

// ResolveCurrentStage returns the session's current stage, falling back
// to the initial stage when the session has none or names a stage that
// no longer exists.
func (w *Workflow) ResolveCurrentStage(sess *Session) *Stage {
	if sess != nil && sess.CurrentStageID != "" {
		if s, ok := w.byID[sess.CurrentStageID]; ok {
			return s
		}
	}
	return w.InitialStage()
}

// MissingVariables returns the required variables of stage that are not
// bound in v, in declaration order.
func MissingVariables(stage *Stage, v vars.Map) []string {
	if stage == nil {
		return nil
	}
	var missing []string
	for _, name := range stage.RequiredVariables {
		if !v.IsBound(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Transition reasons.
const (
	ReasonTerminal = "terminal"
	ReasonDangling = "dangling reference"
	ReasonAdvance  = "requirements met"
	ReasonNoStage  = "no current stage"
	ReasonMissing  = "missing: "
)

// Transition is the outcome of [Workflow.EvaluateTransition].
type Transition struct {
	ShouldTransition bool
	Next             *Stage
	Reason           string
	Missing          []string
	ConfigErr        *ConfigError
}

// EvaluateTransition decides whether the conversation may leave stage.
// It never transitions while a required variable is missing, and a
// dangling next-stage reference is reported through ConfigErr rather
// than failing.
func (w *Workflow) EvaluateTransition(stage *Stage, v vars.Map) Transition {
	if stage == nil {
		return Transition{Reason: ReasonNoStage}
	}
	if missing := MissingVariables(stage, v); len(missing) > 0 {
		return Transition{Reason: ReasonMissing + strings.Join(missing, ", "), Missing: missing}
	}
	if stage.Terminal() {
		return Transition{Reason: ReasonTerminal}
	}
	next, ok := w.byID[stage.NextStageID]
	if !ok {
		return Transition{
			Reason: ReasonDangling,
			ConfigErr: &ConfigError{
				StageID: stage.ID,
				Detail:  fmt.Sprintf("next stage %q does not exist", stage.NextStageID),
				Err:     ErrDanglingReference,
			},
		}
	}
	return Transition{ShouldTransition: true, Next: next, Reason: ReasonAdvance}
}

// Downstream returns the stages reachable from stage through next-stage
// links, excluding stage itself. It stops at dangling links and cycles.
func (w *Workflow) Downstream(stage *Stage) []*Stage {
	if stage == nil {
		return nil
	}
	var out []*Stage
	seen := map[string]bool{stage.ID: true}
	for cur := stage; !cur.Terminal(); {
		next, ok := w.byID[cur.NextStageID]
		if !ok || seen[next.ID] {
			break
		}
		seen[next.ID] = true
		out = append(out, next)
		cur = next
	}
	return out
}

// ExtractionTargets returns the unbound required variables of stage
// followed by those of downstream stages, without duplicates. Users
// often volunteer later facts early, so downstream variables are
// collected as soon as they appear.
func (w *Workflow) ExtractionTargets(stage *Stage, v vars.Map) []string {
	if stage == nil {
		return nil
	}
	seen := make(map[string]bool)
	var targets []string
	for _, s := range append([]*Stage{stage}, w.Downstream(stage)...) {
		for _, name := range MissingVariables(s, v) {
			if !seen[name] {
				seen[name] = true
				targets = append(targets, name)
			}
		}
	}
	return targets
}
