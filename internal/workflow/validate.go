package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the workflow as an authoring step and returns every
// problem found, joined. Checked: the workflow is not empty, stage types
// and action hints are known and complete, required variable names are
// usable, every next-stage reference resolves, and no chain of
// next-stage links loops back on itself.
func (w *Workflow) Validate() error {
	if len(w.stages) == 0 {
		return ErrEmptyWorkflow
	}

	var errs []error
	for _, s := range w.stages {
		if !s.Type.Valid() {
			errs = append(errs, fmt.Errorf("stage %q: unknown type %q", s.ID, s.Type))
		}
		if strings.TrimSpace(s.PromptInstructions) == "" {
			errs = append(errs, fmt.Errorf("stage %q: no prompt instructions", s.ID))
		}

		seen := make(map[string]bool, len(s.RequiredVariables))
		for _, name := range s.RequiredVariables {
			switch {
			case strings.TrimSpace(name) == "":
				errs = append(errs, fmt.Errorf("stage %q: empty required variable name", s.ID))
			case seen[name]:
				errs = append(errs, fmt.Errorf("stage %q: required variable %q listed twice", s.ID, name))
			}
			seen[name] = true
		}

		if s.ActionHint != nil {
			if err := s.ActionHint.validate(); err != nil {
				errs = append(errs, fmt.Errorf("stage %q: %w", s.ID, err))
			}
		}

		if !s.Terminal() {
			if _, ok := w.byID[s.NextStageID]; !ok {
				errs = append(errs, fmt.Errorf("stage %q: next stage %q: %w", s.ID, s.NextStageID, ErrDanglingReference))
			}
		}
	}

	errs = append(errs, w.cycles()...)
	return errors.Join(errs...)
}

// cycles reports each loop formed by next-stage links once. Every stage
// has at most one successor, so following the links from each stage
// either ends, or runs into a stage already on the current path.
func (w *Workflow) cycles() []error {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[string]int, len(w.stages))

	var errs []error
	for _, start := range w.stages {
		if state[start.ID] != unvisited {
			continue
		}
		var path []string
		cur := start
		for {
			state[cur.ID] = onPath
			path = append(path, cur.ID)

			next, ok := w.byID[cur.NextStageID]
			if cur.Terminal() || !ok || state[next.ID] == done {
				break
			}
			if state[next.ID] == onPath {
				loop := path[indexOf(path, next.ID):]
				errs = append(errs, fmt.Errorf("%w: %s -> %s", ErrCycle, strings.Join(loop, " -> "), next.ID))
				break
			}
			cur = next
		}
		for _, id := range path {
			state[id] = done
		}
	}
	return errs
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return 0
}
