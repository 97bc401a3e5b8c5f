package workflow

import (
	"time"

	"github.com/nugget/stagehand/internal/vars"
)

// Session is the mutable runtime state of one conversation. Only the
// conversation engine mutates it, one turn at a time.
type Session struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agent_id"`
	CurrentStageID  string    `json:"current_stage_id,omitempty"`
	PreviousStageID string    `json:"previous_stage_id,omitempty"`
	Variables       vars.Map  `json:"variables"`
	StageHistory    []string  `json:"stage_history"`
	Summary         string    `json:"summary,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewSession returns an empty session that has not entered any stage.
func NewSession(id, agentID string) *Session {
	return &Session{
		ID:        id,
		AgentID:   agentID,
		Variables: vars.Map{},
	}
}

// Clone returns a deep copy; changes to the copy never reach s.
func (s *Session) Clone() *Session {
	c := *s
	c.Variables = s.Variables.Clone()
	c.StageHistory = append([]string(nil), s.StageHistory...)
	return &c
}

// Enter makes stageID current, remembering the previous stage and
// appending to the history. Entering the current stage again is a
// no-op.
func (s *Session) Enter(stageID string) {
	if stageID == "" || stageID == s.CurrentStageID {
		return
	}
	s.PreviousStageID = s.CurrentStageID
	s.CurrentStageID = stageID
	s.StageHistory = append(s.StageHistory, stageID)
}
