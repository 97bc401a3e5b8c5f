// Package conversation runs one inbound turn of a staged conversation:
// resolve the stage, extract and merge variables, retrieve knowledge,
// ask the model for a reply, advance the stage and persist the result.
//
// A turn works on a clone of the stored session and commits it only
// after the reply is in hand. A turn that fails or is cancelled leaves
// the stored session exactly as it was. Turns for the same session are
// serialized through a [session.Locker]; different sessions run in
// parallel.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/stagehand/internal/brain"
	"github.com/nugget/stagehand/internal/conditions"
	"github.com/nugget/stagehand/internal/events"
	"github.com/nugget/stagehand/internal/extract"
	"github.com/nugget/stagehand/internal/llm"
	"github.com/nugget/stagehand/internal/memory"
	"github.com/nugget/stagehand/internal/session"
	"github.com/nugget/stagehand/internal/usage"
	"github.com/nugget/stagehand/internal/validate"
	"github.com/nugget/stagehand/internal/workflow"
)

// ErrCompletion wraps a reply completion that failed after retries. The
// caller decides what to tell the user; the engine never invents a
// reply.
var ErrCompletion = errors.New("reply completion failed")

// ErrEmptyUtterance is returned for blank input.
var ErrEmptyUtterance = errors.New("empty utterance")

// Extractor produces variable bindings from one utterance.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) extract.Result
}

// Retriever looks up verified knowledge for a query.
type Retriever interface {
	Retrieve(ctx context.Context, agentID, query string, limit int) brain.Retrieval
}

// UsageRecorder keeps a ledger of the tokens spent on replies.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Deps are the collaborators of an [Engine]. Completer and Store are
// required; the rest degrade to no-ops when nil.
type Deps struct {
	Completer  llm.Completer
	Extractor  Extractor
	Retriever  Retriever
	Store      session.Store
	Locker     *session.Locker
	Bus        *events.Bus
	Validators *validate.Set
	Summarizer memory.Summarizer
	Usage      UsageRecorder
}

// Config tunes an [Engine].
type Config struct {
	// Reply model parameters. Zero values and a nil Temperature use the
	// completer defaults.
	Model       string
	Temperature *float64
	MaxTokens   int

	History memory.Config

	// RetrievalLimit caps knowledge items per turn. Default: 3.
	RetrievalLimit int

	// Timezone for the Current Conditions section. Empty uses the
	// local zone.
	Timezone string

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// Usage reports tokens spent on the reply completion.
type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
}

// Result is the outcome of one committed turn.
type Result struct {
	Reply string

	// Session is a snapshot of the committed session.
	Session *workflow.Session

	// Stage is the stage the reply was generated for. When Transition
	// advanced, Session.CurrentStageID already names the next stage.
	Stage *workflow.Stage

	Transition workflow.Transition
	Extraction extract.Result
	Retrieval  brain.Retrieval

	// ConfigErr is set when the workflow has a problem the turn ran
	// into, such as a dangling next-stage reference. The conversation
	// stays in its current stage.
	ConfigErr *workflow.ConfigError

	Summarized bool
	Usage      Usage
}

// Engine processes turns for one agent's workflow. It is safe for
// concurrent use across sessions.
type Engine struct {
	workflow *workflow.Workflow
	deps     Deps
	config   Config
	logger   *slog.Logger
}

// New creates an engine for wf.
func New(wf *workflow.Workflow, deps Deps, cfg Config, logger *slog.Logger) *Engine {
	if cfg.RetrievalLimit <= 0 {
		cfg.RetrievalLimit = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Locker == nil {
		deps.Locker = session.NewLocker()
	}
	if deps.Validators == nil {
		deps.Validators = validate.NewSet(validate.DefaultBusinessHours())
	}
	return &Engine{
		workflow: wf,
		deps:     deps,
		config:   cfg,
		logger:   logger.With("component", "conversation", "agent", wf.AgentID),
	}
}

// Workflow returns the workflow the engine runs.
func (e *Engine) Workflow() *workflow.Workflow {
	return e.workflow
}

// Turn processes utterance for sessionID, creating the session on its
// first turn. A completion failure returns an error wrapping
// [ErrCompletion] and commits nothing.
func (e *Engine) Turn(ctx context.Context, sessionID, utterance string) (*Result, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, ErrEmptyUtterance
	}
	start := e.config.Now()
	log := e.logger.With("session", sessionID)

	unlock, err := e.deps.Locker.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer unlock()

	sess, stored, err := e.load(sessionID)
	if err != nil {
		return nil, err
	}

	stage := e.workflow.ResolveCurrentStage(sess)
	if stage == nil {
		return nil, fmt.Errorf("agent %s: %w", e.workflow.AgentID, workflow.ErrEmptyWorkflow)
	}
	if sess.CurrentStageID != stage.ID {
		if sess.CurrentStageID != "" {
			log.Warn("session stage no longer exists, restarting at initial stage",
				"stale_stage", sess.CurrentStageID, "stage", stage.ID)
		}
		sess.Enter(stage.ID)
	}

	e.deps.Bus.Emit(events.SourceConversation, events.KindTurnStart, map[string]any{
		"agent_id":      e.workflow.AgentID,
		"session_id":    sessionID,
		"stage":         stage.ID,
		"utterance_len": len(utterance),
	})

	history := memory.NewHistory(e.config.History, e.deps.Summarizer, e.logger)
	history.Restore(stored, sess.Summary)
	history.Append(memory.Message{Role: memory.RoleHuman, Content: utterance, Timestamp: start})

	res := &Result{Stage: stage}

	if e.deps.Extractor != nil {
		res.Extraction = e.deps.Extractor.Extract(ctx, extract.Request{
			Utterance: utterance,
			Targets:   e.workflow.ExtractionTargets(stage, sess.Variables),
			Existing:  sess.Variables,
			History:   history.Messages(),
		})
		sess.Variables = extract.Merge(sess.Variables, res.Extraction.Bindings, extract.MergeOptions{
			ProtectExisting:     true,
			ValidateBeforeMerge: true,
			Validator:           e.deps.Validators,
		})
	}

	if e.deps.Retriever != nil {
		res.Retrieval = e.deps.Retriever.Retrieve(ctx, e.workflow.AgentID, utterance, e.config.RetrievalLimit)
	}

	missing := workflow.MissingVariables(stage, sess.Variables)
	// Current Conditions leads the prompt so the stage sections keep
	// their order and the action hint stays last.
	prompt := conditions.CurrentConditions(start, e.config.Timezone, e.deps.Validators.Hours()) + "\n\n" +
		workflow.BuildPrompt(stage, sess.Variables, missing, res.Retrieval.Items, e.workflow.CompanyProfile)
	history.SetSystemMessage(prompt)

	log.Debug("prompt assembled",
		"stage", stage.ID,
		"missing", missing,
		"knowledge", len(res.Retrieval.Items),
		"prompt_len", len(prompt),
	)

	comp, err := e.deps.Completer.Complete(ctx, "", history.FormattedMessages(), llm.Options{
		Model:       e.config.Model,
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
	})
	if err != nil {
		e.fail(sessionID, err)
		return nil, fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	res.Reply = comp.Text
	res.Usage = Usage{Model: comp.Model, InputTokens: comp.InputTokens, OutputTokens: comp.OutputTokens}
	history.Append(memory.Message{Role: memory.RoleAI, Content: comp.Text, Timestamp: e.config.Now()})

	res.Transition = e.workflow.EvaluateTransition(stage, sess.Variables)
	if res.Transition.ConfigErr != nil {
		res.ConfigErr = res.Transition.ConfigErr
		log.Warn("workflow configuration error, staying in stage",
			"stage", stage.ID, "error", res.ConfigErr)
	}
	if res.Transition.ShouldTransition {
		sess.Enter(res.Transition.Next.ID)
	}

	if history.NeedsSummarization() {
		res.Summarized = history.Summarize(ctx, history.Config().KeepRecent)
	}
	sess.Summary = history.Summary()

	// Nothing is committed once the caller has given up.
	if err := ctx.Err(); err != nil {
		e.fail(sessionID, err)
		return nil, err
	}

	sess.UpdatedAt = e.config.Now()
	if err := e.deps.Store.Save(sess, conversationMessages(history.Messages())); err != nil {
		e.fail(sessionID, err)
		return nil, fmt.Errorf("save session %s: %w", sessionID, err)
	}
	res.Session = sess.Clone()

	e.recordUsage(ctx, sess, stage, res)
	e.publish(sessionID, stage, res, start)

	log.Info("turn complete",
		"stage", stage.ID,
		"next", sess.CurrentStageID,
		"extracted", len(res.Extraction.Bindings),
		"knowledge", len(res.Retrieval.Items),
		"elapsed", e.config.Now().Sub(start).Round(time.Millisecond),
	)
	return res, nil
}

// Session returns a snapshot of the stored session and its messages.
func (e *Engine) Session(id string) (*workflow.Session, []memory.Message, error) {
	return e.deps.Store.Load(id)
}

// Reset deletes the stored session so the next turn starts over.
func (e *Engine) Reset(ctx context.Context, id string) error {
	unlock, err := e.deps.Locker.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", id, err)
	}
	defer unlock()

	if err := e.deps.Store.Delete(id); err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// load returns a working copy of the stored session, or a fresh one.
func (e *Engine) load(id string) (*workflow.Session, []memory.Message, error) {
	stored, messages, err := e.deps.Store.Load(id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return workflow.NewSession(id, e.workflow.AgentID), nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return stored.Clone(), messages, nil
}

// recordUsage runs after commit; a ledger failure does not undo the turn.
func (e *Engine) recordUsage(ctx context.Context, sess *workflow.Session, stage *workflow.Stage, res *Result) {
	if e.deps.Usage == nil {
		return
	}
	err := e.deps.Usage.Record(ctx, usage.Record{
		Timestamp:    sess.UpdatedAt,
		AgentID:      sess.AgentID,
		SessionID:    sess.ID,
		StageID:      stage.ID,
		Model:        res.Usage.Model,
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
	})
	if err != nil {
		e.logger.Warn("usage not recorded", "session", sess.ID, "error", err)
	}
}

func (e *Engine) fail(sessionID string, err error) {
	e.logger.Warn("turn not committed", "session", sessionID, "error", err)
	e.deps.Bus.Emit(events.SourceConversation, events.KindTurnFailed, map[string]any{
		"session_id": sessionID,
		"error":      err.Error(),
	})
}

func (e *Engine) publish(sessionID string, stage *workflow.Stage, res *Result, start time.Time) {
	bus := e.deps.Bus

	bus.Emit(events.SourceConversation, events.KindExtraction, map[string]any{
		"session_id": sessionID,
		"source":     string(res.Extraction.Source),
		"accepted":   res.Extraction.Bindings.Keys(),
		"rejected":   res.Extraction.Rejected,
		"confidence": res.Extraction.Confidence,
	})
	bus.Emit(events.SourceConversation, events.KindRetrieval, map[string]any{
		"session_id": sessionID,
		"mode":       res.Retrieval.Mode,
		"items":      len(res.Retrieval.Items),
		"topics":     res.Retrieval.Topics,
		"top_score":  res.Retrieval.TopScore,
	})
	if res.Transition.ShouldTransition {
		bus.Emit(events.SourceConversation, events.KindTransition, map[string]any{
			"session_id": sessionID,
			"from":       stage.ID,
			"to":         res.Transition.Next.ID,
		})
	}
	if res.ConfigErr != nil {
		bus.Emit(events.SourceConversation, events.KindConfigError, map[string]any{
			"session_id": sessionID,
			"stage":      res.ConfigErr.StageID,
			"error":      res.ConfigErr.Error(),
		})
	}
	if res.Summarized {
		bus.Emit(events.SourceConversation, events.KindSummarized, map[string]any{
			"session_id":  sessionID,
			"summary_len": len(res.Session.Summary),
		})
	}
	bus.Emit(events.SourceConversation, events.KindTurnComplete, map[string]any{
		"session_id": sessionID,
		"stage":      res.Session.CurrentStageID,
		"model":      res.Usage.Model,
		"tokens_in":  res.Usage.InputTokens,
		"tokens_out": res.Usage.OutputTokens,
		"elapsed_ms": e.config.Now().Sub(start).Milliseconds(),
	})
}

// conversationMessages drops the system prompt, which is rebuilt every
// turn.
func conversationMessages(msgs []memory.Message) []memory.Message {
	out := make([]memory.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != memory.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
