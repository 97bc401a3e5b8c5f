// Package extract turns a user utterance into typed variable bindings.
//
// An LLM is asked for a strict JSON object covering the target
// variables. When the call fails or the reply holds no parsable object,
// a fixed table of regular expressions runs against the utterance
// instead. Either way, every candidate goes through the validator set
// and only normalized, valid values survive. Extraction never returns an
// error: a turn that teaches nothing yields an unsuccessful, empty
// [Result].
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/stagehand/internal/llm"
	"github.com/nugget/stagehand/internal/memory"
	"github.com/nugget/stagehand/internal/prompts"
	"github.com/nugget/stagehand/internal/validate"
	"github.com/nugget/stagehand/internal/vars"
)

// Source records where a result's bindings came from.
type Source string

const (
	SourceNone     Source = "none"
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
)

// Request is the input for one extraction.
type Request struct {
	Utterance string
	Targets   []string
	Existing  vars.Map
	History   []memory.Message
}

// Result is the outcome of one extraction. Success is false when no
// binding was accepted, which callers treat as "nothing new learned".
type Result struct {
	Success    bool
	Bindings   vars.Map
	Confidence float64
	Source     Source
	Rejected   []string
}

// Config controls the extraction call.
type Config struct {
	// Model overrides the completer's default model.
	Model string

	// HistoryWindow is the number of trailing history messages shown
	// to the model. Default: 6.
	HistoryWindow int

	// Timeout bounds the extraction call. Default: 20 seconds.
	Timeout time.Duration
}

// Extractor runs extraction for one agent. It holds no per-session
// state and is safe for concurrent use.
type Extractor struct {
	completer  llm.Completer
	validators *validate.Set
	config     Config
	logger     *slog.Logger
}

// New creates an extractor. A nil completer means regex-only
// extraction.
func New(completer llm.Completer, validators *validate.Set, cfg Config, logger *slog.Logger) *Extractor {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 6
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if validators == nil {
		validators = validate.NewSet(validate.DefaultBusinessHours())
	}
	return &Extractor{
		completer:  completer,
		validators: validators,
		config:     cfg,
		logger:     logger.With("component", "extract"),
	}
}

// Extract produces bindings for req.Targets from req.Utterance.
func (e *Extractor) Extract(ctx context.Context, req Request) Result {
	res := Result{Bindings: vars.Map{}, Source: SourceNone}
	if len(req.Targets) == 0 || strings.TrimSpace(req.Utterance) == "" {
		return res
	}

	candidates, err := e.fromLLM(ctx, req)
	if err != nil {
		e.logger.Warn("llm extraction failed, using pattern fallback", "error", err)
		candidates = Fallback(req.Utterance, req.Targets, e.validators)
		res.Source = SourceFallback
	} else {
		res.Source = SourceLLM
	}

	for _, target := range req.Targets {
		raw, ok := candidates[target]
		if !ok {
			continue
		}
		check := e.validators.Check(target, raw)
		if !check.Valid {
			res.Rejected = append(res.Rejected, target)
			e.logger.Debug("extracted value rejected", "variable", target, "value", raw)
			continue
		}
		res.Bindings[target] = check.Normalized
	}

	res.Success = len(res.Bindings) > 0
	res.Confidence = float64(len(res.Bindings)) / float64(len(req.Targets))

	e.logger.Debug("extraction complete",
		"source", res.Source,
		"targets", len(req.Targets),
		"accepted", len(res.Bindings),
		"rejected", len(res.Rejected),
	)
	return res
}

func (e *Extractor) fromLLM(ctx context.Context, req Request) (map[string]any, error) {
	if e.completer == nil {
		return nil, fmt.Errorf("no completer configured")
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	prompt := prompts.VariableExtractionPrompt(req.Targets, knownLines(req.Existing),
		e.transcript(req.History, req.Utterance), req.Utterance)

	comp, err := e.completer.Complete(ctx, prompts.ExtractionSystemPrompt(),
		[]llm.Message{{Role: llm.RoleUser, Content: prompt}},
		llm.Options{Model: e.config.Model})
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}

	return ParseBindings(comp.Text, req.Targets)
}

// transcript renders the trailing history window, omitting the current
// utterance when it is already the last entry.
func (e *Extractor) transcript(history []memory.Message, utterance string) string {
	if n := len(history); n > 0 && history[n-1].Role == memory.RoleHuman && history[n-1].Content == utterance {
		history = history[:n-1]
	}
	if len(history) > e.config.HistoryWindow {
		history = history[len(history)-e.config.HistoryWindow:]
	}

	var sb strings.Builder
	for _, m := range history {
		switch m.Role {
		case memory.RoleHuman:
			sb.WriteString("User: ")
		case memory.RoleAI:
			sb.WriteString("Assistant: ")
		default:
			continue
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func knownLines(existing vars.Map) []string {
	var lines []string
	for _, k := range existing.BoundKeys() {
		lines = append(lines, k+": "+vars.String(existing[k]))
	}
	return lines
}

// ParseBindings decodes the first JSON object in text and keeps only
// target keys with bound values.
func ParseBindings(text string, targets []string) (map[string]any, error) {
	obj, ok := firstJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("parse extraction JSON: %w", err)
	}

	out := make(map[string]any, len(targets))
	for _, t := range targets {
		v, ok := raw[t]
		if !ok || !vars.Bound(v) {
			continue
		}
		switch v.(type) {
		case string, float64, bool:
			out[t] = v
		}
	}
	return out, nil
}

// firstJSONObject returns the first balanced {...} span, ignoring braces
// inside JSON strings.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
