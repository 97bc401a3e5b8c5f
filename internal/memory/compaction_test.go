package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nugget/stagehand/internal/llm"
)

type recordingCompleter struct {
	text   string
	err    error
	system string
	msgs   []llm.Message
}

func (r *recordingCompleter) Complete(_ context.Context, system string, msgs []llm.Message, _ llm.Options) (*llm.Completion, error) {
	r.system = system
	r.msgs = msgs
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Completion{Text: r.text}, nil
}

func TestLLMSummarizer(t *testing.T) {
	c := &recordingCompleter{text: "  Ana needs a plumber on Friday.  "}
	s := NewLLMSummarizer(c, llm.Options{Model: "small"})

	got, err := s.Summarize(context.Background(), []Message{
		{Role: RoleHuman, Content: "I'm Ana"},
		{Role: RoleAI, Content: "Hi Ana"},
		{Role: RoleTool, Content: "slot ok", ToolName: "calendar"},
		{Role: RoleSystem, Content: "ignored"},
	}, "earlier notes")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "Ana needs a plumber on Friday." {
		t.Errorf("summary = %q, want trimmed reply", got)
	}

	if len(c.msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(c.msgs))
	}
	p := c.msgs[0].Content
	for _, want := range []string{"User: I'm Ana\n\nAssistant: Hi Ana\n\nTool (calendar): slot ok", "earlier notes"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
	if strings.Contains(p, "ignored") {
		t.Errorf("system message leaked into prompt:\n%s", p)
	}
	if c.system != "" {
		t.Errorf("system prompt = %q, want empty", c.system)
	}
}

func TestLLMSummarizer_Error(t *testing.T) {
	s := NewLLMSummarizer(&recordingCompleter{err: errors.New("boom")}, llm.Options{})
	_, err := s.Summarize(context.Background(), []Message{{Role: RoleHuman, Content: "x"}}, "")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}
