package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaClient_Chat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"qwen3:4b","created_at":"2026-10-15T10:00:00Z","message":{"role":"assistant","content":"Hello John"},"done":true,"prompt_eval_count":12,"eval_count":3}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	resp, err := c.Chat(context.Background(), "qwen3:4b", []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleTool, ToolName: "calendar", Content: "booked"},
	}, Options{Temperature: Temp(0.2), MaxTokens: 64})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Message.Content != "Hello John" {
		t.Errorf("Content = %q, want %q", resp.Message.Content, "Hello John")
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("tokens = %d/%d, want 12/3", resp.InputTokens, resp.OutputTokens)
	}
	if resp.CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}

	if got.Stream {
		t.Error("request asked for streaming")
	}
	if got.Options == nil {
		t.Fatal("request carried no options")
	}
	if got.Options.NumPredict != 64 {
		t.Errorf("NumPredict = %d, want 64", got.Options.NumPredict)
	}
	if got.Options.Temperature == nil || *got.Options.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", got.Options.Temperature)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("sent %d messages, want 2", len(got.Messages))
	}
	if got.Messages[1].Content != "[calendar] booked" {
		t.Errorf("tool message = %q", got.Messages[1].Content)
	}
}

func TestOllamaClient_SendsZeroTemperature(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"qwen3:4b","message":{"role":"assistant","content":"ok"},"done":true}`))
	}))
	defer srv.Close()

	if _, err := NewOllamaClient(srv.URL).Chat(context.Background(), "qwen3:4b", nil, Options{Temperature: Temp(0)}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	opts, ok := raw["options"].(map[string]any)
	if !ok {
		t.Fatalf("options missing from request: %v", raw)
	}
	if temp, ok := opts["temperature"]; !ok || temp != float64(0) {
		t.Errorf("temperature = %v (present %v), want 0", temp, ok)
	}
}

func TestOllamaClient_ChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL).Chat(context.Background(), "nope", nil, Options{})
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("err = %v, want status and body", err)
	}
}

func TestConvertToAnthropic(t *testing.T) {
	msgs, system := convertToAnthropic([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleSystem, Content: "b"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleTool, ToolName: "lookup", Content: "42"},
		{Role: RoleAssistant, Content: "answer"},
	})

	if system != "a\n\nb" {
		t.Errorf("system = %q, want %q", system, "a\n\nb")
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || !strings.Contains(msgs[0].Content, "[tool result: lookup]") {
		t.Errorf("msgs[0] = %+v, want user turn carrying the tool result", msgs[0])
	}
	if msgs[1].Role != RoleAssistant {
		t.Errorf("msgs[1].Role = %q, want assistant", msgs[1].Role)
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if k := r.Header.Get("x-api-key"); k != "secret" {
			t.Errorf("x-api-key = %q", k)
		}
		if v := r.Header.Get("anthropic-version"); v != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", v)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"claude","content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"},{"type":"tool_use","id":"t1","name":"book","input":{"day":"monday"}}],"usage":{"input_tokens":5,"output_tokens":2}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("secret", nil)
	c.url = srv.URL

	resp, err := c.Chat(context.Background(), "claude", []Message{{Role: RoleUser, Content: "hello"}}, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "Hi there" {
		t.Errorf("Content = %q, want %q", resp.Message.Content, "Hi there")
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "book" {
		t.Errorf("ToolCalls = %+v, want one book call", resp.ToolCalls)
	}
	if got.MaxTokens != anthropicDefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", got.MaxTokens, anthropicDefaultMaxTokens)
	}
	if got.Temperature != nil {
		t.Errorf("Temperature = %v, want unset", *got.Temperature)
	}

	if _, err := c.Chat(context.Background(), "claude", nil, Options{Temperature: Temp(0)}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got.Temperature == nil || *got.Temperature != 0 {
		t.Errorf("Temperature = %v, want explicit 0", got.Temperature)
	}
}

func TestMultiClient_Routes(t *testing.T) {
	local := &scriptedClient{replies: []*ChatResponse{reply("local")}}
	remote := &scriptedClient{replies: []*ChatResponse{reply("remote")}}

	m := NewMultiClient(local)
	m.AddProvider("anthropic", remote)
	m.AddModel("claude", "anthropic")

	r, err := m.Chat(context.Background(), "claude", nil, Options{})
	if err != nil {
		t.Fatalf("Chat(claude): %v", err)
	}
	if r.Message.Content != "remote" {
		t.Errorf("claude routed to %q, want remote", r.Message.Content)
	}

	r, err = m.Chat(context.Background(), "qwen", nil, Options{})
	if err != nil {
		t.Fatalf("Chat(qwen): %v", err)
	}
	if r.Message.Content != "local" {
		t.Errorf("qwen routed to %q, want local", r.Message.Content)
	}

	if _, err := NewMultiClient(nil).Chat(context.Background(), "x", nil, Options{}); err == nil {
		t.Error("expected error with no fallback client")
	}
}

func TestMultiClient_Prefix(t *testing.T) {
	local := &scriptedClient{replies: []*ChatResponse{reply("local")}}
	remote := &scriptedClient{replies: []*ChatResponse{reply("remote")}}

	m := NewMultiClient(local)
	m.AddProvider("ollama", local)
	m.AddProvider("anthropic", remote)
	m.AddPrefix("claude-", "anthropic")
	m.AddModel("claude-local-finetune", "ollama")
	m.AddPrefix("gpt-", "openai") // no such provider

	tests := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-20250514", "anthropic"},
		{"claude-local-finetune", "ollama"},
		{"gpt-4o", ""},
		{"qwen3:4b", ""},
	}
	for _, tt := range tests {
		if got := m.Provider(tt.model); got != tt.want {
			t.Errorf("Provider(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}

	r, err := m.Chat(context.Background(), "claude-haiku", nil, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if r.Message.Content != "remote" {
		t.Errorf("claude-haiku routed to %q, want remote", r.Message.Content)
	}
}
