package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/nugget/stagehand/examples"
)

// clearUmask sets the process umask to 0 so file permission assertions are
// deterministic. It restores the original umask when the test completes.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

const fakeReply = "Thanks for calling Acme Plumbing! May I have your name?"

// fakeOllama serves the two endpoints Stagehand uses. Every text embeds
// to the same vector, so every knowledge item is a perfect match.
type fakeOllama struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/embeddings":
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1, 0, 0}})
	case "/api/chat":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "qwen3:4b",
			"message":           map[string]string{"role": "assistant", "content": fakeReply},
			"done":              true,
			"prompt_eval_count": 120,
			"eval_count":        14,
		})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOllama) calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.paths {
		if p == path {
			n++
		}
	}
	return n
}

// newWorkspace writes the example workflow and knowledge files plus a
// config pointing at srv into a temp dir and returns the config path.
func newWorkspace(t *testing.T, srv *httptest.Server) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()

	wfPath := filepath.Join(dir, "workflow.yaml")
	if err := os.WriteFile(wfPath, examples.WorkflowYAML, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "knowledge.yaml"), examples.KnowledgeYAML, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := fmt.Sprintf(`agent:
  workflow_file: %s
  timezone: UTC
models:
  ollama_url: %s
retry:
  attempts: 1
data_dir: %s
log_level: error
`, wfPath, srv.URL, filepath.Join(dir, "data"))
	cfgPath = filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir, cfgPath
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), strings.NewReader(stdin), &stdout, &stderr, args)
	return stdout.String(), stderr.String(), err
}

// mustRun runs the CLI and fails the test on error.
func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, stderr, err := runCLI(t, stdin, args...)
	if err != nil {
		t.Fatalf("run %v: %v\nstderr: %s", args, err, stderr)
	}
	return out
}

func wantContains(t *testing.T, out string, subs ...string) {
	t.Helper()
	for _, s := range subs {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		out := mustRun(t, "", args...)
		wantContains(t, out, "Usage: stagehand", "validate [file]")
	}
}

func TestRun_Version(t *testing.T) {
	out := mustRun(t, "", "version")
	if !strings.HasPrefix(out, "Stagehand ") {
		t.Errorf("version output = %q", out)
	}
	wantContains(t, out, "go_version:")

	out = mustRun(t, "", "-o", "json", "version")
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("unmarshal version JSON: %v\n%s", err, out)
	}
	if info["version"] == "" {
		t.Errorf("version missing from %v", info)
	}
}

func TestRun_BadArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"dance"}, "unknown command: dance"},
		{"unknown flag", []string{"-verbose", "version"}, "unknown flag: -verbose"},
		{"bad output format", []string{"-o", "xml", "version"}, "unknown output format"},
		{"ask without text", []string{"ask"}, "usage: stagehand ask"},
		{"ingest without file", []string{"ingest"}, "usage: stagehand ingest"},
		{"bad usage window", []string{"usage", "-3"}, "usage: stagehand usage"},
		{"missing config", []string{"-config", "/nonexistent/config.yaml", "topics"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCLI(t, "", tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run %v = %v, want error containing %q", tt.args, err, tt.want)
			}
		})
	}
}

func TestRunValidate(t *testing.T) {
	t.Run("valid workflow", func(t *testing.T) {
		// The fixture takes its calendar id from the environment.
		t.Setenv("STAGEHAND_TEST_CALENDAR", "visits@acme.example")
		out := mustRun(t, "", "validate", filepath.Join("..", "..", "internal", "workflow", "testdata", "scheduling.yaml"))
		wantContains(t, out, ": ok (agent acme-plumbing)", "identify", "(terminal)")
	})

	t.Run("dangling next stage", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yaml")
		err := os.WriteFile(path, []byte(`agent_id: broken
stages:
  - id: greet
    type: identify
    name: Greet
    order: 1
    prompt_instructions: Say hello.
    next_stage_id: nowhere
`), 0o644)
		if err != nil {
			t.Fatal(err)
		}

		out, _, err := runCLI(t, "", "validate", path)
		if err == nil {
			t.Fatal("validate accepted a dangling reference")
		}
		wantContains(t, out, "invalid", `"nowhere"`)
	})

	t.Run("workflow from config", func(t *testing.T) {
		srv := httptest.NewServer(&fakeOllama{})
		defer srv.Close()
		_, cfgPath := newWorkspace(t, srv)

		wantContains(t, mustRun(t, "", "-config", cfgPath, "validate"), "workflow.yaml: ok")
	})
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()

	out := mustRun(t, "", "init", dir)

	info, err := os.Stat(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("data dir: %v", err)
	}
	if !info.IsDir() {
		t.Error("data is not a directory")
	}

	cfgInfo, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml: %v", err)
	}
	if perm := cfgInfo.Mode().Perm(); perm != 0o600 {
		t.Errorf("config.yaml mode = %o, want 600", perm)
	}

	for _, name := range []string{"workflow.yaml", "knowledge.yaml"} {
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if perm := fi.Mode().Perm(); perm != 0o644 {
			t.Errorf("%s mode = %o, want 644", name, perm)
		}
	}
	wantContains(t, out, "workflow.yaml", "knowledge.yaml", "✓")

	// The written workflow is the one validate accepts.
	got, err := os.ReadFile(filepath.Join(dir, "workflow.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, examples.WorkflowYAML) {
		t.Error("workflow.yaml differs from the embedded example")
	}
}

func TestRunInit_SkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	sentinel := []byte("# keep me\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), sentinel, 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	wantContains(t, buf.String(), "exists, skipping")
	got, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, sentinel) {
		t.Errorf("config.yaml overwritten: %q", got)
	}

	if _, err := os.Stat(filepath.Join(dir, "workflow.yaml")); err != nil {
		t.Errorf("workflow.yaml not written: %v", err)
	}
}

func TestWriteIfMissing_SurfacesErrors(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("i am a file"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	err := writeIfMissing(&buf, filepath.Join(blocker, "config.yaml"), []byte("x"), 0o600)
	if err == nil || !strings.Contains(err.Error(), "write ") {
		t.Errorf("writeIfMissing = %v, want a write error", err)
	}
}

func TestIngestAndTopics(t *testing.T) {
	fake := &fakeOllama{}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	dir, cfgPath := newWorkspace(t, srv)

	out := mustRun(t, "", "-config", cfgPath, "ingest", filepath.Join(dir, "knowledge.yaml"))
	wantContains(t, out, "Ingested 3 knowledge items for acme-plumbing", "@visit-pricing")
	if n := fake.calls("/api/embeddings"); n != 3 {
		t.Errorf("embedding calls = %d, want 3", n)
	}

	out = mustRun(t, "", "-config", cfgPath, "topics")
	wantContains(t, out, "@service-area", "Emergency Service")

	out = mustRun(t, "", "-config", cfgPath, "-o", "json", "topics")
	var topics []map[string]any
	if err := json.Unmarshal([]byte(out), &topics); err != nil {
		t.Fatalf("unmarshal topics: %v\n%s", err, out)
	}
	if len(topics) != 3 {
		t.Errorf("got %d topics, want 3", len(topics))
	}
}

func TestTopics_Empty(t *testing.T) {
	srv := httptest.NewServer(&fakeOllama{})
	defer srv.Close()
	_, cfgPath := newWorkspace(t, srv)

	wantContains(t, mustRun(t, "", "-config", cfgPath, "topics"), "No knowledge topics.")
}

func TestAsk_JSON(t *testing.T) {
	fake := &fakeOllama{}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	_, cfgPath := newWorkspace(t, srv)

	out := mustRun(t, "", "-config", cfgPath, "-o", "json", "-session", "s-1", "ask", "hello", "there")

	var res askResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("unmarshal ask result: %v\n%s", err, out)
	}
	if res.SessionID != "s-1" || res.Reply != fakeReply {
		t.Errorf("result = %+v", res)
	}
	if res.Stage != "identify" || res.NextStage != "" {
		t.Errorf("stage = %q, next = %q; want identify with no transition", res.Stage, res.NextStage)
	}
	if !slices.Equal(res.Missing, []string{"name"}) {
		t.Errorf("Missing = %v, want [name]", res.Missing)
	}
	if fake.calls("/api/chat") == 0 {
		t.Error("model never called")
	}

	// The session was persisted, so plain text output continues it.
	out = mustRun(t, "", "-config", cfgPath, "-session", "s-1", "ask", "still", "there?")
	if out != fakeReply+"\n" {
		t.Errorf("plain ask output = %q", out)
	}

	out = mustRun(t, "", "-config", cfgPath, "usage")
	wantContains(t, out, "Usage for acme-plumbing, last 30 days: 2 turns, 240 in, 28 out", "By stage:")

	out = mustRun(t, "", "-config", cfgPath, "-o", "json", "usage", "7")
	var report usageReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("unmarshal usage report: %v\n%s", err, out)
	}
	if report.Total.Turns != 2 || report.ByStage["identify"].Turns != 2 {
		t.Errorf("report = %+v, want 2 turns in identify", report)
	}
}

func TestChat_Commands(t *testing.T) {
	srv := httptest.NewServer(&fakeOllama{})
	defer srv.Close()
	_, cfgPath := newWorkspace(t, srv)

	stdin := "/state\nhello\n/state\n/reset\n/quit\nnever read\n"
	out := mustRun(t, stdin, "-config", cfgPath, "chat", "chat-1")

	wantContains(t, out,
		"Session chat-1 with acme-plumbing",
		"No turns yet.",
		fakeReply,
		"Stage: Identify Customer (identify)",
		"Missing: name",
		"Tokens: 120 in, 14 out over 1 turns",
		"Session reset.",
	)
}

func TestChat_FallbackOnProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, cfgPath := newWorkspace(t, srv)

	wantContains(t, mustRun(t, "hello\n", "-config", cfgPath, "chat"), fallbackReply)
}
