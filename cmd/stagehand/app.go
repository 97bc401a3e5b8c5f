package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nugget/stagehand/internal/brain"
	"github.com/nugget/stagehand/internal/config"
	"github.com/nugget/stagehand/internal/conversation"
	"github.com/nugget/stagehand/internal/embeddings"
	"github.com/nugget/stagehand/internal/events"
	"github.com/nugget/stagehand/internal/extract"
	"github.com/nugget/stagehand/internal/llm"
	"github.com/nugget/stagehand/internal/memory"
	"github.com/nugget/stagehand/internal/mqtt"
	"github.com/nugget/stagehand/internal/session"
	"github.com/nugget/stagehand/internal/usage"
	"github.com/nugget/stagehand/internal/validate"
	"github.com/nugget/stagehand/internal/workflow"
)

// app holds the wired components for one agent. close releases
// databases and the MQTT connection.
type app struct {
	cfg      *config.Config
	workflow *workflow.Workflow
	engine   *conversation.Engine
	brain    *brain.Brain
	usage    *usage.Store
	bus      *events.Bus
	logger   *slog.Logger

	closers []func()
}

func (r *app) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// openBrain opens the knowledge store and its embedder. It is shared by
// the conversation runtime and the authoring commands.
func openBrain(cfg *config.Config, logger *slog.Logger) (*brain.Brain, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := brain.NewStore(filepath.Join(cfg.DataDir, "brain.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open knowledge store: %w", err)
	}

	embedder := embeddings.New(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		Timeout: cfg.Timeouts.Embed,
	})

	b := brain.New(store, embedder, brain.Config{
		SimilarityFloor: cfg.Retrieval.SimilarityFloor,
		Limit:           cfg.Retrieval.Limit,
		MaxKeywords:     cfg.Retrieval.MaxKeywords,
		EmbedTimeout:    cfg.Timeouts.Embed,
	}, logger)

	return b, func() { store.Close() }, nil
}

// openUsage opens the token usage ledger.
func openUsage(cfg *config.Config) (*usage.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	ledger, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"), cfg.Pricing)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	return ledger, nil
}

const defaultAgentID = "default"

// agentID resolves the agent that owns knowledge items without building
// the full runtime: the configured id, else the workflow's.
func agentID(cfg *config.Config) (string, error) {
	if cfg.Agent.ID != "" {
		return cfg.Agent.ID, nil
	}
	if cfg.Agent.WorkflowFile == "" {
		return defaultAgentID, nil
	}
	wf, err := workflow.Load(cfg.Agent.WorkflowFile)
	if err != nil {
		return "", err
	}
	if wf.AgentID == "" {
		return defaultAgentID, nil
	}
	return wf.AgentID, nil
}

// loadWorkflow reads and validates the agent's workflow, applying the
// agent id and company profile overrides from config.
func loadWorkflow(cfg *config.Config) (*workflow.Workflow, error) {
	if cfg.Agent.WorkflowFile == "" {
		return nil, fmt.Errorf("agent.workflow_file is not set")
	}
	wf, err := workflow.Load(cfg.Agent.WorkflowFile)
	if err != nil {
		return nil, err
	}
	if cfg.Agent.ID != "" {
		wf.AgentID = cfg.Agent.ID
	}
	if wf.AgentID == "" {
		wf.AgentID = defaultAgentID
	}
	if cfg.Agent.ProfileFile != "" {
		profile, err := os.ReadFile(cfg.Agent.ProfileFile)
		if err != nil {
			return nil, fmt.Errorf("read company profile: %w", err)
		}
		wf.CompanyProfile = string(profile)
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", cfg.Agent.WorkflowFile, err)
	}
	return wf, nil
}

// createLLMClient builds a multi-provider client. Unmapped models fall
// through to Ollama; "claude-" models go to Anthropic when a key is set.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL)
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)

	if cfg.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		multi.AddPrefix("claude-", "anthropic")
		logger.Info("anthropic provider configured")
	}

	for _, m := range []string{cfg.Models.Default, cfg.Models.Extraction, cfg.Models.Summary} {
		if strings.HasPrefix(m, "claude-") && multi.Provider(m) == "" {
			logger.Warn("claude model without anthropic.api_key, routing to ollama", "model", m)
		}
	}
	logger.Debug("llm client initialized",
		"default_model", cfg.Models.Default,
		"extraction_model", cfg.Models.Extraction,
		"summary_model", cfg.Models.Summary,
	)
	return multi
}

// newRuntime wires every component for a conversation. When MQTT is
// configured, the event forwarder runs until ctx ends.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	rt := &app{cfg: cfg, logger: logger, bus: events.New()}

	wf, err := loadWorkflow(cfg)
	if err != nil {
		return nil, err
	}
	rt.workflow = wf

	hours, err := cfg.Extraction.BusinessHours.Window()
	if err != nil {
		return nil, err
	}
	validators := validate.NewSet(hours)

	caller := llm.NewCaller(createLLMClient(cfg, logger), llm.CallerConfig{
		Model:       cfg.Models.Default,
		Temperature: cfg.Models.Temperature,
		MaxTokens:   cfg.Models.MaxTokens,
		Timeout:     cfg.Timeouts.Complete,
		Attempts:    cfg.Retry.Attempts,
		RetryDelay:  cfg.Retry.Delay,
	}, logger)

	b, closeBrain, err := openBrain(cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeBrain)
	b.SetEventBus(rt.bus)
	rt.brain = b

	sessions, err := session.NewSQLiteStore(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	rt.closers = append(rt.closers, func() { sessions.Close() })

	ledger, err := openUsage(cfg)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.closers = append(rt.closers, func() { ledger.Close() })
	rt.usage = ledger

	if cfg.MQTT.Configured() {
		if err := rt.startForwarder(ctx); err != nil {
			rt.close()
			return nil, err
		}
	}

	rt.engine = conversation.New(wf, conversation.Deps{
		Completer: caller,
		Extractor: extract.New(caller, validators, extract.Config{
			Model:         cfg.Models.Extraction,
			HistoryWindow: cfg.Extraction.HistoryWindow,
			Timeout:       cfg.Timeouts.Complete,
		}, logger),
		Retriever:  b,
		Store:      sessions,
		Locker:     session.NewLocker(),
		Bus:        rt.bus,
		Validators: validators,
		Summarizer: memory.NewLLMSummarizer(caller, llm.Options{Model: cfg.Models.Summary}),
		Usage:      ledger,
	}, conversation.Config{
		Model:       cfg.Models.Default,
		Temperature: cfg.Models.Temperature,
		MaxTokens:   cfg.Models.MaxTokens,
		History: memory.Config{
			MaxMessages: cfg.History.MaxMessages,
			MaxTokens:   cfg.History.MaxTokens,
			KeepRecent:  cfg.History.KeepRecent,
		},
		RetrievalLimit: cfg.Retrieval.Limit,
		Timezone:       cfg.Agent.Timezone,
	}, logger)

	logger.Info("agent ready",
		"agent", wf.AgentID,
		"stages", len(wf.Stages()),
		"model", cfg.Models.Default,
	)
	return rt, nil
}

func (r *app) startForwarder(ctx context.Context) error {
	instanceID, err := mqtt.LoadOrCreateInstanceID(r.cfg.DataDir)
	if err != nil {
		return err
	}
	fwd := mqtt.New(r.cfg.MQTT, instanceID, r.bus, nil, r.logger)

	fwdCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := fwd.Start(fwdCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("mqtt forwarder stopped", "error", err)
		}
	}()

	r.closers = append(r.closers, func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := fwd.Stop(stopCtx); err != nil {
			r.logger.Debug("mqtt disconnect", "error", err)
		}
		cancel()
		<-done
	})
	return nil
}
