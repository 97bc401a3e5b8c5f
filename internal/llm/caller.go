package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrEmptyResponse is returned when the provider answers with neither
// text nor tool calls.
var ErrEmptyResponse = errors.New("empty response from model")

// Completion is the result of one completion call.
type Completion struct {
	Text         string
	ToolCalls    []ToolCall
	Model        string
	InputTokens  int
	OutputTokens int
}

// Completer is the completion capability the conversation core depends
// on: a system prompt plus messages in, text (and optional tool calls)
// out.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, messages []Message, opts Options) (*Completion, error)
}

// CallerConfig controls model defaults, the per-attempt timeout and the
// retry budget of a [Caller].
type CallerConfig struct {
	Model       string
	Temperature *float64
	MaxTokens   int

	// Timeout bounds a single attempt. Default: 60 seconds.
	Timeout time.Duration

	// Attempts is the total number of tries, including the first.
	// Default: 2.
	Attempts int

	// RetryDelay is the base delay between attempts; attempt n waits
	// n*RetryDelay. Default: 500ms.
	RetryDelay time.Duration
}

func (c *CallerConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
}

// Caller implements [Completer] over a provider [Client] with a timeout
// per attempt and a bounded number of retries. It never fabricates a
// reply: when every attempt fails the last error is returned.
type Caller struct {
	client Client
	config CallerConfig
	logger *slog.Logger
}

// NewCaller wraps client.
func NewCaller(client Client, cfg CallerConfig, logger *slog.Logger) *Caller {
	cfg.applyDefaults()
	return &Caller{client: client, config: cfg, logger: logger}
}

// Complete sends systemPrompt (if non-empty) followed by messages. Zero
// fields and a nil Temperature in opts fall back to the caller defaults.
func (c *Caller) Complete(ctx context.Context, systemPrompt string, messages []Message, opts Options) (*Completion, error) {
	if opts.Model == "" {
		opts.Model = c.config.Model
	}
	if opts.Temperature == nil {
		opts.Temperature = c.config.Temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = c.config.MaxTokens
	}

	msgs := make([]Message, 0, len(messages)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, messages...)

	var lastErr error
	for attempt := 1; attempt <= c.config.Attempts; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * c.config.RetryDelay
			c.logger.Warn("retrying completion",
				"model", opts.Model, "attempt", attempt, "wait", wait, "error", lastErr)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		comp, err := c.once(ctx, opts, msgs)
		if err == nil {
			return comp, nil
		}
		lastErr = err

		// The caller gave up; retrying would ignore that.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("completion failed after %d attempts: %w", c.config.Attempts, lastErr)
}

func (c *Caller) once(ctx context.Context, opts Options, msgs []Message) (*Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Chat(callCtx, opts.Model, msgs, opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Message.Content) == "" && len(resp.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}

	c.logger.Debug("completion finished",
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return &Completion{
		Text:         resp.Message.Content,
		ToolCalls:    resp.ToolCalls,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}
