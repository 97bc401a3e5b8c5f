package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nugget/stagehand/internal/brain"
	"github.com/nugget/stagehand/internal/config"
	"github.com/nugget/stagehand/internal/conversation"
	"github.com/nugget/stagehand/internal/usage"
	"github.com/nugget/stagehand/internal/vars"
	"github.com/nugget/stagehand/internal/workflow"
)

// fallbackReply is shown when the model could not produce a reply. The
// turn was not committed, so the user can simply try again.
const fallbackReply = "Sorry, I'm having trouble answering right now. Could you say that again?"

func newSessionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return id.String(), nil
}

// runChat reads utterances from stdin, one per line, and prints each
// reply. Lines starting with "/" are REPL commands.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options) error {
	cfg, logger, err := loadConfig(opts.configPath, stderr)
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	sessionID := opts.sessionID
	if sessionID == "" {
		if sessionID, err = newSessionID(); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "Session %s with %s. /state shows progress, /reset starts over, /quit exits.\n", sessionID, rt.workflow.AgentID)

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := rt.engine.Reset(ctx, sessionID); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Session reset.")
			continue
		case "/state":
			if err := printState(stdout, rt, sessionID); err != nil {
				return err
			}
			continue
		}

		res, err := rt.engine.Turn(ctx, sessionID, line)
		switch {
		case errors.Is(err, conversation.ErrCompletion):
			fmt.Fprintln(stdout, fallbackReply)
			continue
		case err != nil:
			return err
		}

		fmt.Fprintln(stdout, res.Reply)
		if res.Transition.ShouldTransition {
			fmt.Fprintf(stdout, "  [stage: %s -> %s]\n", res.Stage.ID, res.Transition.Next.ID)
		}
		if res.ConfigErr != nil {
			fmt.Fprintf(stdout, "  [workflow problem: %s]\n", res.ConfigErr)
		}
	}
}

func printState(w io.Writer, rt *app, sessionID string) error {
	sess, _, err := rt.engine.Session(sessionID)
	if err != nil {
		fmt.Fprintln(w, "No turns yet.")
		return nil
	}
	stage := rt.workflow.ResolveCurrentStage(sess)
	fmt.Fprintf(w, "Stage: %s (%s)\n", stage.Name, stage.ID)
	if missing := workflow.MissingVariables(stage, sess.Variables); len(missing) > 0 {
		fmt.Fprintf(w, "Missing: %s\n", strings.Join(missing, ", "))
	}
	for _, k := range sess.Variables.BoundKeys() {
		fmt.Fprintf(w, "  %s: %s\n", k, vars.String(sess.Variables[k]))
	}
	if sum, err := rt.usage.SessionSummary(sessionID); err == nil && sum.Turns > 0 {
		fmt.Fprintf(w, "Tokens: %d in, %d out over %d turns ($%.4f)\n",
			sum.TotalInputTokens, sum.TotalOutputTokens, sum.Turns, sum.TotalCostUSD)
	}
	return nil
}

// askResult is the JSON shape of "stagehand -o json ask".
type askResult struct {
	SessionID   string   `json:"session_id"`
	Reply       string   `json:"reply"`
	Stage       string   `json:"stage"`
	NextStage   string   `json:"next_stage,omitempty"`
	Variables   vars.Map `json:"variables"`
	Missing     []string `json:"missing,omitempty"`
	Knowledge   int      `json:"knowledge_items"`
	ConfigError string   `json:"config_error,omitempty"`
}

// runAsk processes a single turn. Pass -session to continue an earlier
// conversation.
func runAsk(ctx context.Context, stdout, stderr io.Writer, opts options, text string) error {
	cfg, logger, err := loadConfig(opts.configPath, stderr)
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	sessionID := opts.sessionID
	if sessionID == "" {
		if sessionID, err = newSessionID(); err != nil {
			return err
		}
	}

	res, err := rt.engine.Turn(ctx, sessionID, text)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if opts.outputFmt != "json" {
		fmt.Fprintln(stdout, res.Reply)
		return nil
	}

	out := askResult{
		SessionID: sessionID,
		Reply:     res.Reply,
		Stage:     res.Stage.ID,
		Variables: res.Session.Variables,
		Missing:   res.Transition.Missing,
		Knowledge: len(res.Retrieval.Items),
	}
	if res.Transition.ShouldTransition {
		out.NextStage = res.Transition.Next.ID
	}
	if res.ConfigErr != nil {
		out.ConfigError = res.ConfigErr.Error()
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runValidate checks a workflow file. Without a path, the workflow named
// in the config is checked.
func runValidate(stdout io.Writer, opts options, path string) error {
	if path == "" {
		cfgPath, err := config.FindConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		path = cfg.Agent.WorkflowFile
		if path == "" {
			return fmt.Errorf("usage: stagehand validate <workflow.yaml> (agent.workflow_file is not set)")
		}
	}

	wf, err := workflow.Load(path)
	if err != nil {
		return err
	}
	if err := wf.Validate(); err != nil {
		fmt.Fprintf(stdout, "%s: invalid\n", path)
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(stdout, "  - %s\n", line)
		}
		return fmt.Errorf("workflow %s has problems", path)
	}

	fmt.Fprintf(stdout, "%s: ok (agent %s)\n", path, wf.AgentID)
	for _, s := range wf.Stages() {
		next := s.NextStageID
		if next == "" {
			next = "(terminal)"
		}
		fmt.Fprintf(stdout, "  %d. %-12s %-10s requires [%s] -> %s\n",
			s.Order, s.ID, s.Type, strings.Join(s.RequiredVariables, ", "), next)
	}
	return nil
}

// runIngest adds the knowledge items listed in a YAML file.
func runIngest(ctx context.Context, stdout, stderr io.Writer, opts options, path string) error {
	cfg, logger, err := loadConfig(opts.configPath, stderr)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read knowledge file: %w", err)
	}
	var items []brain.Knowledge
	if err := yaml.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if len(items) == 0 {
		return fmt.Errorf("%s: no knowledge items", path)
	}
	for i := range items {
		if items[i].Metadata == nil {
			items[i].Metadata = map[string]string{}
		}
		if items[i].Metadata[brain.MetaSource] == "" {
			items[i].Metadata[brain.MetaSource] = "file:" + path
		}
	}

	agent, err := agentID(cfg)
	if err != nil {
		return err
	}
	b, closeBrain, err := openBrain(cfg, logger)
	if err != nil {
		return err
	}
	defer closeBrain()

	added, err := b.AddBatch(ctx, agent, items)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	fmt.Fprintf(stdout, "Ingested %d knowledge items for %s from %s\n", len(added), agent, path)
	for _, item := range added {
		fmt.Fprintf(stdout, "  @%s  %s\n", brain.Slug(item.Topic), item.Topic)
	}
	return nil
}

// runTopics lists the active knowledge topics of the configured agent.
func runTopics(stdout, stderr io.Writer, opts options) error {
	cfg, logger, err := loadConfig(opts.configPath, stderr)
	if err != nil {
		return err
	}
	agent, err := agentID(cfg)
	if err != nil {
		return err
	}
	b, closeBrain, err := openBrain(cfg, logger)
	if err != nil {
		return err
	}
	defer closeBrain()

	topics, err := b.ListTopics(agent)
	if err != nil {
		return err
	}

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(topics)
	}
	if len(topics) == 0 {
		fmt.Fprintln(stdout, "No knowledge topics.")
		return nil
	}
	for _, t := range topics {
		fmt.Fprintf(stdout, "@%-24s %-10s %s\n", brain.Slug(t.Topic), t.ContentType, t.Topic)
	}
	return nil
}

// usageReport is the JSON shape of "stagehand -o json usage".
type usageReport struct {
	AgentID string                    `json:"agent_id"`
	Since   time.Time                 `json:"since"`
	Total   *usage.Summary            `json:"total"`
	ByModel map[string]*usage.Summary `json:"by_model"`
	ByStage map[string]*usage.Summary `json:"by_stage"`
}

// runUsage reports reply token usage for the configured agent over the
// last days days.
func runUsage(stdout, stderr io.Writer, opts options, days int) error {
	cfg, _, err := loadConfig(opts.configPath, stderr)
	if err != nil {
		return err
	}
	agent, err := agentID(cfg)
	if err != nil {
		return err
	}
	ledger, err := openUsage(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	end := time.Now().Add(time.Minute)
	start := end.AddDate(0, 0, -days)

	report := usageReport{AgentID: agent, Since: start.UTC().Truncate(time.Second)}
	if report.Total, err = ledger.Summary(agent, start, end); err != nil {
		return err
	}
	if report.ByModel, err = ledger.SummaryByModel(agent, start, end); err != nil {
		return err
	}
	if report.ByStage, err = ledger.SummaryByStage(agent, start, end); err != nil {
		return err
	}

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(stdout, "Usage for %s, last %d days: %d turns, %d in, %d out, $%.4f\n",
		agent, days, report.Total.Turns, report.Total.TotalInputTokens,
		report.Total.TotalOutputTokens, report.Total.TotalCostUSD)
	printBreakdown(stdout, "By model", report.ByModel)
	printBreakdown(stdout, "By stage", report.ByStage)
	return nil
}

func printBreakdown(w io.Writer, title string, rows map[string]*usage.Summary) {
	if len(rows) == 0 {
		return
	}
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		r := rows[k]
		fmt.Fprintf(w, "  %-28s %5d turns %9d in %8d out  $%.4f\n",
			k, r.Turns, r.TotalInputTokens, r.TotalOutputTokens, r.TotalCostUSD)
	}
}
