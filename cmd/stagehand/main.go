// Stagehand runs staged, goal-directed conversations backed by an LLM.
//
// An agent is described by a workflow file: an ordered graph of stages,
// each with instructions and the facts it must collect before the
// conversation moves on. Stagehand extracts those facts from user
// replies, grounds answers in a knowledge store and keeps history
// bounded by summarizing older turns. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	stagehand chat [session]          Interactive conversation on stdin
//	stagehand ask [-session id] <text> Process a single turn
//	stagehand validate [workflow.yaml] Check a workflow definition
//	stagehand ingest <knowledge.yaml>  Add knowledge items
//	stagehand topics                  List knowledge topics
//	stagehand usage [days]            Report reply token usage and cost
//	stagehand init [dir]              Write example config and workflow
//	stagehand version                 Print version and build information
//	stagehand -o json version         Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/nugget/stagehand/internal/buildinfo"
	"github.com/nugget/stagehand/internal/config"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates to [run], keeping os.Exit and the process globals out of
// the application logic so the CLI can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

// options are the global flags shared by every subcommand.
type options struct {
	configPath string
	outputFmt  string // "text" (default) or "json"
	sessionID  string
}

// run is the real entry point. Conversation output goes to stdout and
// structured logs to stderr, so a chat transcript can be piped cleanly.
//
// Arguments are parsed by hand. The flag package relies on
// package-level globals, which makes concurrent calls from tests
// impossible, and the surface is small.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-session" && i+1 < len(args):
			opts.sessionID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-session="):
			opts.sessionID = strings.TrimPrefix(args[i], "-session=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "chat":
		if len(cmdArgs) > 0 {
			opts.sessionID = cmdArgs[0]
		}
		return runChat(ctx, stdin, stdout, stderr, opts)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: stagehand ask [-session id] <text>")
		}
		return runAsk(ctx, stdout, stderr, opts, strings.Join(cmdArgs, " "))
	case "validate":
		path := ""
		if len(cmdArgs) > 0 {
			path = cmdArgs[0]
		}
		return runValidate(stdout, opts, path)
	case "ingest":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: stagehand ingest <knowledge.yaml>")
		}
		return runIngest(ctx, stdout, stderr, opts, cmdArgs[0])
	case "topics":
		return runTopics(stdout, stderr, opts)
	case "usage":
		days := 30
		if len(cmdArgs) > 0 {
			n, err := strconv.Atoi(cmdArgs[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("usage: stagehand usage [days]")
			}
			days = n
		}
		return runUsage(stdout, stderr, opts, days)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Stagehand - staged LLM conversations")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: stagehand [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat [session]     Interactive conversation on stdin (/reset, /state, /quit)")
	fmt.Fprintln(w, "  ask <text>         Process a single turn")
	fmt.Fprintln(w, "  validate [file]    Check a workflow definition (default: agent.workflow_file)")
	fmt.Fprintln(w, "  ingest <file>      Add knowledge items from a YAML list")
	fmt.Fprintln(w, "  topics             List knowledge topics")
	fmt.Fprintln(w, "  usage [days]       Report reply token usage and cost (default: 30 days)")
	fmt.Fprintln(w, "  init [dir]         Write example config, workflow and knowledge files (default: .)")
	fmt.Fprintln(w, "  version            Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>     Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -session <id>      Session id for chat and ask (default: a new id)")
	fmt.Fprintln(w, "  -o, --output fmt   Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/stagehand/config.yaml, /etc/stagehand/config.yaml")
	return nil
}

// loadConfig locates and parses the YAML configuration file and builds
// the process logger from it.
func loadConfig(explicit string, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := cfg.NewLogger(logOut)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("config loaded", "path", cfgPath)
	return cfg, logger, nil
}
