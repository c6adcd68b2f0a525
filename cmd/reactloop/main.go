// SPDX-License-Identifier: Apache-2.0

// Command reactloop runs reasoning loops against the configured oracle and
// inspects archived transcripts and plans.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jllopis/reactloop/pkg/config"
)

const version = "v0.1.0"

// jsonErrors switches fatal errors to JSON once --json is parsed.
var jsonErrors bool

type globalFlags struct {
	ConfigArgs []string
	ConfigPath string
	Profile    string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

// command is a subcommand. Commands that never touch configuration run
// before it is loaded, so a broken config file cannot hide the usage text.
type command struct {
	run        func(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) int
	needConfig bool
}

func commands() map[string]command {
	noConfig := func(f func()) command {
		return command{run: func(context.Context, globalFlags, *config.Config, []string) int { f(); return 0 }}
	}
	void := func(f func(context.Context, globalFlags, *config.Config, []string)) command {
		return command{needConfig: true, run: func(ctx context.Context, g globalFlags, c *config.Config, a []string) int {
			f(ctx, g, c, a)
			return 0
		}}
	}
	return map[string]command{
		"help":        noConfig(printUsage),
		"version":     noConfig(func() { fmt.Println(version) }),
		"run":         {run: runRun, needConfig: true},
		"plan":        void(runPlan),
		"transcripts": void(runTranscripts),
		"actions":     void(runActions),
	}
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(NewInvalidArgumentError("global flags", err.Error()))
	}
	jsonErrors = global.JSON
	if global.Help || len(args) == 0 {
		printUsage()
		return 0
	}

	cmd, ok := commands()[args[0]]
	if !ok {
		fatal(NewInvalidArgumentError("command", fmt.Sprintf("unknown command %q", args[0])))
	}
	var cfg *config.Config
	if cmd.needConfig {
		if cfg, err = config.LoadWithCLI(global.ConfigArgs); err != nil {
			fatal(NewConfigError(err, global.ConfigPath))
		}
	}
	return cmd.run(ctx, global, cfg, args[1:])
}

// configArg records a config flag in ConfigArgs, in command-line order,
// so config.LoadWithCLI sees the same sequence.
type configArg struct {
	name   string
	flags  *globalFlags
	target *string
}

func (c configArg) String() string { return "" }

func (c configArg) Set(v string) error {
	if c.target != nil {
		*c.target = v
	}
	c.flags.ConfigArgs = append(c.flags.ConfigArgs, "--"+c.name, v)
	return nil
}

// parseGlobalFlags consumes the flags that precede the command and returns
// the command with its arguments.
func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	g := globalFlags{}
	fs := flag.NewFlagSet("reactloop", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Var(configArg{name: "config", flags: &g, target: &g.ConfigPath}, "config", "")
	fs.Var(configArg{name: "profile", flags: &g, target: &g.Profile}, "profile", "")
	fs.Var(configArg{name: "profile", flags: &g, target: &g.Profile}, "env", "")
	fs.Var(configArg{name: "set", flags: &g}, "set", "")
	fs.DurationVar(&g.Timeout, "timeout", 2*time.Minute, "")
	fs.BoolVar(&g.JSON, "json", false, "")

	switch err := fs.Parse(args); {
	case errors.Is(err, flag.ErrHelp):
		g.Help = true
		return g, nil, nil
	case err != nil:
		return g, nil, err
	}
	return g, fs.Args(), nil
}

func printUsage() {
	fmt.Println(`reactloop - tool-using reasoning loops

Usage:
  reactloop [global flags] <command> [args]

Global flags:
  --config <path>      Path to config.yaml (or settings.json)
  --profile <name>     Overlay config.<name>.yaml (alias --env)
  --set key=value      Override config (repeatable)
  --timeout <dur>      Run timeout (default 2m)
  --json               JSON output

Commands:
  run --prompt <text> [--mode sequential|rewoo] [--max-iterations N] [--allow <action>] [--steps] [--verbose] [--watch]
  run                  Read one task per line from stdin
  plan validate [--check-actions] <file>
  plan audit [--run <id>] [--plan <id>] [--status <status>] [--limit N]
  transcripts list [--status <status>] [--since <dur>] [--limit N]
  transcripts show <run_id>
  actions list
  actions serve        Publish the configured actions as an MCP server on stdio
  version`)
}

func fatal(err error) {
	if cliErr, ok := err.(*CLIError); ok {
		cliErr.PrintError(jsonErrors)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func ensureNoArgs(args []string) {
	if len(args) > 0 {
		fatal(NewInvalidArgumentError(args[0], fmt.Sprintf("unexpected args: %v", args)))
	}
}

type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(value string) error {
	for _, part := range splitList(value) {
		*m = append(*m, part)
	}
	return nil
}

func splitList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
