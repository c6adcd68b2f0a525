// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jllopis/reactloop/pkg/config"
	"github.com/jllopis/reactloop/pkg/core"
	"github.com/jllopis/reactloop/pkg/engine"
	"github.com/jllopis/reactloop/pkg/telemetry"
	"github.com/jllopis/reactloop/pkg/transcript"
	"github.com/mattn/go-isatty"
)

type runResult struct {
	RunID      string            `json:"run_id"`
	Task       string            `json:"task"`
	Mode       string            `json:"mode"`
	Status     string            `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Answer     string            `json:"answer,omitempty"`
	Iterations int               `json:"iterations"`
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
	Steps      []transcript.Step `json:"steps,omitempty"`
}

type runOptions struct {
	mode          string
	maxIterations int
	allow         []string
	verbose       bool
	showSteps     bool
}

// runRun returns the process exit code: 1 when a single prompt did not complete.
func runRun(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	prompt := cmd.String("prompt", "", "Single task to run (non-interactive)")
	mode := cmd.String("mode", "", "Execution mode: sequential|rewoo (default from config)")
	maxIterations := cmd.Int("max-iterations", 0, "Override engine.max_iterations")
	var allow multiFlag
	cmd.Var(&allow, "allow", "Restrict the task to these actions (repeatable, comma separated)")
	verbose := cmd.Bool("verbose", false, "Print loop events to stderr")
	showSteps := cmd.Bool("steps", false, "Print the transcript after the answer")
	noTelemetry := cmd.Bool("no-telemetry", false, "Disable telemetry output")
	watch := cmd.Bool("watch", false, "Watch config files for changes and hot-reload")

	if err := cmd.Parse(args); err != nil {
		fatal(NewInvalidArgumentError("run", err.Error()))
	}
	if cmd.NArg() > 0 && *prompt == "" {
		*prompt = strings.Join(cmd.Args(), " ")
	}
	opts := runOptions{
		mode:          *mode,
		maxIterations: *maxIterations,
		allow:         allow,
		verbose:       *verbose,
		showSteps:     *showSteps,
	}

	a, err := newApp(ctx, cfg, appOptions{withMCP: true, withStore: true, noTelemetry: *noTelemetry})
	if err != nil {
		fatal(err)
	}
	defer a.close()

	reloadable := config.NewReloadableConfig(cfg)
	if *watch {
		if flags.ConfigPath == "" {
			fmt.Fprintln(os.Stderr, "Warning: --watch needs --config; ignoring")
		} else {
			watcher, _, err := config.WatchConfig(ctx, flags.ConfigPath, flags.Profile,
				config.WithWatchInterval(time.Second),
				config.WithWatchLogger(a.logger),
			)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not setup config watch: %v\n", err)
			} else {
				defer watcher.Stop()
				watcher.OnChange(func(newCfg *config.Config) {
					reloadable.Update(newCfg)
					a.logger.Info("config.reloaded", "path", flags.ConfigPath)
				})
			}
		}
	}

	var errMetrics *telemetry.ErrorMetrics
	if !*noTelemetry {
		errMetrics, _ = telemetry.NewErrorMetrics(ctx)
	}

	r := &runner{app: a, flags: flags, opts: opts, cfg: reloadable, errMetrics: errMetrics}
	if *prompt != "" {
		if res := r.run(ctx, *prompt); !res.Completed() {
			return 1
		}
		return 0
	}
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		fatal(NewInvalidArgumentError("prompt", "--prompt is required when stdin is a terminal"))
	}
	r.pipe(ctx, os.Stdin)
	return 0
}

type runner struct {
	app        *app
	flags      globalFlags
	opts       runOptions
	cfg        *config.ReloadableConfig
	errMetrics *telemetry.ErrorMetrics
}

// engineConfig resolves the run configuration for the next task so that
// reloaded settings apply between tasks.
func (r *runner) engineConfig() (engine.Config, error) {
	cfg := r.cfg.Engine()
	if r.opts.mode != "" {
		cfg.Mode = engine.Mode(strings.ToLower(r.opts.mode))
	}
	if r.opts.maxIterations > 0 {
		cfg.MaxIterations = r.opts.maxIterations
	}
	return cfg, cfg.Validate()
}

func (r *runner) run(ctx context.Context, objective string) engine.Result {
	cfg, err := r.engineConfig()
	if err != nil {
		fatal(NewConfigError(err, r.flags.ConfigPath))
	}

	var engineOpts []engine.Option
	if r.opts.verbose {
		engineOpts = append(engineOpts, engine.WithEventEmitter(core.EventEmitterFunc(printEvent)))
	}
	eng, err := r.app.newEngine(r.cfg.LLM(), engineOpts...)
	if err != nil {
		fatal(NewConfigError(err, r.flags.ConfigPath))
	}

	if r.flags.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.flags.Timeout)
		defer cancel()
	}

	task := core.NewTask(objective, r.opts.allow...)
	res := eng.Run(ctx, task, cfg)
	if res.Err != nil && r.errMetrics != nil {
		r.errMetrics.RecordErrorMetric(ctx, res.Err, "engine")
	}
	r.print(task, res)
	return res
}

// pipe runs one task per non-empty input line.
func (r *runner) pipe(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.run(ctx, line)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
	}
}

func (r *runner) print(task core.Task, res engine.Result) {
	out := runResult{
		RunID:      res.RunID,
		Task:       task.Objective,
		Mode:       string(res.Mode),
		Status:     string(res.Status),
		Reason:     res.Reason,
		Answer:     res.Answer,
		Iterations: res.Iterations,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if r.opts.showSteps && res.Transcript != nil {
		out.Steps = res.Transcript.Steps()
	}

	if r.flags.JSON {
		printJSON(out)
		return
	}

	if r.opts.showSteps && res.Transcript != nil {
		for line := range res.Transcript.Render(0) {
			fmt.Println(line)
		}
		fmt.Println()
	}
	if res.Completed() {
		fmt.Println(res.Answer)
		return
	}
	fmt.Fprintf(os.Stderr, "Run %s %s (%s) after %d iterations\n", res.RunID, res.Status, res.Reason, res.Iterations)
	if res.Err != nil {
		WrapRunError(res.Err).PrintError(false)
	}
}

func printEvent(_ context.Context, event core.Event) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", event.Timestamp.Format("15:04:05.000"), event.Type)
	for _, key := range slices.Sorted(maps.Keys(event.Payload)) {
		fmt.Fprintf(&b, " %s=%s", key, clip(fmt.Sprint(event.Payload[key]), 80))
	}
	fmt.Fprintln(os.Stderr, b.String())
}
