// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/reactloop/pkg/config"
	"github.com/jllopis/reactloop/pkg/transcript"
)

func runTranscripts(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 {
		fatal(NewInvalidArgumentError("transcripts", "usage: reactloop transcripts list|show <run_id>"))
	}
	switch args[0] {
	case "list":
		runTranscriptsList(ctx, flags, cfg, args[1:])
	case "show":
		runTranscriptsShow(ctx, flags, cfg, args[1:])
	default:
		fatal(NewInvalidArgumentError("transcripts", fmt.Sprintf("unknown subcommand %q", args[0])))
	}
}

// openStoreApp opens the audit database or exits when none is configured.
func openStoreApp(ctx context.Context, cfg *config.Config) *app {
	if cfg.Audit.SQLitePath == "" {
		fatal(NewPersistenceError(fmt.Errorf("audit.sqlite_path is not set"), ""))
	}
	a, err := newApp(ctx, cfg, appOptions{withStore: true, noTelemetry: true})
	if err != nil {
		fatal(err)
	}
	return a
}

func runTranscriptsList(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("transcripts list", flag.ContinueOnError)
	status := cmd.String("status", "", "Filter by status: completed|aborted")
	since := cmd.Duration("since", 0, "Only runs started within this window (e.g. 24h)")
	limit := cmd.Int("limit", 20, "Maximum number of runs")
	if err := cmd.Parse(args); err != nil {
		fatal(NewInvalidArgumentError("transcripts list", err.Error()))
	}
	ensureNoArgs(cmd.Args())

	filter := transcript.Filter{Status: strings.ToLower(*status), Limit: *limit}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}

	a := openStoreApp(ctx, cfg)
	defer a.close()

	records, err := a.archive.List(ctx, filter)
	if err != nil {
		fatal(NewPersistenceError(err, cfg.Audit.SQLitePath))
	}

	if flags.JSON {
		for i := range records {
			records[i].Steps = nil
		}
		printJSON(records)
		return
	}
	t := newTable("RUN", "MODE", "STATUS", "STEPS", "STARTED", "OBJECTIVE")
	for _, rec := range records {
		status := rec.Status
		if rec.Reason != "" {
			status += " (" + rec.Reason + ")"
		}
		t.row(rec.RunID, rec.Mode, status, fmt.Sprint(len(rec.Steps)), stamp(rec.StartedAt), clip(rec.Objective, 60))
	}
	t.flush()
}

func runTranscriptsShow(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	if len(args) != 1 {
		fatal(NewInvalidArgumentError("transcripts show", "exactly one run id is required"))
	}
	runID := args[0]

	a := openStoreApp(ctx, cfg)
	defer a.close()

	rec, err := a.archive.Get(ctx, runID)
	if err != nil {
		fatal(NewNotFoundError("transcript", runID, err))
	}
	if flags.JSON {
		printJSON(rec)
		return
	}

	fmt.Printf("Run:       %s\n", rec.RunID)
	fmt.Printf("Objective: %s\n", rec.Objective)
	fmt.Printf("Mode:      %s\n", rec.Mode)
	fmt.Printf("Status:    %s\n", rec.Status)
	if rec.Reason != "" {
		fmt.Printf("Reason:    %s\n", rec.Reason)
	}
	fmt.Printf("Started:   %s\n", stamp(rec.StartedAt))
	fmt.Printf("Duration:  %s\n", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	fmt.Println()
	for line := range transcript.FromSteps(rec.Steps).Render(0) {
		fmt.Println(line)
	}
	if rec.Answer != "" {
		fmt.Printf("\nAnswer: %s\n", rec.Answer)
	}
}
