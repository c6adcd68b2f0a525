// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/jllopis/reactloop/pkg/config"
	"github.com/jllopis/reactloop/pkg/planner"
)

type planValidation struct {
	Path           string   `json:"path"`
	Valid          bool     `json:"valid"`
	Order          []string `json:"order,omitempty"`
	UnknownActions []string `json:"unknown_actions,omitempty"`
	Error          string   `json:"error,omitempty"`
}

func runPlan(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 {
		fatal(NewInvalidArgumentError("plan", "usage: reactloop plan validate <file> | plan audit --run <id>"))
	}
	switch args[0] {
	case "validate":
		runPlanValidate(ctx, flags, cfg, args[1:])
	case "audit":
		runPlanAudit(ctx, flags, cfg, args[1:])
	default:
		fatal(NewInvalidArgumentError("plan", fmt.Sprintf("unknown subcommand %q", args[0])))
	}
}

func runPlanValidate(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("plan validate", flag.ContinueOnError)
	checkActions := cmd.Bool("check-actions", false, "Resolve node actions against the configured registry (connects MCP servers)")
	if err := cmd.Parse(args); err != nil {
		fatal(NewInvalidArgumentError("plan validate", err.Error()))
	}
	if cmd.NArg() != 1 {
		fatal(NewInvalidArgumentError("plan validate", "exactly one plan file is required"))
	}
	path := cmd.Arg(0)

	result := planValidation{Path: path}
	plan, err := planner.LoadPlan(path)
	if err == nil {
		result.Order, err = plan.TopologicalOrder()
	}
	if err == nil && *checkActions {
		a, appErr := newApp(ctx, cfg, appOptions{withMCP: true, noTelemetry: true})
		if appErr != nil {
			fatal(appErr)
		}
		for _, n := range plan.Nodes {
			if _, resolveErr := a.registry.Resolve(n.Action); resolveErr != nil {
				result.UnknownActions = append(result.UnknownActions, n.Action)
			}
		}
		a.close()
		if len(result.UnknownActions) > 0 {
			err = planner.MalformedPlan("plan references unknown actions %v", result.UnknownActions)
		}
	}
	result.Valid = err == nil
	if err != nil {
		result.Error = err.Error()
	}

	if flags.JSON {
		printJSON(result)
	} else if result.Valid {
		fmt.Printf("✓ %s: %d nodes\n", path, len(result.Order))
		for i, id := range result.Order {
			node, _ := plan.Node(id)
			fmt.Printf("  %d. %s -> %s\n", i+1, id, node.Action)
		}
	} else {
		fmt.Printf("✗ %s: %s\n", path, result.Error)
	}
	if !result.Valid {
		fatal(WrapRunError(err))
	}
}

// runPlanAudit lists the node lifecycle events recorded for ReWOO runs.
func runPlanAudit(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("plan audit", flag.ContinueOnError)
	runID := cmd.String("run", "", "Run id")
	planID := cmd.String("plan", "", "Plan id")
	status := cmd.String("status", "", "Node status: started|completed|failed|skipped")
	limit := cmd.Int("limit", 100, "Maximum number of events")
	if err := cmd.Parse(args); err != nil {
		fatal(NewInvalidArgumentError("plan audit", err.Error()))
	}
	ensureNoArgs(cmd.Args())

	a := openStoreApp(ctx, cfg)
	defer a.close()

	events, err := a.audit.List(ctx, planner.AuditFilter{
		RunID:  *runID,
		PlanID: *planID,
		Status: planner.NodeStatus(*status),
		Limit:  *limit,
	})
	if err != nil {
		fatal(NewPersistenceError(err, cfg.Audit.SQLitePath))
	}

	if flags.JSON {
		printJSON(events)
		return
	}
	t := newTable("RUN", "NODE", "ACTION", "STATUS", "DURATION", "ERROR")
	for _, ev := range events {
		t.row(ev.RunID, ev.NodeID, ev.Action, string(ev.Status), durationCell(ev.Duration()), clip(ev.Error, 60))
	}
	t.flush()
}

func durationCell(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.Round(time.Millisecond).String()
}
