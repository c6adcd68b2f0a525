// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/reactloop/pkg/config"
	"github.com/jllopis/reactloop/pkg/mcp"
)

type actionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func runActions(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}
	switch sub {
	case "list":
		ensureNoArgs(args)
		runActionsList(ctx, flags, cfg)
	case "serve":
		ensureNoArgs(args)
		runActionsServe(ctx, cfg)
	default:
		fatal(NewInvalidArgumentError("actions", fmt.Sprintf("unknown subcommand %q", sub)))
	}
}

func runActionsList(ctx context.Context, flags globalFlags, cfg *config.Config) {
	a, err := newApp(ctx, cfg, appOptions{withMCP: true, noTelemetry: true})
	if err != nil {
		fatal(err)
	}
	defer a.close()

	descs := a.registry.Descriptions()
	if flags.JSON {
		out := make([]actionInfo, 0, len(descs))
		for _, d := range descs {
			out = append(out, actionInfo{Name: d.Name, Description: d.Description})
		}
		printJSON(out)
		return
	}
	t := newTable("ACTION", "DESCRIPTION")
	for _, d := range descs {
		t.row(d.Name, clip(d.Description, 80))
	}
	t.flush()
}

// runActionsServe publishes the registry as an MCP server on stdio. Logs go
// to stderr so stdout stays a clean protocol stream.
func runActionsServe(ctx context.Context, cfg *config.Config) {
	a, err := newApp(ctx, cfg, appOptions{withMCP: true, noTelemetry: true})
	if err != nil {
		fatal(err)
	}
	defer a.close()

	name := strings.TrimSpace(cfg.Telemetry.ServiceName)
	if name == "" {
		name = "reactloop"
	}
	a.logger.Info("mcp.serve.started", "actions", len(a.registry.Names()))
	if err := mcp.NewServer(name, version, a.registry).ServeStdio(); err != nil {
		a.logger.Error("mcp.serve.failed", "error", err)
	}
}
