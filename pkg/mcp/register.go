// SPDX-License-Identifier: Apache-2.0
package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolSource lists and calls the tools of one MCP server. *Client satisfies it.
type ToolSource interface {
	ToolCaller
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// RegisterOptions tune how discovered tools become actions.
type RegisterOptions struct {
	// Prefix is prepended to every tool name.
	Prefix string
	// Timeout bounds each call. Zero uses the registry default.
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	// Include restricts registration to the named tools (before prefixing).
	Include []string
	// Allow, when set, filters on the final (prefixed) action name.
	Allow  func(name string) bool
	Logger *slog.Logger
}

// RegisterTools discovers the tools of src and registers each as an action.
// It returns the registered action names in discovery order. A name that
// collides with an existing action fails the whole call after the tools
// registered so far.
func RegisterTools(ctx context.Context, registry *action.Registry, src ToolSource, opts RegisterOptions) ([]string, error) {
	if registry == nil || src == nil {
		return nil, errors.Newf(errors.CodeInvalidInput, "registry and tool source are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tools, err := src.ListTools(ctx)
	if err != nil {
		return nil, errors.New(errors.CodeActionExecution, "list mcp tools", err)
	}

	include := make(map[string]bool, len(opts.Include))
	for _, name := range opts.Include {
		include[name] = true
	}

	var names []string
	for _, tool := range tools {
		if len(include) > 0 && !include[tool.Name] {
			continue
		}
		adapter, err := NewToolAdapter(tool, src)
		if err != nil {
			logger.Warn("mcp.tool.skipped", "tool", tool.Name, "error", err)
			continue
		}
		def := adapter.Definition(opts.Prefix)
		if opts.Allow != nil && !opts.Allow(def.Name) {
			logger.Debug("mcp.tool.filtered", "action", def.Name)
			continue
		}
		def.Timeout = opts.Timeout
		def.RateLimit = opts.RateLimit
		def.Burst = opts.Burst
		if err := registry.Register(def); err != nil {
			return names, err
		}
		logger.Debug("mcp.tool.registered", "action", def.Name)
		names = append(names, def.Name)
	}
	return names, nil
}
