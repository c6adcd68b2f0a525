package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// ToolAdapter wraps an MCP tool to satisfy action.Handler.
type ToolAdapter struct {
	tool   mcp.Tool
	caller ToolCaller
}

// NewToolAdapter builds an action handler backed by an MCP tool definition and caller.
func NewToolAdapter(tool mcp.Tool, caller ToolCaller) (*ToolAdapter, error) {
	if tool.Name == "" {
		return nil, errors.Newf(errors.CodeInvalidInput, "mcp tool name is required")
	}
	if caller == nil {
		return nil, errors.Newf(errors.CodeInvalidInput, "tool caller is required")
	}
	return &ToolAdapter{
		tool:   tool,
		caller: caller,
	}, nil
}

// Name returns the MCP tool name.
func (t *ToolAdapter) Name() string {
	return t.tool.Name
}

// Definition describes the tool as an action registered under prefix+name.
// The validator rejects arguments missing a required schema field.
func (t *ToolAdapter) Definition(prefix string) action.Definition {
	return action.Definition{
		Name:        prefix + t.tool.Name,
		Description: Describe(t.tool),
		Handler:     t,
		Validator: func(arg action.Argument) bool {
			return validateRequiredArgs(t.tool, t.arguments(arg)) == nil
		},
	}
}

// Invoke calls the MCP tool with the argument mapped onto its input schema.
func (t *ToolAdapter) Invoke(ctx context.Context, arg action.Argument) (any, error) {
	args := t.arguments(arg)
	if err := validateRequiredArgs(t.tool, args); err != nil {
		return nil, err
	}

	result, err := t.caller.CallTool(ctx, t.tool.Name, args)
	if err != nil {
		return nil, errors.New(errors.CodeActionExecution, "mcp call failed", err).
			WithContext("tool", t.tool.Name).
			WithRecoverable(true)
	}
	return toolResultToOutput(result)
}

// arguments maps an action argument onto the tool's parameters. Structured
// arguments pass through. Free text fills the single required field when the
// schema has exactly one, and "input" otherwise.
func (t *ToolAdapter) arguments(arg action.Argument) map[string]any {
	if arg.IsStructured() {
		return arg.Fields()
	}
	text := strings.TrimSpace(arg.Text())
	if text == "" {
		return map[string]any{}
	}
	if required := t.tool.InputSchema.Required; len(required) == 1 {
		return map[string]any{required[0]: text}
	}
	return map[string]any{"input": text}
}

// Describe renders a one-line description for the oracle prompt, listing
// the tool's parameters when the schema declares any.
func Describe(tool mcp.Tool) string {
	desc := strings.TrimSpace(tool.Description)
	if desc == "" {
		desc = "MCP tool " + tool.Name
	}
	params := parameterNames(tool)
	if len(params) == 0 {
		return desc
	}
	return fmt.Sprintf("%s Input: JSON object with %s.", desc, strings.Join(params, ", "))
}

func parameterNames(tool mcp.Tool) []string {
	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, key := range tool.InputSchema.Required {
		required[key] = true
	}

	var props map[string]any
	if tool.RawInputSchema != nil {
		var raw struct {
			Properties map[string]any `json:"properties"`
		}
		if err := json.Unmarshal(tool.RawInputSchema, &raw); err == nil {
			props = raw.Properties
		}
	} else {
		props = tool.InputSchema.Properties
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	for _, name := range tool.InputSchema.Required {
		if _, ok := props[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for i, name := range names {
		if required[name] {
			names[i] = `"` + name + `" (required)`
		} else {
			names[i] = `"` + name + `"`
		}
	}
	return names
}

func validateRequiredArgs(tool mcp.Tool, args map[string]any) error {
	schema := tool.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return errors.Newf(errors.CodeInvalidArgument, "mcp tool args: missing required field %q", key).
				WithContext("tool", tool.Name)
		}
	}
	return nil
}

func toolResultToOutput(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.Newf(errors.CodeActionExecution, "mcp tool result is nil")
	}

	if result.IsError {
		return nil, errors.Newf(errors.CodeActionExecution, "mcp tool returned error: %s", extractTextContent(result.Content))
	}

	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}

	return extractTextContent(result.Content), nil
}

func extractTextContent(items []mcp.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ action.Handler = (*ToolAdapter)(nil)
