package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/mark3labs/mcp-go/mcp"
)

type stubCaller struct {
	calls    int
	lastName string
	lastArgs map[string]any
	result   *mcp.CallToolResult
	err      error
}

func (s *stubCaller) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.calls++
	s.lastName = name
	s.lastArgs = args
	return s.result, s.err
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}}}
}

func TestToolAdapter_Invoke_MapsTextToSingleRequiredField(t *testing.T) {
	tool := mcp.Tool{
		Name:        "fetch",
		InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"url"}},
	}
	caller := &stubCaller{result: textResult("ok")}

	adapter, err := NewToolAdapter(tool, caller)
	if err != nil {
		t.Fatalf("NewToolAdapter error: %v", err)
	}

	output, err := adapter.Invoke(context.Background(), action.Text(" https://example.com "))
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if output != "ok" {
		t.Fatalf("expected output 'ok', got %v", output)
	}
	if caller.lastName != "fetch" || caller.lastArgs["url"] != "https://example.com" {
		t.Fatalf("unexpected call %s %v", caller.lastName, caller.lastArgs)
	}
}

func TestToolAdapter_Invoke_TextDefaultsToInput(t *testing.T) {
	caller := &stubCaller{result: textResult("ok")}
	adapter, _ := NewToolAdapter(mcp.Tool{Name: "echo"}, caller)

	if _, err := adapter.Invoke(context.Background(), action.Text("hello")); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if caller.lastArgs["input"] != "hello" {
		t.Fatalf("expected input arg, got %v", caller.lastArgs)
	}
}

func TestToolAdapter_Invoke_PassesStructuredArguments(t *testing.T) {
	tool := mcp.Tool{
		Name:        "sum",
		InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"a", "b"}},
	}
	caller := &stubCaller{result: textResult("3")}
	adapter, _ := NewToolAdapter(tool, caller)

	output, err := adapter.Invoke(context.Background(), action.ParseArgument(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if output != "3" {
		t.Fatalf("expected output '3', got %v", output)
	}
	if caller.lastArgs["a"] != float64(1) || caller.lastArgs["b"] != float64(2) {
		t.Fatalf("expected args a=1 b=2, got %v", caller.lastArgs)
	}
}

func TestToolAdapter_ValidatesRequiredArgs(t *testing.T) {
	tool := mcp.Tool{
		Name:        "needs-foo",
		InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"foo", "bar"}},
	}
	caller := &stubCaller{result: textResult("ok")}
	adapter, _ := NewToolAdapter(tool, caller)

	_, err := adapter.Invoke(context.Background(), action.Fields(map[string]any{"bar": "baz"}))
	if !errors.HasCode(err, errors.CodeInvalidArgument) || !strings.Contains(err.Error(), "missing required field") {
		t.Fatalf("expected missing required field error, got %v", err)
	}
	if caller.calls != 0 {
		t.Fatalf("server must not be called with invalid arguments")
	}

	def := adapter.Definition("")
	if def.Validator(action.Text("free text")) {
		t.Fatalf("free text cannot satisfy two required fields")
	}
	if !def.Validator(action.Fields(map[string]any{"foo": 1, "bar": 2})) {
		t.Fatalf("expected complete arguments to validate")
	}
}

func TestToolAdapter_Results(t *testing.T) {
	tests := []struct {
		name     string
		result   *mcp.CallToolResult
		err      error
		want     any
		wantCode errors.ErrorCode
	}{
		{name: "text", result: textResult("line"), want: "line"},
		{name: "structured", result: &mcp.CallToolResult{StructuredContent: map[string]any{"ok": true}}, want: map[string]any{"ok": true}},
		{name: "tool error", result: &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "denied"}}}, wantCode: errors.CodeActionExecution},
		{name: "nil result", wantCode: errors.CodeActionExecution},
		{name: "transport error", err: fmt.Errorf("connection reset"), wantCode: errors.CodeActionExecution},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, _ := NewToolAdapter(mcp.Tool{Name: "t"}, &stubCaller{result: tc.result, err: tc.err})
			out, err := adapter.Invoke(context.Background(), action.Argument{})
			if tc.wantCode != "" {
				if !errors.HasCode(err, tc.wantCode) {
					t.Fatalf("expected %s, got %v", tc.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Invoke error: %v", err)
			}
			if fmt.Sprint(out) != fmt.Sprint(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, out)
			}
		})
	}
}

func TestNewToolAdapterRequiresNameAndCaller(t *testing.T) {
	if _, err := NewToolAdapter(mcp.Tool{}, &stubCaller{}); err == nil {
		t.Fatalf("expected error for empty tool name")
	}
	if _, err := NewToolAdapter(mcp.Tool{Name: "x"}, nil); err == nil {
		t.Fatalf("expected error for nil caller")
	}
}

func TestDescribe(t *testing.T) {
	raw := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"},"limit":{"type":"integer"}}}`)
	tests := []struct {
		name string
		tool mcp.Tool
		want string
	}{
		{
			name: "no schema",
			tool: mcp.Tool{Name: "ping"},
			want: "MCP tool ping",
		},
		{
			name: "raw schema",
			tool: mcp.Tool{Name: "search", Description: "Search the index.", RawInputSchema: raw},
			want: `Search the index. Input: JSON object with "limit", "q".`,
		},
		{
			name: "required fields",
			tool: mcp.Tool{
				Name:        "fetch",
				Description: "Fetch a page.",
				InputSchema: mcp.ToolInputSchema{
					Type:       "object",
					Properties: map[string]any{"url": map[string]any{"type": "string"}, "raw": map[string]any{"type": "boolean"}},
					Required:   []string{"url"},
				},
			},
			want: `Fetch a page. Input: JSON object with "raw", "url" (required).`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Describe(tc.tool); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
