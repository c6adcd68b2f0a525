package mcp

import (
	"context"
	"os"
	"testing"

	"github.com/jllopis/reactloop/pkg/action"
)

const mcpStdioHelperEnv = "REACTLOOP_MCP_STDIO_HELPER"

// TestHelperMCPStdioServer is re-executed as the stdio server subprocess.
func TestHelperMCPStdioServer(t *testing.T) {
	if os.Getenv(mcpStdioHelperEnv) != "1" {
		return
	}

	reg := action.NewRegistry()
	if err := reg.Register(action.Echo()); err != nil {
		os.Exit(1)
	}
	if err := NewServer("test-stdio", "1.0.0", reg).ServeStdio(); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestClient_Stdio_ListToolsAndCall(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	client, err := NewClientWithStdio(exe, []string{"-test.run", "TestHelperMCPStdioServer"},
		map[string]string{mcpStdioHelperEnv: "1"})
	if err != nil {
		t.Fatalf("NewClientWithStdio error: %v", err)
	}
	defer client.Close()

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	if len(tools) == 0 || tools[0].Name != "echo" {
		t.Fatalf("expected tool 'echo', got %+v", tools)
	}

	result, err := client.CallTool(context.Background(), "echo", map[string]any{"input": "hello"})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if result == nil || result.IsError {
		t.Fatalf("expected successful tool result, got %+v", result)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
}

func TestEnvList(t *testing.T) {
	if envList(nil) != nil {
		t.Fatalf("expected nil env for empty map")
	}
	got := envList(map[string]string{"B": "2", "A": "1"})
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=2" {
		t.Fatalf("unexpected env list %v", got)
	}
}
