package mcp

import (
	"context"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server publishes the actions of a registry as MCP tools.
type Server struct {
	mcpServer *server.MCPServer
	registry  *action.Registry
}

// NewServer creates an MCP server exposing every action registered in
// registry at construction time. Each tool takes an optional "input" string;
// any other arguments are passed as a structured argument.
func NewServer(name, version string, registry *action.Registry) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		registry:  registry,
	}
	for _, desc := range registry.Descriptions() {
		s.addAction(desc)
	}
	return s
}

func (s *Server) addAction(desc action.Description) {
	tool := mcp.NewTool(desc.Name,
		mcp.WithDescription(desc.Description),
		mcp.WithString("input", mcp.Description("Free-text argument for the action.")),
	)
	name := desc.Name
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		arg := toArgument(request.GetArguments())
		if !s.registry.ValidateInput(name, arg) {
			return mcp.NewToolResultError("invalid argument for " + name), nil
		}
		obs := s.registry.Invoke(ctx, name, arg)
		if obs.IsError {
			return mcp.NewToolResultError(obs.Text), nil
		}
		return mcp.NewToolResultText(obs.Text), nil
	})
}

func toArgument(args map[string]any) action.Argument {
	if len(args) == 0 {
		return action.Argument{}
	}
	if input, ok := args["input"].(string); ok && len(args) == 1 {
		return action.ParseArgument(input)
	}
	return action.Fields(args)
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on stdin/stdout until the input is closed.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
