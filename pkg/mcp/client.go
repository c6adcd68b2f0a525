// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes tools served over the Model Context Protocol as
// registry actions, and registry actions as an MCP server.
package mcp

import (
	"context"
	stderrors "errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/jllopis/reactloop/pkg/resilience"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"
)

const (
	clientName    = "reactloop"
	clientVersion = "0.1.0"

	connectTimeout = 10 * time.Second
)

// ClientOption tunes a Client.
type ClientOption func(*Client)

// WithTimeout bounds every request sent to the server.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry sets how many times a failed request is repeated and the first wait.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.retry = c.retry.WithMaxAttempts(retries + 1)
		}
		if backoff > 0 {
			c.retry = c.retry.WithInitialDelay(backoff)
		}
	}
}

// WithToolCacheTTL keeps the tool list for ttl. Zero lists on every call.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.toolsTTL = ttl
		}
	}
}

// toolSnapshot is an immutable cached tool list.
type toolSnapshot struct {
	tools   []mcp.Tool
	expires time.Time
}

// Client is a connected MCP session. Requests get a timeout and are retried
// on transport failures; the tool list is cached and concurrent listings
// share one request.
type Client struct {
	session  client.MCPClient
	timeout  time.Duration
	retry    resilience.RetryConfig
	toolsTTL time.Duration

	tools   atomic.Pointer[toolSnapshot]
	listing singleflight.Group
}

// NewClient wraps an already initialized session.
func NewClient(session client.MCPClient, opts ...ClientOption) *Client {
	c := &Client{
		session:  session,
		timeout:  10 * time.Second,
		toolsTTL: 30 * time.Second,
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(3).
			WithInitialDelay(200 * time.Millisecond).
			WithIsRecoverable(transportFailure),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientWithStdio runs command as a subprocess and talks MCP over its stdio.
func NewClientWithStdio(command string, args []string, env map[string]string, opts ...ClientOption) (*Client, error) {
	sub, err := client.NewStdioMCPClient(command, envList(env), args...)
	if err != nil {
		return nil, err
	}
	return connect(sub, mcp.LATEST_PROTOCOL_VERSION, opts)
}

// NewClientWithStreamableHTTP connects to url using the latest protocol version.
func NewClientWithStreamableHTTP(url string, opts ...ClientOption) (*Client, error) {
	return NewClientWithStreamableHTTPProtocol(url, mcp.LATEST_PROTOCOL_VERSION, opts...)
}

func NewClientWithStreamableHTTPProtocol(url, protocolVersion string, opts ...ClientOption) (*Client, error) {
	remote, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, err
	}
	return connect(remote, protocolVersion, opts)
}

// connect runs the initialize handshake and closes the session on failure.
func connect(session *client.Client, protocolVersion string, opts []ClientOption) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	var req mcp.InitializeRequest
	req.Params.ProtocolVersion = protocolVersion
	if req.Params.ProtocolVersion == "" {
		req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	}
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}

	err := session.Start(ctx)
	if err == nil {
		_, err = session.Initialize(ctx, req)
	}
	if err != nil {
		return nil, stderrors.Join(err, session.Close())
	}
	return NewClient(session, opts...), nil
}

func envList(env map[string]string) []string {
	var out []string
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

// ListTools returns the tools the server offers.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if snap := c.tools.Load(); snap != nil && time.Now().Before(snap.expires) {
		return slices.Clone(snap.tools), nil
	}
	v, err, _ := c.listing.Do("tools", func() (any, error) {
		return resilience.DoWithResult(ctx, c.retry, func() ([]mcp.Tool, error) {
			rctx, cancel := c.requestContext(ctx)
			defer cancel()
			res, err := c.session.ListTools(rctx, mcp.ListToolsRequest{})
			if err != nil {
				return nil, err
			}
			return res.Tools, nil
		})
	})
	if err != nil {
		return nil, err
	}
	tools := v.([]mcp.Tool)
	if c.toolsTTL > 0 {
		c.tools.Store(&toolSnapshot{tools: tools, expires: time.Now().Add(c.toolsTTL)})
	}
	return slices.Clone(tools), nil
}

// CallTool invokes the named tool with args.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return resilience.DoWithResult(ctx, c.retry, func() (*mcp.CallToolResult, error) {
		rctx, cancel := c.requestContext(ctx)
		defer cancel()
		return c.session.CallTool(rctx, req)
	})
}

func (c *Client) Ping(ctx context.Context) error {
	rctx, cancel := c.requestContext(ctx)
	defer cancel()
	return c.session.Ping(rctx)
}

func (c *Client) Close() error {
	return c.session.Close()
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// transportFailure retries everything except the caller giving up.
func transportFailure(err error) bool {
	return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
}
