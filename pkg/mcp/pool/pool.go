// SPDX-License-Identifier: Apache-2.0

// Package pool keeps one live MCP session per configured server.
//
// Sessions are dialed on first use and shared by every action registered
// from that server. Dials to different servers proceed in parallel. An
// optional background check pings live sessions and forgets the ones that
// stopped answering, so the next Get redials.
//
//	p := pool.New(pool.WithHealthCheckInterval(30 * time.Second))
//	defer p.Close()
//	p.Register(pool.ServerConfig{Name: "fs", Command: "mcp-fs", Prefix: "fs."})
//	names, err := p.RegisterActions(ctx, registry, mcp.RegisterOptions{})
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/mcp"
	"golang.org/x/sync/errgroup"
)

var (
	ErrPoolClosed          = errors.New("mcp pool is closed")
	ErrServerNotFound      = errors.New("mcp server not registered")
	ErrInvalidServerConfig = errors.New("invalid mcp server configuration")
)

const (
	pingTimeout      = 5 * time.Second
	parallelPings    = 4
	defaultHealthGap = 30 * time.Second
)

// ServerType selects the transport used to reach a server.
type ServerType int

const (
	ServerTypeStdio ServerType = iota // subprocess speaking MCP on stdin/stdout
	ServerTypeHTTP                    // Streamable HTTP endpoint
)

// ParseServerType maps the transport name used in configuration files.
func ParseServerType(transport string) (ServerType, error) {
	switch transport {
	case "", "stdio":
		return ServerTypeStdio, nil
	case "http", "streamable-http", "streamable_http":
		return ServerTypeHTTP, nil
	}
	return 0, fmt.Errorf("%w: unknown transport %q", ErrInvalidServerConfig, transport)
}

// ServerConfig describes how to reach one MCP server. Command, Args and Env
// apply to stdio servers, URL to HTTP ones.
type ServerConfig struct {
	Name    string
	Type    ServerType
	Command string
	Args    []string
	Env     map[string]string
	URL     string
	// Prefix is prepended to the action names of this server's tools.
	Prefix        string
	ClientOptions []mcp.ClientOption
}

func (c ServerConfig) validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidServerConfig)
	case c.Type == ServerTypeStdio && c.Command == "":
		return fmt.Errorf("%w: %s: command is required", ErrInvalidServerConfig, c.Name)
	case c.Type == ServerTypeHTTP && c.URL == "":
		return fmt.Errorf("%w: %s: url is required", ErrInvalidServerConfig, c.Name)
	}
	return nil
}

// Dialer opens a session for a server.
type Dialer func(ctx context.Context, config ServerConfig) (*mcp.Client, error)

// server is a registered server and its live session, if any.
type server struct {
	config  ServerConfig
	dialing sync.Mutex
	live    atomic.Pointer[mcp.Client]
}

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	RegisteredServers  int
	ActiveConnections  int
	TotalConnections   int
	ConnectionErrors   int
	HealthChecksPassed int
	HealthChecksFailed int
}

type counters struct {
	dials, dialErrors, pingsOK, pingsFailed atomic.Int64
}

// Pool owns the MCP sessions of a process.
type Pool struct {
	mu      sync.RWMutex
	servers map[string]*server
	closed  bool

	dial     Dialer
	interval time.Duration
	logger   *slog.Logger
	counts   counters

	stopHealth context.CancelFunc
	healthDone chan struct{}
}

type PoolOption func(*Pool)

// WithHealthCheckInterval sets how often live sessions are pinged. Zero
// turns the check off.
func WithHealthCheckInterval(interval time.Duration) PoolOption {
	return func(p *Pool) {
		if interval >= 0 {
			p.interval = interval
		}
	}
}

// WithDialer replaces the stdio/HTTP dialer, mostly for tests.
func WithDialer(dial Dialer) PoolOption {
	return func(p *Pool) {
		if dial != nil {
			p.dial = dial
		}
	}
}

func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(opts ...PoolOption) *Pool {
	p := &Pool{
		servers:  make(map[string]*server),
		dial:     dialDefault,
		interval: defaultHealthGap,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.stopHealth = cancel
	p.healthDone = make(chan struct{})
	go p.healthLoop(ctx)
	return p
}

// Register adds or replaces a server. Nothing is dialed until Get.
func (p *Pool) Register(config ServerConfig) error {
	if err := config.validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if old, ok := p.servers[config.Name]; ok {
		if c := old.live.Swap(nil); c != nil {
			_ = c.Close()
		}
	}
	p.servers[config.Name] = &server{config: config}
	return nil
}

func (p *Pool) lookup(name string) (*server, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	s, ok := p.servers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	return s, nil
}

func (p *Pool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Get returns the live session for name, dialing it on first use.
// Concurrent callers for the same server share a single dial.
func (p *Pool) Get(ctx context.Context, name string) (*mcp.Client, error) {
	s, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	if c := s.live.Load(); c != nil {
		return c, nil
	}

	s.dialing.Lock()
	defer s.dialing.Unlock()
	if c := s.live.Load(); c != nil {
		return c, nil
	}
	c, err := p.dial(ctx, s.config)
	if err != nil {
		p.counts.dialErrors.Add(1)
		return nil, fmt.Errorf("connect mcp server %s: %w", name, err)
	}
	if p.isClosed() {
		_ = c.Close()
		return nil, ErrPoolClosed
	}
	s.live.Store(c)
	p.counts.dials.Add(1)
	p.logger.InfoContext(ctx, "mcp.server.connected", "server", name)
	return c, nil
}

// RegisterActions dials every server and registers its tools in registry
// under opts.Prefix followed by the server's own Prefix. Unreachable
// servers are skipped and reported in the joined error. The result maps
// server name to registered action names.
func (p *Pool) RegisterActions(ctx context.Context, registry *action.Registry, opts mcp.RegisterOptions) (map[string][]string, error) {
	if opts.Logger == nil {
		opts.Logger = p.logger
	}
	registered := make(map[string][]string)
	var errs []error
	for _, name := range p.ListServers() {
		s, err := p.lookup(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c, err := p.Get(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		serverOpts := opts
		serverOpts.Prefix += s.config.Prefix
		names, err := mcp.RegisterTools(ctx, registry, c, serverOpts)
		registered[name] = names
		if err != nil {
			errs = append(errs, fmt.Errorf("register tools of %s: %w", name, err))
		}
	}
	return registered, errors.Join(errs...)
}

// Close stops the health check and closes every live session. A second
// call returns ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	servers := p.servers
	p.servers = nil
	p.mu.Unlock()

	p.stopHealth()
	<-p.healthDone

	var errs []error
	for name, s := range servers {
		if c := s.live.Swap(nil); c != nil {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	registered, active := len(p.servers), 0
	for _, s := range p.servers {
		if s.live.Load() != nil {
			active++
		}
	}
	p.mu.RUnlock()

	return PoolStats{
		RegisteredServers:  registered,
		ActiveConnections:  active,
		TotalConnections:   int(p.counts.dials.Load()),
		ConnectionErrors:   int(p.counts.dialErrors.Load()),
		HealthChecksPassed: int(p.counts.pingsOK.Load()),
		HealthChecksFailed: int(p.counts.pingsFailed.Load()),
	}
}

// ListServers returns the registered server names in lexical order.
func (p *Pool) ListServers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.servers))
}

func (p *Pool) ServerInfo(name string) (ServerConfig, bool) {
	s, err := p.lookup(name)
	if err != nil {
		return ServerConfig{}, false
	}
	return s.config, true
}

func dialDefault(_ context.Context, config ServerConfig) (*mcp.Client, error) {
	switch config.Type {
	case ServerTypeStdio:
		return mcp.NewClientWithStdio(config.Command, config.Args, config.Env, config.ClientOptions...)
	case ServerTypeHTTP:
		return mcp.NewClientWithStreamableHTTP(config.URL, config.ClientOptions...)
	}
	return nil, fmt.Errorf("%w: unknown server type %d", ErrInvalidServerConfig, config.Type)
}

func (p *Pool) healthLoop(ctx context.Context) {
	defer close(p.healthDone)
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runHealthChecks(ctx)
		}
	}
}

// runHealthChecks pings every live session and drops the ones that fail.
func (p *Pool) runHealthChecks(ctx context.Context) {
	p.mu.RLock()
	servers := make(map[string]*server, len(p.servers))
	maps.Copy(servers, p.servers)
	p.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(parallelPings)
	for name, s := range servers {
		c := s.live.Load()
		if c == nil {
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			if err := c.Ping(pctx); err != nil {
				p.counts.pingsFailed.Add(1)
				p.logger.WarnContext(ctx, "mcp.server.unhealthy", "server", name, "error", err)
				if s.live.CompareAndSwap(c, nil) {
					_ = c.Close()
				}
				return nil
			}
			p.counts.pingsOK.Add(1)
			return nil
		})
	}
	_ = g.Wait()
}
