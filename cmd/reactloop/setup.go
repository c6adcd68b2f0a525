// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/config"
	"github.com/jllopis/reactloop/pkg/engine"
	"github.com/jllopis/reactloop/pkg/governance"
	"github.com/jllopis/reactloop/pkg/llm"
	"github.com/jllopis/reactloop/pkg/mcp"
	"github.com/jllopis/reactloop/pkg/mcp/pool"
	"github.com/jllopis/reactloop/pkg/oracle"
	"github.com/jllopis/reactloop/pkg/planner"
	"github.com/jllopis/reactloop/pkg/resilience"
	"github.com/jllopis/reactloop/pkg/telemetry"
	"github.com/jllopis/reactloop/pkg/transcript"
	_ "modernc.org/sqlite"
)

// mockDecision is what the mock provider answers to every prompt.
const mockDecision = `{"thought": "mock provider", "action": "finish", "action_input": "This is a mock response."}`

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *action.Registry
	pool     *pool.Pool
	db       *sql.DB
	archive  transcript.Archive
	audit    planner.AuditStore
	metrics  *telemetry.RunMetrics
	filter   *governance.ActionFilter
	closers  []func() error
}

type appOptions struct {
	withMCP     bool
	withStore   bool
	noTelemetry bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format),
	}
	slog.SetDefault(a.logger)

	if !opts.noTelemetry {
		if err := a.initTelemetry(); err != nil {
			return nil, err
		}
	}

	a.filter = governance.NewActionFilter(
		governance.WithAllowlist(cfg.Actions.Allow),
		governance.WithDenylist(cfg.Actions.Deny),
	)
	a.registry = newRegistry(cfg, a.filter, a.logger)
	if opts.withMCP {
		if err := a.registerMCP(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	if opts.withStore && cfg.Audit.SQLitePath != "" {
		if err := a.openStore(cfg.Audit.SQLitePath); err != nil {
			a.close()
			return nil, NewPersistenceError(err, cfg.Audit.SQLitePath)
		}
	}
	return a, nil
}

func (a *app) initTelemetry() error {
	tc := a.cfg.Telemetry
	exporter := tc.Exporter
	if exporter == "" {
		exporter = "none"
	}
	shutdown, err := telemetry.InitWithConfig(tc.ServiceName, version, telemetry.Config{
		Exporter:           exporter,
		OTLPEndpoint:       tc.OTLPEndpoint,
		OTLPInsecure:       tc.OTLPInsecure,
		OTLPTimeoutSeconds: tc.OTLPTimeoutSeconds,
		OTLPHeaders:        tc.OTLPHeaders,
		OTLPUser:           tc.OTLPUser,
		OTLPToken:          tc.OTLPToken,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	metrics, err := telemetry.NewRunMetrics()
	if err != nil {
		a.logger.Warn("telemetry.metrics.disabled", "error", err)
		return nil
	}
	a.metrics = metrics
	return nil
}

// newRegistry registers the built-in actions that pass filter.
func newRegistry(cfg *config.Config, filter *governance.ActionFilter, logger *slog.Logger) *action.Registry {
	opts := []action.Option{
		action.WithDefaultTimeout(cfg.Actions.Timeout),
		action.WithLogger(logger),
	}
	if cfg.Actions.Cache.Enabled {
		opts = append(opts, action.WithCache(action.NewCache(cfg.Actions.Cache.Size, cfg.Actions.Cache.TTL)))
	}
	registry := action.NewRegistry(opts...)
	for _, def := range []action.Definition{action.Echo(), action.Clock(nil)} {
		if !filter.Allows(def.Name) {
			logger.Debug("action.filtered", "action", def.Name)
			continue
		}
		// Built-in names cannot collide on a fresh registry.
		_ = registry.Register(def)
	}
	return registry
}

// registerMCP connects the enabled MCP servers and registers their tools.
// Unreachable servers are logged and skipped.
func (a *app) registerMCP(ctx context.Context) error {
	enabled := 0
	p := pool.New(pool.WithLogger(a.logger))
	for name, sc := range a.cfg.MCP.Servers {
		if sc.Disabled {
			continue
		}
		kind, err := pool.ParseServerType(sc.Transport)
		if err != nil {
			p.Close()
			return NewConfigError(fmt.Errorf("mcp server %s: %w", name, err), "")
		}
		if err := p.Register(pool.ServerConfig{
			Name:    name,
			Type:    kind,
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
			URL:     sc.URL,
			Prefix:  sc.Prefix,
		}); err != nil {
			p.Close()
			return NewConfigError(err, "")
		}
		enabled++
	}
	a.pool = p
	a.closers = append(a.closers, func() error {
		if err := p.Close(); err != nil && !errors.Is(err, pool.ErrPoolClosed) {
			return err
		}
		return nil
	})
	if enabled == 0 {
		return nil
	}

	names, err := p.RegisterActions(ctx, a.registry, mcp.RegisterOptions{
		Timeout:   a.cfg.Actions.Timeout,
		RateLimit: a.cfg.Actions.RateLimit,
		Burst:     a.cfg.Actions.Burst,
		Allow:     a.filter.Allows,
		Logger:    a.logger,
	})
	if err != nil {
		a.logger.Warn("mcp.register.partial", "error", err)
	}
	for server, actions := range names {
		a.logger.Info("mcp.server.actions", "server", server, "count", len(actions))
	}
	return nil
}

// openStore opens one sqlite database shared by the transcript archive and
// the planner audit store.
func (a *app) openStore(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db.Close)
	a.db = db

	archive, err := transcript.NewSQLiteArchive(db)
	if err != nil {
		return err
	}
	audit, err := planner.NewSQLiteAuditStore(db)
	if err != nil {
		return err
	}
	a.archive = archive
	a.audit = audit
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}
	a.closers = nil
}

func createProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama", "":
		var opts []llm.OllamaOption
		if cfg.Timeout > 0 {
			opts = append(opts, llm.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		return llm.NewOllama(cfg.BaseURL, opts...), nil

	case "mock":
		return &llm.MockProvider{Response: mockDecision}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// newEngine builds an engine for the current LLM settings. The LLM oracle
// also serves as planner and synthesizer for ReWOO runs. With llm.fallback
// set, decisions the primary provider cannot deliver come from the second one.
func (a *app) newEngine(llmCfg config.LLMConfig, opts ...engine.Option) (*engine.Engine, error) {
	provider, err := createProvider(llmCfg)
	if err != nil {
		return nil, err
	}
	o := a.newOracle(provider, llmCfg)

	var decider oracle.Oracle = o
	if llmCfg.Fallback != "" {
		secondCfg := llmCfg
		secondCfg.Provider = llmCfg.Fallback
		second, err := createProvider(secondCfg)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		decider = oracle.NewFallback(o, a.newOracle(second, secondCfg))
	}

	base := []engine.Option{
		engine.WithPlanner(o),
		engine.WithSynthesizer(o),
		engine.WithLogger(a.logger),
	}
	if a.archive != nil {
		base = append(base, engine.WithArchive(a.archive))
	}
	if a.audit != nil {
		base = append(base, engine.WithAuditStore(a.audit))
	}
	if a.metrics != nil {
		base = append(base, engine.WithMetrics(a.metrics))
	}
	return engine.New(a.registry, decider, append(base, opts...)...), nil
}

func (a *app) newOracle(provider llm.Provider, llmCfg config.LLMConfig) *oracle.LLMOracle {
	retry := resilience.DefaultRetryConfig()
	if llmCfg.Retries >= 0 {
		retry = retry.WithMaxAttempts(llmCfg.Retries + 1)
	}
	return oracle.NewLLMOracle(provider,
		oracle.WithModel(llmCfg.Model),
		oracle.WithProviderName(llmCfg.Provider),
		oracle.WithTemperature(llmCfg.Temperature),
		oracle.WithRetry(retry),
		oracle.WithLogger(a.logger),
	)
}
