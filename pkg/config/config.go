// SPDX-License-Identifier: Apache-2.0

// Package config loads runtime configuration from defaults, YAML files,
// profile overlays, REACTLOOP_* environment variables and --set overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jllopis/reactloop/pkg/engine"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override (REACTLOOP_LLM_MODEL -> llm.model).
const EnvPrefix = "REACTLOOP_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Engine    engine.Config   `koanf:"engine"`
	Actions   ActionsConfig   `koanf:"actions"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Audit     AuditConfig     `koanf:"audit"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider    string        `koanf:"provider"` // ollama, mock
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
	Retries     int           `koanf:"retries"`
	// Fallback names a provider asked for decisions when the primary one
	// cannot answer. Empty disables it.
	Fallback string `koanf:"fallback"`
}

// ActionsConfig tunes the action registry.
type ActionsConfig struct {
	Timeout time.Duration `koanf:"timeout"`
	Cache   CacheConfig   `koanf:"cache"`
	// RateLimit applies to every MCP tool registered from configuration.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
	// Allow and Deny are glob patterns over action names; deny wins.
	Allow []string `koanf:"allow"`
	Deny  []string `koanf:"deny"`
}

type CacheConfig struct {
	Enabled bool          `koanf:"enabled"`
	Size    int           `koanf:"size"`
	TTL     time.Duration `koanf:"ttl"`
}

type TelemetryConfig struct {
	ServiceName        string            `koanf:"service_name"`
	Exporter           string            `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint       string            `koanf:"otlp_endpoint"`
	OTLPInsecure       bool              `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int               `koanf:"otlp_timeout_seconds"`
	OTLPHeaders        map[string]string `koanf:"otlp_headers"`
	OTLPUser           string            `koanf:"otlp_user"`
	OTLPToken          string            `koanf:"otlp_token"`
}

// AuditConfig points at the sqlite database shared by the transcript
// archive and the planner audit store. Empty disables persistence.
type AuditConfig struct {
	SQLitePath string `koanf:"sqlite_path"`
}

type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig describes one MCP server whose tools become actions.
type MCPServerConfig struct {
	Transport string            `koanf:"transport"` // stdio, http
	Command   string            `koanf:"command"`
	Args      []string          `koanf:"args"`
	Env       map[string]string `koanf:"env"`
	URL       string            `koanf:"url"`
	// Prefix is prepended to every tool name, e.g. "fs." for "fs.read_file".
	Prefix   string `koanf:"prefix"`
	Disabled bool   `koanf:"disabled"`
}

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5-coder:7b-instruct-q5_K_M")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("llm.temperature", 0.0)
	k.Set("llm.timeout", 60*time.Second)
	k.Set("llm.retries", 2)

	def := engine.DefaultConfig()
	k.Set("engine.max_iterations", def.MaxIterations)
	k.Set("engine.repetition_tolerance", def.RepetitionTolerance)
	k.Set("engine.mode", string(def.Mode))
	k.Set("engine.concurrency_limit", def.ConcurrencyLimit)

	k.Set("actions.timeout", 30*time.Second)
	k.Set("actions.cache.enabled", false)
	k.Set("actions.cache.size", 256)

	k.Set("telemetry.service_name", "reactloop")
	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.otlp_insecure", true)
	k.Set("telemetry.otlp_timeout_seconds", 10)
}

// Load reads the configuration at path (may be empty) on top of the defaults.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile loads path and overlays config.<profile>.yaml when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI loads configuration using the global flags found in args:
// --config, --profile (alias --env) and repeatable --set key=value.
func LoadWithCLI(args []string) (*Config, error) {
	opts, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, overrides)
}

type cliOptions struct {
	path    string
	profile string
}

type override struct {
	key   string
	value any
}

func load(path, profile string, overrides []override) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	// 1. Base file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	// 2. Profile overlay
	if overlay := profileConfigPath(path, profile); overlay != "" {
		if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load profile %s: %w", overlay, err)
		}
	}

	// 3. Environment (REACTLOOP_ENGINE_MAX_ITERATIONS -> engine.max_iterations)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	// 4. CLI --set
	for _, o := range overrides {
		if err := k.Set(o.key, o.value); err != nil {
			return nil, fmt.Errorf("apply --set %s: %w", o.key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps the first segment after the prefix to the section and keeps
// the rest as the key, so multi-word keys keep their underscores.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return section
	}
	return section + "." + key
}

// profileConfigPath returns dir/name.<profile>.ext for base when the file
// exists, or "".
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(filepath.Base(base), ext)
	candidate := filepath.Join(filepath.Dir(base), name+"."+profile+ext)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

func parseCLIOverrides(args []string) (cliOptions, []override, error) {
	var (
		opts      cliOptions
		overrides []override
	)
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			o, err := parseOverride(value)
			if err != nil {
				return opts, nil, err
			}
			overrides = append(overrides, o)
		}
	}
	return opts, overrides, nil
}

// parseOverride splits key=value and decodes value as YAML, so numbers,
// booleans, lists and JSON objects keep their types.
func parseOverride(raw string) (override, error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return override{}, fmt.Errorf("invalid --set %q: expected key=value", raw)
	}
	var decoded any
	if err := yamlv3.Unmarshal([]byte(value), &decoded); err != nil || decoded == nil {
		return override{key: key, value: value}, nil
	}
	return override{key: key, value: decoded}, nil
}

// EngineConfig returns the run configuration with the action timeout folded in.
func (c *Config) EngineConfig() engine.Config {
	cfg := c.Engine
	if cfg.ActionTimeout == 0 {
		cfg.ActionTimeout = c.Actions.Timeout
	}
	if cfg.OracleTimeout == 0 {
		cfg.OracleTimeout = c.LLM.Timeout
	}
	return cfg
}
