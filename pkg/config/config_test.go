package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jllopis/reactloop/pkg/engine"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected default provider ollama, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "qwen2.5-coder:7b-instruct-q5_K_M" {
		t.Errorf("expected default model qwen2.5..., got %s", cfg.LLM.Model)
	}
	if cfg.Engine != engine.DefaultConfig() {
		t.Errorf("expected engine defaults, got %+v", cfg.Engine)
	}
	if err := cfg.Engine.Validate(); err != nil {
		t.Errorf("default engine config must validate: %v", err)
	}
	if cfg.Actions.Timeout != 30*time.Second || cfg.Actions.Cache.Size != 256 {
		t.Errorf("unexpected actions defaults %+v", cfg.Actions)
	}
	if cfg.Telemetry.Exporter != "none" || cfg.Telemetry.ServiceName != "reactloop" {
		t.Errorf("unexpected telemetry defaults %+v", cfg.Telemetry)
	}
	if cfg.Audit.SQLitePath != "" {
		t.Errorf("audit persistence must be opt-in")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("REACTLOOP_LLM_PROVIDER", "mock")
	t.Setenv("REACTLOOP_LLM_BASE_URL", "http://ollama:11434")
	t.Setenv("REACTLOOP_ENGINE_MAX_ITERATIONS", "25")
	t.Setenv("REACTLOOP_ENGINE_ORACLE_TIMEOUT", "45s")
	t.Setenv("REACTLOOP_AUDIT_SQLITE_PATH", "/tmp/reactloop.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != "mock" {
		t.Errorf("expected provider mock from env, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.BaseURL != "http://ollama:11434" {
		t.Errorf("expected base url from env, got %s", cfg.LLM.BaseURL)
	}
	if cfg.Engine.MaxIterations != 25 {
		t.Errorf("expected max_iterations 25, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Engine.OracleTimeout != 45*time.Second {
		t.Errorf("expected oracle timeout 45s, got %s", cfg.Engine.OracleTimeout)
	}
	if cfg.Audit.SQLitePath != "/tmp/reactloop.db" {
		t.Errorf("expected sqlite path from env, got %q", cfg.Audit.SQLitePath)
	}
}

func TestLoadFileSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine:
  mode: rewoo
  concurrency_limit: 8
  transcript_window: 6
actions:
  timeout: 5s
  rate_limit: 2.5
  burst: 3
  allow: ["echo", "fs.*"]
  deny: ["fs.write_*"]
  cache:
    enabled: true
    ttl: 1m
mcp:
  servers:
    fs:
      transport: stdio
      command: mcp-fs
      args: ["--root", "/srv"]
      env:
        FS_READONLY: "1"
      prefix: "fs."
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.Mode != engine.ModeReWOO || cfg.Engine.ConcurrencyLimit != 8 || cfg.Engine.TranscriptWindow != 6 {
		t.Fatalf("unexpected engine section %+v", cfg.Engine)
	}
	if cfg.Engine.MaxIterations != engine.DefaultConfig().MaxIterations {
		t.Fatalf("expected unset keys to keep defaults, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Actions.Timeout != 5*time.Second || cfg.Actions.RateLimit != 2.5 || cfg.Actions.Burst != 3 {
		t.Fatalf("unexpected actions section %+v", cfg.Actions)
	}
	if len(cfg.Actions.Allow) != 2 || cfg.Actions.Allow[1] != "fs.*" || len(cfg.Actions.Deny) != 1 {
		t.Fatalf("unexpected action patterns allow=%v deny=%v", cfg.Actions.Allow, cfg.Actions.Deny)
	}
	if !cfg.Actions.Cache.Enabled || cfg.Actions.Cache.TTL != time.Minute || cfg.Actions.Cache.Size != 256 {
		t.Fatalf("unexpected cache section %+v", cfg.Actions.Cache)
	}

	fs, ok := cfg.MCP.Servers["fs"]
	if !ok {
		t.Fatalf("expected fs MCP server")
	}
	if fs.Command != "mcp-fs" || len(fs.Args) != 2 || fs.Args[1] != "/srv" || fs.Prefix != "fs." {
		t.Fatalf("unexpected fs server %+v", fs)
	}
	if fs.Env["FS_READONLY"] != "1" {
		t.Fatalf("expected env passthrough, got %v", fs.Env)
	}

	ec := cfg.EngineConfig()
	if ec.ActionTimeout != 5*time.Second || ec.OracleTimeout != 60*time.Second {
		t.Fatalf("expected section timeouts folded in, got %+v", ec)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadWithProfile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yaml")
	writeFile(t, base, "llm:\n  provider: ollama\n  model: llama3.1\nlog:\n  level: info\n")
	writeFile(t, filepath.Join(dir, "config.dev.yaml"), "llm:\n  provider: mock\nlog:\n  level: debug\n")
	writeFile(t, filepath.Join(dir, "config.prod.yaml"), "log:\n  level: warn\nengine:\n  max_iterations: 20\n")

	def := engine.DefaultConfig().MaxIterations
	tests := []struct {
		profile  string
		provider string
		level    string
		maxIter  int
	}{
		{"", "ollama", "info", def},
		{"dev", "mock", "debug", def},
		{"prod", "ollama", "warn", 20},
		{"staging", "ollama", "info", def},
	}
	for _, tc := range tests {
		t.Run("profile="+tc.profile, func(t *testing.T) {
			cfg, err := LoadWithProfile(base, tc.profile)
			if err != nil {
				t.Fatalf("LoadWithProfile: %v", err)
			}
			if cfg.LLM.Model != "llama3.1" {
				t.Errorf("model should come from the base file, got %q", cfg.LLM.Model)
			}
			if cfg.LLM.Provider != tc.provider || cfg.Log.Level != tc.level || cfg.Engine.MaxIterations != tc.maxIter {
				t.Errorf("got provider=%s level=%s max_iterations=%d", cfg.LLM.Provider, cfg.Log.Level, cfg.Engine.MaxIterations)
			}
		})
	}
}

func TestProfileConfigPath(t *testing.T) {
	dir := t.TempDir()
	dev := filepath.Join(dir, "config.dev.yaml")
	writeFile(t, dev, "log: {level: debug}\n")
	base := filepath.Join(dir, "config.yaml")

	cases := map[[2]string]string{
		{base, "dev"}:  dev,
		{base, "prod"}: "",
		{base, ""}:     "",
		{"", "dev"}:    "",
	}
	for in, want := range cases {
		if got := profileConfigPath(in[0], in[1]); got != want {
			t.Errorf("profileConfigPath(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"REACTLOOP_LLM_MODEL":                   "llm.model",
		"REACTLOOP_ENGINE_REPETITION_TOLERANCE": "engine.repetition_tolerance",
		"REACTLOOP_TELEMETRY_OTLP_ENDPOINT":     "telemetry.otlp_endpoint",
		"REACTLOOP_DEBUG":                       "debug",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%s) = %s, want %s", in, got, want)
		}
	}
}
