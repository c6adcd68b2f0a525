package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/jllopis/reactloop/pkg/core"
	"go.opentelemetry.io/otel/trace"
)

func TestInit(t *testing.T) {
	shutdown, err := Init("test-service", "v0.0.1")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Shutdown function should not be nil")
	}

	// Ensure shutdown works
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitWithConfigNone(t *testing.T) {
	shutdown, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("InitWithConfig failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestInitWithConfigErrors(t *testing.T) {
	if _, err := InitWithConfig("svc", "v", Config{Exporter: "otlp"}); err == nil {
		t.Fatalf("expected error for missing otlp endpoint")
	}
	if _, err := InitWithConfig("svc", "v", Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func TestConfigureSlogAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "debug", "json")

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.DebugContext(ctx, "loop.iteration.start", "iteration", 1)
	out := buf.String()
	if !strings.Contains(out, `"trace_id":"0102030405060708090a0b0c0d0e0f10"`) {
		t.Fatalf("expected trace id in log output: %s", out)
	}
	if !strings.Contains(out, `"span_id":"0102030405060708"`) {
		t.Fatalf("expected span id in log output: %s", out)
	}
}

func TestConfigureSlogAddsRunID(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "info", "json")

	ctx := core.WithRunID(context.Background(), "run-42")
	logger.InfoContext(ctx, "engine.run.start")
	logger.InfoContext(ctx, "engine.run.override", "run_id", "explicit")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two records, got %q", buf.String())
	}
	if !strings.Contains(lines[0], `"run_id":"run-42"`) {
		t.Fatalf("expected run id from context: %s", lines[0])
	}
	if strings.Contains(lines[1], "run-42") || !strings.Contains(lines[1], `"run_id":"explicit"`) {
		t.Fatalf("expected caller attribute to win: %s", lines[1])
	}
	if strings.Contains(lines[0], "trace_id") {
		t.Fatalf("unexpected trace id without a span: %s", lines[0])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"WARN":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for in, want := range tests {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestExportHeaders(t *testing.T) {
	if h := (Config{}).exportHeaders(); h != nil {
		t.Fatalf("expected no headers, got %v", h)
	}
	cfg := Config{
		OTLPHeaders: map[string]string{"x-tenant": "acme"},
		OTLPUser:    "user",
		OTLPToken:   "secret",
	}
	h := cfg.exportHeaders()
	if h["x-tenant"] != "acme" {
		t.Fatalf("expected custom header, got %v", h)
	}
	// base64("user:secret")
	if h["Authorization"] != "Basic dXNlcjpzZWNyZXQ=" {
		t.Fatalf("unexpected authorization header %q", h["Authorization"])
	}
	if _, ok := cfg.OTLPHeaders["Authorization"]; ok {
		t.Fatalf("configured headers must not be mutated")
	}
}
