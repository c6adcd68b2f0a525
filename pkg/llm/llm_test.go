// SPDX-License-Identifier: Apache-2.0
package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jllopis/reactloop/pkg/errors"
)

func TestMockProvider(t *testing.T) {
	mock := &MockProvider{Response: "Hello world"}
	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("Expected 'Hello world', got '%s'", resp.Content)
	}
}

func TestScriptedProvider(t *testing.T) {
	p := NewScriptedProvider("one", "two")
	for _, want := range []string{"one", "two"} {
		resp, err := p.Chat(context.Background(), ChatRequest{Model: "m"})
		if err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
		if resp.Content != want {
			t.Fatalf("expected %q, got %q", want, resp.Content)
		}
	}
	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatalf("expected error when script is exhausted")
	}
	if p.CallCount() != 3 || len(p.Requests()) != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", p.CallCount())
	}
}

func TestOllamaChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaChat
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream || req.Format != "json" || req.Model != "llama3" {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(ollamaReply{
			Message:      Message{Role: RoleAssistant, Content: `{"action":"finish"}`},
			Done:         true,
			PromptTokens: 7,
			OutputTokens: 3,
		})
	}))
	defer srv.Close()

	resp, err := NewOllama(srv.URL+"/").Chat(context.Background(), ChatRequest{
		Model:    "llama3",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Format:   "json",
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != `{"action":"finish"}` || resp.Usage.TotalTokens != 10 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOllamaErrorStatus(t *testing.T) {
	tests := []struct {
		status      int
		recoverable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not available", tt.status)
		}))
		_, err := NewOllama(srv.URL).Chat(context.Background(), ChatRequest{Model: "x"})
		srv.Close()

		e := errors.AsError(err)
		if e == nil || e.Code != errors.CodeLLMError {
			t.Fatalf("status %d: expected LLM error, got %v", tt.status, err)
		}
		if e.Recoverable != tt.recoverable {
			t.Fatalf("status %d: expected recoverable=%v", tt.status, tt.recoverable)
		}
	}
}

func TestOllamaErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'ghost' not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, WithHTTPClient(srv.Client())).Chat(context.Background(), ChatRequest{Model: "ghost"})
	if err == nil || !strings.Contains(err.Error(), "model 'ghost' not found") {
		t.Fatalf("expected server error detail, got %v", err)
	}
}
