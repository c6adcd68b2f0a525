// SPDX-License-Identifier: Apache-2.0
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/reactloop/pkg/errors"
)

const DefaultOllamaURL = "http://localhost:11434"

// Ollama talks to the /api/chat endpoint of an Ollama server without streaming.
type Ollama struct {
	endpoint string
	http     *http.Client
}

type OllamaOption func(*Ollama)

// WithHTTPClient replaces the default client, which times out after two minutes.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(o *Ollama) {
		if c != nil {
			o.http = c
		}
	}
}

// NewOllama targets baseURL, or DefaultOllamaURL when empty.
func NewOllama(baseURL string, opts ...OllamaOption) *Ollama {
	if baseURL = strings.TrimRight(baseURL, "/"); baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	o := &Ollama{
		endpoint: baseURL + "/api/chat",
		http:     &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ollamaChat is the request body of /api/chat.
type ollamaChat struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// ollamaReply is the final (non-streamed) /api/chat answer.
type ollamaReply struct {
	Message      Message `json:"message"`
	Done         bool    `json:"done"`
	PromptTokens int     `json:"prompt_eval_count"`
	OutputTokens int     `json:"eval_count"`
	Error        string  `json:"error,omitempty"`
}

// Chat sends req and returns the assistant message. Network failures, 5xx
// and 429 answers are recoverable LLM errors; other statuses are not.
func (o *Ollama) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	payload := ollamaChat{Model: req.Model, Messages: req.Messages, Format: req.Format}
	if req.Temperature != 0 {
		payload.Options = map[string]any{"temperature": req.Temperature}
	}
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		return nil, errors.New(errors.CodeLLMError, "encode ollama request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, &body)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "build ollama request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := o.http.Do(httpReq)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, errors.New(errors.CodeCancelled, "ollama call cancelled", ctx.Err())
	case err != nil:
		return nil, errors.New(errors.CodeLLMError, "ollama unreachable", err).
			WithContext("endpoint", o.endpoint).
			WithRecoverable(true)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, statusError(res)
	}
	var reply ollamaReply
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return nil, errors.New(errors.CodeLLMError, "decode ollama reply", err).WithRecoverable(true)
	}
	if reply.Error != "" {
		return nil, errors.Newf(errors.CodeLLMError, "ollama: %s", reply.Error)
	}
	return &ChatResponse{
		Content: reply.Message.Content,
		Usage: Usage{
			PromptTokens:     reply.PromptTokens,
			CompletionTokens: reply.OutputTokens,
			TotalTokens:      reply.PromptTokens + reply.OutputTokens,
		},
	}, nil
}

func statusError(res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	detail := strings.TrimSpace(string(raw))
	var reply ollamaReply
	if json.Unmarshal(raw, &reply) == nil && reply.Error != "" {
		detail = reply.Error
	}
	retry := res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500
	return errors.Newf(errors.CodeLLMError, "ollama returned %d: %s", res.StatusCode, detail).
		WithContext("status", res.StatusCode).
		WithRecoverable(retry)
}
