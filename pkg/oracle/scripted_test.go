package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jllopis/reactloop/pkg/action"
	"github.com/jllopis/reactloop/pkg/core"
	rerrors "github.com/jllopis/reactloop/pkg/errors"
)

func TestScriptedReplaysAndRecords(t *testing.T) {
	s := NewScripted(Act("", "search", action.Text("go"))).
		Then(Reply{Err: MalformedDecision("??", "no action")}).
		Repeat(Final("", "done"))

	ctx := context.Background()
	d, err := s.Propose(ctx, Request{Iteration: 1})
	if err != nil || d.Action != "search" {
		t.Fatalf("unexpected first reply %+v %v", d, err)
	}
	if _, err := s.Propose(ctx, Request{Iteration: 2}); !rerrors.HasCode(err, rerrors.CodeMalformedDecision) {
		t.Fatalf("expected scripted error, got %v", err)
	}
	for i := 0; i < 3; i++ {
		d, err = s.Propose(ctx, Request{Iteration: 3 + i})
		if err != nil || !d.IsFinish() {
			t.Fatalf("expected repeated finish, got %+v %v", d, err)
		}
	}
	if len(s.Requests()) != 5 || s.Requests()[4].Iteration != 5 {
		t.Fatalf("requests not recorded: %+v", s.Requests())
	}
}

func TestScriptedExhausted(t *testing.T) {
	_, err := NewScripted().Propose(context.Background(), Request{})
	if !rerrors.HasCode(err, rerrors.CodeLLMError) {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
}

func TestScriptedDelayHonorsCancellation(t *testing.T) {
	s := NewScripted().Then(Reply{Decision: Final("", "late"), Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Propose(ctx, Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestFallbackOracle(t *testing.T) {
	transport := rerrors.New(rerrors.CodeLLMError, "connection refused", nil)
	tests := []struct {
		name       string
		primary    Oracle
		wantAction string
		wantCode   rerrors.ErrorCode
	}{
		{
			name:       "primary answers",
			primary:    NewScripted(Act("", "search", action.Text("go"))),
			wantAction: "search",
		},
		{
			name:       "transport error falls back",
			primary:    NewScripted().Then(Reply{Err: transport}),
			wantAction: action.Finish,
		},
		{
			name:     "malformed output is returned",
			primary:  NewScripted().Then(Reply{Err: MalformedDecision("??", "no action")}),
			wantCode: rerrors.CodeMalformedDecision,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secondary := NewScripted(Final("", "fallback answer"))
			d, err := NewFallback(tt.primary, secondary).Propose(context.Background(), Request{Task: core.NewTask("x")})
			if tt.wantCode != "" {
				if !rerrors.HasCode(err, tt.wantCode) {
					t.Fatalf("expected %s, got %v", tt.wantCode, err)
				}
				if len(secondary.Requests()) != 0 {
					t.Fatalf("secondary must not be asked")
				}
				return
			}
			if err != nil {
				t.Fatalf("propose: %v", err)
			}
			if d.Action != tt.wantAction {
				t.Fatalf("expected %q, got %q", tt.wantAction, d.Action)
			}
		})
	}
}
