package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/jllopis/reactloop/pkg/planner"
)

// Reply is one scripted oracle answer.
type Reply struct {
	Decision Decision
	Err      error
	// Delay is waited before answering, honoring cancellation.
	Delay time.Duration
}

// Scripted returns queued replies in order and records every request. It
// also serves ReWOO plans and answers. Safe for concurrent use.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	repeat   *Reply
	requests []Request

	// PlanResult and PlanErr answer Plan calls.
	PlanResult *planner.Plan
	PlanErr    error
	// Answer and SynthesisErr answer Synthesize calls.
	Answer       string
	SynthesisErr error

	synthesis []planner.SynthesisRequest
}

// NewScripted creates a scripted oracle that answers with decisions in order.
func NewScripted(decisions ...Decision) *Scripted {
	s := &Scripted{}
	for _, d := range decisions {
		s.replies = append(s.replies, Reply{Decision: d})
	}
	return s
}

// Then queues another reply.
func (s *Scripted) Then(r Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
	return s
}

// Repeat answers with d forever once the queue is exhausted.
func (s *Scripted) Repeat(d Decision) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeat = &Reply{Decision: d}
	return s
}

// Propose implements Oracle.
func (s *Scripted) Propose(ctx context.Context, req Request) (Decision, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var r Reply
	switch {
	case len(s.replies) > 0:
		r = s.replies[0]
		s.replies = s.replies[1:]
	case s.repeat != nil:
		r = *s.repeat
	default:
		s.mu.Unlock()
		return Decision{}, errors.New(errors.CodeLLMError, "scripted oracle has no more replies", nil)
	}
	s.mu.Unlock()

	if r.Delay > 0 {
		select {
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		case <-time.After(r.Delay):
		}
	}
	return r.Decision, r.Err
}

// Plan implements Planner.
func (s *Scripted) Plan(context.Context, planner.PlanRequest) (*planner.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PlanResult, s.PlanErr
}

// Synthesize implements Synthesizer.
func (s *Scripted) Synthesize(_ context.Context, req planner.SynthesisRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synthesis = append(s.synthesis, req)
	return s.Answer, s.SynthesisErr
}

// Requests returns a copy of the recorded decision requests.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// SynthesisRequests returns a copy of the recorded synthesis requests.
func (s *Scripted) SynthesisRequests() []planner.SynthesisRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]planner.SynthesisRequest(nil), s.synthesis...)
}
