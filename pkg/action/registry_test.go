// SPDX-License-Identifier: Apache-2.0
package action

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	rerrors "github.com/jllopis/reactloop/pkg/errors"
)

func echoHandler() HandlerFunc {
	return func(_ context.Context, arg Argument) (any, error) {
		return "echo: " + arg.Text(), nil
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterFunc("search", "search the web", echoHandler(), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.RegisterFunc("search", "again", echoHandler(), nil)
	if !rerrors.HasCode(err, rerrors.CodeDuplicateAction) {
		t.Fatalf("expected duplicate action error, got %v", err)
	}
}

func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		code rerrors.ErrorCode
	}{
		{"empty name", Definition{Name: "  ", Handler: echoHandler()}, rerrors.CodeInvalidInput},
		{"nil handler", Definition{Name: "x"}, rerrors.CodeInvalidInput},
		{"reserved finish", Definition{Name: Finish, Handler: echoHandler()}, rerrors.CodeDuplicateAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.def)
			if !rerrors.HasCode(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestResolveUnknownListsNames(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterFunc("search", "", echoHandler(), nil)
	_ = r.RegisterFunc("calculate", "", echoHandler(), nil)

	_, err := r.Resolve("foo")
	if !rerrors.HasCode(err, rerrors.CodeUnknownAction) {
		t.Fatalf("expected unknown action error, got %v", err)
	}
	if !strings.Contains(err.Error(), "calculate, search") {
		t.Fatalf("expected sorted names in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), `"foo"`) {
		t.Fatalf("expected unknown name in message, got %q", err.Error())
	}
}

func TestValidateInput(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterFunc("search", "", echoHandler(), NonEmpty)
	_ = r.RegisterFunc("any", "", echoHandler(), nil)
	_ = r.RegisterFunc("boom", "", echoHandler(), func(Argument) bool { panic("bad validator") })

	tests := []struct {
		action string
		arg    Argument
		want   bool
	}{
		{"search", Text("golang"), true},
		{"search", Text("   "), false},
		{"any", Text(""), true},
		{"missing", Text("x"), false},
		{"boom", Text("x"), false},
	}
	for _, tt := range tests {
		if got := r.ValidateInput(tt.action, tt.arg); got != tt.want {
			t.Errorf("ValidateInput(%q, %q) = %v, want %v", tt.action, tt.arg.Text(), got, tt.want)
		}
	}
}

func TestInvokeSuccess(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterFunc("echo", "", echoHandler(), nil)

	obs := r.Invoke(context.Background(), "echo", Text("hi"))
	if obs.IsError {
		t.Fatalf("unexpected error observation: %q", obs.Text)
	}
	if obs.Text != "echo: hi" {
		t.Fatalf("unexpected observation %q", obs.Text)
	}
}

func TestInvokeHandlerCannotMutateArgument(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterFunc("tweak", "", func(_ context.Context, arg Argument) (any, error) {
		arg.Fields()["opts"].(map[string]any)["k"] = "mutated"
		return "ok", nil
	}, nil)

	arg := Fields(map[string]any{"opts": map[string]any{"k": "v"}})
	before := arg.Key()
	if obs := r.Invoke(context.Background(), "tweak", arg); obs.IsError {
		t.Fatalf("unexpected error observation: %q", obs.Text)
	}
	if arg.Key() != before {
		t.Fatalf("handler rewrote the caller's argument: %s", arg.Text())
	}
}

func TestInvokeConvertsFailures(t *testing.T) {
	r := NewRegistry(WithDefaultTimeout(50 * time.Millisecond))
	_ = r.RegisterFunc("fails", "", func(context.Context, Argument) (any, error) {
		return nil, errors.New("backend unavailable")
	}, nil)
	_ = r.RegisterFunc("panics", "", func(context.Context, Argument) (any, error) {
		panic("nil map")
	}, nil)
	_ = r.RegisterFunc("slow", "", func(ctx context.Context, _ Argument) (any, error) {
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
		return "late", nil
	}, nil)

	tests := []struct {
		action string
		want   string
	}{
		{"fails", "Error executing fails: backend unavailable"},
		{"panics", "Error executing panics: panic: nil map"},
		{"slow", "Error executing slow: operation exceeded timeout"},
		{"missing", "Error executing missing: unknown action"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			obs := r.Invoke(context.Background(), tt.action, Text("x"))
			if !obs.IsError {
				t.Fatalf("expected error observation")
			}
			if !strings.HasPrefix(obs.Text, tt.want) {
				t.Fatalf("expected prefix %q, got %q", tt.want, obs.Text)
			}
		})
	}
}

func TestInvokeNotPreemptedByCancellation(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterFunc("work", "", func(ctx context.Context, _ Argument) (any, error) {
		time.Sleep(20 * time.Millisecond)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return "done", nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	obs := r.Invoke(ctx, "work", Text("x"))
	if obs.IsError || obs.Text != "done" {
		t.Fatalf("expected action to finish despite cancellation, got %+v", obs)
	}
}

func TestInvokeFormatsStructuredOutput(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterFunc("weather", "", func(context.Context, Argument) (any, error) {
		return map[string]any{"temp": 21, "city": "Madrid"}, nil
	}, nil)
	obs := r.Invoke(context.Background(), "weather", Text("Madrid"))
	if obs.Text != `{"city":"Madrid","temp":21}` {
		t.Fatalf("unexpected observation text %q", obs.Text)
	}
	if _, ok := obs.Data.(map[string]any); !ok {
		t.Fatalf("expected raw data to be preserved, got %T", obs.Data)
	}
}

func TestInvokeUsesCache(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	r := NewRegistry(WithCache(NewCache(0, 0)))
	_ = r.RegisterFunc("count", "", func(context.Context, Argument) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return "ok", nil
	}, nil)
	_ = r.Register(Definition{Name: "fresh", NoCache: true, Handler: HandlerFunc(func(context.Context, Argument) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return "ok", nil
	})})

	first := r.Invoke(context.Background(), "count", Text("a"))
	second := r.Invoke(context.Background(), "count", Text("a"))
	if first.Cached || !second.Cached {
		t.Fatalf("expected second call to hit cache: first=%v second=%v", first.Cached, second.Cached)
	}
	r.Invoke(context.Background(), "count", Text("b"))
	r.Invoke(context.Background(), "fresh", Text("a"))
	r.Invoke(context.Background(), "fresh", Text("a"))
	if calls != 4 {
		t.Fatalf("expected 4 handler calls, got %d", calls)
	}
}

func TestInvokeDoesNotCacheErrors(t *testing.T) {
	calls := 0
	r := NewRegistry(WithCache(NewCache(0, 0)))
	_ = r.RegisterFunc("flaky", "", func(context.Context, Argument) (any, error) {
		calls++
		return nil, errors.New("boom")
	}, nil)
	r.Invoke(context.Background(), "flaky", Text("a"))
	r.Invoke(context.Background(), "flaky", Text("a"))
	if calls != 2 {
		t.Fatalf("expected errors to bypass cache, got %d calls", calls)
	}
}

func TestInvokeRateLimitHonorsCancellation(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Definition{
		Name:      "limited",
		RateLimit: 0.001,
		Burst:     1,
		Handler:   echoHandler(),
	})
	if obs := r.Invoke(context.Background(), "limited", Text("a")); obs.IsError {
		t.Fatalf("first call should use the burst token: %q", obs.Text)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	obs := r.Invoke(ctx, "limited", Text("b"))
	if !obs.IsError || !strings.Contains(obs.Text, "rate limit") {
		t.Fatalf("expected rate limit error observation, got %q", obs.Text)
	}
}

func TestDescriptionsAndNamesSorted(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterFunc("zeta", "last", echoHandler(), nil)
	_ = r.RegisterFunc("alpha", "first", echoHandler(), nil)

	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("unexpected names %v", names)
	}
	descs := r.Descriptions()
	if descs[0].Name != "alpha" || descs[0].Description != "first" {
		t.Fatalf("unexpected descriptions %+v", descs)
	}
}

func TestRestrict(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterFunc("search", "", echoHandler(), nil)
	_ = r.RegisterFunc("calculate", "", echoHandler(), nil)

	view := r.Restrict([]string{"search", "unknown"})
	if got := view.Names(); len(got) != 1 || got[0] != "search" {
		t.Fatalf("unexpected restricted names %v", got)
	}
	if _, err := view.Resolve("calculate"); !rerrors.HasCode(err, rerrors.CodeUnknownAction) {
		t.Fatalf("expected calculate to be hidden, got %v", err)
	}
	if err := view.RegisterFunc("new", "", echoHandler(), nil); err == nil {
		t.Fatalf("expected restricted registry to be read-only")
	}
	if all := r.Restrict(nil); all.Len() != 2 {
		t.Fatalf("expected empty allow-list to keep every action, got %d", all.Len())
	}
}

func TestWithTimeoutView(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterFunc("slow", "", func(context.Context, Argument) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	}, nil)

	obs := r.WithTimeout(20*time.Millisecond).Invoke(context.Background(), "slow", Text("a"))
	if !obs.IsError || !strings.Contains(obs.Text, "Error executing slow") {
		t.Fatalf("expected timeout observation, got %q", obs.Text)
	}
	if err := r.WithTimeout(time.Second).RegisterFunc("x", "", echoHandler(), nil); err == nil {
		t.Fatalf("expected timeout view to be read-only")
	}
}

func TestConcurrentInvoke(t *testing.T) {
	r := NewRegistry(WithCache(NewCache(16, time.Minute)))
	_ = r.RegisterFunc("echo", "", echoHandler(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if obs := r.Invoke(context.Background(), "echo", Text("x")); obs.IsError {
				t.Errorf("unexpected error: %s", obs.Text)
			}
		}()
	}
	wg.Wait()
}
