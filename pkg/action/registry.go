// SPDX-License-Identifier: Apache-2.0
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/jllopis/reactloop/pkg/resilience"
)

type entry struct {
	def     Definition
	limiter *rate.Limiter
}

// Registry maps action names to definitions. It is safe for concurrent use;
// registration is expected to finish before a run starts.
type Registry struct {
	mu             sync.RWMutex
	entries        map[string]*entry
	cache          *Cache
	defaultTimeout time.Duration
	logger         *slog.Logger
	readOnly       bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithCache enables result caching.
func WithCache(c *Cache) Option {
	return func(r *Registry) {
		r.cache = c
	}
}

// WithDefaultTimeout bounds invocations of actions that set no Timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.defaultTimeout = d
	}
}

// WithLogger sets the logger used for invocation records.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an action definition.
func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return errors.New(errors.CodeInvalidInput, "action name is required", nil)
	}
	if def.Handler == nil {
		return errors.Newf(errors.CodeInvalidInput, "action %q has no handler", name)
	}
	if name == Finish {
		return errors.Newf(errors.CodeDuplicateAction, "action name %q is reserved for the terminal action", Finish).
			WithContext("action", name)
	}
	def.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readOnly {
		return errors.Newf(errors.CodeInvalidInput, "cannot register %q on a restricted registry", name)
	}
	if _, exists := r.entries[name]; exists {
		return errors.Newf(errors.CodeDuplicateAction, "action %q already registered", name).
			WithContext("action", name)
	}
	e := &entry{def: def}
	if def.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(def.RateLimit), max(def.Burst, 1))
	}
	r.entries[name] = e
	return nil
}

// RegisterFunc registers fn under name.
func (r *Registry) RegisterFunc(name, description string, fn HandlerFunc, validator Validator) error {
	var h Handler
	if fn != nil {
		h = fn
	}
	return r.Register(Definition{
		Name:        name,
		Description: description,
		Handler:     h,
		Validator:   validator,
	})
}

// Resolve returns the definition registered under name. The error for an
// unknown name lists the registered names.
func (r *Registry) Resolve(name string) (Definition, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		names := r.Names()
		return Definition{}, errors.Newf(errors.CodeUnknownAction,
			"unknown action %q; available actions: %s", name, formatNames(names)).
			WithContext("action", name).
			WithContext("available", names).
			WithRecoverable(true)
	}
	return e.def, nil
}

func formatNames(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

// ValidateInput applies the action's validator. Unknown actions and
// panicking validators report false.
func (r *Registry) ValidateInput(name string, arg Argument) (ok bool) {
	def, err := r.Resolve(name)
	if err != nil {
		return false
	}
	if def.Validator == nil {
		return true
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("action.validator.panic", "action", name, "panic", fmt.Sprint(rec))
			ok = false
		}
	}()
	return def.Validator(arg)
}

// Invoke runs the handler registered under name. It never returns an error:
// handler failures, panics, timeouts and unknown names become error
// observations. Cancellation of ctx does not interrupt a running handler.
func (r *Registry) Invoke(ctx context.Context, name string, arg Argument) Observation {
	start := time.Now()

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		_, err := r.Resolve(name)
		return errorObservation(name, err, time.Since(start))
	}
	def := e.def

	if r.cache != nil && !def.NoCache {
		if obs, hit := r.cache.Get(name, arg); hit {
			obs.Cached = true
			r.logger.Debug("action.invoke", "action", name, "cached", true)
			return obs
		}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			rerr := errors.New(errors.CodeRateLimit, "rate limit wait aborted", err).WithContext("action", name)
			return errorObservation(name, rerr, time.Since(start))
		}
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	out, err := resilience.WithTimeoutResult(context.WithoutCancel(ctx), resilience.TimeoutConfig{Duration: timeout},
		func(ctx context.Context) (any, error) {
			return safeInvoke(ctx, def.Handler, arg)
		})
	duration := time.Since(start)
	if err != nil {
		r.logger.Debug("action.invoke", "action", name, "duration_ms", duration.Milliseconds(), "is_error", true, "error", err)
		return errorObservation(name, err, duration)
	}

	text, ferr := FormatOutput(out)
	if ferr != nil {
		return errorObservation(name, ferr, duration)
	}
	obs := Observation{Text: text, Data: out, Duration: duration}
	if r.cache != nil && !def.NoCache {
		r.cache.Put(name, arg, obs)
	}
	r.logger.Debug("action.invoke", "action", name, "duration_ms", duration.Milliseconds(), "is_error", false)
	return obs
}

func safeInvoke(ctx context.Context, h Handler, arg Argument) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf(errors.CodeActionExecution, "panic: %v", rec)
		}
	}()
	return h.Invoke(ctx, arg)
}

// ErrorText formats the observation text for a failed invocation.
func ErrorText(name string, err error) string {
	return fmt.Sprintf("Error executing %s: %s", name, errorMessage(err))
}

func errorMessage(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	return err.Error()
}

func errorObservation(name string, err error, d time.Duration) Observation {
	return Observation{Text: ErrorText(name, err), Data: err, IsError: true, Duration: d}
}

// FormatOutput renders a handler result as observation text.
func FormatOutput(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case fmt.Stringer:
		return val.String(), nil
	case error:
		return val.Error(), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", errors.New(errors.CodeActionExecution, "cannot encode action output", err)
		}
		return string(data), nil
	}
}

// Descriptions returns the name/description pairs sorted by name.
func (r *Registry) Descriptions() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Description, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, Description{Name: name, Description: e.def.Description})
	}
	slices.SortFunc(out, func(a, b Description) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Cache returns the result cache, or nil.
func (r *Registry) Cache() *Cache {
	return r.cache
}

// Restrict returns a read-only view limited to the allowed names. An empty
// list keeps every action. Unknown names are ignored. The view shares the
// cache and rate limiters of r.
func (r *Registry) Restrict(allowed []string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	view := &Registry{
		entries:        make(map[string]*entry, len(r.entries)),
		cache:          r.cache,
		defaultTimeout: r.defaultTimeout,
		logger:         r.logger,
		readOnly:       true,
	}
	if len(allowed) == 0 {
		for name, e := range r.entries {
			view.entries[name] = e
		}
		return view
	}
	for _, name := range allowed {
		if e, ok := r.entries[name]; ok {
			view.entries[name] = e
		}
	}
	return view
}

// WithTimeout returns a read-only view whose default invocation timeout is
// d. Actions with their own Timeout keep it. A non-positive d keeps the
// current default.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	view := r.Restrict(nil)
	if d > 0 {
		view.defaultTimeout = d
	}
	return view
}
