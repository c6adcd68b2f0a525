// SPDX-License-Identifier: Apache-2.0
package oracle

import (
	"context"
	"log/slog"

	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/jllopis/reactloop/pkg/resilience"
)

// Fallback asks a secondary oracle when the primary fails to answer. A
// malformed reply is not a failure to answer: it is returned as is so the
// loop can run its repair attempt.
type Fallback struct {
	primary   Oracle
	secondary Oracle
	logger    *slog.Logger
}

// NewFallback creates an oracle that prefers primary.
func NewFallback(primary, secondary Oracle) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: slog.Default()}
}

// Propose implements Oracle.
func (f *Fallback) Propose(ctx context.Context, req Request) (Decision, error) {
	if f.secondary == nil {
		return f.primary.Propose(ctx, req)
	}
	secondary := resilience.FallbackFunc[Decision](func(ctx context.Context, primaryErr error) (Decision, error) {
		f.logger.WarnContext(ctx, "oracle.fallback", "iteration", req.Iteration, "error", primaryErr)
		return f.secondary.Propose(ctx, req)
	})
	return resilience.WithFallback(ctx, func() (Decision, error) {
		return f.primary.Propose(ctx, req)
	}, secondary, shouldFallback(ctx))
}

func shouldFallback(ctx context.Context) func(error) bool {
	return func(err error) bool {
		if ctx.Err() != nil {
			return false
		}
		return !errors.HasCode(err, errors.CodeMalformedDecision)
	}
}
