package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/laytan/tubescriber/internal/retry"
	"github.com/laytan/tubescriber/internal/tube"
)

// Budget is the daily quota the gate draws from, see quota.Tracker.
type Budget interface {
	Reserve(n int) bool
	Release(n int)
	Commit(ctx context.Context, n int)
	Exhaust(ctx context.Context)
}

// gate puts every remote call behind the quota and the retry policy.
// Each attempt costs one unit, whatever its outcome.
type gate struct {
	budget Budget
	policy retry.Policy
}

func newGate(budget Budget, policy retry.Policy) *gate {
	policy.Retryable = tube.IsTransient
	return &gate{budget: budget, policy: policy}
}

func call[T any](ctx context.Context, g *gate, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, g.policy, func(ctx context.Context, attempt int) (T, error) {
		var zero T

		if !g.budget.Reserve(1) {
			return zero, ErrQuotaExhausted
		}
		if err := ctx.Err(); err != nil {
			g.budget.Release(1)
			return zero, err
		}

		res, err := fn(ctx)
		g.budget.Commit(context.WithoutCancel(ctx), 1)

		if errors.Is(err, tube.ErrQuotaExceeded) {
			g.budget.Exhaust(context.WithoutCancel(ctx))
			return zero, fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
		}
		return res, err
	})
}

// stopsRun reports whether err ends the whole run rather than a single item.
func stopsRun(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrQuotaExhausted) || ctx.Err() != nil
}
