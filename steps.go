package braid

import (
	"context"
	"fmt"
	"time"

	"github.com/braidflow/braid/pkg/api"
)

// SleepStep returns a step that sleeps for the given duration and passes
// its input through.
func SleepStep(d time.Duration) StepFunc {
	return func(ctx context.Context, sc *api.StepContext) (any, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return sc.Prev, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// SuspendStep returns a step that parks its path with the given payload
// until the run is resumed at this step. The resume context data becomes
// the step output.
func SuspendStep(payload any) StepFunc {
	return func(ctx context.Context, sc *api.StepContext) (any, error) {
		if sc.Resume != nil {
			return sc.Resume, nil
		}
		return nil, api.Suspend(payload)
	}
}

// TypedStep wraps a strongly-typed function into a StepFunc. The step's
// Prev value must be assignable to I (a nil Prev yields the zero value).
// Example:
//
//	braid.TypedStep(func(ctx context.Context, o Order) (Receipt, error) { ... })
func TypedStep[I, O any](fn func(context.Context, I) (O, error)) StepFunc {
	return func(ctx context.Context, sc *api.StepContext) (any, error) {
		var in I
		if sc.Prev != nil {
			v, ok := sc.Prev.(I)
			if !ok {
				return nil, fmt.Errorf("step %q: input is %T, want %T", sc.StepID, sc.Prev, in)
			}
			in = v
		}
		return fn(ctx, in)
	}
}
