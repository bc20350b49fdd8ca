package pxtransport

import (
	"context"
	"errors"
	"os"
	"time"
)

// WithDeadline runs fn with ctx's deadline applied through setDeadline,
// and interrupts fn by moving the deadline to now if ctx is canceled first.
//
// If fn fails because ctx ended, the returned error is [context.Cause] of ctx,
// so causes set with [context.WithTimeoutCause] reach the caller.
func WithDeadline(ctx context.Context, setDeadline func(time.Time) error, fn func() error) error {
	d, _ := ctx.Deadline() // Zero time when ctx has no deadline.
	if err := setDeadline(d); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = setDeadline(time.Now())
	})
	err := fn()
	stop()

	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if _, ok := ctx.Deadline(); ok || ctx.Err() != nil {
			// The network deadline and the context timer race;
			// the context is done now or momentarily.
			<-ctx.Done()
			return context.Cause(ctx)
		}
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}
