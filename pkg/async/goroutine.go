package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/coachplan/pkg/observability"
)

// Go runs fn in a goroutine with panic recovery. A positive timeout bounds
// the task; errors are logged, not returned.
//
// Example:
//
//	async.Go(ctx, logger, 0, "db stats reporter", func(ctx context.Context) error {
//	    return reportStats(ctx)
//	})
func Go(parent context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	go func() {
		ctx, cancel := withOptionalTimeout(parent, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).WithField("task", taskName).Error("background task failed")
		}
	}()
}

// Batch calls fn for every item with at most workers calls in flight. Each
// call gets its own timeout when timeout is positive. A failing item does not
// stop the others; all failures are returned joined. Once ctx is done no new
// items start and ctx.Err() is included in the result.
//
// Example:
//
//	err := async.Batch(ctx, accountIDs, 4, 30*time.Second, func(ctx context.Context, id string) error {
//	    return expire(ctx, id)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) error {
	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			record(err)
			break
		}
		g.Go(func() error {
			itemCtx, cancel := withOptionalTimeout(ctx, timeout)
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					record(observability.PanicError(r))
				}
			}()

			if err := fn(itemCtx, item); err != nil {
				record(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func withOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}
