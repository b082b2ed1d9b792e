// Package async provides panic-safe background execution.
//
// Go starts a fire-and-forget task whose errors and panics are logged.
// Batch fans a slice out over a bounded number of workers and joins the
// failures; the lapsed-plan sweeper uses it to expire accounts concurrently
// while keeping one transaction per account.
//
//	err := async.Batch(ctx, ids, 4, 30*time.Second, func(ctx context.Context, id string) error {
//		return expire(ctx, id)
//	})
package async
