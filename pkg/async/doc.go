// Package async provides safe execution of fire-and-forget background tasks.
//
// SafeGo runs a function in its own goroutine with a timeout, panic recovery
// and error logging. It detaches from the caller's cancellation so a task
// launched while serving a request is not cut short when the response is
// written:
//
//	async.SafeGo(r.Context(), 2*time.Second, "invalidation broadcast", func(ctx context.Context) error {
//		return publisher.Publish(ctx, signal)
//	})
package async
