package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/rolesync/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging through the context logger
//
// The parent context's values are kept but its cancellation is not, so work
// started from a request handler survives the response being written.
//
// Example:
//
//	SafeGo(r.Context(), 5*time.Second, "invalidation broadcast", func(ctx context.Context) error {
//	    return publisher.Publish(ctx, signal)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	logger := observability.FromContext(parentCtx).WithField("task", taskName)
	base := context.WithoutCancel(parentCtx)

	go func() {
		ctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"panic":       fmt.Sprintf("%v", r),
					"stack_trace": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warn("background task failed")
		}
	}()
}
