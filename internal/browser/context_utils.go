// internal/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext derives a context from ctx1 (the tab's lifetime context, which
// carries the CDP connection values) that is also canceled when ctx2 (the
// operation's context) is done.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)
	if ctx2 == nil || ctx2.Done() == nil {
		return combinedCtx, cancel
	}

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
