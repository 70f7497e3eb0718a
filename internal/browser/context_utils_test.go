// internal/browser/context_utils_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type ctxKey string

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("SecondaryCancelPropagates", func(t *testing.T) {
		parent := context.WithValue(context.Background(), ctxKey("target"), "tab-1")
		op, opCancel := context.WithCancel(context.Background())

		combined, cancel := CombineContext(parent, op)
		defer cancel()

		assert.Equal(t, "tab-1", combined.Value(ctxKey("target")))
		opCancel()

		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context was not canceled by the operation context")
		}
	})

	t.Run("ParentCancelPropagates", func(t *testing.T) {
		parent, parentCancel := context.WithCancel(context.Background())
		op, opCancel := context.WithCancel(context.Background())
		defer opCancel()

		combined, cancel := CombineContext(parent, op)
		defer cancel()

		parentCancel()
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
		assert.NoError(t, op.Err())
	})

	t.Run("UncancellableSecondary", func(t *testing.T) {
		combined, cancel := CombineContext(context.Background(), context.Background())
		assert.NoError(t, combined.Err())
		cancel()
		assert.Error(t, combined.Err())
	})
}
