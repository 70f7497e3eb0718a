// internal/browser/interface.go
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/cdproto/cdp"
)

var (
	// ErrNotFound is returned by Locate when no element matches the selector.
	ErrNotFound = errors.New("browser: element not found")
	// ErrTimeout is returned when a wait exceeds its bound.
	ErrTimeout = errors.New("browser: wait timed out")
	// ErrEvaluation wraps failures raised inside the page's execution context.
	ErrEvaluation = errors.New("browser: in-page evaluation failed")
	// ErrClosed is returned for operations on a surface that has been torn down.
	ErrClosed = errors.New("browser: surface closed")
)

// Element is a handle to a node found on the page.
type Element struct {
	Selector string
	NodeID   cdp.NodeID
}

// Evaluator runs a JavaScript function declaration inside the page with
// JSON-encoded args and decodes its (awaited) return value into res. res may be nil.
type Evaluator interface {
	Evaluate(ctx context.Context, fn string, res interface{}, args ...interface{}) error
}

// Surface is a scriptable, externally rendered page the controller drives.
type Surface interface {
	Evaluator

	ID() string
	Navigate(ctx context.Context, url string) error
	// Locate returns the first element matching selector right now, or ErrNotFound.
	Locate(ctx context.Context, selector string) (Element, error)
	Type(ctx context.Context, el Element, text string) error
	Click(ctx context.Context, el Element) error
	// WaitForSelector blocks until selector is visible. A zero timeout uses the surface default.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// WaitForCondition blocks until the predicate function returns truthy. This is how
	// human-in-the-loop input is awaited. A zero timeout uses the surface default.
	WaitForCondition(ctx context.Context, predicate string, timeout time.Duration, args ...interface{}) error
	Close(ctx context.Context) error
}

// Launcher creates fresh surfaces.
type Launcher interface {
	Launch(ctx context.Context) (Surface, error)
}
