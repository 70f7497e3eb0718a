// internal/browser/surface.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const pollInterval = 250 * time.Millisecond

// chromeSurface is a single Chrome tab driven over CDP.
type chromeSurface struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	defaultTimeout time.Duration

	mu       sync.Mutex
	isClosed bool
}

var _ Surface = (*chromeSurface)(nil)

func newChromeSurface(ctx context.Context, cancel context.CancelFunc, defaultTimeout time.Duration, logger *zap.Logger) *chromeSurface {
	id := uuid.New().String()
	return &chromeSurface{
		id:             id,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger.With(zap.String("surface_id", id)),
		defaultTimeout: defaultTimeout,
	}
}

func (s *chromeSurface) ID() string {
	return s.id
}

// listen forwards page exceptions to the log.
func (s *chromeSurface) listen() {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventExceptionThrown:
			if ev.ExceptionDetails == nil {
				return
			}
			msg := ev.ExceptionDetails.Text
			if ev.ExceptionDetails.Exception != nil && ev.ExceptionDetails.Exception.Description != "" {
				msg = ev.ExceptionDetails.Exception.Description
			}
			s.logger.Warn("Page raised an uncaught exception.", zap.String("message", msg))
		case *runtime.EventConsoleAPICalled:
			if ev.Type != runtime.APITypeError {
				return
			}
			parts := make([]string, 0, len(ev.Args))
			for _, arg := range ev.Args {
				if arg.Value != nil {
					parts = append(parts, string(arg.Value))
				} else if arg.Description != "" {
					parts = append(parts, arg.Description)
				}
			}
			s.logger.Debug("Page console error.", zap.String("message", strings.Join(parts, " ")))
		}
	})
}

// runActions executes chromedp actions bounded by both the tab lifetime and ctx.
func (s *chromeSurface) runActions(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSurface) timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if s.defaultTimeout > 0 {
		return s.defaultTimeout
	}
	return 180 * time.Second
}

// classify turns a failed wait into ErrTimeout when the bound expired, and
// surfaces cancellation of the caller's context unchanged.
func (s *chromeSurface) classify(ctx, waitCtx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if waitCtx.Err() == context.DeadlineExceeded || errors.Is(err, chromedp.ErrPollingTimeout) {
		return fmt.Errorf("%s: %w", what, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *chromeSurface) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating to URL", zap.String("url", url))

	navTimeout := s.timeoutOrDefault(0)
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	err := s.runActions(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return s.classify(ctx, navCtx, fmt.Sprintf("navigation to %s", url), err)
	}
	return nil
}

func (s *chromeSurface) Locate(ctx context.Context, selector string) (Element, error) {
	var nodes []*cdp.Node
	if err := s.runActions(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		if ctx.Err() != nil {
			return Element{}, ctx.Err()
		}
		return Element{}, fmt.Errorf("locate %q: %w", selector, err)
	}
	if len(nodes) == 0 {
		return Element{}, fmt.Errorf("locate %q: %w", selector, ErrNotFound)
	}
	return Element{Selector: selector, NodeID: nodes[0].NodeID}, nil
}

// target picks the most precise query for an element handle.
func target(el Element) (interface{}, chromedp.QueryOption) {
	if el.NodeID != 0 {
		return []cdp.NodeID{el.NodeID}, chromedp.ByNodeID
	}
	return el.Selector, chromedp.ByQuery
}

func (s *chromeSurface) Type(ctx context.Context, el Element, text string) error {
	sel, by := target(el)
	if err := s.runActions(ctx, chromedp.Focus(sel, by), chromedp.SendKeys(sel, text, by)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("type into %q: %w", el.Selector, err)
	}
	return nil
}

func (s *chromeSurface) Click(ctx context.Context, el Element) error {
	sel, by := target(el)
	if err := s.runActions(ctx, chromedp.ScrollIntoView(sel, by), chromedp.Click(sel, by)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("click %q: %w", el.Selector, err)
	}
	return nil
}

func (s *chromeSurface) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	timeout = s.timeoutOrDefault(timeout)
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var nodes []*cdp.Node
	err := s.runActions(waitCtx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.NodeVisible))
	if err != nil {
		return Element{}, s.classify(ctx, waitCtx, fmt.Sprintf("wait for %q after %s", selector, timeout), err)
	}
	if len(nodes) == 0 {
		return Element{}, fmt.Errorf("wait for %q: %w", selector, ErrNotFound)
	}
	return Element{Selector: selector, NodeID: nodes[0].NodeID}, nil
}

func (s *chromeSurface) WaitForCondition(ctx context.Context, predicate string, timeout time.Duration, args ...interface{}) error {
	timeout = s.timeoutOrDefault(timeout)
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []chromedp.PollOption{
		chromedp.WithPollingInterval(pollInterval),
		chromedp.WithPollingTimeout(timeout),
	}
	if len(args) > 0 {
		opts = append(opts, chromedp.WithPollingArgs(args...))
	}

	var satisfied interface{}
	if err := s.runActions(waitCtx, chromedp.PollFunction(predicate, &satisfied, opts...)); err != nil {
		return s.classify(ctx, waitCtx, fmt.Sprintf("wait for condition after %s", timeout), err)
	}
	return nil
}

// Evaluate calls fn with args and awaits the result. A thrown exception or
// rejected promise is reported as ErrEvaluation.
func (s *chromeSurface) Evaluate(ctx context.Context, fn string, res interface{}, args ...interface{}) error {
	expr, err := callExpression(fn, args...)
	if err != nil {
		return err
	}

	var raw []byte
	err = s.runActions(ctx, chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	if res == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, res); err != nil {
		return fmt.Errorf("%w: decode result: %v", ErrEvaluation, err)
	}
	return nil
}

// callExpression renders an IIFE invoking fn with JSON-encoded arguments.
func callExpression(fn string, args ...interface{}) (string, error) {
	encoded := make([]string, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("encode argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("(%s)(%s)", strings.TrimSpace(fn), strings.Join(encoded, ", ")), nil
}

func (s *chromeSurface) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Info("Closing surface.")

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	done := make(chan error, 1)
	go func() {
		// Cancel asks Chrome to close the target and, for the owning context, the browser.
		done <- chromedp.Cancel(s.ctx)
	}()

	select {
	case err = <-done:
	case <-closeCtx.Done():
		err = fmt.Errorf("graceful close timed out: %w", closeCtx.Err())
	}
	s.cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Surface did not close cleanly.", zap.Error(err))
		return err
	}
	return nil
}
