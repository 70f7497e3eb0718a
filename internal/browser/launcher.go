// internal/browser/launcher.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vacbot/internal/config"
)

// ChromeLauncher starts a dedicated Chrome process per surface, so a restart
// begins from a clean profile.
type ChromeLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

var _ Launcher = (*ChromeLauncher)(nil)

// NewChromeLauncher creates a launcher for the given browser configuration.
func NewChromeLauncher(cfg config.BrowserConfig, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{
		cfg:    cfg,
		logger: logger.Named("browser"),
	}
}

// Launch allocates a browser and opens a tab. The browser outlives ctx; it is
// only torn down by Surface.Close. ctx bounds the startup itself.
func (l *ChromeLauncher) Launch(ctx context.Context) (Surface, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(l.cfg)...)

	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Debugf),
	}
	if l.cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(l.logger.Sugar().Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	cancel := func() {
		tabCancel()
		allocCancel()
	}

	// The first Run starts the browser and must use the tab context itself,
	// otherwise cancelling the run would kill the process.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		cancel()
		<-started
		return nil, ctx.Err()
	}

	s := newChromeSurface(tabCtx, cancel, l.cfg.DefaultTimeout, l.logger)
	s.listen()
	s.logger.Info("Browser surface launched.", zap.Bool("headless", l.cfg.Headless))
	return s, nil
}
