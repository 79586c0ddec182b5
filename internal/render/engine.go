package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/renderx/gateway/internal/cache"
)

const tabCloseTimeout = 5 * time.Second

// Engine renders pages in one shared headless Chrome. The browser launches
// lazily on first use; when it dies, the handle is dropped and the next
// render relaunches. Tabs are per-job and never reused.
type Engine struct {
	logger *zap.Logger

	slotMu sync.Mutex
	active int
	closed bool

	launchGroup singleflight.Group

	browserMu     sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Active reports the number of renders in flight.
func (e *Engine) Active() int {
	e.slotMu.Lock()
	defer e.slotMu.Unlock()
	return e.active
}

// Available reports whether the browser is running and responsive. A stopped
// browser is available too: the next render launches it.
func (e *Engine) Available() (bool, error) {
	e.browserMu.Lock()
	ctx := e.browserCtx
	e.browserMu.Unlock()

	if ctx == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("browser disconnected: %w", ctx.Err())
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := chromedp.Run(probeCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := browser.GetVersion().Do(ctx)
		return err
	}))
	if err != nil {
		return false, fmt.Errorf("browser probe failed: %w", err)
	}
	return true, nil
}

// Render runs one job. It fails fast with ErrAtCapacity when the admission
// limit is reached and releases its slot exactly once on every path.
func (e *Engine) Render(ctx context.Context, job *Job) (*Result, error) {
	if err := e.acquire(job.MaxParallel); err != nil {
		return nil, err
	}
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(e.release) }
	defer release()

	browserCtx, err := e.browser()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()
	defer e.closeTab(job, tabCtx, tabCancel)

	var handlerCount int64
	var html string

	mobile := job.DeviceType == cache.DeviceMobile

	err = chromedp.Run(tabCtx, chromedp.Tasks{
		e.interceptRequests(job, &handlerCount),
		network.Enable(),
		fetch.Enable(),
		network.ClearBrowserCookies(),
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorDeny),
		page.Enable(),
		enableLifecycleEvents(),
		emulation.SetUserAgentOverride(job.UserAgent),
		emulation.SetDeviceMetricsOverride(1920, 1080, 1.0, mobile),
		e.navigateAndSettle(job),
		e.extractHTML(&html),
		e.waitForHandlers(job, &handlerCount),
	})

	duration := time.Since(start)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("render aborted: %w", ctx.Err())
	}
	if err != nil {
		e.logger.Warn("Render failed",
			zap.String("request_id", job.RequestID),
			zap.String("url", job.URL),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, err
	}
	if html == "" {
		return nil, ErrEmptyHTML
	}

	e.logger.Debug("Render finished",
		zap.String("request_id", job.RequestID),
		zap.String("url", job.URL),
		zap.Int("html_size", len(html)),
		zap.Duration("duration", duration))

	return &Result{HTML: html, Duration: duration}, nil
}

// Shutdown stops accepting work and terminates the browser. In-flight
// renders are abandoned with their tabs.
func (e *Engine) Shutdown() {
	e.slotMu.Lock()
	e.closed = true
	e.slotMu.Unlock()

	e.browserMu.Lock()
	defer e.browserMu.Unlock()
	if e.browserCancel != nil {
		e.browserCancel()
		e.browserCancel = nil
	}
	if e.allocCancel != nil {
		e.allocCancel()
		e.allocCancel = nil
	}
	e.browserCtx = nil
	e.logger.Info("Render engine stopped")
}

func (e *Engine) acquire(maxParallel int) error {
	e.slotMu.Lock()
	defer e.slotMu.Unlock()

	if e.closed {
		return ErrShutdown
	}
	if e.active >= maxParallel {
		return fmt.Errorf("%w: %d renders in flight", ErrAtCapacity, e.active)
	}
	e.active++
	return nil
}

func (e *Engine) release() {
	e.slotMu.Lock()
	e.active--
	e.slotMu.Unlock()
}

// browser returns a live browser context, launching or relaunching through a
// singleflight latch so concurrent first renders share one launch.
func (e *Engine) browser() (context.Context, error) {
	ctx, err, _ := e.launchGroup.Do("launch", func() (interface{}, error) {
		e.browserMu.Lock()
		defer e.browserMu.Unlock()

		if e.browserCtx != nil && e.browserCtx.Err() == nil {
			return e.browserCtx, nil
		}

		// Previous browser died; tear down its allocator before relaunching.
		if e.browserCancel != nil {
			e.browserCancel()
		}
		if e.allocCancel != nil {
			e.allocCancel()
		}

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("disable-extensions", true),
			chromedp.Flag("disable-background-networking", true),
			chromedp.Flag("mute-audio", true),
			chromedp.Flag("disable-sync", true),
			chromedp.Flag("disable-translate", true),
		)

		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			return nil, errors.Join(ErrLaunchFailed, err)
		}

		e.allocCancel = allocCancel
		e.browserCtx = browserCtx
		e.browserCancel = browserCancel
		e.logger.Info("Headless browser launched")
		return browserCtx, nil
	})
	if err != nil {
		return nil, err
	}
	return ctx.(context.Context), nil
}

// closeTab closes the page with a bound so a wedged tab never blocks the
// request goroutine past teardown.
func (e *Engine) closeTab(job *Job, tabCtx context.Context, tabCancel context.CancelFunc) {
	defer tabCancel()

	if tabCtx.Err() != nil {
		return
	}

	closeCtx, cancel := context.WithTimeout(tabCtx, tabCloseTimeout)
	defer cancel()

	if err := chromedp.Run(closeCtx, page.Close()); err != nil {
		e.logger.Warn("Tab close timed out, cancelling context",
			zap.String("request_id", job.RequestID),
			zap.Error(err))
	}
}

func (e *Engine) extractHTML(output *string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		var lastErr error
		for attempt := 0; attempt < 3; attempt++ {
			rootNode, err := dom.GetDocument().Do(ctx)
			if err != nil {
				lastErr = err
				time.Sleep(300 * time.Millisecond)
				continue
			}
			html, err := dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
			if err != nil {
				lastErr = err
				time.Sleep(300 * time.Millisecond)
				continue
			}
			*output = html
			return nil
		}
		return fmt.Errorf("%w after 3 attempts: %v", ErrExtractHTML, lastErr)
	}
}

func enableLifecycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	}
}
