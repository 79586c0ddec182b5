package render

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// HeaderInternal marks loopback render traffic so the router never renders
// a render's own requests.
const HeaderInternal = "X-RenderX-Internal"

// Resource types a rendering page is allowed to load. Everything else is
// aborted at the fetch layer; snapshots need markup and the scripts that
// build it, not images or fonts.
var allowedResourceTypes = map[network.ResourceType]bool{
	network.ResourceTypeDocument: true,
	network.ResourceTypeScript:   true,
	network.ResourceTypeXHR:      true,
	network.ResourceTypeFetch:    true,
}

// interceptRequests installs the fetch interception listener for a tab.
// Allowed requests continue with the internal marker and forwarded Origin
// injected; the rest fail with an abort. handlerCount tracks in-flight
// handler goroutines so tab teardown can wait for them.
func (e *Engine) interceptRequests(job *Job, handlerCount *int64) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		chromedp.ListenTarget(ctx, func(event interface{}) {
			ev, ok := event.(*fetch.EventRequestPaused)
			if !ok {
				return
			}

			atomic.AddInt64(handlerCount, 1)
			go func(ev *fetch.EventRequestPaused) {
				defer atomic.AddInt64(handlerCount, -1)

				cmdCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				defer cancel()

				c := chromedp.FromContext(cmdCtx)
				executor := cdp.WithExecutor(cmdCtx, c.Target)

				if !allowedResourceTypes[ev.ResourceType] {
					if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted).Do(executor); err != nil {
						e.logger.Debug("Failed to abort filtered request",
							zap.String("request_id", job.RequestID),
							zap.String("url", ev.Request.URL),
							zap.Error(err))
					}
					return
				}

				headers := injectHeaders(ev.Request.Headers, job.Origin)
				if err := fetch.ContinueRequest(ev.RequestID).WithHeaders(headers).Do(executor); err != nil {
					e.logger.Warn("Failed to continue request, aborting to prevent hang",
						zap.String("request_id", job.RequestID),
						zap.String("url", ev.Request.URL),
						zap.Error(err))
					fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted).Do(executor)
				}
			}(ev)
		})
		return nil
	}
}

// injectHeaders rebuilds the request header set with the internal render
// marker and, when present, the forwarded Origin. Injected names override
// originals case-insensitively.
func injectHeaders(original map[string]interface{}, origin string) []*fetch.HeaderEntry {
	injected := map[string]string{HeaderInternal: "true"}
	if origin != "" {
		injected["Origin"] = origin
	}

	headers := make([]*fetch.HeaderEntry, 0, len(original)+len(injected))
	for name, value := range original {
		str, ok := value.(string)
		if !ok {
			continue
		}
		overridden := false
		for injectedName := range injected {
			if strings.EqualFold(name, injectedName) {
				overridden = true
				break
			}
		}
		if !overridden {
			headers = append(headers, &fetch.HeaderEntry{Name: name, Value: str})
		}
	}
	for name, value := range injected {
		headers = append(headers, &fetch.HeaderEntry{Name: name, Value: value})
	}
	return headers
}

// waitForHandlers blocks until every fetch handler goroutine finished, with
// an upper bound so teardown never hangs on a stuck CDP command.
func (e *Engine) waitForHandlers(job *Job, handlerCount *int64) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		timeout := time.After(5 * time.Second)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			if atomic.LoadInt64(handlerCount) <= 0 {
				return nil
			}
			select {
			case <-timeout:
				e.logger.Warn("Timeout waiting for fetch handlers",
					zap.String("request_id", job.RequestID),
					zap.Int64("remaining", atomic.LoadInt64(handlerCount)))
				return nil
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
