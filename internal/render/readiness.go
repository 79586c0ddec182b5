package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const pollInterval = 100 * time.Millisecond

// navigateAndSettle navigates the tab and runs the readiness protocol. Only
// the initial navigation is fatal; every later step degrades to continuing
// with whatever the page has produced so far.
func (e *Engine) navigateAndSettle(job *Job) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		start := time.Now()

		// Remaining budget, floored so late steps still get a chance.
		remaining := func() time.Duration {
			return max(time.Second, job.Timeout-time.Since(start))
		}

		frameID, loaderID, _, _, err := page.Navigate(job.URL).Do(ctx)
		if err != nil {
			return errors.Join(ErrNavigateFailed, err)
		}

		if err := waitForLifecycle(ctx, "load", string(frameID), string(loaderID), job.Timeout); err != nil {
			if errors.Is(err, ErrWaitTimeout) {
				return errors.Join(ErrNavigateFailed, err)
			}
			return err
		}

		if err := e.tolerate(waitForLifecycle(ctx, "networkIdle", string(frameID), string(loaderID), min(15*time.Second, remaining()))); err != nil {
			return err
		}

		matched := false
		for _, selector := range selectorLadder(job.RootSelector) {
			ok, err := pollExpr(ctx, hasFirstChildExpr(selector), max(15*time.Second, remaining()))
			if err != nil {
				return err
			}
			if ok {
				matched = true
				break
			}
		}

		if !matched {
			if _, err := pollExpr(ctx, hasTextContentExpr(job.RootSelector), max(10*time.Second, remaining())); err != nil {
				return err
			}
		}

		return e.tolerate(waitForLifecycle(ctx, "networkIdle", string(frameID), string(loaderID), min(10*time.Second, remaining())))
	}
}

// tolerate swallows the soft timeout while letting real failures through.
func (e *Engine) tolerate(err error) error {
	if errors.Is(err, ErrWaitTimeout) {
		return nil
	}
	return err
}

// selectorLadder returns the root candidates tried in order. The configured
// selector leads; duplicates of the fixed rungs are skipped.
func selectorLadder(rootSelector string) []string {
	ladder := []string{rootSelector}
	for _, fallback := range []string{"#app", "[data-reactroot]", "body > *"} {
		if fallback != rootSelector {
			ladder = append(ladder, fallback)
		}
	}
	return ladder
}

func hasFirstChildExpr(selector string) string {
	return fmt.Sprintf(`(function(){var el=document.querySelector(%q);return !!(el&&el.firstChild);})()`, selector)
}

func hasTextContentExpr(selector string) string {
	return fmt.Sprintf(`(function(){var el=document.querySelector(%q)||document.body;return !!(el&&el.textContent&&el.textContent.trim().length>0);})()`, selector)
}

// pollExpr evaluates a boolean expression every poll interval until it holds
// or the budget runs out. A timeout is reported as a non-match, not an error.
func pollExpr(ctx context.Context, expr string, budget time.Duration) (bool, error) {
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var ok bool
		if err := chromedp.Evaluate(expr, &ok).Do(ctx); err == nil && ok {
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// waitForLifecycle blocks until the named lifecycle event arrives for the
// exact frame and loader of this navigation, the context ends, or the budget
// expires (ErrWaitTimeout).
func waitForLifecycle(ctx context.Context, eventName, frameID, loaderID string, budget time.Duration) error {
	ch := make(chan struct{})

	listenerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chromedp.ListenTarget(listenerCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok {
			if string(e.FrameID) == frameID && string(e.LoaderID) == loaderID && string(e.Name) == eventName {
				cancel()
				close(ch)
			}
		}
	})

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(budget):
		return ErrWaitTimeout
	}
}
