// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// ErrSessionClosed is returned by page operations after Close.
var ErrSessionClosed = errors.New("browser session is closed")

// queryTimeout bounds existence checks, which never wait for a match.
const queryTimeout = 5 * time.Second

// fillFunction sets an input or select value through the native setter so
// framework-controlled inputs observe the change, then fires the events a
// user edit would.
const fillFunction = `function(v) {
	this.focus();
	const proto = Object.getPrototypeOf(this);
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) { desc.set.call(this, v); } else { this.value = v; }
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	if (this.blur) { this.blur(); }
}`

// Session is a single page in a dedicated browser process with its own
// profile directory. It implements schemas.BrowserSession.
type Session struct {
	id     string
	ctx    context.Context
	logger *zap.Logger

	teardown  []teardownStep
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ schemas.BrowserSession = (*Session)(nil)

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// run executes actions on the page, bounded by both the session lifetime and
// the caller's context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) runWithTimeout(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.run(ctx, actions...)
}

// selector resolves a locator into a chromedp selector and query option.
func selector(loc schemas.Locator) (string, chromedp.QueryOption) {
	if loc.Kind == schemas.LocatorText {
		return loc.XPath(), chromedp.BySearch
	}
	return loc.Selector, chromedp.ByQuery
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := s.runWithTimeout(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Sleep pauses for d unless either context ends first.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	return s.run(ctx, chromedp.Sleep(d))
}

// URL returns the current document location.
func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

// HTML returns the rendered document markup.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read document html: %w", err)
	}
	return html, nil
}

// Text returns the body's visible text.
func (s *Session) Text(ctx context.Context) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text)); err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return text, nil
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Exists reports whether loc currently matches an element.
func (s *Session) Exists(ctx context.Context, loc schemas.Locator) (bool, error) {
	sel, by := selector(loc)
	var nodes []*cdp.Node
	if err := s.runWithTimeout(ctx, queryTimeout, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return false, fmt.Errorf("query %s failed: %w", loc, err)
	}
	return len(nodes) > 0, nil
}

// ScrollIntoView scrolls the first match of loc into the viewport.
func (s *Session) ScrollIntoView(ctx context.Context, loc schemas.Locator) error {
	sel, by := selector(loc)
	if err := s.runWithTimeout(ctx, queryTimeout, chromedp.ScrollIntoView(sel, by)); err != nil {
		return fmt.Errorf("scroll to %s failed: %w", loc, err)
	}
	return nil
}

// Click waits for the first match of loc to be visible and clicks it.
func (s *Session) Click(ctx context.Context, loc schemas.Locator, timeout time.Duration) error {
	sel, by := selector(loc)
	if err := s.runWithTimeout(ctx, timeout, chromedp.Click(sel, by, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click on %s failed: %w", loc, err)
	}
	return nil
}

// Fill sets the value of the first match of loc.
func (s *Session) Fill(ctx context.Context, loc schemas.Locator, value string) error {
	sel, by := selector(loc)
	fill := chromedp.QueryAfter(sel, func(ctx context.Context, _ runtime.ExecutionContextID, nodes ...*cdp.Node) error {
		if len(nodes) == 0 {
			return fmt.Errorf("no node matches %s", loc)
		}
		return chromedp.CallFunctionOnNode(ctx, nodes[0], fillFunction, nil, value)
	}, by)
	if err := s.runWithTimeout(ctx, queryTimeout, fill); err != nil {
		return fmt.Errorf("fill of %s failed: %w", loc, err)
	}
	return nil
}

// Close tears the session down: the page target first, then the browser,
// then the process and its profile directory. Every step runs even when an
// earlier one fails. Later calls return the first call's result.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = runTeardown(ctx, s.logger, s.teardown)
		if s.closeErr != nil {
			s.logger.Warn("Browser session teardown finished with errors.", zap.Error(s.closeErr))
		} else {
			s.logger.Debug("Browser session closed.")
		}
	})
	return s.closeErr
}
