package schemas

import (
	"context"
	"time"
)

// -- Browser Interfaces --

// Page is the set of page interactions the extractors and the action
// executor rely on. Every blocking call honours the context and, where a
// timeout parameter is given, bounds itself by it.
type Page interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Sleep pauses for d unless the context ends first.
	Sleep(ctx context.Context, d time.Duration) error
	// URL returns the current document location.
	URL(ctx context.Context) (string, error)
	// HTML returns the rendered outer HTML of the document.
	HTML(ctx context.Context) (string, error)
	// Text returns the visible text of the document body.
	Text(ctx context.Context) (string, error)
	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Exists reports whether at least one element matches loc, without waiting.
	Exists(ctx context.Context, loc Locator) (bool, error)
	// ScrollIntoView scrolls the first match of loc into the viewport.
	ScrollIntoView(ctx context.Context, loc Locator) error
	// Click clicks the first match of loc.
	Click(ctx context.Context, loc Locator, timeout time.Duration) error
	// Fill sets the value of the first match of loc, firing input events.
	Fill(ctx context.Context, loc Locator, value string) error
}

// SessionOptions configures a single browser session.
type SessionOptions struct {
	Headless bool
}

// BrowserSession is one isolated, request-scoped automation context.
type BrowserSession interface {
	Page
	ID() string
	// Close releases the page, the browser and the process resources, in
	// that order. It is safe to call more than once.
	Close(ctx context.Context) error
}

// BrowserManager hands out browser sessions.
type BrowserManager interface {
	NewSession(ctx context.Context, opts SessionOptions) (BrowserSession, error)
	Shutdown(ctx context.Context) error
}

// -- History Interface --

// EventRecorder persists shopping history. Implementations must not block a
// workflow step on a slow backend beyond the context deadline.
type EventRecorder interface {
	Record(ctx context.Context, event ShoppingEvent) error
}
