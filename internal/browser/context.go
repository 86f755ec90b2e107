// internal/browser/context.go
package browser

import (
	"context"
)

// combineContext derives a context from session that is also cancelled when
// op is done. Values, including the chromedp target, come from session; the
// deadline and cancellation of the caller's operation come from op.
func combineContext(session, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(session)
	stop := context.AfterFunc(op, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
