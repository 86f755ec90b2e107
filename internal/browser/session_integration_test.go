// internal/browser/session_integration_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

const fixturePage = `<!doctype html>
<html><body>
<h1>Checkout</h1>
<form>
  <input name="firstName" id="firstName">
  <select name="state"><option value="">-</option><option value="CA">CA</option></select>
</form>
<button id="add" onclick="document.getElementById('status').textContent='added'">Add to Cart</button>
<p id="status"></p>
</body></html>`

// requireChrome skips the test unless a Chrome binary is available.
func requireChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser integration tests are skipped in -short mode")
	}
	if p := os.Getenv("CARTPILOT_CHROME"); p != "" {
		return p
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary found")
	return ""
}

func TestSessionAgainstRealBrowser(t *testing.T) {
	execPath := requireChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, fixturePage)
	}))
	defer srv.Close()

	cfg := config.NewDefaultConfig().Browser
	cfg.ExecPath = execPath
	cfg.Concurrency = 1
	mgr := NewManager(cfg, zaptest.NewLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		assert.NoError(t, mgr.Shutdown(ctx))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	sess, err := mgr.NewSession(ctx, schemas.SessionOptions{Headless: true})
	require.NoError(t, err)
	defer sess.Close(context.Background())

	require.NoError(t, sess.Navigate(ctx, srv.URL, 30*time.Second))

	loc, err := sess.URL(ctx)
	require.NoError(t, err)
	assert.Contains(t, loc, srv.URL)

	ok, err := sess.Exists(ctx, schemas.CSS("input#firstName"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sess.Exists(ctx, schemas.CSS("a#nav-cart"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = sess.Exists(ctx, schemas.TextIn("button", "Add to Cart"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, sess.Fill(ctx, schemas.CSS("input[name='firstName']"), "Ada"))
	require.NoError(t, sess.Fill(ctx, schemas.CSS("select[name='state']"), "CA"))
	require.NoError(t, sess.ScrollIntoView(ctx, schemas.TextIn("button", "Add to Cart")))
	require.NoError(t, sess.Click(ctx, schemas.TextIn("button", "Add to Cart"), 5*time.Second))

	text, err := sess.Text(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "added")

	html, err := sess.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>Checkout</h1>")

	shot, err := sess.Screenshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, shot)

	require.NoError(t, sess.Close(ctx))
	_, err = sess.URL(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestManagerRejectsSessionsAfterShutdown(t *testing.T) {
	mgr := NewManager(config.BrowserConfig{Concurrency: 1}, zaptest.NewLogger(t))
	require.NoError(t, mgr.Shutdown(context.Background()))

	_, err := mgr.NewSession(context.Background(), schemas.SessionOptions{Headless: true})
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManagerSlotWaitHonoursContext(t *testing.T) {
	mgr := NewManager(config.BrowserConfig{Concurrency: 1}, zaptest.NewLogger(t))
	// Occupy the only slot.
	require.True(t, mgr.slots.TryAcquire(1))
	defer mgr.slots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := mgr.NewSession(ctx, schemas.SessionOptions{Headless: true})
	assert.ErrorIs(t, err, ErrLaunch)
	assert.NoError(t, mgr.Shutdown(context.Background()), "a failed wait must not leave the manager waiting")
}
