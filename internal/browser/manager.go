// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/browser/stealth"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// ErrLaunch wraps every failure to bring up a browser session.
var ErrLaunch = errors.New("browser launch failed")

// ErrManagerClosed is returned by NewSession after Shutdown.
var ErrManagerClosed = errors.New("browser manager is shut down")

const defaultLaunchTimeout = 30 * time.Second

// Manager starts one isolated browser process per session and caps how many
// run at once.
type Manager struct {
	cfg     config.BrowserConfig
	persona schemas.Persona
	logger  *zap.Logger
	slots   *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

var _ schemas.BrowserManager = (*Manager)(nil)

// NewManager creates a manager. No browser is started until NewSession.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Manager{
		cfg:      cfg,
		persona:  stealth.PersonaFromConfig(cfg),
		logger:   logger.Named("browser_manager"),
		slots:    semaphore.NewWeighted(int64(concurrency)),
		sessions: make(map[string]*Session),
	}
}

// NewSession waits for a free slot, launches a browser with a fresh profile
// directory and returns a page ready for navigation. The caller must Close
// the session on every path.
func (m *Manager) NewSession(ctx context.Context, opts schemas.SessionOptions) (schemas.BrowserSession, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.wg.Add(1)
	m.mu.Unlock()

	if err := m.slots.Acquire(ctx, 1); err != nil {
		m.wg.Done()
		return nil, fmt.Errorf("%w: waiting for a browser slot: %v", ErrLaunch, err)
	}

	id := uuid.NewString()
	logger := m.logger.With(zap.String("browser_session", id), zap.Bool("headless", opts.Headless))

	// Process level resources are released last, whatever happens below.
	var (
		userDataDir string
		allocCancel context.CancelFunc = func() {}
		procOnce    sync.Once
	)
	releaseProcess := teardownStep{name: "process", fn: func(context.Context) error {
		var err error
		procOnce.Do(func() {
			allocCancel()
			if userDataDir != "" {
				err = os.RemoveAll(userDataDir)
			}
			m.slots.Release(1)
			m.forget(id)
			m.wg.Done()
		})
		return err
	}}

	fail := func(err error, steps ...teardownStep) (schemas.BrowserSession, error) {
		steps = append(steps, releaseProcess)
		if terr := runTeardown(context.Background(), logger, steps); terr != nil {
			logger.Warn("Cleanup after failed launch reported errors.", zap.Error(terr))
		}
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	var err error
	userDataDir, err = os.MkdirTemp("", "cartpilot-profile-*")
	if err != nil {
		return fail(fmt.Errorf("failed to create profile dir: %w", err))
	}

	var allocCtx context.Context
	allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(),
		buildAllocatorOptions(m.cfg, opts, m.persona, userDataDir)...)

	// The first Run on the browser context starts the process; it must not
	// carry a deadline or the browser dies with it.
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(logger.Sugar().Debugf))
	closeEngine := teardownStep{name: "engine", fn: func(context.Context) error {
		err := chromedp.Cancel(browserCtx)
		browserCancel()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}}

	if err := m.startBrowser(ctx, browserCtx); err != nil {
		return fail(err, closeEngine)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	closeContext := teardownStep{name: "context", fn: func(context.Context) error {
		err := chromedp.Cancel(tabCtx)
		tabCancel()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}}

	warmCtx, warmCancel := context.WithTimeout(tabCtx, m.launchTimeout())
	stop := context.AfterFunc(ctx, warmCancel)
	err = chromedp.Run(warmCtx, stealth.Apply(m.persona, logger), chromedp.Navigate("about:blank"))
	stop()
	warmCancel()
	if err != nil {
		return fail(fmt.Errorf("browser did not become ready: %w", err), closeContext, closeEngine)
	}

	s := &Session{
		id:       id,
		ctx:      tabCtx,
		logger:   logger,
		teardown: []teardownStep{closeContext, closeEngine, releaseProcess},
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	logger.Debug("Browser session ready.", zap.String("profile", userDataDir))
	return s, nil
}

// startBrowser allocates the browser process, giving up after the launch
// timeout or when ctx ends.
func (m *Manager) startBrowser(ctx context.Context, browserCtx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(browserCtx) }()

	timer := time.NewTimer(m.launchTimeout())
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to start browser: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("browser did not start within %s", m.launchTimeout())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) launchTimeout() time.Duration {
	if m.cfg.LaunchTimeout > 0 {
		return m.cfg.LaunchTimeout
	}
	return defaultLaunchTimeout
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Shutdown refuses new sessions, closes the ones still open and waits for
// them to release their processes or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	m.logger.Info("Browser manager shutting down.", zap.Int("open_sessions", len(open)))

	var errs []error
	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded with sessions still launching.", zap.Error(ctx.Err()))
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
