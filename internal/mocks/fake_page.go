// File: internal/mocks/fake_page.go
package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// ErrNoElement is returned by FakePage interactions on a missing element.
var ErrNoElement = errors.New("fake page: no such element")

// FakePage is a scriptable in-memory schemas.BrowserSession. Pages are keyed
// by URL and elements by Locator.String(). Every interaction is recorded.
type FakePage struct {
	mu sync.Mutex

	SessionID string
	// Pages maps a URL to the HTML returned after navigating there.
	Pages map[string]string
	// NavErrors fails navigation to specific URLs.
	NavErrors map[string]error
	// Elements lists locators that exist on every page.
	Elements map[string]bool
	// ClickErrors fails clicks on specific locators.
	ClickErrors map[string]error
	// FillErrors fails fills on specific locators.
	FillErrors map[string]error
	// ClickNavigates moves the page to a URL when a locator is clicked.
	ClickNavigates map[string]string
	// BodyText is returned by Text.
	BodyText string
	// Shot is returned by Screenshot.
	Shot []byte

	current     string
	Navigations []string
	Clicks      []string
	Scrolls     []string
	Fills       map[string]string
	Sleeps      []time.Duration
	Closed      bool
}

var _ schemas.BrowserSession = (*FakePage)(nil)

// NewFakePage returns an empty page with a one-byte screenshot.
func NewFakePage() *FakePage {
	return &FakePage{
		SessionID:      "fake",
		Pages:          map[string]string{},
		NavErrors:      map[string]error{},
		Elements:       map[string]bool{},
		ClickErrors:    map[string]error{},
		FillErrors:     map[string]error{},
		ClickNavigates: map[string]string{},
		Fills:          map[string]string{},
		Shot:           []byte{0x89},
	}
}

// WithElements marks locators as present and returns the page.
func (p *FakePage) WithElements(locs ...schemas.Locator) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range locs {
		p.Elements[l.String()] = true
	}
	return p
}

// SetCurrent places the page at url without recording a navigation.
func (p *FakePage) SetCurrent(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = url
}

func (p *FakePage) ID() string { return p.SessionID }

func (p *FakePage) Navigate(ctx context.Context, url string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigations = append(p.Navigations, url)
	if err := p.NavErrors[url]; err != nil {
		return err
	}
	p.current = url
	return nil
}

func (p *FakePage) Sleep(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.Sleeps = append(p.Sleeps, d)
	p.mu.Unlock()
	return ctx.Err()
}

func (p *FakePage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *FakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Pages[p.current], nil
}

func (p *FakePage) Text(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.BodyText, nil
}

func (p *FakePage) Screenshot(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.Shot...), nil
}

func (p *FakePage) Exists(_ context.Context, loc schemas.Locator) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Elements[loc.String()], nil
}

func (p *FakePage) ScrollIntoView(_ context.Context, loc schemas.Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Elements[loc.String()] {
		return fmt.Errorf("%w: %s", ErrNoElement, loc)
	}
	p.Scrolls = append(p.Scrolls, loc.String())
	return nil
}

func (p *FakePage) Click(_ context.Context, loc schemas.Locator, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := loc.String()
	if !p.Elements[key] {
		return fmt.Errorf("%w: %s", ErrNoElement, loc)
	}
	if err := p.ClickErrors[key]; err != nil {
		return err
	}
	p.Clicks = append(p.Clicks, key)
	if target, ok := p.ClickNavigates[key]; ok {
		p.current = target
	}
	return nil
}

func (p *FakePage) Fill(_ context.Context, loc schemas.Locator, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := loc.String()
	if !p.Elements[key] {
		return fmt.Errorf("%w: %s", ErrNoElement, loc)
	}
	if err := p.FillErrors[key]; err != nil {
		return err
	}
	p.Fills[key] = value
	return nil
}

func (p *FakePage) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (p *FakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closed
}

// FakeManager hands out pages built by NewPage and remembers them.
type FakeManager struct {
	mu      sync.Mutex
	NewPage func() *FakePage
	Opened  []*FakePage
	Options []schemas.SessionOptions
	Err     error
}

var _ schemas.BrowserManager = (*FakeManager)(nil)

func (m *FakeManager) NewSession(_ context.Context, opts schemas.SessionOptions) (schemas.BrowserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	page := m.NewPage()
	m.Opened = append(m.Opened, page)
	m.Options = append(m.Options, opts)
	return page, nil
}

func (m *FakeManager) Shutdown(context.Context) error { return nil }

// AllClosed reports whether every page handed out has been closed.
func (m *FakeManager) AllClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Opened {
		if !p.IsClosed() {
			return false
		}
	}
	return true
}
