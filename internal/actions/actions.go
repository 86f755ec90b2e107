// Package actions drives a product page through add-to-cart and checkout
// navigation.
//
// Every operation walks an ordered list of locator candidates and stops at
// the first one that works. Candidate failures (missing element, click
// timeout, detached node) are expected on real sites and never surface as
// errors; exhaustion is reported as false.
package actions

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/fallback"
)

// ErrNavigation wraps a failure to load a page the rest of a step depends on.
var ErrNavigation = errors.New("navigation failed")

// errAbsent marks a candidate whose element is not on the page.
var errAbsent = errors.New("element not present")

// Timings bounds every wait an Executor performs.
type Timings struct {
	Navigation         time.Duration
	FallbackNavigation time.Duration
	Click              time.Duration
	ProductSettle      time.Duration
	PreClick           time.Duration
	PostClick          time.Duration
	NavClick           time.Duration
	ShippingSettle     time.Duration
}

// TimingsFromConfig reads the action timings from the network config.
func TimingsFromConfig(cfg config.NetworkConfig) Timings {
	return Timings{
		Navigation:         cfg.NavigationTimeout,
		FallbackNavigation: cfg.FallbackNavigationTimeout,
		Click:              cfg.ClickTimeout,
		ProductSettle:      cfg.ProductSettle,
		PreClick:           cfg.PreClickPause,
		PostClick:          cfg.PostClickPause,
		NavClick:           cfg.NavClickPause,
		ShippingSettle:     cfg.ShippingSettle,
	}
}

var addToCartLocators = []schemas.Locator{
	schemas.CSS("button#add-to-cart-button"),
	schemas.CSS("input#add-to-cart-button"),
	schemas.CSS("button[name='add']"),
	schemas.CSS("button.add-to-cart"),
	schemas.TextIn("button", "Add to cart"),
	schemas.TextIn("button", "Add to Cart"),
	schemas.TextIn("button", "Add to Basket"),
}

var cartLocators = []schemas.Locator{
	schemas.CSS("a#nav-cart"),
	schemas.CSS("a[href*='/cart']"),
	schemas.CSS("a[aria-label*='cart']"),
	schemas.TextIn("a", "Cart"),
	schemas.TextIn("a", "Basket"),
}

var checkoutLocators = []schemas.Locator{
	schemas.CSS("a#hlb-ptc-btn-native"),
	schemas.CSS("a[href*='/checkout']"),
	schemas.TextIn("button", "Proceed to checkout"),
	schemas.TextIn("button", "Checkout"),
}

// Executor performs cart and checkout actions on one page.
type Executor struct {
	page    schemas.Page
	timings Timings
	logger  *zap.Logger
}

// New binds an Executor to page.
func New(page schemas.Page, timings Timings, logger *zap.Logger) *Executor {
	return &Executor{page: page, timings: timings, logger: logger.Named("actions")}
}

// OpenProduct loads the product page and lets it settle. Unlike the other
// actions this is a hard prerequisite, so its failure is an error wrapping
// ErrNavigation.
func (e *Executor) OpenProduct(ctx context.Context, product schemas.Product) error {
	if err := e.page.Navigate(ctx, product.URL, e.timings.Navigation); err != nil {
		return fmt.Errorf("%w: open product %s: %w", ErrNavigation, product.URL, err)
	}
	if err := e.page.Sleep(ctx, e.timings.ProductSettle); err != nil {
		return fmt.Errorf("%w: settle product page: %w", ErrNavigation, err)
	}
	return nil
}

// AddToCart clicks the first add-to-cart control found on the page.
func (e *Executor) AddToCart(ctx context.Context) bool {
	steps := make([]fallback.Step[struct{}], 0, len(addToCartLocators))
	for _, loc := range addToCartLocators {
		steps = append(steps, e.clickStep(loc, true, e.timings.PostClick))
	}
	return e.report("add_to_cart", fallback.Run(ctx, steps))
}

// GoToCart opens the cart through a cart link, or by navigating to the
// site's /cart path when no link works.
func (e *Executor) GoToCart(ctx context.Context) bool {
	return e.navigateVia(ctx, "go_to_cart", cartLocators, "/cart")
}

// ProceedToCheckout opens checkout through a checkout control, or by
// navigating to the site's /checkout path when no control works.
func (e *Executor) ProceedToCheckout(ctx context.Context) bool {
	return e.navigateVia(ctx, "proceed_to_checkout", checkoutLocators, "/checkout")
}

func (e *Executor) navigateVia(ctx context.Context, action string, locs []schemas.Locator, path string) bool {
	steps := make([]fallback.Step[struct{}], 0, len(locs)+1)
	for _, loc := range locs {
		steps = append(steps, e.clickStep(loc, false, e.timings.NavClick))
	}
	steps = append(steps, fallback.Step[struct{}]{
		Name: "goto " + path,
		Try: func(ctx context.Context) (struct{}, error) {
			target, err := e.originPath(ctx, path)
			if err != nil {
				return struct{}{}, err
			}
			if err := e.page.Navigate(ctx, target, e.timings.FallbackNavigation); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, e.page.Sleep(ctx, e.timings.NavClick)
		},
	})
	return e.report(action, fallback.Run(ctx, steps))
}

// clickStep clicks loc when present. scroll brings the element into view
// with a short pause first.
func (e *Executor) clickStep(loc schemas.Locator, scroll bool, after time.Duration) fallback.Step[struct{}] {
	return fallback.Step[struct{}]{
		Name: loc.String(),
		Try: func(ctx context.Context) (struct{}, error) {
			var none struct{}
			ok, err := e.page.Exists(ctx, loc)
			if err != nil {
				return none, err
			}
			if !ok {
				return none, errAbsent
			}
			if scroll {
				if err := e.page.ScrollIntoView(ctx, loc); err != nil {
					return none, err
				}
				if err := e.page.Sleep(ctx, e.timings.PreClick); err != nil {
					return none, err
				}
			}
			if err := e.page.Click(ctx, loc, e.timings.Click); err != nil {
				return none, err
			}
			return none, e.page.Sleep(ctx, after)
		},
	}
}

// originPath joins path onto the scheme and host of the current page.
func (e *Executor) originPath(ctx context.Context, path string) (string, error) {
	current, err := e.page.URL(ctx)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("current page %q has no origin", current)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: path}).String(), nil
}

func (e *Executor) report(action string, res fallback.Result[struct{}]) bool {
	if res.OK() {
		e.logger.Info("Action achieved.", zap.String("action", action), zap.String("via", res.Step), zap.Int("misses", len(res.Misses)))
		return true
	}
	e.logger.Info("Action not achieved.", zap.String("action", action), zap.Error(res.Err()))
	return false
}
