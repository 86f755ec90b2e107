package agent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/actions"
	"github.com/xkilldash9x/cartpilot/internal/agent"
	"github.com/xkilldash9x/cartpilot/internal/artifact"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/extract"
	"github.com/xkilldash9x/cartpilot/internal/mocks"
	"github.com/xkilldash9x/cartpilot/internal/observability"
	"github.com/xkilldash9x/cartpilot/internal/planner"
	"github.com/xkilldash9x/cartpilot/internal/workflow"
)

const (
	amazonSearch  = "https://www.amazon.com/s?k=wireless+mouse"
	ebaySearch    = "https://www.ebay.com/sch/i.html?_nkw=wireless+mouse"
	walmartSearch = "https://www.walmart.com/search/?query=wireless%20mouse"
	productURL    = "https://www.amazon.com/dp/B0CHEAP"
	cartURL       = "https://www.amazon.com/gp/cart/view.html"
	checkoutURL   = "https://www.amazon.com/gp/buy/spc/handlers/display.html"
)

const amazonResults = `<html><body>
<div data-asin="B0PRICEY"><h2><a href="/dp/B0PRICEY"><span>Premium Wireless Mouse</span></a></h2>
  <span class="a-price"><span class="a-offscreen">$25.00</span></span></div>
<div data-asin="B0MID"><h2><a href="/dp/B0MID"><span>Compact Wireless Mouse</span></a></h2>
  <span class="a-price"><span class="a-offscreen">$19.50</span></span></div>
<div data-asin="B0CHEAP"><h2><a href="/dp/B0CHEAP"><span>Budget Wireless Mouse</span></a></h2>
  <span class="a-price"><span class="a-offscreen">$9.99</span></span></div>
<div data-asin="B0OK"><h2><a href="/dp/B0OK"><span>Silent Wireless Mouse</span></a></h2>
  <span class="a-price"><span class="a-offscreen">$14.99</span></span></div>
</body></html>`

var (
	addButton   = schemas.CSS("button#add-to-cart-button")
	cartLink    = schemas.CSS("a#nav-cart")
	checkoutBtn = schemas.CSS("a#hlb-ptc-btn-native")
	firstName   = schemas.CSS("input[name='firstName']")
	zipInput    = schemas.CSS("input[name='postalCode']")
)

// storePage scripts a page that behaves like a small storefront.
func storePage() *mocks.FakePage {
	page := mocks.NewFakePage().WithElements(addButton, cartLink, checkoutBtn, firstName, zipInput)
	page.Pages[amazonSearch] = amazonResults
	page.ClickNavigates[cartLink.String()] = cartURL
	page.ClickNavigates[checkoutBtn.String()] = checkoutURL
	page.BodyText = "Your order"
	return page
}

type harness struct {
	agent    *agent.Agent
	browser  *mocks.FakeManager
	gen      *mocks.MockGenerator
	recorder *mocks.MockEventRecorder
	machine  *workflow.Machine
	store    *workflow.MemoryStore
}

func newHarness(t *testing.T, newPage func() *mocks.FakePage) *harness {
	t.Helper()
	cfg := config.NewDefaultConfig()
	logger := observability.GetLogger()

	gen := new(mocks.MockGenerator)
	recorder := new(mocks.MockEventRecorder)
	browser := &mocks.FakeManager{NewPage: newPage}
	store := workflow.NewMemoryStore(workflow.MemoryOptions{TTL: time.Hour}, logger)
	t.Cleanup(store.Close)
	machine := workflow.NewMachine(store, logger)

	artifacts, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	searchTimings := extract.Timings{Navigation: time.Second, GenericNavigation: time.Second, Settle: time.Millisecond}
	opts := agent.OptionsFromConfig(cfg)
	opts.Timings = actions.Timings{
		Navigation:         time.Second,
		FallbackNavigation: time.Second,
		Click:              time.Second,
	}

	a, err := agent.New(agent.Dependencies{
		Browser:   browser,
		Oracle:    planner.New(gen, logger),
		Catalog:   extract.NewCatalog(cfg.Stores, searchTimings, logger),
		Machine:   machine,
		Recorder:  recorder,
		Artifacts: artifacts,
	}, opts, logger)
	require.NoError(t, err)

	return &harness{agent: a, browser: browser, gen: gen, recorder: recorder, machine: machine, store: store}
}

func (h *harness) expectPlan(output string) {
	h.gen.On("GenerateText", mock.Anything, mock.Anything).Return(output, nil)
}

func (h *harness) expectEvent(kind schemas.EventKind) *mock.Call {
	return h.recorder.On("Record", mock.Anything, mock.MatchedBy(func(e schemas.ShoppingEvent) bool {
		return e.Kind == kind
	})).Return(nil)
}

func TestWirelessMouseUnderTwenty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storePage)
	h.expectPlan(`{"query": "wireless mouse", "store": null, "max_price": 20, "must_have": []}`)
	h.expectEvent(schemas.EventDiscovered).Once()
	h.expectEvent(schemas.EventChosen).Once()
	h.expectEvent(schemas.EventCheckout).Once()

	// Discover: amazon yields four products, enough to skip ebay but fewer
	// than six, so walmart and the generic site are searched as well.
	found, err := h.agent.Discover(ctx, agent.DiscoverRequest{Intent: "wireless mouse under $20"})
	require.NoError(t, err)
	assert.Len(t, found.SessionID, 12)
	assert.Equal(t, "wireless mouse", found.Plan.Query)
	require.NotNil(t, found.Plan.MaxPrice)
	assert.Equal(t, 20.0, *found.Plan.MaxPrice)

	require.Len(t, found.Products, 3, "the $25 mouse is over budget")
	for i, p := range found.Products {
		assert.Equal(t, i, p.Index)
		require.NotNil(t, p.Price)
		assert.LessOrEqual(t, *p.Price, 20.0)
	}
	assert.Equal(t, "Budget Wireless Mouse", found.Products[0].Title)
	assert.Equal(t, productURL, found.Products[0].URL)
	assert.Equal(t, "Silent Wireless Mouse", found.Products[1].Title)
	assert.Equal(t, "Compact Wireless Mouse", found.Products[2].Title)

	discoverPage := h.browser.Opened[0]
	assert.Equal(t, amazonSearch, discoverPage.Navigations[0])
	assert.NotContains(t, discoverPage.Navigations, ebaySearch)
	assert.Equal(t, walmartSearch, discoverPage.Navigations[1])
	assert.Contains(t, discoverPage.Navigations, "https://www.example.com/search?q=wireless+mouse")

	// Choose the cheapest.
	chosen, err := h.agent.Choose(ctx, found.SessionID, agent.ChooseRequest{Selector: workflow.ByIndex(0)})
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusAdded, chosen.Status)
	assert.Equal(t, productURL, chosen.PageURL)
	assert.NotEmpty(t, chosen.Screenshot)
	assert.FileExists(t, chosen.Artifact)
	assert.Nil(t, chosen.Blocker)

	// Checkout with partial shipping details.
	out, err := h.agent.Checkout(ctx, found.SessionID, agent.CheckoutRequest{
		Shipping: schemas.ShippingFields{
			schemas.FieldFirstName: "Ada",
			schemas.FieldZip:       "94105",
			schemas.FieldPhone:     "555-0100",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusAtCheckout, out.Status)
	assert.Equal(t, checkoutURL, out.CheckoutURL)
	assert.True(t, out.FilledShipping)
	assert.Equal(t, []schemas.ShippingField{schemas.FieldFirstName, schemas.FieldZip}, out.FilledFields)
	assert.Equal(t, schemas.PaymentNote, out.Note)
	assert.FileExists(t, out.Artifact)

	checkoutPage := h.browser.Opened[2]
	assert.Equal(t, productURL, checkoutPage.Navigations[0], "checkout re-opens the product")
	assert.Equal(t, []string{addButton.String(), cartLink.String(), checkoutBtn.String()}, checkoutPage.Clicks)

	sess, err := h.machine.Get(ctx, found.SessionID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateAtCheckout, sess.State)
	assert.Equal(t, checkoutURL, sess.LastPageURL)

	require.Len(t, h.browser.Opened, 3, "one browser per step")
	assert.True(t, h.browser.AllClosed())
	h.recorder.AssertExpectations(t)
	h.gen.AssertNumberOfCalls(t, "GenerateText", 1)
}

func TestDiscoverNamedStoreRunsAlone(t *testing.T) {
	h := newHarness(t, storePage)
	h.expectPlan(`{"query": "wireless mouse", "store": "ebay", "max_price": null, "must_have": []}`)
	h.expectEvent(schemas.EventDiscovered)

	found, err := h.agent.Discover(context.Background(), agent.DiscoverRequest{Intent: "wireless mouse on ebay"})
	require.NoError(t, err)
	assert.Equal(t, schemas.StoreEbay, found.Plan.Store)
	assert.Empty(t, found.Products)
	assert.Equal(t, []string{ebaySearch}, h.browser.Opened[0].Navigations)
}

func TestDiscoverCascadeStopsWhenEnoughFound(t *testing.T) {
	page := func() *mocks.FakePage {
		p := storePage()
		p.Pages[amazonSearch] = amazonResults
		p.Pages[walmartSearch] = `<html><body>
<div class="search-result-gridview-item-wrapper"><a class="product-title-link" href="/ip/1"><span>onn. Wireless Mouse</span></a>
  <span class="price-main"><span class="visuallyhidden">$5.00</span></span></div>
<div class="search-result-gridview-item-wrapper"><a class="product-title-link" href="/ip/2"><span>Refurb Wireless Mouse</span></a>
  <span class="price-main"><span class="visuallyhidden">$6.00</span></span></div>
</body></html>`
		return p
	}
	h := newHarness(t, page)
	h.expectPlan(`{"query": "wireless mouse"}`)
	h.expectEvent(schemas.EventDiscovered)

	found, err := h.agent.Discover(context.Background(), agent.DiscoverRequest{Intent: "wireless mouse"})
	require.NoError(t, err)
	assert.Len(t, found.Products, 6)
	assert.Equal(t, []string{amazonSearch, walmartSearch}, h.browser.Opened[0].Navigations, "six products end the cascade before the generic site")
}

func TestDiscoverTopN(t *testing.T) {
	h := newHarness(t, storePage)
	h.expectPlan(`{"query": "wireless mouse", "store": "amazon"}`)
	h.expectEvent(schemas.EventDiscovered)

	found, err := h.agent.Discover(context.Background(), agent.DiscoverRequest{Intent: "mouse"})
	require.NoError(t, err)
	assert.Len(t, found.Products, 4)

	sess, err := h.machine.Get(context.Background(), found.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Products, 4)
}

func TestDiscoverOracleUnavailable(t *testing.T) {
	h := newHarness(t, storePage)
	h.gen.On("GenerateText", mock.Anything, mock.Anything).Return("", errors.New("503 from upstream"))

	_, err := h.agent.Discover(context.Background(), agent.DiscoverRequest{Intent: "wireless mouse"})
	assert.ErrorIs(t, err, planner.ErrOracleUnavailable)
	assert.Empty(t, h.browser.Opened, "no browser without a plan")
	assert.Equal(t, 0, h.store.Len())
}

func TestDiscoverBrowserLaunchFailure(t *testing.T) {
	h := newHarness(t, storePage)
	h.expectPlan(`{"query": "wireless mouse"}`)
	launchErr := errors.New("chrome not found")
	h.browser.Err = launchErr

	_, err := h.agent.Discover(context.Background(), agent.DiscoverRequest{Intent: "wireless mouse"})
	assert.ErrorIs(t, err, launchErr)
	assert.Equal(t, 0, h.store.Len())
}

func discovered(t *testing.T, h *harness) string {
	t.Helper()
	h.expectPlan(`{"query": "wireless mouse", "store": "amazon"}`)
	h.expectEvent(schemas.EventDiscovered)
	found, err := h.agent.Discover(context.Background(), agent.DiscoverRequest{Intent: "wireless mouse"})
	require.NoError(t, err)
	return found.SessionID
}

func TestChooseNeedsManualAdd(t *testing.T) {
	h := newHarness(t, func() *mocks.FakePage {
		p := mocks.NewFakePage()
		p.Pages[amazonSearch] = amazonResults
		return p
	})
	id := discovered(t, h)
	h.expectEvent(schemas.EventChosen)

	res, err := h.agent.Choose(context.Background(), id, agent.ChooseRequest{Selector: workflow.ByURL(productURL)})
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusNeedsManualAdd, res.Status)
	assert.Equal(t, productURL, res.Product.URL)
}

func TestChooseProductPageUnreachable(t *testing.T) {
	h := newHarness(t, func() *mocks.FakePage {
		p := storePage()
		p.NavErrors[productURL] = context.DeadlineExceeded
		return p
	})
	id := discovered(t, h)

	_, err := h.agent.Choose(context.Background(), id, agent.ChooseRequest{Selector: workflow.ByURL(productURL)})
	assert.ErrorIs(t, err, actions.ErrNavigation)
	assert.True(t, h.browser.AllClosed(), "browser released on failure")

	sess, err := h.machine.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateDiscovered, sess.State)
	assert.Nil(t, sess.Chosen, "unopened product is not recorded as chosen")

	_, err = h.agent.Checkout(context.Background(), id, agent.CheckoutRequest{})
	assert.ErrorIs(t, err, workflow.ErrInvalidState)
	assert.Len(t, h.browser.Opened, 2, "no browser for a rejected checkout")
}

func TestChooseErrors(t *testing.T) {
	h := newHarness(t, storePage)
	id := discovered(t, h)

	_, err := h.agent.Choose(context.Background(), "missing", agent.ChooseRequest{Selector: workflow.ByIndex(0)})
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	_, err = h.agent.Choose(context.Background(), id, agent.ChooseRequest{Selector: workflow.ByIndex(99)})
	assert.ErrorIs(t, err, workflow.ErrNotFound)
	assert.Len(t, h.browser.Opened, 1, "no browser for an invalid selection")
}

func TestCheckoutBeforeChoose(t *testing.T) {
	h := newHarness(t, storePage)
	id := discovered(t, h)

	_, err := h.agent.Checkout(context.Background(), id, agent.CheckoutRequest{})
	assert.ErrorIs(t, err, workflow.ErrInvalidState)
	assert.Len(t, h.browser.Opened, 1)
}

func TestCheckoutCouldNotNavigate(t *testing.T) {
	h := newHarness(t, func() *mocks.FakePage {
		p := mocks.NewFakePage().WithElements(addButton)
		p.Pages[amazonSearch] = amazonResults
		p.NavErrors["https://www.amazon.com/cart"] = context.DeadlineExceeded
		p.NavErrors["https://www.amazon.com/checkout"] = context.DeadlineExceeded
		p.BodyText = "Enter the characters you see below"
		return p
	})
	id := discovered(t, h)
	h.expectEvent(schemas.EventChosen)
	h.expectEvent(schemas.EventCheckout)

	_, err := h.agent.Choose(context.Background(), id, agent.ChooseRequest{Selector: workflow.ByIndex(0)})
	require.NoError(t, err)

	out, err := h.agent.Checkout(context.Background(), id, agent.CheckoutRequest{})
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusCouldNotReachCheckout, out.Status)
	assert.False(t, out.FilledShipping)
	assert.Equal(t, schemas.PaymentNote, out.Note)
	require.NotNil(t, out.Blocker)
	assert.Equal(t, schemas.BlockerHumanVerification, out.Blocker.Kind)

	sess, err := h.machine.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateAtCheckout, sess.State)
}

func TestHistoryFailureDoesNotFailStep(t *testing.T) {
	h := newHarness(t, storePage)
	h.expectPlan(`{"query": "wireless mouse", "store": "amazon"}`)
	h.recorder.On("Record", mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err := h.agent.Discover(context.Background(), agent.DiscoverRequest{Intent: "wireless mouse"})
	assert.NoError(t, err)
}

func TestHeadlessOverride(t *testing.T) {
	h := newHarness(t, storePage)
	h.expectPlan(`{"query": "wireless mouse", "store": "amazon"}`)
	h.expectEvent(schemas.EventDiscovered)
	headed := false

	_, err := h.agent.Discover(context.Background(), agent.DiscoverRequest{Intent: "wireless mouse", Headless: &headed})
	require.NoError(t, err)
	require.Len(t, h.browser.Options, 1)
	assert.False(t, h.browser.Options[0].Headless)
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := agent.New(agent.Dependencies{}, agent.Options{}, observability.GetLogger())
	assert.Error(t, err)
}
