// Package extract turns rendered search result pages into product records.
//
// Named stores use one fixed selector chain per field; the generic extractor
// scans every anchor on the page for a price-like signal. Extraction is best
// effort: a page that does not look as expected yields no products, never an
// error.
package extract

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// Extractor searches one site family for a query.
type Extractor interface {
	Store() schemas.StoreName
	Extract(ctx context.Context, page schemas.Page, query string) []schemas.Product
}

// Timings bounds the navigation and settle waits of a search.
type Timings struct {
	Navigation        time.Duration
	GenericNavigation time.Duration
	Settle            time.Duration
}

// TimingsFromConfig reads the search timings from the network config.
func TimingsFromConfig(cfg config.NetworkConfig) Timings {
	return Timings{
		Navigation:        cfg.NavigationTimeout,
		GenericNavigation: cfg.GenericNavigationTimeout,
		Settle:            cfg.Settle,
	}
}

// Catalog holds the extractor for every supported store.
type Catalog struct {
	named   map[schemas.StoreName]*NamedExtractor
	generic *GenericExtractor
}

// NewCatalog builds the extractors for the configured store base URLs.
func NewCatalog(cfg config.StoresConfig, timings Timings, logger *zap.Logger) *Catalog {
	logger = logger.Named("extract")
	return &Catalog{
		named: map[schemas.StoreName]*NamedExtractor{
			schemas.StoreAmazon:  newNamedExtractor(amazonProfile, cfg.Amazon.BaseURL, timings, logger),
			schemas.StoreEbay:    newNamedExtractor(ebayProfile, cfg.Ebay.BaseURL, timings, logger),
			schemas.StoreWalmart: newNamedExtractor(walmartProfile, cfg.Walmart.BaseURL, timings, logger),
		},
		generic: NewGenericExtractor(cfg.Generic.BaseURL, timings, logger),
	}
}

// Named returns the extractor for a named store.
func (c *Catalog) Named(store schemas.StoreName) (Extractor, bool) {
	e, ok := c.named[store]
	return e, ok
}

// Generic returns the fallback extractor for the configured generic site.
func (c *Catalog) Generic() Extractor { return c.generic }

// loadPage navigates to target, waits for client-side rendering and returns
// the document together with the URL relative links resolve against.
func loadPage(ctx context.Context, page schemas.Page, target string, navTimeout, settle time.Duration) (*goquery.Document, *url.URL, error) {
	if err := page.Navigate(ctx, target, navTimeout); err != nil {
		return nil, nil, err
	}
	if err := page.Sleep(ctx, settle); err != nil {
		return nil, nil, err
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, nil, err
	}

	base := target
	if loc, err := page.URL(ctx); err == nil && loc != "" {
		base = loc
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, err
	}
	return doc, baseURL, nil
}

// resolveLink makes href absolute against base. Only http(s) targets are
// accepted.
func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// text returns the trimmed text of the first match of selector in s.
func text(s *goquery.Selection, selector string) string {
	return strings.TrimSpace(s.Find(selector).First().Text())
}
