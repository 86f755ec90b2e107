package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/pricing"
)

// siteProfile is the fixed markup contract of one named store.
type siteProfile struct {
	store      schemas.StoreName
	searchPath string
	// querySep joins the query words in the search URL.
	querySep string
	card     string
	title    string
	price    string
	link     string
	// keep filters cards before field extraction.
	keep func(card *goquery.Selection, title string) bool
	// extra annotates the record with store specific identifiers.
	extra func(card *goquery.Selection) map[string]string
}

var amazonProfile = siteProfile{
	store:      schemas.StoreAmazon,
	searchPath: "/s?k=",
	querySep:   "+",
	card:       "div[data-asin]",
	title:      "h2 a span",
	price:      ".a-price .a-offscreen",
	link:       "h2 a",
	keep: func(card *goquery.Selection, _ string) bool {
		return strings.TrimSpace(card.AttrOr("data-asin", "")) != ""
	},
	extra: func(card *goquery.Selection) map[string]string {
		return map[string]string{"asin": strings.TrimSpace(card.AttrOr("data-asin", ""))}
	},
}

var ebayProfile = siteProfile{
	store:      schemas.StoreEbay,
	searchPath: "/sch/i.html?_nkw=",
	querySep:   "+",
	card:       ".s-item",
	title:      ".s-item__title",
	price:      ".s-item__price",
	link:       ".s-item__link",
	// The first result card is a template placeholder.
	keep: func(_ *goquery.Selection, title string) bool {
		return !strings.EqualFold(title, "Shop on eBay")
	},
}

var walmartProfile = siteProfile{
	store:      schemas.StoreWalmart,
	searchPath: "/search/?query=",
	querySep:   "%20",
	card:       "div.search-result-gridview-item-wrapper",
	title:      "a.product-title-link span",
	price:      "span.price-main .visuallyhidden",
	link:       "a.product-title-link",
}

// NamedExtractor searches a store with a known search URL and markup.
type NamedExtractor struct {
	profile siteProfile
	baseURL string
	timings Timings
	logger  *zap.Logger
}

// newNamedExtractor binds a store profile to a base URL.
func newNamedExtractor(profile siteProfile, baseURL string, timings Timings, logger *zap.Logger) *NamedExtractor {
	return &NamedExtractor{
		profile: profile,
		baseURL: strings.TrimRight(baseURL, "/"),
		timings: timings,
		logger:  logger.With(zap.String("store", string(profile.store))),
	}
}

// Store returns the store this extractor searches.
func (e *NamedExtractor) Store() schemas.StoreName { return e.profile.store }

// SearchURL builds the deterministic search URL for query.
func (e *NamedExtractor) SearchURL(query string) string {
	return e.baseURL + e.profile.searchPath + escapeWords(query, e.profile.querySep)
}

// Extract loads the search page for query and returns its products in page
// order. Navigation and parse failures are logged and yield nothing.
func (e *NamedExtractor) Extract(ctx context.Context, page schemas.Page, query string) []schemas.Product {
	target := e.SearchURL(query)
	doc, base, err := loadPage(ctx, page, target, e.timings.Navigation, e.timings.Settle)
	if err != nil {
		e.logger.Warn("Store search page could not be loaded.", zap.String("url", target), zap.Error(err))
		return nil
	}
	products := e.parse(doc, base)
	e.logger.Info("Store search extracted.", zap.String("url", target), zap.Int("products", len(products)))
	return products
}

// Parse extracts products from raw search page markup.
func (e *NamedExtractor) Parse(html, pageURL string) ([]schemas.Product, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return e.parse(doc, base), nil
}

func (e *NamedExtractor) parse(doc *goquery.Document, base *url.URL) []schemas.Product {
	p := e.profile
	var products []schemas.Product
	doc.Find(p.card).Each(func(_ int, card *goquery.Selection) {
		title := text(card, p.title)
		if p.keep != nil && !p.keep(card, title) {
			return
		}
		href, _ := card.Find(p.link).First().Attr("href")
		link, ok := resolveLink(base, href)
		if title == "" || !ok {
			return
		}

		product := schemas.Product{Title: title, URL: link, Store: p.store}
		if priceText := text(card, p.price); priceText != "" {
			product.Price, product.Currency = pricing.ParsePtr(priceText)
		}
		if p.extra != nil {
			product.Extra = p.extra(card)
		}
		products = append(products, product)
	})
	return products
}
