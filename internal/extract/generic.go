package extract

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/fallback"
	"github.com/xkilldash9x/cartpilot/internal/pricing"
)

// errNoCandidates marks a template whose page held no product-like anchor.
var errNoCandidates = errors.New("no product-like anchors")

// searchTemplate builds one candidate search URL for an unknown site.
type searchTemplate struct {
	name  string
	build func(site, query string) string
}

var genericTemplates = []searchTemplate{
	{"search-query", func(site, q string) string { return site + "/search?q=" + escapeWords(q, "+") }},
	{"search-path", func(site, q string) string { return site + "/search/" + escapeWords(q, "%20") }},
	{"wordpress", func(site, q string) string { return site + "/?s=" + escapeWords(q, "+") }},
}

func escapeWords(query, sep string) string {
	words := strings.Fields(query)
	for i, w := range words {
		words[i] = url.QueryEscape(w)
	}
	return strings.Join(words, sep)
}

// GenericExtractor finds products on sites with no known markup.
type GenericExtractor struct {
	siteURL string
	timings Timings
	logger  *zap.Logger
}

// NewGenericExtractor targets the site at siteURL.
func NewGenericExtractor(siteURL string, timings Timings, logger *zap.Logger) *GenericExtractor {
	return &GenericExtractor{
		siteURL: strings.TrimRight(siteURL, "/"),
		timings: timings,
		logger:  logger.With(zap.String("store", string(schemas.StoreGeneric)), zap.String("site", siteURL)),
	}
}

// Store returns schemas.StoreGeneric.
func (e *GenericExtractor) Store() schemas.StoreName { return schemas.StoreGeneric }

// SearchURLs returns the candidate search URLs for query, in the order they
// are tried.
func (e *GenericExtractor) SearchURLs(query string) []string {
	out := make([]string, 0, len(genericTemplates))
	for _, t := range genericTemplates {
		out = append(out, t.build(e.siteURL, query))
	}
	return out
}

// Extract tries each search URL template in order and returns the products
// of the first one whose page yields any. A failed navigation or an empty
// page moves on to the next template.
func (e *GenericExtractor) Extract(ctx context.Context, page schemas.Page, query string) []schemas.Product {
	steps := make([]fallback.Step[[]schemas.Product], 0, len(genericTemplates))
	for _, t := range genericTemplates {
		tpl := t
		target := tpl.build(e.siteURL, query)
		steps = append(steps, fallback.Step[[]schemas.Product]{
			Name: tpl.name,
			Try: func(ctx context.Context) ([]schemas.Product, error) {
				doc, base, err := loadPage(ctx, page, target, e.timings.GenericNavigation, e.timings.Settle)
				if err != nil {
					return nil, err
				}
				products := e.parse(doc, base, tpl.name)
				if len(products) == 0 {
					return nil, errNoCandidates
				}
				return products, nil
			},
		})
	}

	res := fallback.Run(ctx, steps)
	for _, m := range res.Misses {
		e.logger.Debug("Generic search template missed.", zap.String("template", m.Step), zap.Error(m.Err))
	}
	if !res.OK() {
		e.logger.Info("No generic search template produced products.")
		return nil
	}
	e.logger.Info("Generic search extracted.", zap.String("template", res.Step), zap.Int("products", len(res.Value)))
	return res.Value
}

// Parse extracts products from raw page markup.
func (e *GenericExtractor) Parse(html, pageURL string) ([]schemas.Product, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return e.parse(doc, base, ""), nil
}

// parse treats every titled anchor as a candidate and keeps those whose
// surrounding markup carries a price or an add-to-cart phrase.
func (e *GenericExtractor) parse(doc *goquery.Document, base *url.URL, template string) []schemas.Product {
	site := registrableDomain(base)

	var products []schemas.Product
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		title := strings.TrimSpace(a.Text())
		if title == "" {
			return
		}
		link, ok := resolveLink(base, a.AttrOr("href", ""))
		if !ok {
			return
		}

		signal := surroundingText(a)
		priceValue, currency := pricing.ParsePtr(signal)
		if priceValue == nil && !strings.Contains(strings.ToLower(signal), "add to cart") {
			return
		}

		extra := map[string]string{}
		if site != "" {
			extra["site"] = site
		}
		if template != "" {
			extra["template"] = template
		}
		products = append(products, schemas.Product{
			Title:    title,
			Price:    priceValue,
			Currency: currency,
			URL:      link,
			Store:    schemas.StoreGeneric,
			Extra:    extra,
		})
	})
	return products
}

// surroundingText concatenates the text of every element under the anchor's
// parent, which is where listings put the price next to the title.
func surroundingText(a *goquery.Selection) string {
	parent := a.Parent()
	if parent.Length() == 0 {
		return strings.TrimSpace(a.Text())
	}
	var parts []string
	parent.Find("*").Each(func(_ int, el *goquery.Selection) {
		if t := strings.TrimSpace(el.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " ")
}

func registrableDomain(u *url.URL) string {
	if u == nil || u.Hostname() == "" {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
	if err != nil {
		return u.Hostname()
	}
	return domain
}
