// Package ranking filters and orders discovered products against a plan.
package ranking

import (
	"slices"
	"strings"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// Options controls the sort order.
type Options struct {
	// PreferLowPrice sorts ascending by price; otherwise descending.
	PreferLowPrice bool
	// UnpricedLast places products without a parsed price after all priced
	// products in either direction. When false they sort as if priced at zero.
	UnpricedLast bool
}

// DefaultOptions sorts cheapest first and keeps unpriced products at zero.
func DefaultOptions() Options {
	return Options{PreferLowPrice: true}
}

// Rank filters products by the plan's price ceiling and required keywords,
// then stable-sorts by price. When the filter would drop every product the
// unfiltered list is ranked instead, so a non-empty input always yields a
// non-empty result. The input slice is left untouched.
func Rank(products []schemas.Product, plan schemas.Plan, opts Options) []schemas.Product {
	ranked := Filter(products, plan)
	if len(ranked) == 0 {
		ranked = slices.Clone(products)
	}
	slices.SortStableFunc(ranked, comparePrice(opts))
	return ranked
}

// Filter returns the products that satisfy the plan. A product without a
// price is never excluded on price grounds.
func Filter(products []schemas.Product, plan schemas.Plan) []schemas.Product {
	keywords := make([]string, 0, len(plan.MustHave))
	for _, k := range plan.MustHave {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}

	out := make([]schemas.Product, 0, len(products))
	for _, p := range products {
		if plan.MaxPrice != nil && p.Price != nil && *p.Price > *plan.MaxPrice {
			continue
		}
		if !containsAll(strings.ToLower(p.Title), keywords) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func containsAll(title string, keywords []string) bool {
	for _, k := range keywords {
		if !strings.Contains(title, k) {
			return false
		}
	}
	return true
}

func comparePrice(opts Options) func(a, b schemas.Product) int {
	return func(a, b schemas.Product) int {
		if opts.UnpricedLast && a.HasPrice() != b.HasPrice() {
			if a.HasPrice() {
				return -1
			}
			return 1
		}
		pa, pb := a.PriceValue(), b.PriceValue()
		if !opts.PreferLowPrice {
			pa, pb = pb, pa
		}
		switch {
		case pa < pb:
			return -1
		case pa > pb:
			return 1
		default:
			return 0
		}
	}
}
