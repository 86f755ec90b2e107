// Package pricing turns free-text price labels into amounts.
package pricing

import (
	"regexp"
	"strconv"
	"strings"
)

var pricePattern = regexp.MustCompile(`([£$€])?\s*([0-9]+(?:\.[0-9]{1,2})?)`)

// Price is a parsed amount with the currency symbol that preceded it, if any.
type Price struct {
	Amount   float64
	Currency string
}

// Parse extracts the leftmost price in text. Grouping commas are removed
// before matching. It reports false when the text holds no number, which is
// the expected outcome for labels like "Free shipping".
func Parse(text string) (Price, bool) {
	m := pricePattern.FindStringSubmatch(strings.ReplaceAll(text, ",", ""))
	if m == nil {
		return Price{}, false
	}
	amount, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Price{}, false
	}
	return Price{Amount: amount, Currency: m[1]}, true
}

// ParsePtr is Parse shaped for product records: a nil amount when nothing
// was parsed.
func ParsePtr(text string) (*float64, string) {
	p, ok := Parse(text)
	if !ok {
		return nil, ""
	}
	amount := p.Amount
	return &amount, p.Currency
}
