package schemas

import (
	"strings"
	"time"
)

// -- Stores --

// StoreName identifies the site family a product was discovered on.
type StoreName string

const (
	StoreAmazon  StoreName = "amazon"
	StoreEbay    StoreName = "ebay"
	StoreWalmart StoreName = "walmart"
	StoreGeneric StoreName = "generic"
)

// KnownStores lists the named stores in the order they are matched against
// free text. Later entries win when several appear in one intent.
var KnownStores = []StoreName{StoreAmazon, StoreEbay, StoreWalmart}

// ParseStoreName normalizes a store hint. It reports false for anything that
// is not a supported store, including the empty string.
func ParseStoreName(s string) (StoreName, bool) {
	switch name := StoreName(strings.ToLower(strings.TrimSpace(s))); name {
	case StoreAmazon, StoreEbay, StoreWalmart, StoreGeneric:
		return name, true
	default:
		return "", false
	}
}

// -- Product Records --

// Product is a normalized representation of one item for sale. It is built by
// an extractor from rendered markup and treated as immutable afterwards.
type Product struct {
	Title string `json:"title"`
	// Price is nil when no price could be parsed with confidence.
	Price    *float64          `json:"price"`
	Currency string            `json:"currency,omitempty"`
	URL      string            `json:"url"`
	Store    StoreName         `json:"store"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// HasPrice reports whether the product carries a parsed price.
func (p Product) HasPrice() bool { return p.Price != nil }

// PriceValue returns the parsed price, or zero when there is none.
func (p Product) PriceValue() float64 {
	if p.Price == nil {
		return 0
	}
	return *p.Price
}

// Summary is the compact, indexed view of a product returned to callers after
// discovery.
type Summary struct {
	Index    int       `json:"index"`
	Title    string    `json:"title"`
	Price    *float64  `json:"price"`
	Currency string    `json:"currency,omitempty"`
	URL      string    `json:"url"`
	Store    StoreName `json:"store"`
}

// Summarize returns indexed summaries for at most limit products.
// A non-positive limit summarizes every product.
func Summarize(products []Product, limit int) []Summary {
	n := len(products)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Summary, 0, n)
	for i := 0; i < n; i++ {
		p := products[i]
		out = append(out, Summary{
			Index:    i,
			Title:    p.Title,
			Price:    p.Price,
			Currency: p.Currency,
			URL:      p.URL,
			Store:    p.Store,
		})
	}
	return out
}

// -- Constraint Plans --

// Plan is the structured form of a purchase intent.
type Plan struct {
	Query    string    `json:"query"`
	Store    StoreName `json:"store,omitempty"`
	MaxPrice *float64  `json:"max_price"`
	MustHave []string  `json:"must_have"`
}

// -- Shipping --

// ShippingField is a logical shipping form field.
type ShippingField string

const (
	FieldFirstName ShippingField = "first_name"
	FieldLastName  ShippingField = "last_name"
	FieldAddress1  ShippingField = "address1"
	FieldAddress2  ShippingField = "address2"
	FieldCity      ShippingField = "city"
	FieldState     ShippingField = "state"
	FieldZip       ShippingField = "zip"
	FieldPhone     ShippingField = "phone"
	FieldEmail     ShippingField = "email"
)

// ShippingFieldOrder is the order fields are filled in.
var ShippingFieldOrder = []ShippingField{
	FieldFirstName, FieldLastName, FieldAddress1, FieldAddress2,
	FieldCity, FieldState, FieldZip, FieldPhone, FieldEmail,
}

// ShippingFields maps logical fields to the values to type.
type ShippingFields map[ShippingField]string

// -- Outcomes --

// ChooseStatus is the outcome of the add-to-cart step.
type ChooseStatus string

const (
	StatusAdded          ChooseStatus = "added"
	StatusNeedsManualAdd ChooseStatus = "needs_manual_add"
)

// CheckoutStatus is the outcome of the checkout navigation step.
type CheckoutStatus string

const (
	StatusAtCheckout            CheckoutStatus = "at_checkout"
	StatusCouldNotReachCheckout CheckoutStatus = "could_not_navigate_to_checkout"
)

// StatusCouldNotProceed is reported on every error response so a human can
// take over.
const StatusCouldNotProceed = "could_not_proceed"

// PaymentNote accompanies every checkout response.
const PaymentNote = "Agent stopped before payment. Please verify and complete payment manually in the browser."

// -- History --

// EventKind classifies entries in the shopping history log.
type EventKind string

const (
	EventDiscovered EventKind = "discovered"
	EventChosen     EventKind = "chosen"
	EventCheckout   EventKind = "checkout"
)

// ShoppingEvent is one audit record of a workflow step. Payloads never carry
// shipping values, only the names of fields that were filled.
type ShoppingEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Kind      EventKind      `json:"kind"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}
