// Package workflow owns shopping sessions and the transitions between their
// states.
//
// A session moves NEW -> DISCOVERED -> CHOSEN -> AT_CHECKOUT. Choose may be
// repeated from any state to switch products; Checkout requires a chosen
// product. Callers only ever see copies of a session.
package workflow

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

var (
	// ErrNotFound is returned for unknown or expired sessions and for
	// selectors that match no product.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when an operation's precondition on the
	// session state does not hold.
	ErrInvalidState = errors.New("invalid session state")
)

// State is the workflow position of a session.
type State string

const (
	StateNew        State = "NEW"
	StateDiscovered State = "DISCOVERED"
	StateChosen     State = "CHOSEN"
	StateAtCheckout State = "AT_CHECKOUT"
)

// Session is one shopper's discovery results and progress toward checkout.
type Session struct {
	ID          string
	Plan        schemas.Plan
	Products    []schemas.Product
	Chosen      *schemas.Product
	LastPageURL string
	State       State
	CreatedAt   time.Time
	TouchedAt   time.Time
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Plan = clonePlan(s.Plan)
	c.Products = make([]schemas.Product, len(s.Products))
	for i, p := range s.Products {
		c.Products[i] = cloneProduct(p)
	}
	if s.Chosen != nil {
		chosen := cloneProduct(*s.Chosen)
		c.Chosen = &chosen
	}
	return &c
}

func clonePlan(p schemas.Plan) schemas.Plan {
	if p.MaxPrice != nil {
		v := *p.MaxPrice
		p.MaxPrice = &v
	}
	p.MustHave = slices.Clone(p.MustHave)
	return p
}

func cloneProduct(p schemas.Product) schemas.Product {
	if p.Price != nil {
		v := *p.Price
		p.Price = &v
	}
	if p.Extra != nil {
		extra := make(map[string]string, len(p.Extra))
		for k, v := range p.Extra {
			extra[k] = v
		}
		p.Extra = extra
	}
	return p
}

// Selector picks a product from a session, by exact URL or by index into the
// ranked list. The URL wins when both are set.
type Selector struct {
	Index *int
	URL   string
}

// ByIndex selects the i-th ranked product.
func ByIndex(i int) Selector { return Selector{Index: &i} }

// ByURL selects the product with exactly this URL.
func ByURL(u string) Selector { return Selector{URL: u} }

func (sel Selector) String() string {
	switch {
	case sel.URL != "":
		return "url " + sel.URL
	case sel.Index != nil:
		return fmt.Sprintf("index %d", *sel.Index)
	default:
		return "empty selector"
	}
}

// resolve finds the selected product.
func (sel Selector) resolve(products []schemas.Product) (schemas.Product, bool) {
	if sel.URL != "" {
		for _, p := range products {
			if p.URL == sel.URL {
				return p, true
			}
		}
		return schemas.Product{}, false
	}
	if sel.Index != nil && *sel.Index >= 0 && *sel.Index < len(products) {
		return products[*sel.Index], true
	}
	return schemas.Product{}, false
}

// NewSessionID returns 9 random bytes as unpadded URL-safe base64.
func NewSessionID() (string, error) {
	var b [9]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
