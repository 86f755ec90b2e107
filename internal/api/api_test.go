package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/actions"
	"github.com/xkilldash9x/cartpilot/internal/agent"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/planner"
	"github.com/xkilldash9x/cartpilot/internal/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeShopper struct {
	discover func(context.Context, agent.DiscoverRequest) (agent.DiscoverResult, error)
	choose   func(context.Context, string, agent.ChooseRequest) (agent.ChooseResult, error)
	checkout func(context.Context, string, agent.CheckoutRequest) (agent.CheckoutResult, error)
}

func (f *fakeShopper) Discover(ctx context.Context, req agent.DiscoverRequest) (agent.DiscoverResult, error) {
	return f.discover(ctx, req)
}

func (f *fakeShopper) Choose(ctx context.Context, id string, req agent.ChooseRequest) (agent.ChooseResult, error) {
	return f.choose(ctx, id, req)
}

func (f *fakeShopper) Checkout(ctx context.Context, id string, req agent.CheckoutRequest) (agent.CheckoutResult, error) {
	return f.checkout(ctx, id, req)
}

func newTestRouter(t *testing.T, shopper Shopper) *gin.Engine {
	t.Helper()
	return NewRouter(config.ServerConfig{CORSOrigins: []string{"http://localhost:3000"}}, shopper, zaptest.NewLogger(t))
}

func do(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	w := do(newTestRouter(t, &fakeShopper{}), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestPlanAndSearch(t *testing.T) {
	price := 12.99
	var got agent.DiscoverRequest
	shopper := &fakeShopper{
		discover: func(_ context.Context, req agent.DiscoverRequest) (agent.DiscoverResult, error) {
			got = req
			return agent.DiscoverResult{
				SessionID: "abc123",
				Plan:      schemas.Plan{Query: "wireless mouse", MustHave: []string{}},
				Products: []schemas.Summary{
					{Index: 0, Title: "Mouse", Price: &price, Currency: "USD", URL: "https://www.amazon.com/dp/1", Store: schemas.StoreAmazon},
				},
			}, nil
		},
	}
	router := newTestRouter(t, shopper)

	w := do(router, http.MethodPost, "/plan_and_search", `{"intent":"wireless mouse under $20","site_hint":"Amazon","headless":false}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "wireless mouse under $20", got.Intent)
	assert.Equal(t, schemas.StoreAmazon, got.StoreHint)
	require.NotNil(t, got.Headless)
	assert.False(t, *got.Headless)
	assert.JSONEq(t, `{
		"session_id":"abc123",
		"plan":{"query":"wireless mouse","max_price":null,"must_have":[]},
		"products":[{"index":0,"title":"Mouse","price":12.99,"currency":"USD","url":"https://www.amazon.com/dp/1","store":"amazon"}]
	}`, w.Body.String())
}

func TestPlanAndSearch_UserRequestAliasAndEmptyProducts(t *testing.T) {
	var got agent.DiscoverRequest
	shopper := &fakeShopper{
		discover: func(_ context.Context, req agent.DiscoverRequest) (agent.DiscoverResult, error) {
			got = req
			return agent.DiscoverResult{SessionID: "s", Plan: schemas.Plan{Query: "q", MustHave: []string{}}}, nil
		},
	}

	w := do(newTestRouter(t, shopper), http.MethodPost, "/plan_and_search", `{"user_request":"usb hub"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "usb hub", got.Intent)
	assert.Nil(t, got.Headless)
	assert.Contains(t, w.Body.String(), `"products":[]`)
}

func TestPlanAndSearch_BadRequests(t *testing.T) {
	shopper := &fakeShopper{
		discover: func(context.Context, agent.DiscoverRequest) (agent.DiscoverResult, error) {
			t.Fatal("shopper must not be called")
			return agent.DiscoverResult{}, nil
		},
	}
	router := newTestRouter(t, shopper)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"intent":`},
		{"missing intent", `{"site_hint":"ebay"}`},
		{"blank intent", `{"intent":"   "}`},
		{"unknown site", `{"intent":"mouse","site_hint":"etsy"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/plan_and_search", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), `"status":"could_not_proceed"`)
		})
	}
}

func TestChoose(t *testing.T) {
	var gotID string
	var gotSel workflow.Selector
	shopper := &fakeShopper{
		choose: func(_ context.Context, id string, req agent.ChooseRequest) (agent.ChooseResult, error) {
			gotID, gotSel = id, req.Selector
			return agent.ChooseResult{
				Status:     schemas.StatusAdded,
				PageURL:    "https://www.amazon.com/dp/1",
				Screenshot: []byte("png"),
				Artifact:   "/tmp/a.png",
			}, nil
		},
	}
	router := newTestRouter(t, shopper)

	w := do(router, http.MethodPost, "/choose?session_id=abc", `{"product_index":2}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "abc", gotID)
	assert.Equal(t, workflow.ByIndex(2), gotSel)
	assert.JSONEq(t, fmt.Sprintf(`{
		"status":"added",
		"page_url":"https://www.amazon.com/dp/1",
		"screenshot_b64":%q,
		"artifact":"/tmp/a.png"
	}`, base64.StdEncoding.EncodeToString([]byte("png"))), w.Body.String())
}

func TestChoose_URLWinsOverIndex(t *testing.T) {
	var gotSel workflow.Selector
	shopper := &fakeShopper{
		choose: func(_ context.Context, _ string, req agent.ChooseRequest) (agent.ChooseResult, error) {
			gotSel = req.Selector
			return agent.ChooseResult{Status: schemas.StatusNeedsManualAdd, Blocker: &schemas.Blocker{Kind: schemas.BlockerBotWall, Reason: "robot check"}}, nil
		},
	}

	w := do(newTestRouter(t, shopper), http.MethodPost, "/choose?session_id=abc", `{"product_index":0,"product_url":"https://example.com/p"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, workflow.ByURL("https://example.com/p"), gotSel)
	assert.Contains(t, w.Body.String(), `"blocker":{"kind":"bot_blocked","reason":"robot check"}`)
}

func TestChoose_BadRequests(t *testing.T) {
	router := newTestRouter(t, &fakeShopper{})

	w := do(router, http.MethodPost, "/choose", `{"product_index":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/choose?session_id=abc", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/choose?session_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/choose?session_id=abc", `[1,2`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckout(t *testing.T) {
	var got agent.CheckoutRequest
	shopper := &fakeShopper{
		checkout: func(_ context.Context, _ string, req agent.CheckoutRequest) (agent.CheckoutResult, error) {
			got = req
			return agent.CheckoutResult{
				Status:         schemas.StatusAtCheckout,
				CheckoutURL:    "https://www.amazon.com/checkout",
				FilledShipping: true,
				FilledFields:   []schemas.ShippingField{schemas.FieldFirstName, schemas.FieldZip},
				Screenshot:     []byte{1, 2, 3},
				Note:           schemas.PaymentNote,
			}, nil
		},
	}

	w := do(newTestRouter(t, shopper), http.MethodPost, "/checkout?session_id=abc",
		`{"shipping":{"First_Name":"Ada","zip":"94107"}}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, schemas.ShippingFields{schemas.FieldFirstName: "Ada", schemas.FieldZip: "94107"}, got.Shipping)
	assert.JSONEq(t, fmt.Sprintf(`{
		"status":"at_checkout",
		"checkout_url":"https://www.amazon.com/checkout",
		"filled_shipping":true,
		"filled_fields":["first_name","zip"],
		"screenshot_b64":%q,
		"note":%q
	}`, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), schemas.PaymentNote), w.Body.String())
}

func TestCheckout_EmptyBody(t *testing.T) {
	called := false
	shopper := &fakeShopper{
		checkout: func(_ context.Context, id string, req agent.CheckoutRequest) (agent.CheckoutResult, error) {
			called = true
			assert.Equal(t, "abc", id)
			assert.Empty(t, req.Shipping)
			return agent.CheckoutResult{Status: schemas.StatusCouldNotReachCheckout, Note: schemas.PaymentNote}, nil
		},
	}

	w := do(newTestRouter(t, shopper), http.MethodPost, "/checkout?session_id=abc", "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, called)
	assert.Contains(t, w.Body.String(), `"filled_fields":[]`)
	assert.Contains(t, w.Body.String(), `"status":"could_not_navigate_to_checkout"`)
}

func TestCheckout_UnknownShippingField(t *testing.T) {
	w := do(newTestRouter(t, &fakeShopper{}), http.MethodPost, "/checkout?session_id=abc", `{"shipping":{"card_number":"4111"}}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "4111")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown session", fmt.Errorf("choose: %w", workflow.ErrNotFound), http.StatusNotFound},
		{"wrong state", workflow.ErrInvalidState, http.StatusConflict},
		{"oracle", fmt.Errorf("%w: quota", planner.ErrOracleUnavailable), http.StatusBadGateway},
		{"navigation", fmt.Errorf("%w: open product", actions.ErrNavigation), http.StatusGatewayTimeout},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("browser crashed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shopper := &fakeShopper{
				choose: func(context.Context, string, agent.ChooseRequest) (agent.ChooseResult, error) {
					return agent.ChooseResult{}, tt.err
				},
			}
			w := do(newTestRouter(t, shopper), http.MethodPost, "/choose?session_id=abc", `{"product_index":0}`)

			assert.Equal(t, tt.want, w.Code)
			assert.JSONEq(t, fmt.Sprintf(`{"status":"could_not_proceed","error":%q}`, tt.err.Error()), w.Body.String())
		})
	}
}

func TestServerErrorsAreLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	shopper := &fakeShopper{
		discover: func(context.Context, agent.DiscoverRequest) (agent.DiscoverResult, error) {
			return agent.DiscoverResult{}, errors.New("boom")
		},
	}
	router := NewRouter(config.ServerConfig{}, shopper, zap.New(core))

	w := do(router, http.MethodPost, "/plan_and_search", `{"intent":"mouse"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("Request could not proceed.").Len())
	assert.Equal(t, 1, logs.FilterMessage("Request completed with server error.").Len())
}

func TestCORSMiddleware(t *testing.T) {
	allowed := []string{"http://localhost:3000", "*.example.com"}

	tests := []struct {
		name       string
		origin     string
		method     string
		wantHeader string
		wantStatus int
	}{
		{"exact match", "http://localhost:3000", http.MethodGet, "http://localhost:3000", http.StatusOK},
		{"wildcard subdomain", "https://shop.example.com", http.MethodGet, "https://shop.example.com", http.StatusOK},
		{"not allowed", "https://evil.test", http.MethodGet, "", http.StatusOK},
		{"preflight", "http://localhost:3000", http.MethodOptions, "http://localhost:3000", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CORSMiddleware(allowed))
			router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(tt.method, "/x", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantHeader, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestIsAllowedOrigin_Star(t *testing.T) {
	assert.True(t, isAllowedOrigin("https://anything.test", []string{"*"}))
	assert.False(t, isAllowedOrigin("https://anything.test", nil))
}

func TestRequestLogger_KeepsIncomingID(t *testing.T) {
	router := gin.New()
	router.Use(RequestLogger(zaptest.NewLogger(t)))
	router.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "req-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Header().Get(requestIDHeader))
	assert.Equal(t, "req-1", w.Body.String())
}

func TestRateLimiter(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(1, 2, time.Minute)
	rl.now = func() time.Time { return clock }

	assert.True(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"), "burst exhausted")
	assert.True(t, rl.Allow("2.2.2.2"), "clients are limited independently")

	clock = clock.Add(time.Second)
	assert.True(t, rl.Allow("1.1.1.1"), "one token refilled")

	clock = clock.Add(2 * time.Minute)
	rl.Allow("3.3.3.3")
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.guests, 1, "idle clients are pruned")
}

func TestRateLimiter_Middleware(t *testing.T) {
	shopper := &fakeShopper{}
	router := NewRouter(config.ServerConfig{RateLimit: 0.001, RateBurst: 1}, shopper, zaptest.NewLogger(t))

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", "").Code)
	w := do(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"status":"could_not_proceed","error":"rate limit exceeded"}`, w.Body.String())
}
