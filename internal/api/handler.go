// Package api exposes the shopping workflow over HTTP.
package api

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/actions"
	"github.com/xkilldash9x/cartpilot/internal/agent"
	"github.com/xkilldash9x/cartpilot/internal/planner"
	"github.com/xkilldash9x/cartpilot/internal/workflow"
)

// errBadRequest marks a request the client must fix.
var errBadRequest = errors.New("bad request")

// Shopper is the workflow the handlers drive. *agent.Agent implements it.
type Shopper interface {
	Discover(ctx context.Context, req agent.DiscoverRequest) (agent.DiscoverResult, error)
	Choose(ctx context.Context, sessionID string, req agent.ChooseRequest) (agent.ChooseResult, error)
	Checkout(ctx context.Context, sessionID string, req agent.CheckoutRequest) (agent.CheckoutResult, error)
}

var _ Shopper = (*agent.Agent)(nil)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	shopper Shopper
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(shopper Shopper, logger *zap.Logger) *Handler {
	return &Handler{shopper: shopper, logger: logger.Named("api")}
}

type planRequest struct {
	Intent string `json:"intent"`
	// UserRequest is accepted as an alias of Intent.
	UserRequest string `json:"user_request"`
	SiteHint    string `json:"site_hint"`
	Headless    *bool  `json:"headless"`
}

type chooseRequest struct {
	ProductIndex *int   `json:"product_index"`
	ProductURL   string `json:"product_url"`
	Headless     *bool  `json:"headless"`
}

type checkoutRequest struct {
	Shipping map[string]string `json:"shipping"`
	Headless *bool             `json:"headless"`
}

type chooseResponse struct {
	Status        schemas.ChooseStatus `json:"status"`
	PageURL       string               `json:"page_url"`
	ScreenshotB64 string               `json:"screenshot_b64"`
	Artifact      string               `json:"artifact,omitempty"`
	Blocker       *schemas.Blocker     `json:"blocker,omitempty"`
}

type checkoutResponse struct {
	Status         schemas.CheckoutStatus  `json:"status"`
	CheckoutURL    string                  `json:"checkout_url"`
	FilledShipping bool                    `json:"filled_shipping"`
	FilledFields   []schemas.ShippingField `json:"filled_fields"`
	ScreenshotB64  string                  `json:"screenshot_b64"`
	Artifact       string                  `json:"artifact,omitempty"`
	Blocker        *schemas.Blocker        `json:"blocker,omitempty"`
	Note           string                  `json:"note"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// HealthCheck returns the health status of the API.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// PlanAndSearch plans an intent, searches the stores and opens a session.
func (h *Handler) PlanAndSearch(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid JSON body"))
		return
	}
	intent := strings.TrimSpace(req.Intent)
	if intent == "" {
		intent = strings.TrimSpace(req.UserRequest)
	}
	if intent == "" {
		h.fail(c, badRequest("intent is required"))
		return
	}
	var hint schemas.StoreName
	if req.SiteHint != "" {
		store, ok := schemas.ParseStoreName(req.SiteHint)
		if !ok {
			h.fail(c, badRequest("unknown site_hint "+req.SiteHint))
			return
		}
		hint = store
	}

	res, err := h.shopper.Discover(c.Request.Context(), agent.DiscoverRequest{
		Intent:    intent,
		StoreHint: hint,
		Headless:  req.Headless,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.Products == nil {
		res.Products = []schemas.Summary{}
	}
	c.JSON(http.StatusOK, res)
}

// Choose selects a product of a session and tries to add it to the cart.
func (h *Handler) Choose(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	var req chooseRequest
	if !h.bindOptional(c, &req) {
		return
	}
	var sel workflow.Selector
	switch {
	case strings.TrimSpace(req.ProductURL) != "":
		sel = workflow.ByURL(strings.TrimSpace(req.ProductURL))
	case req.ProductIndex != nil:
		sel = workflow.ByIndex(*req.ProductIndex)
	default:
		h.fail(c, badRequest("product_index or product_url is required"))
		return
	}

	res, err := h.shopper.Choose(c.Request.Context(), sessionID, agent.ChooseRequest{Selector: sel, Headless: req.Headless})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chooseResponse{
		Status:        res.Status,
		PageURL:       res.PageURL,
		ScreenshotB64: base64.StdEncoding.EncodeToString(res.Screenshot),
		Artifact:      res.Artifact,
		Blocker:       res.Blocker,
	})
}

// Checkout walks the chosen product to the checkout page and stops before
// payment.
func (h *Handler) Checkout(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	var req checkoutRequest
	if !h.bindOptional(c, &req) {
		return
	}
	shipping := make(schemas.ShippingFields, len(req.Shipping))
	for k, v := range req.Shipping {
		field := schemas.ShippingField(strings.ToLower(strings.TrimSpace(k)))
		if !slices.Contains(schemas.ShippingFieldOrder, field) {
			h.fail(c, badRequest("unknown shipping field "+k))
			return
		}
		shipping[field] = v
	}

	res, err := h.shopper.Checkout(c.Request.Context(), sessionID, agent.CheckoutRequest{Shipping: shipping, Headless: req.Headless})
	if err != nil {
		h.fail(c, err)
		return
	}
	filled := res.FilledFields
	if filled == nil {
		filled = []schemas.ShippingField{}
	}
	c.JSON(http.StatusOK, checkoutResponse{
		Status:         res.Status,
		CheckoutURL:    res.CheckoutURL,
		FilledShipping: res.FilledShipping,
		FilledFields:   filled,
		ScreenshotB64:  base64.StdEncoding.EncodeToString(res.Screenshot),
		Artifact:       res.Artifact,
		Blocker:        res.Blocker,
		Note:           res.Note,
	})
}

func (h *Handler) sessionID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Query("session_id"))
	if id == "" {
		h.fail(c, badRequest("session_id query parameter is required"))
		return "", false
	}
	return id, true
}

// bindOptional decodes a JSON body when one was sent.
func (h *Handler) bindOptional(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, badRequest("invalid JSON body"))
		return false
	}
	return true
}

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return errBadRequest }

// statusFor maps workflow errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, planner.ErrOracleUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, actions.ErrNavigation), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	fields := []zap.Field{zap.Int("status", status), zap.String("path", c.FullPath()), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request could not proceed.", fields...)
	} else {
		h.logger.Info("Request rejected.", fields...)
	}
	c.AbortWithStatusJSON(status, errorResponse{Status: schemas.StatusCouldNotProceed, Error: err.Error()})
}
