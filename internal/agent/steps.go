package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/actions"
	"github.com/xkilldash9x/cartpilot/internal/workflow"
)

// ChooseRequest selects a product from a session.
type ChooseRequest struct {
	Selector workflow.Selector
	Headless *bool
}

// ChooseResult reports the add-to-cart attempt.
type ChooseResult struct {
	Status     schemas.ChooseStatus
	Product    schemas.Product
	PageURL    string
	Screenshot []byte
	Artifact   string
	Blocker    *schemas.Blocker
}

// Choose opens the selected product page, records the selection and tries
// to add it to the cart. Failing to add is a result, not an error; failing
// to open the product page is an error wrapping actions.ErrNavigation and
// leaves the session as it was.
func (a *Agent) Choose(ctx context.Context, sessionID string, req ChooseRequest) (ChooseResult, error) {
	unlock, err := a.deps.Machine.Lock(ctx, sessionID)
	if err != nil {
		return ChooseResult{}, err
	}
	defer unlock()

	product, err := a.deps.Machine.Lookup(ctx, sessionID, req.Selector)
	if err != nil {
		return ChooseResult{}, err
	}
	logger := a.logger.With(zap.String("session_id", sessionID))

	res := ChooseResult{Product: product, Status: schemas.StatusNeedsManualAdd}
	err = a.withBrowser(ctx, req.Headless, func(page schemas.BrowserSession) error {
		exec := actions.New(page, a.opts.Timings, logger)
		if err := exec.OpenProduct(ctx, product); err != nil {
			return err
		}
		// The selection only sticks once its product page has opened.
		if _, err := a.deps.Machine.Choose(ctx, sessionID, req.Selector); err != nil {
			return err
		}
		if exec.AddToCart(ctx) {
			res.Status = schemas.StatusAdded
		}
		res.PageURL = currentURL(ctx, page, product.URL)
		ev := a.capture(ctx, sessionID, "choose", page, exec)
		res.Screenshot, res.Artifact, res.Blocker = ev.Screenshot, ev.Artifact, ev.Blocker
		return nil
	})
	if err != nil {
		return ChooseResult{}, err
	}

	if err := a.deps.Machine.Annotate(ctx, sessionID, res.PageURL); err != nil {
		logger.Warn("Failed to annotate session.", zap.Error(err))
	}
	payload := map[string]any{"url": product.URL, "status": string(res.Status), "page_url": res.PageURL}
	if res.Blocker != nil {
		payload["blocker"] = string(res.Blocker.Kind)
	}
	a.record(ctx, sessionID, schemas.EventChosen, payload)
	logger.Info("Choose step finished.", zap.String("status", string(res.Status)))
	return res, nil
}

// CheckoutRequest carries optional shipping values. Payment data is never
// accepted.
type CheckoutRequest struct {
	Shipping schemas.ShippingFields
	Headless *bool
}

// CheckoutResult reports how far checkout navigation got.
type CheckoutResult struct {
	Status         schemas.CheckoutStatus
	CheckoutURL    string
	FilledShipping bool
	FilledFields   []schemas.ShippingField
	Screenshot     []byte
	Artifact       string
	Blocker        *schemas.Blocker
	Note           string
}

// Checkout re-opens the chosen product in a fresh browser, re-attempts the
// add, walks to the cart and on to checkout, and optionally fills shipping.
// It always stops before payment.
func (a *Agent) Checkout(ctx context.Context, sessionID string, req CheckoutRequest) (CheckoutResult, error) {
	unlock, err := a.deps.Machine.Lock(ctx, sessionID)
	if err != nil {
		return CheckoutResult{}, err
	}
	defer unlock()

	sess, err := a.deps.Machine.Checkout(ctx, sessionID)
	if err != nil {
		return CheckoutResult{}, err
	}
	product := *sess.Chosen
	logger := a.logger.With(zap.String("session_id", sessionID))

	res := CheckoutResult{Status: schemas.StatusCouldNotReachCheckout, Note: schemas.PaymentNote}
	err = a.withBrowser(ctx, req.Headless, func(page schemas.BrowserSession) error {
		exec := actions.New(page, a.opts.Timings, logger)
		if err := exec.OpenProduct(ctx, product); err != nil {
			return err
		}
		// A fresh browser has an empty cart, so the add is repeated. Its
		// outcome does not change the checkout result.
		exec.AddToCart(ctx)
		exec.GoToCart(ctx)
		if exec.ProceedToCheckout(ctx) {
			res.Status = schemas.StatusAtCheckout
		}
		if len(req.Shipping) > 0 {
			fill := exec.FillShipping(ctx, req.Shipping)
			res.FilledShipping = fill.Achieved()
			res.FilledFields = fill.Filled
			if err := exec.Settle(ctx); err != nil {
				return err
			}
		}
		res.CheckoutURL = currentURL(ctx, page, "")
		ev := a.capture(ctx, sessionID, "checkout", page, exec)
		res.Screenshot, res.Artifact, res.Blocker = ev.Screenshot, ev.Artifact, ev.Blocker
		return nil
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	if err := a.deps.Machine.Annotate(ctx, sessionID, res.CheckoutURL); err != nil {
		logger.Warn("Failed to annotate session.", zap.Error(err))
	}
	fields := make([]string, 0, len(res.FilledFields))
	for _, f := range res.FilledFields {
		fields = append(fields, string(f))
	}
	payload := map[string]any{"status": string(res.Status), "checkout_url": res.CheckoutURL, "filled_fields": fields}
	if res.Blocker != nil {
		payload["blocker"] = string(res.Blocker.Kind)
	}
	a.record(ctx, sessionID, schemas.EventCheckout, payload)
	logger.Info("Checkout step finished.", zap.String("status", string(res.Status)), zap.Int("filled_fields", len(fields)))
	return res, nil
}

func currentURL(ctx context.Context, page schemas.Page, fallback string) string {
	u, err := page.URL(ctx)
	if err != nil || u == "" {
		return fallback
	}
	return u
}
