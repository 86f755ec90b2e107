package actions

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/fallback"
)

var shippingLocators = map[schemas.ShippingField][]schemas.Locator{
	schemas.FieldFirstName: {
		schemas.CSS("input[name='firstName']"),
		schemas.CSS("input#firstName"),
		schemas.CSS("input[name='firstname']"),
	},
	schemas.FieldLastName: {
		schemas.CSS("input[name='lastName']"),
		schemas.CSS("input#lastName"),
		schemas.CSS("input[name='lastname']"),
	},
	schemas.FieldAddress1: {
		schemas.CSS("input[name='address1']"),
		schemas.CSS("input#addressLine1"),
	},
	schemas.FieldAddress2: {
		schemas.CSS("input[name='address2']"),
		schemas.CSS("input#addressLine2"),
	},
	schemas.FieldCity:  {schemas.CSS("input[name='city']")},
	schemas.FieldState: {schemas.CSS("input[name='state']"), schemas.CSS("select[name='state']")},
	schemas.FieldZip:   {schemas.CSS("input[name='postalCode']"), schemas.CSS("input[name='zip']")},
	schemas.FieldPhone: {schemas.CSS("input[name='phone']")},
	schemas.FieldEmail: {schemas.CSS("input[name='email']")},
}

// FillResult lists which supplied shipping fields landed in the form.
type FillResult struct {
	Filled []schemas.ShippingField
	Missed []schemas.ShippingField
}

// Achieved reports whether at least one field was filled.
func (r FillResult) Achieved() bool { return len(r.Filled) > 0 }

// FillShipping types each non-empty value into the first matching input.
// Fields are visited in schemas.ShippingFieldOrder. Values are never logged.
func (e *Executor) FillShipping(ctx context.Context, fields schemas.ShippingFields) FillResult {
	var res FillResult
	for _, field := range schemas.ShippingFieldOrder {
		value := fields[field]
		if value == "" {
			continue
		}
		locs := shippingLocators[field]
		steps := make([]fallback.Step[struct{}], 0, len(locs))
		for _, loc := range locs {
			steps = append(steps, e.fillStep(loc, value))
		}
		if fallback.Run(ctx, steps).OK() {
			res.Filled = append(res.Filled, field)
		} else {
			res.Missed = append(res.Missed, field)
		}
	}
	e.logger.Info("Shipping form visited.",
		zap.Int("filled", len(res.Filled)),
		zap.Int("missed", len(res.Missed)))
	return res
}

func (e *Executor) fillStep(loc schemas.Locator, value string) fallback.Step[struct{}] {
	return fallback.Step[struct{}]{
		Name: loc.String(),
		Try: func(ctx context.Context) (struct{}, error) {
			ok, err := e.page.Exists(ctx, loc)
			if err != nil {
				return struct{}{}, err
			}
			if !ok {
				return struct{}{}, errAbsent
			}
			return struct{}{}, e.page.Fill(ctx, loc, value)
		},
	}
}

// Settle pauses after a step so late page scripts can run.
func (e *Executor) Settle(ctx context.Context) error {
	return e.page.Sleep(ctx, e.timings.ShippingSettle)
}
