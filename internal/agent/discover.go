package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/ranking"
)

// The cascade adds stores while fewer than this many products were found.
const (
	cascadeAfterFirst = 4
	cascadeAfterMore  = 6
)

// DiscoverRequest starts a shopping session.
type DiscoverRequest struct {
	Intent    string
	StoreHint schemas.StoreName
	Headless  *bool
}

// DiscoverResult is the ranked head of a new session's products.
type DiscoverResult struct {
	SessionID string            `json:"session_id"`
	Plan      schemas.Plan      `json:"plan"`
	Products  []schemas.Summary `json:"products"`
}

// Discover plans the intent, searches the stores, ranks what was found and
// opens a session holding the ranked list.
func (a *Agent) Discover(ctx context.Context, req DiscoverRequest) (DiscoverResult, error) {
	plan, err := a.deps.Oracle.Plan(ctx, req.Intent, req.StoreHint)
	if err != nil {
		return DiscoverResult{}, fmt.Errorf("plan intent: %w", err)
	}
	a.logger.Info("Intent planned.",
		zap.String("query", plan.Query),
		zap.String("store", string(plan.Store)),
		zap.Bool("has_max_price", plan.MaxPrice != nil),
		zap.Strings("must_have", plan.MustHave))

	var products []schemas.Product
	err = a.withBrowser(ctx, req.Headless, func(page schemas.BrowserSession) error {
		products = a.search(ctx, page, plan)
		return nil
	})
	if err != nil {
		return DiscoverResult{}, fmt.Errorf("open browser: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return DiscoverResult{}, err
	}

	ranked := ranking.Rank(products, plan, a.opts.Ranking)
	sess, err := a.deps.Machine.Discover(ctx, plan, ranked)
	if err != nil {
		return DiscoverResult{}, err
	}
	a.logger.Info("Discovery complete.", zap.String("session_id", sess.ID), zap.Int("found", len(products)), zap.Int("ranked", len(ranked)))

	a.record(ctx, sess.ID, schemas.EventDiscovered, map[string]any{
		"query":    plan.Query,
		"store":    string(plan.Store),
		"products": len(ranked),
	})
	return DiscoverResult{
		SessionID: sess.ID,
		Plan:      plan,
		Products:  schemas.Summarize(ranked, a.opts.TopN),
	}, nil
}

// search runs the named store alone, or the store cascade when the plan
// names no store or the generic one.
func (a *Agent) search(ctx context.Context, page schemas.Page, plan schemas.Plan) []schemas.Product {
	if ex, ok := a.deps.Catalog.Named(plan.Store); ok {
		return ex.Extract(ctx, page, plan.Query)
	}

	products := a.searchStore(ctx, page, schemas.StoreAmazon, plan.Query, nil)
	if len(products) < cascadeAfterFirst {
		products = a.searchStore(ctx, page, schemas.StoreEbay, plan.Query, products)
	}
	if len(products) < cascadeAfterMore {
		products = a.searchStore(ctx, page, schemas.StoreWalmart, plan.Query, products)
	}
	if len(products) < cascadeAfterMore {
		products = append(products, a.deps.Catalog.Generic().Extract(ctx, page, plan.Query)...)
	}
	return products
}

func (a *Agent) searchStore(ctx context.Context, page schemas.Page, store schemas.StoreName, query string, acc []schemas.Product) []schemas.Product {
	if err := ctx.Err(); err != nil {
		return acc
	}
	ex, ok := a.deps.Catalog.Named(store)
	if !ok {
		return acc
	}
	return append(acc, ex.Extract(ctx, page, query)...)
}
