// Package planner turns a free-text purchase intent into a constraint plan.
//
// A language model is asked once for a JSON plan. Output it cannot decode is
// replaced by a regex heuristic; only a failed model call is an error.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// ErrOracleUnavailable wraps a failed call to the planning model.
var ErrOracleUnavailable = errors.New("planning oracle unavailable")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Oracle produces a plan for an intent. storeHint may be empty.
type Oracle interface {
	Plan(ctx context.Context, intent string, storeHint schemas.StoreName) (schemas.Plan, error)
}

// Generator completes a prompt with text.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Planner is an Oracle backed by an optional Generator. Without one it runs
// the heuristic only.
type Planner struct {
	gen    Generator
	logger *zap.Logger
}

var _ Oracle = (*Planner)(nil)

// New creates a Planner. gen may be nil.
func New(gen Generator, logger *zap.Logger) *Planner {
	return &Planner{gen: gen, logger: logger.Named("planner")}
}

// Online reports whether a model is configured.
func (p *Planner) Online() bool { return p.gen != nil }

const promptTemplate = `You are a shopping assistant. Extract a search plan from the shopper's request.
Respond with a single JSON object and nothing else, using exactly these keys:
  "query": short search keywords for the product,
  "store": one of "amazon", "ebay", "walmart", "generic", or null,
  "max_price": the maximum price as a number, or null,
  "must_have": a list of required keywords (may be empty).
Store hint from the shopper (may be empty): %q
Request: %q`

// Plan asks the model for a plan and normalizes it. Model output that is
// not a decodable plan falls back to Heuristic.
func (p *Planner) Plan(ctx context.Context, intent string, storeHint schemas.StoreName) (schemas.Plan, error) {
	intent = strings.TrimSpace(intent)
	if p.gen == nil {
		return Normalize(Heuristic(intent), intent, storeHint), nil
	}

	raw, err := p.gen.GenerateText(ctx, fmt.Sprintf(promptTemplate, string(storeHint), intent))
	if err != nil {
		return schemas.Plan{}, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}

	plan, err := decodePlan(raw)
	if err != nil {
		p.logger.Info("Model plan unusable, using heuristic.", zap.Error(err))
		plan = Heuristic(intent)
	}
	return Normalize(plan, intent, storeHint), nil
}

// wirePlan is the model's JSON shape. max_price arrives as a number, a
// numeric string or null depending on the model's mood.
type wirePlan struct {
	Query    string              `json:"query"`
	Store    *string             `json:"store"`
	MaxPrice jsoniter.RawMessage `json:"max_price"`
	MustHave []string            `json:"must_have"`
}

func decodePlan(raw string) (schemas.Plan, error) {
	obj, ok := extractObject(raw)
	if !ok {
		return schemas.Plan{}, errors.New("no JSON object in model output")
	}
	var w wirePlan
	if err := json.UnmarshalFromString(obj, &w); err != nil {
		return schemas.Plan{}, fmt.Errorf("decode plan: %w", err)
	}

	plan := schemas.Plan{Query: strings.TrimSpace(w.Query)}
	if w.Store != nil {
		plan.Store = schemas.StoreName(strings.ToLower(strings.TrimSpace(*w.Store)))
	}
	maxPrice, err := decodePrice(w.MaxPrice)
	if err != nil {
		return schemas.Plan{}, err
	}
	plan.MaxPrice = maxPrice
	for _, kw := range w.MustHave {
		if kw = strings.TrimSpace(kw); kw != "" {
			plan.MustHave = append(plan.MustHave, kw)
		}
	}
	return plan, nil
}

func decodePrice(raw jsoniter.RawMessage) (*float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, fmt.Errorf("decode max_price: %w", err)
		}
		s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(str), "$"))
		if s == "" {
			return nil, nil
		}
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return nil, fmt.Errorf("decode max_price %q: %w", s, err)
	}
	if v <= 0 {
		return nil, nil
	}
	return &v, nil
}

// Normalize fills the gaps in a plan: an empty query becomes the intent,
// unknown store names are dropped and the hint applies when the plan names
// no store.
func Normalize(plan schemas.Plan, intent string, storeHint schemas.StoreName) schemas.Plan {
	if strings.TrimSpace(plan.Query) == "" {
		plan.Query = strings.TrimSpace(intent)
	}
	if _, ok := schemas.ParseStoreName(string(plan.Store)); !ok {
		plan.Store = ""
	}
	if plan.Store == "" {
		if hint, ok := schemas.ParseStoreName(string(storeHint)); ok {
			plan.Store = hint
		}
	}
	if plan.MustHave == nil {
		plan.MustHave = []string{}
	}
	return plan
}
