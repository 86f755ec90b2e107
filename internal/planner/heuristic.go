package planner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

var underPrice = regexp.MustCompile(`(?i)under\s*\$?([0-9]+(?:\.[0-9]{1,2})?)`)

// heuristicStores are checked in order; a later match overrides an earlier one.
var heuristicStores = []schemas.StoreName{schemas.StoreAmazon, schemas.StoreEbay, schemas.StoreWalmart}

// Heuristic builds a plan without a model: a price cap from "under $N", a
// store named anywhere in the text, and the remaining words as the query.
func Heuristic(intent string) schemas.Plan {
	plan := schemas.Plan{MustHave: []string{}}

	if m := underPrice.FindStringSubmatch(intent); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			plan.MaxPrice = &v
		}
	}
	lower := strings.ToLower(intent)
	for _, store := range heuristicStores {
		if strings.Contains(lower, string(store)) {
			plan.Store = store
		}
	}

	plan.Query = strings.Join(strings.Fields(underPrice.ReplaceAllString(intent, " ")), " ")
	if plan.Query == "" {
		plan.Query = strings.TrimSpace(intent)
	}
	return plan
}
