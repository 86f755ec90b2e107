package actions

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

var humanSignals = []string{
	"captcha",
	"hcaptcha",
	"recaptcha",
	"verify you are human",
	"prove you are human",
	"are you a robot",
	"enter the characters you see below",
	"confirm this search was made by a human",
	"complete the following challenge",
	"security check",
	"checking if the site connection is secure",
}

// DetectBlocker inspects the current page for a verification challenge or
// bot wall. A page that cannot be read yields no blocker.
func (e *Executor) DetectBlocker(ctx context.Context) schemas.Blocker {
	current, _ := e.page.URL(ctx)
	body, err := e.page.Text(ctx)
	if err != nil {
		e.logger.Debug("Page text unavailable for blocker check.", zap.Error(err))
	}
	b := ClassifyBlocker(current, body)
	if b.Detected() {
		e.logger.Warn("Blocker detected.", zap.String("kind", string(b.Kind)), zap.String("url", current))
	}
	return b
}

// ClassifyBlocker matches known challenge phrases in a page's URL and
// visible text.
func ClassifyBlocker(pageURL, bodyText string) schemas.Blocker {
	haystack := strings.ToLower(strings.TrimSpace(pageURL) + " " + strings.TrimSpace(bodyText))
	if strings.TrimSpace(haystack) == "" {
		return schemas.Blocker{}
	}

	for _, signal := range humanSignals {
		if strings.Contains(haystack, signal) {
			return schemas.Blocker{Kind: schemas.BlockerHumanVerification, Reason: "human verification challenge detected"}
		}
	}
	if strings.Contains(haystack, "please fill out this field") {
		return schemas.Blocker{Kind: schemas.BlockerFormValidation, Reason: "submission blocked by required-field validation"}
	}
	if strings.Contains(haystack, "access denied") && strings.Contains(haystack, "bot") {
		return schemas.Blocker{Kind: schemas.BlockerBotWall, Reason: "site denied automated access"}
	}
	return schemas.Blocker{}
}
