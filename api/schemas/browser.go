package schemas

import (
	"fmt"
	"strings"
)

// -- Browser Persona --

// Persona is the client identity a browser session presents to sites.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"`
	Languages []string `json:"languages"`
	Width     int64    `json:"width"`
	Height    int64    `json:"height"`
	Timezone  string   `json:"timezoneId"`
	Locale    string   `json:"locale"`
}

// -- Locators --

// LocatorKind selects how a Locator is resolved against the DOM.
type LocatorKind int

const (
	// LocatorCSS resolves a CSS selector.
	LocatorCSS LocatorKind = iota
	// LocatorText resolves an element of a given tag whose visible text
	// contains a phrase.
	LocatorText
)

// Locator is one candidate strategy for finding a UI element.
type Locator struct {
	Kind     LocatorKind
	Selector string
	Tag      string
	Text     string
}

// CSS builds a CSS selector locator.
func CSS(selector string) Locator {
	return Locator{Kind: LocatorCSS, Selector: selector}
}

// TextIn builds a locator for a tag containing the given visible text.
func TextIn(tag, text string) Locator {
	return Locator{Kind: LocatorText, Tag: tag, Text: text}
}

// XPath renders a text locator as an XPath expression. CSS locators return
// an empty string.
func (l Locator) XPath() string {
	if l.Kind != LocatorText {
		return ""
	}
	tag := l.Tag
	if tag == "" {
		tag = "*"
	}
	return fmt.Sprintf("//%s[contains(normalize-space(.), %s)]", tag, xpathLiteral(l.Text))
}

func (l Locator) String() string {
	if l.Kind == LocatorText {
		return fmt.Sprintf("%s:has-text(%q)", l.Tag, l.Text)
	}
	return l.Selector
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// -- Blockers --

// BlockerKind classifies an anti-automation obstacle seen on a page.
type BlockerKind string

const (
	BlockerHumanVerification BlockerKind = "human_verification_required"
	BlockerFormValidation    BlockerKind = "form_validation_error"
	BlockerBotWall           BlockerKind = "bot_blocked"
)

// Blocker is reported alongside a step result. The agent never tries to get
// past one.
type Blocker struct {
	Kind   BlockerKind `json:"kind"`
	Reason string      `json:"reason"`
}

// Detected reports whether a blocker was found.
func (b Blocker) Detected() bool { return b.Kind != "" }
