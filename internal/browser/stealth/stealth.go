// Package stealth masks the most common automation signals of a chromedp
// controlled browser.
package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

//go:embed evasions.js
var evasionsTemplate string

const personaPlaceholder = "__CARTPILOT_PERSONA__"

// DefaultPersona is a desktop Chrome on Windows.
var DefaultPersona = schemas.Persona{
	UserAgent: config.DefaultUserAgent,
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Width:     1366,
	Height:    900,
	Timezone:  "America/New_York",
	Locale:    "en-US",
}

// PersonaFromConfig overlays the configured identity on DefaultPersona.
func PersonaFromConfig(cfg config.BrowserConfig) schemas.Persona {
	p := DefaultPersona
	p.Languages = append([]string(nil), DefaultPersona.Languages...)
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		p.Width, p.Height = int64(cfg.WindowWidth), int64(cfg.WindowHeight)
	}
	if cfg.Timezone != "" {
		p.Timezone = cfg.Timezone
	}
	if cfg.Locale != "" {
		p.Locale = cfg.Locale
		lang, _, _ := strings.Cut(cfg.Locale, "-")
		p.Languages = []string{cfg.Locale}
		if lang != cfg.Locale {
			p.Languages = append(p.Languages, lang)
		}
	}
	return p
}

// Script renders the evasion script for p.
func Script(p schemas.Persona) (string, error) {
	data, err := json.Marshal(struct {
		Languages []string `json:"languages"`
		Platform  string   `json:"platform"`
	}{p.Languages, p.Platform})
	if err != nil {
		return "", fmt.Errorf("failed to encode persona: %w", err)
	}
	return strings.Replace(evasionsTemplate, personaPlaceholder, string(data), 1), nil
}

// AcceptLanguage renders the persona's languages as an Accept-Language value.
func AcceptLanguage(p schemas.Persona) string {
	if len(p.Languages) == 0 {
		return "en-US,en;q=0.9"
	}
	parts := []string{p.Languages[0]}
	for i, l := range p.Languages[1:] {
		q := 0.9 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}

// Apply returns the CDP actions that give a page the persona's identity.
// They must run before the first navigation.
func Apply(p schemas.Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("user_agent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(AcceptLanguage(p)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := Script(p)
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": AcceptLanguage(p)}),
	}
}
