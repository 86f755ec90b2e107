// internal/browser/allocator.go
package browser

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// launchFlag is one Chrome command line switch. A false bool value removes
// the switch, which is how chromedp defaults get switched off.
type launchFlag struct {
	Name  string
	Value interface{}
}

// launchFlags lists the switches layered on top of chromedp's defaults for
// one isolated browser process. Later entries override earlier ones.
func launchFlags(cfg config.BrowserConfig, opts schemas.SessionOptions, persona schemas.Persona, userDataDir string) []launchFlag {
	flags := []launchFlag{
		{"headless", opts.Headless},
		// Exposes the automation infobar and navigator.webdriver.
		{"enable-automation", false},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
		{"disable-gpu", opts.Headless},
		{"user-agent", persona.UserAgent},
		{"window-size", fmt.Sprintf("%d,%d", persona.Width, persona.Height)},
		{"user-data-dir", userDataDir},
		{"lang", strings.Join(persona.Languages, ",")},
	}

	// Extra switches from config, written as "--name=value" or "--name".
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags = append(flags, launchFlag{name, value})
		} else {
			flags = append(flags, launchFlag{name, true})
		}
	}

	// Containers rarely provide a usable sandbox or a large /dev/shm.
	if runtime.GOOS == "linux" {
		flags = append(flags,
			launchFlag{"no-sandbox", true},
			launchFlag{"disable-dev-shm-usage", true},
		)
	}
	return flags
}

// buildAllocatorOptions converts the launch flags into chromedp options.
func buildAllocatorOptions(cfg config.BrowserConfig, opts schemas.SessionOptions, persona schemas.Persona, userDataDir string) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range launchFlags(cfg, opts, persona, userDataDir) {
		out = append(out, chromedp.Flag(f.Name, f.Value))
	}
	if cfg.ExecPath != "" {
		out = append(out, chromedp.ExecPath(cfg.ExecPath))
	}
	return out
}
