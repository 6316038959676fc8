package engine

import (
	"fmt"
	"log/slog"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

// LaunchOptions configures a locally launched browser worker.
type LaunchOptions struct {
	Headless  bool
	NoSandbox bool

	// Bin overrides the Chromium binary; empty lets rod find or download one.
	Bin string

	// Proxy is passed to Chromium as --proxy-server.
	Proxy string
}

// LaunchBrowser starts a local headless Chromium and returns its DevTools
// control URL along with a function that kills the process.
func LaunchBrowser(opts LaunchOptions) (string, func(), error) {
	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(opts.NoSandbox)

	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return "", nil, fmt.Errorf("launch browser: %w", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	return controlURL, func() {
		l.Kill()
		l.Cleanup()
		slog.Info("browser worker stopped")
	}, nil
}
