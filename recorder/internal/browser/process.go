// Package browser drives Chromium over CDP with go-rod for the recorder:
// it launches or connects to the browser, attaches the capture script to
// every tab, and bridges network, console, navigation and download events
// to a capture.Handler.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Browser types.
const (
	TypeChromium = "chromium"
	TypeChrome   = "chrome"
)

// Config configures the browser a Driver runs.
type Config struct {
	// Type is chromium (rod-managed download) or chrome (system install).
	Type string

	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local browser via launcher.
	RemoteURL string

	// Headless hides the browser window. Recording a user normally needs it
	// visible.
	Headless bool

	// Bin overrides the browser executable.
	Bin string

	// XvfbDisplay is used for headful mode on a Linux host without
	// DISPLAY. Default: ":99".
	XvfbDisplay string

	// Stealth opens tabs through go-rod/stealth.
	Stealth bool

	// FullPageScreenshots captures the whole document instead of the
	// viewport.
	FullPageScreenshots bool

	// SettleDelay is how long the page waits after two animation frames
	// before taking the after snapshot. Default: 100ms.
	SettleDelay time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Type == "" {
		c.Type = TypeChromium
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ValidateType rejects browser types that cannot be driven over CDP.
func ValidateType(t string) error {
	switch t {
	case "", TypeChromium, TypeChrome:
		return nil
	}
	return fmt.Errorf("browser: unsupported browser type %q (chromium or chrome)", t)
}

// process owns the browser and, for headful Linux hosts without a
// display, the Xvfb server it runs on.
type process struct {
	cfg Config

	mu      sync.RWMutex
	b       *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	started time.Time
	closed  bool
}

func newProcess(cfg Config) *process {
	cfg.defaults()
	return &process{cfg: cfg}
}

var errProcessClosed = errors.New("browser: closed")

// start returns the connected browser, launching it on first use.
func (p *process) start(ctx context.Context) (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, errProcessClosed
	case p.b != nil:
		return p.b, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("browser: start: %w", err)
	}
	if err := ValidateType(p.cfg.Type); err != nil {
		return nil, err
	}

	b, err := p.connect()
	if err != nil {
		p.teardown()
		return nil, err
	}
	p.b, p.started = b, time.Now()
	return b, nil
}

func (p *process) current() *rod.Browser {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.b
}

func (p *process) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if !p.started.IsZero() {
		p.cfg.Logger.Info("browser: closing", "uptime", time.Since(p.started).Round(time.Second))
	}
	p.teardown()
	return nil
}

// needXvfb reports whether a headful local browser needs a virtual display.
func needXvfb(cfg Config, goos, display string) bool {
	return !cfg.Headless && cfg.RemoteURL == "" && goos == "linux" && display == ""
}

// connect resolves the CDP endpoint and dials it.
func (p *process) connect() (*rod.Browser, error) {
	wsURL := p.cfg.RemoteURL
	if wsURL != "" {
		p.cfg.Logger.Info("browser: connecting to remote", "url", wsURL)
	} else {
		u, err := p.launchLocal()
		if err != nil {
			return nil, err
		}
		wsURL = u
	}
	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect %s: %w", wsURL, err)
	}
	return b, nil
}

func (p *process) launchLocal() (string, error) {
	l := launcher.New().
		Headless(p.cfg.Headless).
		Set("disable-blink-features", "AutomationControlled")

	bin := p.cfg.Bin
	if bin == "" && p.cfg.Type == TypeChrome {
		found, ok := launcher.LookPath()
		if !ok {
			return "", errors.New("browser: chrome requested but no system install found")
		}
		bin = found
	}
	if bin != "" {
		l = l.Bin(bin)
	}

	if needXvfb(p.cfg, runtime.GOOS, os.Getenv("DISPLAY")) {
		if err := p.startXvfb(); err != nil {
			return "", fmt.Errorf("browser: xvfb: %w", err)
		}
		l = l.Env(append(os.Environ(), "DISPLAY="+p.cfg.XvfbDisplay)...)
	}

	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("browser: launch %s: %w", p.cfg.Type, err)
	}
	p.lnch = l
	p.cfg.Logger.Info("browser: launched", "type", p.cfg.Type, "headless", p.cfg.Headless, "url", u)
	return u, nil
}

func (p *process) teardown() {
	if p.b != nil {
		if err := p.b.Close(); err != nil {
			p.cfg.Logger.Debug("browser: close", "error", err)
		}
		p.b = nil
	}
	if p.lnch != nil {
		p.lnch.Cleanup()
		p.lnch = nil
	}
	p.stopXvfb()
}
