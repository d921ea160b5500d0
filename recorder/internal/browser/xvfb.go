package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	xvfbScreen  = "1920x1080x24"
	xvfbTimeout = 5 * time.Second
)

// startXvfb runs a virtual display for headful recording on hosts without
// one and waits until it accepts connections.
func (p *process) startXvfb() error {
	if p.xvfb != nil {
		return nil
	}
	display := p.cfg.XvfbDisplay
	cmd := exec.Command("Xvfb", display, "-screen", "0", xvfbScreen, "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start Xvfb on %s: %w", display, err)
	}
	if err := waitForSocket(displaySocket(display), xvfbTimeout); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return fmt.Errorf("Xvfb on %s: %w", display, err)
	}
	p.xvfb = cmd
	p.cfg.Logger.Info("browser: xvfb ready", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (p *process) stopXvfb() {
	if p.xvfb == nil {
		return
	}
	p.xvfb.Process.Kill()
	p.xvfb.Wait()
	p.cfg.Logger.Info("browser: xvfb stopped", "display", p.cfg.XvfbDisplay)
	p.xvfb = nil
}

// displaySocket maps an X display (":99" or ":99.0") to its unix socket.
func displaySocket(display string) string {
	n := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	return filepath.Join("/tmp/.X11-unix", "X"+n)
}

func waitForSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s not ready after %s", path, timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
