// Package browser opens authorization URLs in the user's default web browser.
// It prefers open-golang and falls back to well-known platform commands.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/aquila-desktop/aquila-auth/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// runOpen is replaced in tests.
var runOpen = open.Run

// System opens URLs with the operating system's default browser.
type System struct{}

// OpenURL implements the coordinator's browser opener.
func (System) OpenURL(_ context.Context, rawURL string) error {
	return OpenURL(rawURL)
}

// OpenURL opens the specified URL in the default web browser.
// Only absolute http and https URLs are accepted.
func OpenURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("browser: refusing to open non-http url")
	}
	log.Debugf("opening browser for %s://%s%s?%s", parsed.Scheme, parsed.Host, parsed.Path, util.MaskSensitiveQuery(parsed.RawQuery))

	errOpen := runOpen(rawURL)
	if errOpen == nil {
		return nil
	}
	log.Debugf("open-golang failed: %v, trying platform-specific commands", errOpen)
	return openURLPlatformSpecific(rawURL)
}

func openURLPlatformSpecific(rawURL string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", rawURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", rawURL)
	case "linux":
		if name := firstAvailable(linuxBrowsers); name != "" {
			cmd = exec.Command(name, rawURL)
		}
		if cmd == nil {
			return fmt.Errorf("no suitable browser found on Linux system")
		}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	// Reap the launcher so it does not linger as a zombie.
	go func() { _ = cmd.Wait() }()
	return nil
}

func firstAvailable(names []string) string {
	for _, name := range names {
		if _, err := exec.LookPath(name); err == nil {
			return name
		}
	}
	return ""
}

// IsAvailable reports whether a command to open a web browser is present.
// Unlike OpenURL it never launches anything.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin":
		return firstAvailable([]string{"open"}) != ""
	case "windows":
		return firstAvailable([]string{"rundll32"}) != ""
	case "linux":
		return firstAvailable(linuxBrowsers) != ""
	default:
		return false
	}
}
