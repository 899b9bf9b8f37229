// Package browser drives a headless Chrome to click through unsubscribe confirmation pages.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/listsweep/internal/unsubscribe"
)

// ErrNoControl is returned when the page has nothing that matches the keyword pattern.
var ErrNoControl = errors.New("no confirmation control found")

const targetAttr = "data-listsweep-target"

// candidates are tried in order when no explicit path is configured.
var candidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
}

type Config struct {
	// ExecPath overrides the browser binary lookup.
	ExecPath string
	Headless bool
	// Timeout bounds each step: loading, clicking and reading the result.
	Timeout time.Duration
	// Settle is how long to wait after the click before reading the page.
	Settle time.Duration
}

func DefaultConfig() Config {
	return Config{
		Headless: true,
		Timeout:  15 * time.Second,
		Settle:   2 * time.Second,
	}
}

// Chrome implements unsubscribe.Automator with chromedp.
type Chrome struct {
	cfg    Config
	path   string
	logger logrus.FieldLogger
}

var _ unsubscribe.Automator = (*Chrome)(nil)

func NewChrome(cfg Config, logger logrus.FieldLogger) *Chrome {
	c := &Chrome{cfg: cfg, logger: logger}
	c.path = lookup(cfg.ExecPath)
	if c.path == "" {
		logger.Info("No Chrome binary found, automatic confirmation is disabled")
	}
	return c
}

func lookup(explicit string) string {
	if explicit != "" {
		path, err := exec.LookPath(explicit)
		if err != nil {
			return ""
		}
		return path
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// Available reports whether a browser binary was found.
func (c *Chrome) Available() bool {
	return c.path != ""
}

// ClickThrough starts a fresh browser, opens link, clicks the first control whose label
// matches keywordPattern (a form submit button if none does) and returns the body text.
func (c *Chrome) ClickThrough(ctx context.Context, link, keywordPattern string) (string, error) {
	if !c.Available() {
		return "", errors.New("browser not available")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(c.path),
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.UserAgent(unsubscribe.UserAgent),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	// Start the browser on the long-lived context. Cancelling a per-step context would kill it.
	if err := chromedp.Run(browserCtx); err != nil {
		return "", fmt.Errorf("start browser: %w", err)
	}

	if err := c.step(browserCtx, "load page",
		chromedp.Navigate(link),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return "", err
	}

	script, err := markScript(keywordPattern)
	if err != nil {
		return "", err
	}

	var found bool
	if err := c.step(browserCtx, "find control", chromedp.Evaluate(script, &found)); err != nil {
		return "", err
	}
	if !found {
		return "", ErrNoControl
	}

	selector := "[" + targetAttr + "]"
	if err := c.step(browserCtx, "click control", chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return "", err
	}

	var text string
	if err := c.step(browserCtx, "read result",
		chromedp.Sleep(c.cfg.Settle),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Text("body", &text, chromedp.ByQuery),
	); err != nil {
		return "", err
	}

	c.logger.WithField("link", link).Debug("Clicked through confirmation page")
	return text, nil
}

func (c *Chrome) step(ctx context.Context, name string, actions ...chromedp.Action) error {
	stepCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout+c.cfg.Settle)
	defer cancel()

	if err := chromedp.Run(stepCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: timeout", name)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// markScript returns JavaScript that tags the first matching control with targetAttr
// and evaluates to whether one was found.
func markScript(keywordPattern string) (string, error) {
	pattern, err := json.Marshal(`(^|[^\p{L}])(` + keywordPattern + `)([^\p{L}]|$)`)
	if err != nil {
		return "", fmt.Errorf("failed to encode keyword pattern: %w", err)
	}

	return fmt.Sprintf(`(() => {
  const re = new RegExp(%s, "iu");
  const attr = %q;
  const controls = document.querySelectorAll("button, input[type=submit], input[type=button], [role=button], a");
  for (const el of controls) {
    const label = (el.innerText || el.value || el.getAttribute("aria-label") || "").trim();
    if (label && re.test(label)) {
      el.setAttribute(attr, "1");
      return true;
    }
  }
  const fallback = document.querySelector("form button, form input[type=submit]");
  if (fallback) {
    fallback.setAttribute(attr, "1");
    return true;
  }
  return false;
})()`, pattern, targetAttr), nil
}

// Unavailable is the automator used when browser automation is turned off.
type Unavailable struct{}

var _ unsubscribe.Automator = Unavailable{}

func (Unavailable) Available() bool { return false }

func (Unavailable) ClickThrough(context.Context, string, string) (string, error) {
	return "", errors.New("browser automation is disabled")
}
