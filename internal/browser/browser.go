package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout    = 30 * time.Second
	defaultActionTimeout = 10 * time.Second
	headlessEnv          = "OPERATOR_HEADLESS"
)

// Page exposes the minimal driver surface the sandbox binds and the
// observer reads. Every method blocks until the underlying browser
// action settles or fails.
type Page interface {
	Goto(url string) error
	Click(selector string) error
	Fill(selector, text string) error
	Text(selector string) (string, error)
	WaitFor(selector string, timeoutMs int) error
	Press(selector, key string) error
	Hover(selector string) error
	SelectOption(selector, value string) error
	URL() string
	Title() (string, error)
	Sleep(ms int)
	Raw() playwright.Page
}

// AcquireError signals that a browsing context or page could not be
// created. It is the only browser failure allowed out of a session.
type AcquireError struct {
	Reason string
	Err    error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquire browser handle: %s: %v", e.Reason, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// Handle is one session's isolated browsing context plus its page.
// Release must be called on every exit path, including aborts.
type Handle struct {
	page    playwright.Page
	context playwright.BrowserContext
}

func (h *Handle) Page() Page { return &driver{page: h.page} }

func (h *Handle) Release() {
	if h.page != nil {
		_ = h.page.Close()
	}
	if h.context != nil {
		_ = h.context.Close()
	}
}

// Launcher owns the playwright lifecycle. One launcher serves many
// concurrent sessions; each session gets its own context via NewSession.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
}

func NewLauncher(ctx context.Context) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	headless := parseBoolEnv(headlessEnv, true)
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser, headless: headless}, nil
}

// NewSession creates a fresh incognito context and page for one session.
func (l *Launcher) NewSession(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AcquireError{Reason: "context done", Err: err}
	}
	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, &AcquireError{Reason: "new context", Err: err}
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, &AcquireError{Reason: "new page", Err: err}
	}
	page.SetDefaultTimeout(float64(defaultNavTimeout.Milliseconds()))
	return &Handle{page: page, context: bctx}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

type driver struct {
	page playwright.Page
}

func (d *driver) Raw() playwright.Page { return d.page }

func (d *driver) Goto(url string) error {
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (d *driver) Click(selector string) error {
	first := d.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(defaultActionTimeout.Milliseconds())),
	}); err != nil {
		return wrap(err)
	}
	// best effort, the click may still land without it
	_ = first.ScrollIntoViewIfNeeded()
	return wrap(first.Click())
}

func (d *driver) Fill(selector, text string) error {
	loc := d.page.Locator(selector).First()
	if err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(defaultActionTimeout.Milliseconds())),
	}); err != nil {
		return wrap(err)
	}
	return wrap(loc.Fill(text))
}

func (d *driver) Text(selector string) (string, error) {
	if strings.TrimSpace(selector) == "" {
		val, err := d.page.InnerText("body")
		return val, wrap(err)
	}
	loc := d.page.Locator(selector).First()
	if err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(5000),
	}); err != nil {
		return "", wrap(err)
	}
	val, err := loc.InnerText()
	return val, wrap(err)
}

func (d *driver) WaitFor(selector string, timeoutMs int) error {
	if timeoutMs <= 0 {
		timeoutMs = int(defaultActionTimeout.Milliseconds())
	}
	return wrap(d.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeoutMs)),
	}))
}

func (d *driver) Press(selector, key string) error {
	return wrap(d.page.Locator(selector).First().Press(key))
}

func (d *driver) Hover(selector string) error {
	first := d.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(defaultActionTimeout.Milliseconds())),
	}); err != nil {
		return wrap(err)
	}
	return wrap(first.Hover())
}

func (d *driver) SelectOption(selector, value string) error {
	_, err := d.page.Locator(selector).First().SelectOption(playwright.SelectOptionValues{
		Values: playwright.StringSlice(value),
	})
	return wrap(err)
}

func (d *driver) URL() string { return d.page.URL() }

func (d *driver) Title() (string, error) {
	title, err := d.page.Title()
	return title, wrap(err)
}

func (d *driver) Sleep(ms int) {
	if ms <= 0 {
		return
	}
	if ms > 10000 {
		ms = 10000
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

func parseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
