package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
	// attached browsers belong to the user; only our own pages are closed.
	attached bool
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	Retries        int
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
	// SessionEndpoint attaches to an already running browser over CDP
	// instead of launching one, e.g. http://127.0.0.1:9222.
	SessionEndpoint string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		Retries:        3,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-AU,en;q=0.9",
		TimezoneID:     "Australia/Sydney",
		Locale:         "en-AU",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

// EndpointFromPort turns a bare remote debugging port into a CDP endpoint.
// Full URLs are returned unchanged.
func EndpointFromPort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" || strings.Contains(port, "://") {
		return port
	}
	if strings.Contains(port, ":") {
		return "http://" + port
	}
	return "http://" + net.JoinHostPort("127.0.0.1", port)
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	b := &Browser{
		pw:     pw,
		opts:   opts,
		logger: logger.With("component", "browser"),
	}

	if opts.SessionEndpoint != "" {
		err = b.attach(opts.SessionEndpoint)
	} else {
		err = b.launch()
	}
	if err != nil {
		pw.Stop()
		return nil, err
	}

	return b, nil
}

func (b *Browser) attach(endpoint string) error {
	browser, err := b.pw.Chromium.ConnectOverCDP(endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to browser at %s: %w", endpoint, err)
	}
	b.browser = browser
	b.attached = true

	if contexts := browser.Contexts(); len(contexts) > 0 {
		b.context = contexts[0]
		b.logger.Info("attached to running browser", "endpoint", endpoint)
		return nil
	}

	context, err := browser.NewContext(b.contextOptions())
	if err != nil {
		browser.Close()
		return fmt.Errorf("failed to create browser context: %w", err)
	}
	b.context = context
	return nil
}

func (b *Browser) launch() error {
	opts := b.opts
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
			"--user-agent=" + opts.UserAgent,
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := b.pw.Chromium.Launch(launchOpts)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	context, err := browser.NewContext(b.contextOptions())
	if err != nil {
		browser.Close()
		return fmt.Errorf("failed to create browser context: %w", err)
	}

	b.browser = browser
	b.context = context
	return nil
}

func (b *Browser) contextOptions() playwright.BrowserNewContextOptions {
	opts := b.opts
	headers := make(map[string]string, len(opts.ExtraHeaders)+1)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}

	return playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}
}

// NewPage opens a tab wrapped as a dom.Page.
func (b *Browser) NewPage() (*Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return &Page{
		page:    page,
		timeout: b.opts.Timeout,
		retries: b.opts.Retries,
		logger:  b.logger,
	}, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil && !b.attached {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}
