package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/expert-scraper/internal/dom"
)

// Page drives one playwright tab. Selectors are CSS, or XPath when prefixed
// with "xpath=" or starting with "//".
type Page struct {
	page    playwright.Page
	timeout time.Duration
	retries int
	logger  *slog.Logger
}

var _ dom.Page = (*Page)(nil)

func (p *Page) Load(ctx context.Context, url string) error {
	retries := p.retries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			p.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := dom.Sleep(ctx, time.Duration(i+1)*time.Second); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := p.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(p.timeout.Milliseconds())),
		})
		if err == nil {
			return nil
		}

		lastErr = err
		p.logger.Warn("navigation failed", "error", err, "attempt", i+1, "url", url)
	}

	return fmt.Errorf("failed to load %s after %d attempts: %w", url, retries, lastErr)
}

func (p *Page) CurrentURL() string {
	return p.page.URL()
}

func (p *Page) FindElement(selector string) (dom.Element, bool, error) {
	loc := p.page.Locator(selector)
	n, err := loc.Count()
	if err != nil {
		return nil, false, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	if n == 0 {
		return nil, false, nil
	}
	return element{loc: loc.First()}, true, nil
}

func (p *Page) FindElements(selector string) ([]dom.Element, error) {
	return locateAll(p.page.Locator(selector), selector)
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	loc := p.page.Locator(selector).First()
	if err := loc.ScrollIntoViewIfNeeded(); err != nil {
		p.logger.Debug("failed to scroll into view", "selector", selector, "error", err)
	}
	if err := loc.Click(); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

// SelectOption also works on select widgets the page keeps hidden.
func (p *Page) SelectOption(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := p.page.Locator(selector).First().SelectOption(
		playwright.SelectOptionValues{Values: &[]string{value}},
		playwright.LocatorSelectOptionOptions{Force: playwright.Bool(true)},
	)
	if err != nil {
		return fmt.Errorf("failed to select %q in %q: %w", value, selector, err)
	}
	return nil
}

func (p *Page) Settle(ctx context.Context, d time.Duration) error {
	return dom.Sleep(ctx, d)
}

func (p *Page) Close() error {
	return p.page.Close()
}

type element struct {
	loc playwright.Locator
}

func locateAll(loc playwright.Locator, selector string) ([]dom.Element, error) {
	all, err := loc.All()
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}

	els := make([]dom.Element, 0, len(all))
	for _, l := range all {
		els = append(els, element{loc: l})
	}
	return els, nil
}

// Text returns the rendered text, like a user would read it.
func (e element) Text() (string, error) {
	return e.loc.InnerText()
}

func (e element) Attr(name string) (string, bool, error) {
	v, err := e.loc.Evaluate(`(el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null`, name)
	if err != nil {
		return "", false, err
	}
	s, ok := v.(string)
	return s, ok, nil
}

func (e element) InnerHTML() (string, error) {
	return e.loc.InnerHTML()
}

func (e element) Visible() bool {
	visible, err := e.loc.IsVisible()
	return err == nil && visible
}

func (e element) FindElements(selector string) ([]dom.Element, error) {
	return locateAll(e.loc.Locator(selector), selector)
}
