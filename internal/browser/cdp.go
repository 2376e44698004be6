package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/maltedev/expert-scraper/internal/dom"
)

// CDPBrowser drives Chrome through chromedp, either a local headless
// instance or one reachable at Options.SessionEndpoint.
type CDPBrowser struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	timeout       time.Duration
}

func NewCDP(opts *Options) (*CDPBrowser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.SessionEndpoint != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.SessionEndpoint)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.DisableGPU,
			chromedp.NoSandbox,
			chromedp.UserAgent(opts.UserAgent),
			chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
			chromedp.Flag("headless", opts.Headless),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), execOpts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chromedp session: %w", err)
	}

	return &CDPBrowser{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		timeout:       opts.Timeout,
	}, nil
}

// NewPage opens a new tab.
func (b *CDPBrowser) NewPage() (*CDPPage, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return &CDPPage{tab: tabCtx, cancel: cancel, timeout: b.timeout}, nil
}

func (b *CDPBrowser) Close() error {
	b.browserCancel()
	b.allocCancel()
	return nil
}

// CDPPage reads a snapshot of the live document after every navigation or
// interaction and answers queries from it with goquery, so selectors are CSS
// only.
type CDPPage struct {
	tab     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	doc     *dom.StaticPage
}

var _ dom.Page = (*CDPPage)(nil)

func (p *CDPPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.tab, p.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (p *CDPPage) snapshot(ctx context.Context) error {
	var location, html string
	if err := p.run(ctx, chromedp.Location(&location), chromedp.OuterHTML("html", &html)); err != nil {
		return fmt.Errorf("failed to capture document: %w", err)
	}

	doc, err := dom.NewStaticPageFromHTML(location, html)
	if err != nil {
		return err
	}
	p.doc = doc
	return nil
}

func (p *CDPPage) Load(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body")); err != nil {
		return fmt.Errorf("failed to load %s: %w", url, err)
	}
	return p.snapshot(ctx)
}

func (p *CDPPage) CurrentURL() string {
	if p.doc == nil {
		return ""
	}
	return p.doc.CurrentURL()
}

func (p *CDPPage) FindElement(selector string) (dom.Element, bool, error) {
	if p.doc == nil {
		return nil, false, dom.ErrNoDocument
	}
	return p.doc.FindElement(selector)
}

func (p *CDPPage) FindElements(selector string) ([]dom.Element, error) {
	if p.doc == nil {
		return nil, dom.ErrNoDocument
	}
	return p.doc.FindElements(selector)
}

func (p *CDPPage) Click(ctx context.Context, selector string) error {
	if dom.IsXPath(selector) {
		return fmt.Errorf("%q: %w", selector, dom.ErrUnsupportedSelector)
	}
	if err := p.run(ctx, chromedp.ScrollIntoView(selector, chromedp.ByQuery), chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return p.snapshot(ctx)
}

const selectScript = `(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.value = %s;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})()`

func (p *CDPPage) SelectOption(ctx context.Context, selector, value string) error {
	sel, err := json.Marshal(selector)
	if err != nil {
		return err
	}
	val, err := json.Marshal(value)
	if err != nil {
		return err
	}

	var found bool
	if err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(selectScript, sel, val), &found)); err != nil {
		return fmt.Errorf("failed to select %q in %q: %w", value, selector, err)
	}
	if !found {
		return fmt.Errorf("failed to select %q in %q: %w", value, selector, dom.ErrNotFound)
	}
	return p.snapshot(ctx)
}

// Settle waits, then re-reads the document so client rendered content is seen.
func (p *CDPPage) Settle(ctx context.Context, d time.Duration) error {
	if err := dom.Sleep(ctx, d); err != nil {
		return err
	}
	if p.doc == nil {
		return nil
	}
	if err := p.snapshot(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (p *CDPPage) Close() error {
	p.cancel()
	return nil
}
