package dom

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// StaticPage evaluates CSS selectors against documents fetched from a Source.
// Script-driven interactions are not available; Click follows anchors.
type StaticPage struct {
	source Source
	doc    *goquery.Document
	url    string
}

func NewStaticPage(source Source) *StaticPage {
	return &StaticPage{source: source}
}

// NewStaticPageFromHTML wraps an already fetched document.
func NewStaticPageFromHTML(pageURL, html string) (*StaticPage, error) {
	p := &StaticPage{}
	if err := p.setDocument(pageURL, html); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *StaticPage) Load(ctx context.Context, rawURL string) error {
	if p.source == nil {
		return fmt.Errorf("failed to load %s: %w", rawURL, ErrUnsupported)
	}

	body, finalURL, err := p.source.Fetch(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}

	if finalURL == "" {
		finalURL = rawURL
	}

	return p.setDocument(finalURL, body)
}

func (p *StaticPage) setDocument(pageURL, html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}

	p.doc = doc
	p.url = pageURL
	return nil
}

func (p *StaticPage) CurrentURL() string {
	return p.url
}

func (p *StaticPage) FindElement(selector string) (Element, bool, error) {
	els, err := p.FindElements(selector)
	if err != nil || len(els) == 0 {
		return nil, false, err
	}
	return els[0], true, nil
}

func (p *StaticPage) FindElements(selector string) ([]Element, error) {
	if p.doc == nil {
		return nil, ErrNoDocument
	}
	return findAll(p.doc.Selection, selector)
}

func (p *StaticPage) Click(ctx context.Context, selector string) error {
	el, ok, err := p.FindElement(selector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("failed to click %q: %w", selector, ErrNotFound)
	}

	href, ok, _ := el.Attr("href")
	if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return fmt.Errorf("failed to click %q: %w", selector, ErrUnsupported)
	}

	target, err := Resolve(p.url, href)
	if err != nil {
		return err
	}

	return p.Load(ctx, target)
}

func (p *StaticPage) SelectOption(ctx context.Context, selector, value string) error {
	return fmt.Errorf("failed to select %q in %q: %w", value, selector, ErrUnsupported)
}

func (p *StaticPage) Settle(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

// Resolve makes href absolute relative to base.
func Resolve(base, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("failed to parse link %q: %w", href, err)
	}

	if ref.IsAbs() || base == "" {
		return ref.String(), nil
	}

	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse base %q: %w", base, err)
	}

	return b.ResolveReference(ref).String(), nil
}

type staticElement struct {
	sel *goquery.Selection
}

func (e staticElement) Text() (string, error) {
	return strings.TrimSpace(e.sel.Text()), nil
}

func (e staticElement) Attr(name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

func (e staticElement) InnerHTML() (string, error) {
	return e.sel.Html()
}

// Visible approximates rendering: hidden attributes and inline display:none
// on the element or any ancestor make it invisible.
func (e staticElement) Visible() bool {
	for s := e.sel; s.Length() > 0; s = s.Parent() {
		if _, hidden := s.Attr("hidden"); hidden {
			return false
		}
		if v, _ := s.Attr("aria-hidden"); v == "true" {
			return false
		}
		style, _ := s.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func (e staticElement) FindElements(selector string) ([]Element, error) {
	return findAll(e.sel, selector)
}

func findAll(root *goquery.Selection, selector string) ([]Element, error) {
	if IsXPath(selector) {
		return nil, fmt.Errorf("%q: %w", selector, ErrUnsupportedSelector)
	}

	var els []Element
	root.Find(selector).Each(func(_ int, s *goquery.Selection) {
		els = append(els, staticElement{sel: s})
	})
	return els, nil
}

// IsXPath reports whether a selector uses XPath syntax.
func IsXPath(selector string) bool {
	s := strings.TrimSpace(selector)
	return strings.HasPrefix(s, "xpath=") || strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(//")
}
