package crawl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/expert-scraper/internal/dom"
)

// Strategy drives a listing page through the pages of a directory.
type Strategy interface {
	// Fetch brings the listing page to page index. first is true for the
	// first page of a run.
	Fetch(ctx context.Context, page dom.Page, index int, first bool) error
	ExtractLinks(ctx context.Context, page dom.Page) (LinkSet, error)
	// Advance moves to page next. It reports false when no further page exists.
	Advance(ctx context.Context, page dom.Page, next int) (bool, error)
}

// LinkSelector turns the elements matching Selector into absolute URLs.
// Order and duplicates are preserved; elements without the attribute are skipped.
type LinkSelector struct {
	Selector string
	Attr     string
}

func (l LinkSelector) Extract(page dom.Page) (LinkSet, error) {
	els, err := page.FindElements(l.Selector)
	if err != nil {
		return nil, fmt.Errorf("failed to find links %q: %w", l.Selector, err)
	}

	attr := l.Attr
	if attr == "" {
		attr = "href"
	}

	links := make(LinkSet, 0, len(els))
	for _, el := range els {
		value, ok, err := el.Attr(attr)
		if err != nil || !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		abs, err := dom.Resolve(page.CurrentURL(), value)
		if err != nil {
			continue
		}
		links = append(links, abs)
	}
	return links, nil
}

// URLParam addresses every listing page by URL. Template may contain {page}
// and {offset}, where offset is index*PageSize+OffsetBase.
type URLParam struct {
	Template   string
	PageSize   int
	OffsetBase int
	Links      LinkSelector
	Settle     time.Duration
}

func (s *URLParam) URL(index int) string {
	offset := index*s.PageSize + s.OffsetBase
	r := strings.NewReplacer(
		"{page}", strconv.Itoa(index),
		"{offset}", strconv.Itoa(offset),
	)
	return r.Replace(s.Template)
}

func (s *URLParam) Fetch(ctx context.Context, page dom.Page, index int, _ bool) error {
	if err := page.Load(ctx, s.URL(index)); err != nil {
		return err
	}
	return page.Settle(ctx, s.Settle)
}

func (s *URLParam) ExtractLinks(_ context.Context, page dom.Page) (LinkSet, error) {
	return s.Links.Extract(page)
}

func (s *URLParam) Advance(context.Context, dom.Page, int) (bool, error) {
	return true, nil
}

// ClickNext loads StartURL once and pages forward by clicking the Next control.
type ClickNext struct {
	StartURL  string
	FirstPage int
	Next      string
	Links     LinkSelector
	Settle    time.Duration
}

func (s *ClickNext) Fetch(ctx context.Context, page dom.Page, index int, first bool) error {
	if !first {
		return nil
	}
	return loadAndSkip(ctx, page, s.StartURL, index-s.FirstPage, s.Settle, s.Advance)
}

func (s *ClickNext) ExtractLinks(_ context.Context, page dom.Page) (LinkSet, error) {
	return s.Links.Extract(page)
}

func (s *ClickNext) Advance(ctx context.Context, page dom.Page, _ int) (bool, error) {
	return clickControl(ctx, page, s.Next, s.Settle)
}

// LoadMore pages by clicking a "show more" control that appends results to
// the same document. Only links appended since the previous call are returned.
type LoadMore struct {
	StartURL  string
	FirstPage int
	Button    string
	Links     LinkSelector
	Settle    time.Duration

	seen int
}

func (s *LoadMore) Fetch(ctx context.Context, page dom.Page, index int, first bool) error {
	if !first {
		return nil
	}
	s.seen = 0
	if err := loadAndSkip(ctx, page, s.StartURL, index-s.FirstPage, s.Settle, s.Advance); err != nil {
		return err
	}

	// results revealed while skipping ahead were already covered by an earlier run
	if index > s.FirstPage {
		all, err := s.Links.Extract(page)
		if err != nil {
			return err
		}
		s.seen = len(all)
	}
	return nil
}

func (s *LoadMore) ExtractLinks(_ context.Context, page dom.Page) (LinkSet, error) {
	all, err := s.Links.Extract(page)
	if err != nil {
		return nil, err
	}
	if len(all) < s.seen {
		s.seen = 0
	}

	fresh := all[s.seen:]
	s.seen = len(all)
	return fresh, nil
}

func (s *LoadMore) Advance(ctx context.Context, page dom.Page, _ int) (bool, error) {
	return clickControl(ctx, page, s.Button, s.Settle)
}

// PageSelect reloads StartURL for every page and picks the page number in a
// select widget.
type PageSelect struct {
	StartURL string
	Select   string
	Links    LinkSelector
	Settle   time.Duration
}

func (s *PageSelect) Fetch(ctx context.Context, page dom.Page, index int, _ bool) error {
	if err := page.Load(ctx, s.StartURL); err != nil {
		return err
	}
	if err := page.Settle(ctx, s.Settle); err != nil {
		return err
	}
	if err := page.SelectOption(ctx, s.Select, strconv.Itoa(index)); err != nil {
		return fmt.Errorf("failed to select page %d: %w", index, err)
	}
	return page.Settle(ctx, s.Settle)
}

func (s *PageSelect) ExtractLinks(_ context.Context, page dom.Page) (LinkSet, error) {
	return s.Links.Extract(page)
}

func (s *PageSelect) Advance(context.Context, dom.Page, int) (bool, error) {
	return true, nil
}

// SinglePage is a directory that lists everything on one page.
type SinglePage struct {
	URL    string
	Links  LinkSelector
	Settle time.Duration
}

func (s *SinglePage) Fetch(ctx context.Context, page dom.Page, _ int, _ bool) error {
	if err := page.Load(ctx, s.URL); err != nil {
		return err
	}
	return page.Settle(ctx, s.Settle)
}

func (s *SinglePage) ExtractLinks(_ context.Context, page dom.Page) (LinkSet, error) {
	return s.Links.Extract(page)
}

func (s *SinglePage) Advance(context.Context, dom.Page, int) (bool, error) {
	return false, nil
}

// IsDisabled reports whether a pagination control is rendered as disabled.
func IsDisabled(el dom.Element) bool {
	if _, ok, err := el.Attr("disabled"); err == nil && ok {
		return true
	}
	if v, ok, err := el.Attr("aria-disabled"); err == nil && ok && strings.EqualFold(strings.TrimSpace(v), "true") {
		return true
	}
	if v, ok, err := el.Attr("class"); err == nil && ok && strings.Contains(v, "disabled") {
		return true
	}
	return false
}

func clickControl(ctx context.Context, page dom.Page, selector string, settle time.Duration) (bool, error) {
	el, ok, err := page.FindElement(selector)
	if err != nil {
		return false, fmt.Errorf("failed to find control %q: %w", selector, err)
	}
	if !ok || IsDisabled(el) {
		return false, nil
	}

	if err := page.Click(ctx, selector); err != nil {
		return false, fmt.Errorf("failed to click %q: %w", selector, err)
	}
	if err := page.Settle(ctx, settle); err != nil {
		return false, err
	}
	return true, nil
}

func loadAndSkip(ctx context.Context, page dom.Page, startURL string, skip int, settle time.Duration,
	advance func(context.Context, dom.Page, int) (bool, error)) error {
	if err := page.Load(ctx, startURL); err != nil {
		return err
	}
	if err := page.Settle(ctx, settle); err != nil {
		return err
	}

	for i := 0; i < skip; i++ {
		ok, err := advance(ctx, page, i+1)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("start page is beyond the last page (%d pages available)", i+1)
		}
	}
	return nil
}
