// Package extract turns a loaded profile page into a models.Profile using a
// declarative selector table.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/dom"
	"github.com/maltedev/expert-scraper/internal/models"
)

var (
	ErrNoIdentityRule = errors.New("selector table has no full name rule")

	breakPattern = regexp.MustCompile(`(?i)<br\s*/?>`)
)

// Extractor reads the identity field (full name) and every optional field it
// has a rule for. A missing optional field is never an error.
type Extractor struct {
	institution string
	rules       []FieldRule
	// settle is waited after a rule's Click.
	settle time.Duration
	logger *slog.Logger
}

func New(institution string, rules []FieldRule, settle time.Duration, logger *slog.Logger) (*Extractor, error) {
	e := &Extractor{
		institution: institution,
		rules:       rules,
		settle:      settle,
		logger:      logger.With("component", "extractor", "institution", institution),
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Extractor) Validate() error {
	hasIdentity := false
	for _, r := range e.rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if r.targets(models.FieldFullName) {
			hasIdentity = true
		}
	}
	if !hasIdentity {
		return ErrNoIdentityRule
	}
	return nil
}

func (e *Extractor) Process(ctx context.Context, page dom.Page) (*models.Profile, error) {
	profile := models.NewProfile(page.CurrentURL(), e.institution)

	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if rule.Click != "" {
			if err := e.click(ctx, page, rule.Click); err != nil {
				e.logger.Debug("interaction failed", "field", rule.Field, "selector", rule.Click, "error", err)
				continue
			}
		}

		if len(rule.Split) > 0 {
			if err := e.applySplit(page, rule, profile); err != nil {
				if rule.targets(models.FieldFullName) {
					return nil, err
				}
				e.logger.Debug("optional field unreadable", "fields", rule.Split, "error", err)
			}
			continue
		}

		value, found, err := read(page, rule)
		if err != nil {
			if rule.targets(models.FieldFullName) {
				return nil, fmt.Errorf("failed to read %s: %w", rule.Field, err)
			}
			e.logger.Debug("optional field unreadable", "field", rule.Field, "error", err)
			continue
		}
		if !found {
			continue
		}
		apply(profile, rule, clean(rule, value))
	}

	if strings.TrimSpace(profile.FullName) == "" {
		return nil, fmt.Errorf("%s: %w", page.CurrentURL(), crawl.ErrMissingIdentity)
	}
	return profile, nil
}

func (e *Extractor) click(ctx context.Context, page dom.Page, selector string) error {
	if _, ok, err := page.FindElement(selector); err != nil || !ok {
		if err == nil {
			err = dom.ErrNotFound
		}
		return err
	}
	if err := page.Click(ctx, selector); err != nil {
		return err
	}
	return page.Settle(ctx, e.settle)
}

func (e *Extractor) applySplit(page dom.Page, rule FieldRule, profile *models.Profile) error {
	el, ok, err := first(page, rule.Selectors)
	if err != nil {
		return fmt.Errorf("failed to read %v: %w", rule.Split, err)
	}
	if !ok {
		return nil
	}

	html, err := el.InnerHTML()
	if err != nil {
		e.logger.Debug("failed to read inner html", "error", err)
		return nil
	}

	parts := SplitLines(html)
	switch {
	case len(parts) == 0:
	case len(parts) == 1 && rule.SplitSingle != "":
		profile.Set(rule.SplitSingle, clean(rule, parts[0]))
	default:
		for i, field := range rule.Split {
			if i >= len(parts) {
				break
			}
			profile.Set(field, clean(rule, parts[i]))
		}
	}
	return nil
}

// SplitLines breaks an HTML fragment on <br> and returns the non-empty text
// of each part.
func SplitLines(html string) []string {
	var parts []string
	for _, chunk := range breakPattern.Split(html, -1) {
		text := fragmentText(chunk)
		text = strings.Trim(strings.TrimSpace(text), `"`)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return parts
}

func fragmentText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return doc.Text()
}

func first(page dom.Page, selectors []string) (dom.Element, bool, error) {
	for _, sel := range selectors {
		el, ok, err := page.FindElement(sel)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return el, true, nil
		}
	}
	return nil, false, nil
}

func read(page dom.Page, rule FieldRule) (string, bool, error) {
	var matches []dom.Element
	for _, sel := range rule.Selectors {
		els, err := page.FindElements(sel)
		if err != nil {
			return "", false, err
		}
		els = filter(els, rule)
		if len(els) > 0 {
			matches = els
			break
		}
	}
	if len(matches) == 0 {
		return "", false, nil
	}

	if rule.Label != "" {
		return labelled(matches, rule.Label)
	}

	if !rule.All {
		matches = matches[:1]
	}

	var values []string
	for _, el := range matches {
		if rule.Children != "" {
			children, err := el.FindElements(rule.Children)
			if err != nil {
				return "", false, err
			}
			for _, c := range children {
				if v := value(c, rule.Attr); v != "" {
					values = append(values, v)
				}
			}
			continue
		}
		if v := value(el, rule.Attr); v != "" {
			values = append(values, v)
		}
	}

	if len(values) == 0 {
		return "", false, nil
	}
	return strings.Join(values, rule.separator()), true, nil
}

func filter(els []dom.Element, rule FieldRule) []dom.Element {
	if rule.Exclude == "" && rule.Contains == "" {
		return els
	}

	kept := els[:0:0]
	for _, el := range els {
		if rule.Exclude != "" {
			inner, err := el.FindElements(rule.Exclude)
			if err != nil || len(inner) > 0 {
				continue
			}
		}
		if rule.Contains != "" {
			text, err := el.Text()
			if err != nil || !strings.Contains(text, rule.Contains) {
				continue
			}
		}
		kept = append(kept, el)
	}
	return kept
}

func labelled(pairs []dom.Element, label string) (string, bool, error) {
	label = strings.ToLower(label)
	for i := 0; i+1 < len(pairs); i++ {
		text, err := pairs[i].Text()
		if err != nil {
			return "", false, err
		}
		if !strings.Contains(strings.ToLower(text), label) {
			continue
		}
		v, err := pairs[i+1].Text()
		if err != nil {
			return "", false, err
		}
		v = strings.TrimSpace(v)
		return v, v != "", nil
	}
	return "", false, nil
}

func value(el dom.Element, attr string) string {
	if attr != "" {
		v, ok, err := el.Attr(attr)
		if err != nil || !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func clean(rule FieldRule, v string) string {
	v = strings.TrimSpace(v)
	for _, prefix := range rule.TrimPrefix {
		if rest, ok := strings.CutPrefix(v, prefix); ok {
			v = strings.TrimSpace(rest)
		}
	}
	if rule.CountryCode != "" && v != "" && !strings.HasPrefix(v, "+") {
		v = rule.CountryCode + " " + v
	}
	return v
}

func apply(p *models.Profile, rule FieldRule, v string) {
	if v == "" {
		return
	}

	if rule.Honorific != HonorificNone {
		title, name, ok := SplitHonorific(v)
		switch {
		case ok:
			p.Title = title
			v = name
		case rule.Honorific == HonorificRequired:
			return
		}
	}

	if rule.Append && rule.Field != models.FieldPosition {
		if existing := p.Get(rule.Field); existing != "" {
			v = existing + rule.separator() + v
		}
	}
	p.Set(rule.Field, v)
}
