package crawl

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/maltedev/expert-scraper/internal/dom"
)

// TotalProbe reads the expected total from the first listing page. A false
// result means unknown and is never fatal.
type TotalProbe interface {
	DiscoverTotal(ctx context.Context, page dom.Page) (Total, bool)
}

var numberPattern = regexp.MustCompile(`\d[\d,]*`)

// NumberInText takes the largest integer in the text of the matching element,
// e.g. 512 from "Showing 1 to 20 of 512".
type NumberInText struct {
	Selector string
	Unit     TotalUnit
}

func (p NumberInText) DiscoverTotal(_ context.Context, page dom.Page) (Total, bool) {
	el, ok, err := page.FindElement(p.Selector)
	if err != nil || !ok {
		return Total{}, false
	}
	text, err := el.Text()
	if err != nil {
		return Total{}, false
	}

	n, ok := LargestNumber(text)
	if !ok || n <= 0 {
		return Total{}, false
	}
	return Total{Value: n, Unit: p.Unit}, true
}

// LargestNumber returns the largest integer found in s.
func LargestNumber(s string) (int, bool) {
	best, found := 0, false
	for _, m := range numberPattern.FindAllString(s, -1) {
		n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
		if err != nil {
			continue
		}
		if !found || n > best {
			best, found = n, true
		}
	}
	return best, found
}

// MaxPageParam scans pagination links for the highest value of Param.
// The result is a page total.
type MaxPageParam struct {
	Selector string
	Param    string
}

func (p MaxPageParam) DiscoverTotal(_ context.Context, page dom.Page) (Total, bool) {
	els, err := page.FindElements(p.Selector)
	if err != nil {
		return Total{}, false
	}

	param := p.Param
	if param == "" {
		param = "page"
	}

	best := 0
	for _, el := range els {
		href, ok, err := el.Attr("href")
		if err != nil || !ok {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			continue
		}
		n, err := strconv.Atoi(u.Query().Get(param))
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}

	if best == 0 {
		return Total{}, false
	}
	return Total{Value: best, Unit: UnitPages}, true
}
