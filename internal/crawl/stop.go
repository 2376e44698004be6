package crawl

import (
	"fmt"
	"strings"
)

// Checkpoint is the point in a page cycle where a stop condition is evaluated.
type Checkpoint int

const (
	// AfterLoad runs once the listing page is loaded, before link extraction.
	AfterLoad Checkpoint = iota
	// AfterExtract runs once the links of the page are known.
	AfterExtract
	// AfterPage runs after every record of the page has been processed.
	AfterPage
)

type StopCondition interface {
	Name() string
	Checkpoint() Checkpoint
	ShouldStop(pc PageContext) bool
}

// Stops is the logical OR of its conditions.
type Stops []StopCondition

// Check evaluates the conditions bound to cp in order; the first true one wins.
func (s Stops) Check(cp Checkpoint, pc PageContext) (string, bool) {
	for _, c := range s {
		if c.Checkpoint() != cp {
			continue
		}
		if c.ShouldStop(pc) {
			return c.Name(), true
		}
	}
	return "", false
}

// NoResultsMarker stops when a "no results" element is present and visible.
// The check is best effort; a missing marker is never an error.
type NoResultsMarker struct {
	Selector string
	// Text optionally restricts matches to elements containing it.
	Text string
}

func (NoResultsMarker) Name() string           { return "no-results-marker" }
func (NoResultsMarker) Checkpoint() Checkpoint { return AfterLoad }

func (m NoResultsMarker) ShouldStop(pc PageContext) bool {
	els, err := pc.Page.FindElements(m.Selector)
	if err != nil {
		return false
	}

	for _, el := range els {
		if !el.Visible() {
			continue
		}
		if m.Text == "" {
			return true
		}
		if text, err := el.Text(); err == nil && strings.Contains(text, m.Text) {
			return true
		}
	}
	return false
}

// EmptyLinkSet stops when a listing page yields no detail links. Link count is
// authoritative where marker detection misses.
type EmptyLinkSet struct{}

func (EmptyLinkSet) Name() string           { return "empty-link-set" }
func (EmptyLinkSet) Checkpoint() Checkpoint { return AfterExtract }

func (EmptyLinkSet) ShouldStop(pc PageContext) bool {
	return len(pc.Links) == 0
}

// DisabledControl stops when the "next page" control is disabled, or is
// missing after at least one page was visited.
type DisabledControl struct {
	Selector string
}

func (DisabledControl) Name() string           { return "disabled-control" }
func (DisabledControl) Checkpoint() Checkpoint { return AfterPage }

func (d DisabledControl) ShouldStop(pc PageContext) bool {
	el, ok, err := pc.Page.FindElement(d.Selector)
	if err != nil {
		return false
	}
	if !ok {
		return pc.State.PagesVisited >= 1
	}
	return IsDisabled(el)
}

// KnownTotalReached stops once the total discovered at crawl start is reached.
// Without a total it stops after FallbackPages pages.
type KnownTotalReached struct {
	FallbackPages int
}

func (KnownTotalReached) Name() string           { return "known-total-reached" }
func (KnownTotalReached) Checkpoint() Checkpoint { return AfterPage }

func (k KnownTotalReached) ShouldStop(pc PageContext) bool {
	st := pc.State
	if !st.TotalKnown {
		return k.FallbackPages > 0 && st.PagesVisited >= k.FallbackPages
	}

	switch st.Total.Unit {
	case UnitPages:
		return st.PageIndex >= st.Total.Value
	default:
		return st.Discovered >= st.Total.Value
	}
}

// ParseStop builds a stop condition from its configuration name.
func ParseStop(kind, selector, text string, fallbackPages int) (StopCondition, error) {
	switch kind {
	case "no_results", "no-results-marker":
		if selector == "" {
			return nil, fmt.Errorf("%w: no_results requires a selector", ErrInvalidConfig)
		}
		return NoResultsMarker{Selector: selector, Text: text}, nil
	case "disabled_control", "disabled-control":
		if selector == "" {
			return nil, fmt.Errorf("%w: disabled_control requires a selector", ErrInvalidConfig)
		}
		return DisabledControl{Selector: selector}, nil
	case "known_total", "known-total-reached":
		return KnownTotalReached{FallbackPages: fallbackPages}, nil
	case "empty_links", "empty-link-set":
		return EmptyLinkSet{}, nil
	}
	return nil, fmt.Errorf("%w: unknown stop condition %q", ErrInvalidConfig, kind)
}
