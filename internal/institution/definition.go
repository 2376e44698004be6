// Package institution describes, per university directory, how its listing
// pages are walked and how a profile is read from a detail page.
package institution

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/expert-scraper/internal/browser"
	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/database"
	"github.com/maltedev/expert-scraper/internal/extract"
)

var (
	ErrInvalidDefinition  = errors.New("invalid institution definition")
	ErrUnknownInstitution = errors.New("unknown institution")
)

// Listing strategies.
const (
	StrategyURLParam   = "url_param"
	StrategyClickNext  = "click_next"
	StrategyLoadMore   = "load_more"
	StrategyPageSelect = "page_select"
	StrategySinglePage = "single_page"
)

// Position column shapes of the hosted tables.
const (
	PositionList = "list"
	PositionText = "text"
)

// Total probe kinds.
const (
	TotalNumberInText = "number_in_text"
	TotalMaxPageParam = "max_page_param"
)

type Definition struct {
	Key   string `yaml:"key"`
	Name  string `yaml:"name"`
	Table string `yaml:"table"`
	// Start is the first listing page index fetched.
	Start int `yaml:"start"`
	// End bounds the run as a safety limit.
	End int `yaml:"end"`

	Listing   Listing             `yaml:"listing"`
	Total     *Total              `yaml:"total,omitempty"`
	Stops     []Stop              `yaml:"stops,omitempty"`
	Challenge *Challenge          `yaml:"challenge,omitempty"`
	Consent   string              `yaml:"consent,omitempty"`
	Detail    Detail              `yaml:"detail"`
	Fields    []extract.FieldRule `yaml:"fields"`
	Sink      Sink                `yaml:"sink,omitempty"`
}

type Listing struct {
	Strategy   string        `yaml:"strategy"`
	URL        string        `yaml:"url"`
	PageSize   int           `yaml:"page_size,omitempty"`
	OffsetBase int           `yaml:"offset_base,omitempty"`
	FirstPage  int           `yaml:"first_page,omitempty"`
	Next       string        `yaml:"next,omitempty"`
	Button     string        `yaml:"button,omitempty"`
	Select     string        `yaml:"select,omitempty"`
	Links      Links         `yaml:"links"`
	Settle     time.Duration `yaml:"settle,omitempty"`
}

type Links struct {
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr,omitempty"`
}

type Total struct {
	Kind     string `yaml:"kind"`
	Selector string `yaml:"selector"`
	// Unit is "records" or "pages" for number_in_text.
	Unit  string `yaml:"unit,omitempty"`
	Param string `yaml:"param,omitempty"`
}

type Stop struct {
	Kind          string `yaml:"kind"`
	Selector      string `yaml:"selector,omitempty"`
	Text          string `yaml:"text,omitempty"`
	FallbackPages int    `yaml:"fallback_pages,omitempty"`
}

type Challenge struct {
	Selector    string        `yaml:"selector"`
	Text        string        `yaml:"text,omitempty"`
	InitialWait time.Duration `yaml:"initial_wait,omitempty"`
	MaxBackoff  time.Duration `yaml:"max_backoff,omitempty"`
	MaxWait     time.Duration `yaml:"max_wait,omitempty"`
	Reload      bool          `yaml:"reload,omitempty"`
}

type Detail struct {
	Settle time.Duration `yaml:"settle,omitempty"`
}

// Sink carries how an existing hosted table expects its columns.
type Sink struct {
	// Position is "list" (default) or "text".
	Position string `yaml:"position,omitempty"`
}

func (d *Definition) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidDefinition)
	}
	if err := database.ValidateTableName(d.Table); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, d.Key, err)
	}
	if d.Start < 0 {
		return fmt.Errorf("%w: %s: start must not be negative", ErrInvalidDefinition, d.Key)
	}
	if d.End != 0 && d.End < d.Start {
		return fmt.Errorf("%w: %s: end %d is before start %d", ErrInvalidDefinition, d.Key, d.End, d.Start)
	}
	if d.Listing.URL == "" {
		return fmt.Errorf("%w: %s: listing url is required", ErrInvalidDefinition, d.Key)
	}
	if d.Listing.Links.Selector == "" {
		return fmt.Errorf("%w: %s: listing link selector is required", ErrInvalidDefinition, d.Key)
	}

	switch d.Listing.Strategy {
	case StrategyURLParam:
		if d.Listing.PageSize < 0 {
			return fmt.Errorf("%w: %s: page_size must not be negative", ErrInvalidDefinition, d.Key)
		}
	case StrategyClickNext:
		if d.Listing.Next == "" {
			return fmt.Errorf("%w: %s: click_next requires next", ErrInvalidDefinition, d.Key)
		}
	case StrategyLoadMore:
		if d.Listing.Button == "" {
			return fmt.Errorf("%w: %s: load_more requires button", ErrInvalidDefinition, d.Key)
		}
	case StrategyPageSelect:
		if d.Listing.Select == "" {
			return fmt.Errorf("%w: %s: page_select requires select", ErrInvalidDefinition, d.Key)
		}
	case StrategySinglePage:
	default:
		return fmt.Errorf("%w: %s: unknown strategy %q", ErrInvalidDefinition, d.Key, d.Listing.Strategy)
	}

	if d.Total != nil {
		if _, err := d.probe(); err != nil {
			return err
		}
	}
	if _, err := d.stops(); err != nil {
		return err
	}
	if d.Challenge != nil && d.Challenge.Selector == "" {
		return fmt.Errorf("%w: %s: challenge requires a selector", ErrInvalidDefinition, d.Key)
	}
	switch d.Sink.Position {
	case "", PositionList, PositionText:
	default:
		return fmt.Errorf("%w: %s: unknown position shape %q", ErrInvalidDefinition, d.Key, d.Sink.Position)
	}

	if len(d.Fields) == 0 {
		return fmt.Errorf("%w: %s: no field rules", ErrInvalidDefinition, d.Key)
	}
	for _, rule := range d.Fields {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, d.Key, err)
		}
	}
	return nil
}

// Plan is a definition turned into the pieces a crawl is assembled from.
type Plan struct {
	Institution string
	Table       string
	Start       int
	End         int
	Strategy    crawl.Strategy
	Probe       crawl.TotalProbe
	Stops       crawl.Stops
	Extractor   *extract.Extractor
	Challenge   *browser.ChallengeDetector
	Consent     string
}

// Build validates d and constructs its plan.
func (d *Definition) Build(logger *slog.Logger) (*Plan, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	extractor, err := extract.New(d.Key, d.Fields, d.Detail.Settle, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build extractor for %s: %w", d.Key, err)
	}

	var probe crawl.TotalProbe
	if d.Total != nil {
		probe, _ = d.probe()
	}
	stops, _ := d.stops()

	plan := &Plan{
		Institution: d.Key,
		Table:       d.Table,
		Start:       d.Start,
		End:         d.End,
		Strategy:    d.strategy(),
		Probe:       probe,
		Stops:       stops,
		Extractor:   extractor,
		Consent:     d.Consent,
	}

	if c := d.Challenge; c != nil {
		plan.Challenge = &browser.ChallengeDetector{
			Selector:    c.Selector,
			Text:        c.Text,
			InitialWait: c.InitialWait,
			MaxBackoff:  c.MaxBackoff,
			MaxWait:     c.MaxWait,
			Reload:      c.Reload,
		}
	}

	return plan, nil
}

func (d *Definition) strategy() crawl.Strategy {
	l := d.Listing
	links := crawl.LinkSelector{Selector: l.Links.Selector, Attr: l.Links.Attr}

	switch l.Strategy {
	case StrategyURLParam:
		pageSize := l.PageSize
		if pageSize == 0 {
			pageSize = 1
		}
		return &crawl.URLParam{Template: l.URL, PageSize: pageSize, OffsetBase: l.OffsetBase, Links: links, Settle: l.Settle}
	case StrategyClickNext:
		return &crawl.ClickNext{StartURL: l.URL, FirstPage: l.FirstPage, Next: l.Next, Links: links, Settle: l.Settle}
	case StrategyLoadMore:
		return &crawl.LoadMore{StartURL: l.URL, FirstPage: l.FirstPage, Button: l.Button, Links: links, Settle: l.Settle}
	case StrategyPageSelect:
		return &crawl.PageSelect{StartURL: l.URL, Select: l.Select, Links: links, Settle: l.Settle}
	default:
		return &crawl.SinglePage{URL: l.URL, Links: links, Settle: l.Settle}
	}
}

func (d *Definition) probe() (crawl.TotalProbe, error) {
	t := d.Total
	if t.Selector == "" {
		return nil, fmt.Errorf("%w: %s: total requires a selector", ErrInvalidDefinition, d.Key)
	}

	switch t.Kind {
	case TotalNumberInText:
		unit := crawl.UnitRecords
		switch t.Unit {
		case "", "records":
		case "pages":
			unit = crawl.UnitPages
		default:
			return nil, fmt.Errorf("%w: %s: unknown total unit %q", ErrInvalidDefinition, d.Key, t.Unit)
		}
		return crawl.NumberInText{Selector: t.Selector, Unit: unit}, nil
	case TotalMaxPageParam:
		return crawl.MaxPageParam{Selector: t.Selector, Param: t.Param}, nil
	}
	return nil, fmt.Errorf("%w: %s: unknown total kind %q", ErrInvalidDefinition, d.Key, t.Kind)
}

func (d *Definition) stops() (crawl.Stops, error) {
	stops := make(crawl.Stops, 0, len(d.Stops))
	for _, s := range d.Stops {
		c, err := crawl.ParseStop(s.Kind, s.Selector, s.Text, s.FallbackPages)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, d.Key, err)
		}
		stops = append(stops, c)
	}
	return stops, nil
}

// Range resolves the page range of a run. Negative overrides keep the
// definition's own bounds, and an end before the start collapses to one page.
func (d *Definition) Range(start, end int) (int, int) {
	if start < 0 {
		start = d.Start
	}
	if end < 0 {
		end = d.End
	}
	if end < start {
		end = start
	}
	return start, end
}
