// Package crawl walks paginated listing pages, hands every detail link to a
// record processor and stores the results through an idempotent sink.
package crawl

import (
	"context"
	"errors"

	"github.com/maltedev/expert-scraper/internal/dom"
	"github.com/maltedev/expert-scraper/internal/models"
)

var (
	ErrListingFetch    = errors.New("listing fetch failed")
	ErrMissingIdentity = errors.New("identity field missing")
	ErrInvalidConfig   = errors.New("invalid crawl configuration")
)

// LinkSet is the ordered list of detail URLs found on one listing page.
type LinkSet []string

// Processor extracts a profile from a loaded detail page. Returning an error
// wrapping ErrMissingIdentity skips the record.
type Processor interface {
	Process(ctx context.Context, page dom.Page) (*models.Profile, error)
}

// Sink persists profiles keyed by their source URL. Upserting the same
// profile twice must leave the same stored state as upserting it once.
type Sink interface {
	Upsert(ctx context.Context, table string, p *models.Profile) (Outcome, error)
}

type Outcome int

const (
	OutcomeInserted Outcome = iota + 1
	// OutcomeUpdated means the key already existed and the conflict was resolved
	// by overwriting the supplied fields.
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	}
	return "unknown"
}

type SkipReason string

const (
	SkipMissingIdentity SkipReason = "missing-identity"
	SkipFetchFailure    SkipReason = "fetch-failure"
	SkipExtractFailure  SkipReason = "extract-failure"
	SkipSinkFailure     SkipReason = "sink-failure"
	SkipDuplicate       SkipReason = "duplicate"
)
