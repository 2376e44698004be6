package crawl

import "github.com/maltedev/expert-scraper/internal/dom"

type Phase int

const (
	PhaseInit Phase = iota
	PhaseFetchingListing
	PhaseExtractingLinks
	PhaseProcessingRecords
	PhaseCheckingStop
	PhaseAdvancing
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseFetchingListing:
		return "fetching-listing"
	case PhaseExtractingLinks:
		return "extracting-links"
	case PhaseProcessingRecords:
		return "processing-records"
	case PhaseCheckingStop:
		return "checking-stop"
	case PhaseAdvancing:
		return "advancing"
	case PhaseTerminated:
		return "terminated"
	}
	return "unknown"
}

type TotalUnit int

const (
	UnitRecords TotalUnit = iota
	// UnitPages totals are the index of the last listing page.
	UnitPages
)

type Total struct {
	Value int
	Unit  TotalUnit
}

// State is owned by a single frontier for the duration of one run.
type State struct {
	Phase        Phase
	PageIndex    int
	PagesVisited int
	Discovered   int
	Processed    int
	Total        Total
	TotalKnown   bool
}

// PageContext is what stop conditions see at a checkpoint.
type PageContext struct {
	Page  dom.Page
	State State
	Links LinkSet
}
