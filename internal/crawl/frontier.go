package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/expert-scraper/internal/dom"
	"github.com/maltedev/expert-scraper/internal/ratelimit"
)

const (
	StopSafetyLimit      = "safety-limit"
	StopNoFurtherPages   = "no-further-pages"
	StopNavigationFailed = "navigation-failed"
	StopListingFailure   = "listing-fetch-failure"
	StopCancelled        = "cancelled"
)

type Config struct {
	RunID       string
	Institution string
	Table       string
	// Start is the index of the first listing page fetched.
	Start int
	// End is the last listing page index the run may visit.
	End       int
	Strategy  Strategy
	Probe     TotalProbe
	Stops     Stops
	Processor Processor
	Sink      Sink
	Limiter   ratelimit.RateLimiter
	// Dedupe skips links whose canonical key was already seen in this run.
	Dedupe bool
}

func (c Config) Validate() error {
	if c.Strategy == nil {
		return fmt.Errorf("%w: strategy is required", ErrInvalidConfig)
	}
	if c.Processor == nil {
		return fmt.Errorf("%w: processor is required", ErrInvalidConfig)
	}
	if c.Sink == nil {
		return fmt.Errorf("%w: sink is required", ErrInvalidConfig)
	}
	if c.End < c.Start {
		return fmt.Errorf("%w: end page %d is before start page %d", ErrInvalidConfig, c.End, c.Start)
	}
	return nil
}

// Frontier runs one crawl. It owns its state and both pages; it is not safe
// for concurrent use and is not reusable after Run returns.
type Frontier struct {
	cfg     Config
	listing dom.Page
	detail  dom.Page
	logger  *slog.Logger

	state   State
	summary *Summary
	seen    map[string]struct{}
}

// New creates a frontier. listing and detail must be distinct pages so that
// visiting a record never disturbs the listing position.
func New(cfg Config, listing, detail dom.Page, logger *slog.Logger) (*Frontier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if listing == nil || detail == nil {
		return nil, fmt.Errorf("%w: listing and detail pages are required", ErrInvalidConfig)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	return &Frontier{
		cfg:     cfg,
		listing: listing,
		detail:  detail,
		logger: logger.With(
			"component", "frontier",
			"institution", cfg.Institution,
			"run_id", cfg.RunID,
		),
		seen: make(map[string]struct{}),
	}, nil
}

func (f *Frontier) State() State {
	return f.state
}

// Run crawls until a stop condition fires, the strategy reports no further
// page or the safety limit is reached. The summary is always returned; the
// error is non-nil only when the run was aborted.
func (f *Frontier) Run(ctx context.Context) (*Summary, error) {
	f.state = State{Phase: PhaseInit, PageIndex: f.cfg.Start}
	f.summary = newSummary(f.cfg.RunID, f.cfg.Institution, f.cfg.Start)

	f.logger.Info("starting crawl", "start", f.cfg.Start, "end", f.cfg.End)

	err := f.loop(ctx)

	f.state.Phase = PhaseTerminated
	f.summary.LastPage = f.state.PageIndex
	f.summary.PagesVisited = f.state.PagesVisited
	f.summary.Discovered = f.state.Discovered
	f.summary.Processed = f.state.Processed
	f.summary.FinishedAt = time.Now()

	if err != nil {
		f.summary.Aborted = true
		f.summary.Error = err.Error()
		f.logger.Error("crawl aborted", "summary", f.summary, "error", err)
		return f.summary, err
	}

	f.logger.Info("crawl finished", "summary", f.summary)
	return f.summary, nil
}

func (f *Frontier) loop(ctx context.Context) error {
	first := true

	for {
		if err := f.checkContext(ctx); err != nil {
			return err
		}

		f.state.Phase = PhaseFetchingListing
		index := f.state.PageIndex
		if err := f.wait(ctx); err != nil {
			return err
		}
		if err := f.cfg.Strategy.Fetch(ctx, f.listing, index, first); err != nil {
			if ctxErr := f.checkContext(ctx); ctxErr != nil {
				return ctxErr
			}
			f.summary.StopReason = StopListingFailure
			return fmt.Errorf("page %d: %w: %w", index, ErrListingFetch, err)
		}
		f.state.PagesVisited++

		if first {
			f.discoverTotal(ctx)
			first = false
		}

		if f.stopAt(AfterLoad, nil) {
			return nil
		}

		f.state.Phase = PhaseExtractingLinks
		links, err := f.cfg.Strategy.ExtractLinks(ctx, f.listing)
		if err != nil {
			f.summary.StopReason = StopListingFailure
			return fmt.Errorf("page %d: %w: %w", index, ErrListingFetch, err)
		}
		f.state.Discovered += len(links)
		f.logger.Info("listing page loaded", "page", index, "links", len(links), "url", f.listing.CurrentURL())

		if f.stopAt(AfterExtract, links) {
			return nil
		}

		f.state.Phase = PhaseProcessingRecords
		for _, link := range links {
			if err := f.checkContext(ctx); err != nil {
				return err
			}
			if err := f.processRecord(ctx, link); err != nil {
				return err
			}
		}

		f.state.Phase = PhaseCheckingStop
		if f.stopAt(AfterPage, links) {
			return nil
		}
		if index >= f.cfg.End {
			f.terminate(StopSafetyLimit)
			return nil
		}

		f.state.Phase = PhaseAdvancing
		ok, err := f.cfg.Strategy.Advance(ctx, f.listing, index+1)
		if err != nil {
			if ctxErr := f.checkContext(ctx); ctxErr != nil {
				return ctxErr
			}
			f.logger.Warn("failed to advance listing", "page", index, "error", err)
			f.terminate(StopNavigationFailed)
			return nil
		}
		if !ok {
			f.terminate(StopNoFurtherPages)
			return nil
		}
		f.state.PageIndex = index + 1
	}
}

// processRecord only returns an error when the run must stop; every per-record
// failure is recorded as a skip.
func (f *Frontier) processRecord(ctx context.Context, link string) error {
	if f.cfg.Dedupe {
		key, err := CanonicalKey(link)
		if err != nil {
			key = link
		}
		if _, dup := f.seen[key]; dup {
			f.skip(SkipDuplicate, link, nil)
			return nil
		}
		f.seen[key] = struct{}{}
	}

	if err := f.wait(ctx); err != nil {
		return err
	}

	if err := f.detail.Load(ctx, link); err != nil {
		if ctxErr := f.checkContext(ctx); ctxErr != nil {
			return ctxErr
		}
		f.feedback(err)
		f.skip(SkipFetchFailure, link, err)
		return nil
	}
	f.feedback(nil)

	profile, err := f.cfg.Processor.Process(ctx, f.detail)
	switch {
	case errors.Is(err, ErrMissingIdentity):
		f.skip(SkipMissingIdentity, link, err)
		return nil
	case err != nil:
		if ctxErr := f.checkContext(ctx); ctxErr != nil {
			return ctxErr
		}
		f.skip(SkipExtractFailure, link, err)
		return nil
	}

	if problems := profile.Validate(); len(problems) > 0 {
		f.skip(SkipMissingIdentity, link, fmt.Errorf("%w: %v", ErrMissingIdentity, problems))
		return nil
	}
	if profile.Institution == "" {
		profile.Institution = f.cfg.Institution
	}

	outcome, err := f.cfg.Sink.Upsert(ctx, f.cfg.Table, profile)
	if err != nil {
		if ctxErr := f.checkContext(ctx); ctxErr != nil {
			return ctxErr
		}
		f.skip(SkipSinkFailure, link, err)
		return nil
	}

	f.state.Processed++
	switch outcome {
	case OutcomeInserted:
		f.summary.Inserted++
	case OutcomeUpdated:
		f.summary.Updated++
	}

	f.logger.Debug("record stored",
		"url", profile.SourceURL,
		"name", profile.FullName,
		"outcome", outcome.String(),
	)
	return nil
}

func (f *Frontier) discoverTotal(ctx context.Context) {
	if f.cfg.Probe == nil {
		return
	}

	total, ok := f.cfg.Probe.DiscoverTotal(ctx, f.listing)
	if !ok {
		f.logger.Warn("could not discover listing total, using fallback")
		return
	}
	f.state.Total = total
	f.state.TotalKnown = true
	f.logger.Info("discovered listing total", "total", total.Value, "unit", total.Unit)
}

func (f *Frontier) stopAt(cp Checkpoint, links LinkSet) bool {
	pc := PageContext{Page: f.listing, State: f.state, Links: links}
	reason, stop := f.cfg.Stops.Check(cp, pc)
	if stop {
		f.terminate(reason)
	}
	return stop
}

func (f *Frontier) terminate(reason string) {
	f.summary.StopReason = reason
	f.logger.Info("stop condition reached", "reason", reason, "page", f.state.PageIndex)
}

func (f *Frontier) skip(reason SkipReason, link string, err error) {
	f.summary.Skipped[reason]++
	if err != nil {
		f.logger.Warn("skipping record", "reason", string(reason), "url", link, "error", err)
		return
	}
	f.logger.Info("skipping record", "reason", string(reason), "url", link)
}

func (f *Frontier) wait(ctx context.Context) error {
	if f.cfg.Limiter == nil {
		return nil
	}
	if err := f.cfg.Limiter.Wait(ctx); err != nil {
		return f.cancelled(err)
	}
	return nil
}

func (f *Frontier) feedback(err error) {
	fb, ok := f.cfg.Limiter.(ratelimit.Feedback)
	if !ok {
		return
	}
	if err != nil {
		fb.RecordError()
		return
	}
	fb.RecordSuccess()
}

func (f *Frontier) checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return f.cancelled(err)
	}
	return nil
}

func (f *Frontier) cancelled(err error) error {
	f.summary.StopReason = StopCancelled
	return fmt.Errorf("crawl cancelled: %w", err)
}
