// Package runner assembles and executes one crawl from an institution
// definition, a page session and a record sink.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/expert-scraper/internal/browser"
	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/dom"
	"github.com/maltedev/expert-scraper/internal/institution"
	"github.com/maltedev/expert-scraper/internal/jobs"
	"github.com/maltedev/expert-scraper/internal/ratelimit"
)

// PageOpener supplies the listing and detail pages of one crawl. release
// frees them and must be called once the crawl is over.
type PageOpener interface {
	Open(ctx context.Context, plan *institution.Plan) (listing, detail dom.Page, release func() error, err error)
}

// SessionOpener opens a browser session per crawl, guarded by the plan's
// challenge detector and consent selector.
type SessionOpener struct {
	Driver  browser.Driver
	Browser *browser.Options
	LockDir string
	Logger  *slog.Logger
}

func (o *SessionOpener) Open(ctx context.Context, plan *institution.Plan) (dom.Page, dom.Page, func() error, error) {
	session, err := browser.OpenSession(ctx, browser.SessionConfig{
		Driver:    o.Driver,
		Browser:   o.Browser,
		LockDir:   o.LockDir,
		Challenge: plan.Challenge,
		Consent:   plan.Consent,
	}, o.Logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return session.Listing, session.Detail, session.Close, nil
}

// Runner executes crawl requests. It implements jobs.Runner.
type Runner struct {
	registry *institution.Registry
	opener   PageOpener
	sink     crawl.Sink
	limiter  func() ratelimit.RateLimiter
	logger   *slog.Logger
}

// New creates a runner. limiter is called once per run; nil disables pacing.
func New(registry *institution.Registry, opener PageOpener, sink crawl.Sink, limiter func() ratelimit.RateLimiter, logger *slog.Logger) *Runner {
	return &Runner{
		registry: registry,
		opener:   opener,
		sink:     sink,
		limiter:  limiter,
		logger:   logger.With("component", "runner"),
	}
}

func (r *Runner) Run(ctx context.Context, runID string, req jobs.Request) (*crawl.Summary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	def, err := r.registry.Get(req.Institution)
	if err != nil {
		return nil, err
	}
	plan, err := def.Build(r.logger)
	if err != nil {
		return nil, err
	}

	listing, detail, release, err := r.opener.Open(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to open pages for %s: %w", plan.Institution, err)
	}
	defer func() {
		if err := release(); err != nil {
			r.logger.Warn("failed to release pages", "run_id", runID, "error", err)
		}
	}()

	var limiter ratelimit.RateLimiter
	if r.limiter != nil {
		limiter = r.limiter()
	}

	frontier, err := crawl.New(crawl.Config{
		RunID:       runID,
		Institution: plan.Institution,
		Table:       plan.Table,
		Start:       req.Start,
		End:         req.End,
		Strategy:    plan.Strategy,
		Probe:       plan.Probe,
		Stops:       plan.Stops,
		Processor:   plan.Extractor,
		Sink:        r.sink,
		Limiter:     limiter,
		Dedupe:      req.Dedupe,
	}, listing, detail, r.logger)
	if err != nil {
		return nil, err
	}

	return frontier.Run(ctx)
}
