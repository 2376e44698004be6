package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/expert-scraper/internal/dom"
)

var ErrChallengeTimeout = errors.New("anti-bot challenge did not clear in time")

// HostPlaceholder in ChallengeDetector.Text is replaced with the page host.
// Some portals show a bare heading with their host name while a challenge runs.
const HostPlaceholder = "{host}"

// Waits used when a detector leaves them unset.
const (
	DefaultChallengeWait    = 5 * time.Second
	DefaultChallengeMaxWait = 30 * time.Second
)

// ChallengeDetector recognises an anti-bot interstitial by its content and
// waits, with growing pauses, until it clears.
type ChallengeDetector struct {
	Selector string
	// Text must equal the trimmed element text; empty means presence is enough.
	Text        string
	InitialWait time.Duration
	MaxBackoff  time.Duration
	MaxWait     time.Duration
	// Reload re-requests the page between checks. Interactive sessions leave
	// it off so a person can solve the challenge in the open tab.
	Reload bool
}

func (d *ChallengeDetector) Detect(page dom.Page) bool {
	el, ok, err := page.FindElement(d.Selector)
	if err != nil || !ok {
		return false
	}
	if d.Text == "" {
		return true
	}

	text, err := el.Text()
	if err != nil {
		return false
	}
	return strings.TrimSpace(text) == d.expected(page.CurrentURL())
}

func (d *ChallengeDetector) expected(pageURL string) string {
	if !strings.Contains(d.Text, HostPlaceholder) {
		return d.Text
	}
	host := ""
	if u, err := url.Parse(pageURL); err == nil {
		host = u.Hostname()
	}
	return strings.ReplaceAll(d.Text, HostPlaceholder, host)
}

// Await blocks while the challenge is present. It returns ErrChallengeTimeout
// once MaxWait has elapsed without the challenge clearing.
func (d *ChallengeDetector) Await(ctx context.Context, page dom.Page, logger *slog.Logger) error {
	if !d.Detect(page) {
		return nil
	}

	target := page.CurrentURL()
	wait := d.InitialWait
	if wait <= 0 {
		wait = DefaultChallengeWait
	}
	maxWait := d.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultChallengeMaxWait
	}
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%s: %w", target, ErrChallengeTimeout)
		}
		if wait > remaining {
			wait = remaining
		}

		logger.Warn("anti-bot challenge detected, pausing",
			"url", target,
			"attempt", attempt,
			"wait", wait,
		)
		if err := dom.Sleep(ctx, wait); err != nil {
			return err
		}

		if d.Reload {
			if err := page.Load(ctx, target); err != nil {
				return fmt.Errorf("failed to reload after challenge: %w", err)
			}
		}
		if !d.Detect(page) {
			logger.Info("anti-bot challenge cleared", "url", target, "attempts", attempt)
			return nil
		}

		wait *= 2
		if d.MaxBackoff > 0 && wait > d.MaxBackoff {
			wait = d.MaxBackoff
		}
	}
}

// GuardedPage runs the challenge check and cookie consent dismissal after
// every load of the wrapped page.
type GuardedPage struct {
	dom.Page
	challenge *ChallengeDetector
	consent   string
	logger    *slog.Logger
}

// Guard wraps page. A nil detector and empty consent selector return page as is.
func Guard(page dom.Page, challenge *ChallengeDetector, consent string, logger *slog.Logger) dom.Page {
	if challenge == nil && consent == "" {
		return page
	}
	return &GuardedPage{
		Page:      page,
		challenge: challenge,
		consent:   consent,
		logger:    logger.With("component", "guard"),
	}
}

func (g *GuardedPage) Load(ctx context.Context, url string) error {
	if err := g.Page.Load(ctx, url); err != nil {
		return err
	}

	if g.challenge != nil {
		if err := g.challenge.Await(ctx, g.Page, g.logger); err != nil {
			return err
		}
	}

	if g.consent != "" {
		g.dismissConsent(ctx)
	}
	return nil
}

func (g *GuardedPage) dismissConsent(ctx context.Context) {
	el, ok, err := g.Page.FindElement(g.consent)
	if err != nil || !ok || !el.Visible() {
		return
	}
	if err := g.Page.Click(ctx, g.consent); err != nil {
		g.logger.Debug("failed to dismiss cookie banner", "selector", g.consent, "error", err)
		return
	}
	g.logger.Debug("dismissed cookie banner")
}
