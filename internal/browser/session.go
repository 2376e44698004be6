package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofrs/flock"

	"github.com/maltedev/expert-scraper/internal/dom"
)

var (
	ErrSessionBusy   = errors.New("browser session is in use by another crawl")
	ErrUnknownDriver = errors.New("unknown page driver")
)

type Driver string

const (
	DriverPlaywright Driver = "playwright"
	DriverChromedp   Driver = "chromedp"
	// DriverHTTP fetches documents without a browser.
	DriverHTTP Driver = "http"
)

type SessionConfig struct {
	Driver  Driver
	Browser *Options
	// LockDir holds one lock file per session endpoint. Empty disables locking.
	LockDir   string
	Challenge *ChallengeDetector
	Consent   string
}

// Session owns the browser, the listing and detail tabs and the session lock
// for one crawl. Close releases all of them and is safe to call more than once.
type Session struct {
	Listing dom.Page
	Detail  dom.Page

	closers []func() error
	lock    *flock.Flock
	logger  *slog.Logger
}

func OpenSession(ctx context.Context, cfg SessionConfig, logger *slog.Logger) (*Session, error) {
	if cfg.Browser == nil {
		cfg.Browser = DefaultOptions()
	}

	s := &Session{logger: logger.With("component", "session")}
	if cfg.LockDir != "" {
		if err := s.acquire(cfg); err != nil {
			return nil, err
		}
	}

	if err := s.open(ctx, cfg, logger); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info("session opened", "driver", string(cfg.Driver), "endpoint", cfg.Browser.SessionEndpoint)
	return s, nil
}

func (s *Session) open(ctx context.Context, cfg SessionConfig, logger *slog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		listing, detail dom.Page
		err             error
	)
	switch cfg.Driver {
	case DriverPlaywright, "":
		listing, detail, err = s.openPlaywright(cfg.Browser)
	case DriverChromedp:
		listing, detail, err = s.openCDP(cfg.Browser)
	case DriverHTTP:
		source := dom.NewHTTPSource(cfg.Browser.UserAgent, cfg.Browser.Timeout, cfg.Browser.Retries)
		listing, detail = dom.NewStaticPage(source), dom.NewStaticPage(source)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return err
	}

	s.Listing = Guard(listing, cfg.Challenge, cfg.Consent, logger)
	s.Detail = Guard(detail, cfg.Challenge, cfg.Consent, logger)
	return nil
}

var unsafeLockChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// LockPath returns the lock file guarding a session endpoint.
func LockPath(dir string, cfg SessionConfig) string {
	key := "local-" + string(cfg.Driver)
	if cfg.Browser != nil && cfg.Browser.SessionEndpoint != "" {
		key = cfg.Browser.SessionEndpoint
	}
	return filepath.Join(dir, "session-"+unsafeLockChars.ReplaceAllString(key, "_")+".lock")
}

func (s *Session) acquire(cfg SessionConfig) error {
	if err := os.MkdirAll(cfg.LockDir, 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(LockPath(cfg.LockDir, cfg))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock session: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrSessionBusy, lock.Path())
	}
	s.lock = lock
	return nil
}

func (s *Session) openPlaywright(opts *Options) (dom.Page, dom.Page, error) {
	b, err := New(opts, s.logger)
	if err != nil {
		return nil, nil, err
	}
	s.closers = append(s.closers, b.Close)

	listing, err := b.NewPage()
	if err != nil {
		return nil, nil, err
	}
	s.closers = append(s.closers, listing.Close)

	detail, err := b.NewPage()
	if err != nil {
		return nil, nil, err
	}
	s.closers = append(s.closers, detail.Close)

	return listing, detail, nil
}

func (s *Session) openCDP(opts *Options) (dom.Page, dom.Page, error) {
	b, err := NewCDP(opts)
	if err != nil {
		return nil, nil, err
	}
	s.closers = append(s.closers, b.Close)

	listing, err := b.NewPage()
	if err != nil {
		return nil, nil, err
	}
	s.closers = append(s.closers, listing.Close)

	detail, err := b.NewPage()
	if err != nil {
		return nil, nil, err
	}
	s.closers = append(s.closers, detail.Close)

	return listing, detail, nil
}

func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil

	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release session lock: %w", err))
		}
		s.lock = nil
	}

	if len(errs) > 0 {
		s.logger.Warn("session closed with errors", "error", errors.Join(errs...))
	}
	return errors.Join(errs...)
}
