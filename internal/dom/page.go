// Package dom defines the page access contract the crawler is written against
// and a goquery-backed implementation for server-rendered documents.
package dom

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoDocument          = errors.New("no document loaded")
	ErrUnsupported         = errors.New("operation not supported by this page driver")
	ErrUnsupportedSelector = errors.New("selector syntax not supported by this page driver")
	ErrNotFound            = errors.New("element not found")
)

// Element is one node selected from the current document.
type Element interface {
	Text() (string, error)
	Attr(name string) (string, bool, error)
	InnerHTML() (string, error)
	Visible() bool
	FindElements(selector string) ([]Element, error)
}

// Page is a loaded document handle. Selection is deterministic for a given
// document; the selector language depends on the driver.
type Page interface {
	Load(ctx context.Context, url string) error
	CurrentURL() string
	FindElement(selector string) (Element, bool, error)
	FindElements(selector string) ([]Element, error)
	Click(ctx context.Context, selector string) error
	SelectOption(ctx context.Context, selector, value string) error
	// Settle waits for client-rendered content after a load or interaction.
	Settle(ctx context.Context, d time.Duration) error
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
