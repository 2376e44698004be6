package dom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Source returns the HTML for a URL together with the URL after redirects.
type Source interface {
	Fetch(ctx context.Context, url string) (body string, finalURL string, err error)
}

// MapSource serves fixed documents, mainly for fixtures and replays.
type MapSource struct {
	mu    sync.RWMutex
	pages map[string]string
	// Redirects maps a requested URL onto the URL reported after loading.
	redirects map[string]string
}

func NewMapSource(pages map[string]string) *MapSource {
	if pages == nil {
		pages = make(map[string]string)
	}
	return &MapSource{pages: pages, redirects: make(map[string]string)}
}

func (m *MapSource) Set(url, html string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[url] = html
}

func (m *MapSource) Redirect(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redirects[from] = to
}

func (m *MapSource) Fetch(ctx context.Context, url string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	final := url
	if to, ok := m.redirects[url]; ok {
		final = to
	}

	body, ok := m.pages[final]
	if !ok {
		return "", "", fmt.Errorf("%s: %w", url, ErrNotFound)
	}
	return body, final, nil
}

// HTTPSource fetches documents without a browser, for directories that render
// on the server.
type HTTPSource struct {
	client *resty.Client
}

func NewHTTPSource(userAgent string, timeout time.Duration, retries int) *HTTPSource {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(time.Second).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}

	return &HTTPSource{client: client}
}

func (s *HTTPSource) Fetch(ctx context.Context, url string) (string, string, error) {
	resp, err := s.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", "", fmt.Errorf("failed to get %s: %w", url, err)
	}

	if resp.IsError() {
		return "", "", fmt.Errorf("failed to get %s: unexpected status %d", url, resp.StatusCode())
	}

	final := url
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		final = raw.Request.URL.String()
	}

	return resp.String(), final, nil
}
