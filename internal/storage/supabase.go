package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/models"
)

var ErrSupabase = errors.New("supabase request failed")

// SupabaseSink upserts into hosted PostgREST tables that use the legacy
// column names ("website", "full name", ...). Columns a profile leaves empty
// are omitted from the request, so PostgREST keeps their stored values.
type SupabaseSink struct {
	client       *resty.Client
	textPosition map[string]bool
}

type SupabaseConfig struct {
	URL     string
	Key     string
	Timeout time.Duration
	Retries int
	// TextPosition names the tables whose position column holds plain text.
	// Every other table receives positions as a JSON list.
	TextPosition map[string]bool
}

func NewSupabaseSink(cfg SupabaseConfig) (*SupabaseSink, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, fmt.Errorf("%w: url and key are required", ErrSupabase)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")+"/rest/v1").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(time.Second).
		SetHeader("apikey", cfg.Key).
		SetAuthToken(cfg.Key).
		SetHeader("Content-Type", "application/json")

	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})

	return &SupabaseSink{client: client, textPosition: cfg.TextPosition}, nil
}

func (s *SupabaseSink) Upsert(ctx context.Context, table string, p *models.Profile) (crawl.Outcome, error) {
	if err := validate(table, p); err != nil {
		return 0, err
	}

	exists, err := s.exists(ctx, table, p.SourceURL)
	if err != nil {
		return 0, err
	}

	key := models.ColumnName(models.ColumnsLegacy, models.FieldSourceURL)
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates,return=representation").
		SetQueryParam("on_conflict", key).
		SetBody([]map[string]any{legacyRow(p, s.textPosition[table])}).
		Post("/" + table)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert into %s: %w", table, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("%w: upsert into %s returned %d: %s", ErrSupabase, table, resp.StatusCode(), resp.String())
	}

	if exists {
		return crawl.OutcomeUpdated, nil
	}
	return crawl.OutcomeInserted, nil
}

func (s *SupabaseSink) exists(ctx context.Context, table, sourceURL string) (bool, error) {
	key := models.ColumnName(models.ColumnsLegacy, models.FieldSourceURL)

	var rows []map[string]any
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("select", key).
		SetQueryParam(key, "eq."+sourceURL).
		SetQueryParam("limit", "1").
		SetResult(&rows).
		Get("/" + table)
	if err != nil {
		return false, fmt.Errorf("failed to query %s: %w", table, err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("%w: query %s returned %d: %s", ErrSupabase, table, resp.StatusCode(), resp.String())
	}

	return len(rows) > 0, nil
}

// legacyRow drops empty columns. Positions are sent as a list unless the
// table stores them as text, in which case they are joined one per line.
func legacyRow(p *models.Profile, textPosition bool) map[string]any {
	row := make(map[string]any)
	for col, v := range p.Columns(models.ColumnsLegacy) {
		if v == nil {
			continue
		}
		row[col] = v
	}

	if textPosition && len(p.Position) > 0 {
		row[models.ColumnName(models.ColumnsLegacy, models.FieldPosition)] = strings.Join(p.Position, "\n")
	}

	return row
}
