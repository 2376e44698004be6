package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/database"
	"github.com/maltedev/expert-scraper/internal/models"
)

// SQLiteSink stores profiles in a local SQLite file, one table per
// institution. Position lists are kept as JSON arrays.
type SQLiteSink struct {
	db *sql.DB

	mu     sync.Mutex
	tables map[string]bool
}

// OpenSQLite opens path, or an in-memory database for ":memory:".
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// one writer; an in-memory database also lives and dies with its connection
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return &SQLiteSink{db: db, tables: make(map[string]bool)}, nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) ensureTable(ctx context.Context, table string) error {
	if err := database.ValidateTableName(table); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tables[table] {
		return nil
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			source_url          TEXT PRIMARY KEY,
			institution         TEXT,
			title               TEXT,
			full_name           TEXT NOT NULL,
			position            TEXT,
			org_unit            TEXT,
			telephone           TEXT,
			email               TEXT,
			orcid               TEXT,
			google_scholar_url  TEXT,
			brief_introduction  TEXT,
			scraped_at          TEXT,
			updated_at          TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, quoteIdent(table))

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	s.tables[table] = true
	return nil
}

func (s *SQLiteSink) Upsert(ctx context.Context, table string, p *models.Profile) (crawl.Outcome, error) {
	if err := validate(table, p); err != nil {
		return 0, err
	}
	if err := s.ensureTable(ctx, table); err != nil {
		return 0, err
	}

	var position any
	if len(p.Position) > 0 {
		data, err := json.Marshal(p.Position)
		if err != nil {
			return 0, fmt.Errorf("failed to encode position: %w", err)
		}
		position = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ident := quoteIdent(table)

	var exists int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE source_url = ?`, ident), p.SourceURL).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up profile: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			source_url, institution, title, full_name, position, org_unit,
			telephone, email, orcid, google_scholar_url, brief_introduction, scraped_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_url) DO UPDATE SET
			institution = COALESCE(excluded.institution, institution),
			title = COALESCE(excluded.title, title),
			full_name = excluded.full_name,
			position = COALESCE(excluded.position, position),
			org_unit = COALESCE(excluded.org_unit, org_unit),
			telephone = COALESCE(excluded.telephone, telephone),
			email = COALESCE(excluded.email, email),
			orcid = COALESCE(excluded.orcid, orcid),
			google_scholar_url = COALESCE(excluded.google_scholar_url, google_scholar_url),
			brief_introduction = COALESCE(excluded.brief_introduction, brief_introduction),
			scraped_at = excluded.scraped_at,
			updated_at = CURRENT_TIMESTAMP`, ident)

	_, err = tx.ExecContext(ctx, query,
		p.SourceURL, nullable(p.Institution), nullable(p.Title), p.FullName, position,
		nullable(p.OrgUnit), nullable(p.Telephone), nullable(p.Email), nullable(p.ORCID),
		nullable(p.GoogleScholarURL), nullable(p.BriefIntroduction),
		p.ScrapedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if exists == 1 {
		return crawl.OutcomeUpdated, nil
	}
	return crawl.OutcomeInserted, nil
}

// Get returns the stored profile for sourceURL, or nil when none exists.
func (s *SQLiteSink) Get(ctx context.Context, table, sourceURL string) (*models.Profile, error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT source_url, COALESCE(institution, ''), COALESCE(title, ''), full_name,
			position, COALESCE(org_unit, ''), COALESCE(telephone, ''), COALESCE(email, ''),
			COALESCE(orcid, ''), COALESCE(google_scholar_url, ''),
			COALESCE(brief_introduction, ''), COALESCE(scraped_at, '')
		FROM %s WHERE source_url = ?`, quoteIdent(table))

	p := &models.Profile{}
	var position sql.NullString
	var scrapedAt string
	err := s.db.QueryRowContext(ctx, query, sourceURL).Scan(
		&p.SourceURL, &p.Institution, &p.Title, &p.FullName,
		&position, &p.OrgUnit, &p.Telephone, &p.Email,
		&p.ORCID, &p.GoogleScholarURL, &p.BriefIntroduction, &scrapedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if position.Valid {
		if err := json.Unmarshal([]byte(position.String), &p.Position); err != nil {
			return nil, fmt.Errorf("failed to decode position: %w", err)
		}
	}
	if scrapedAt != "" {
		p.ScrapedAt, _ = time.Parse(time.RFC3339Nano, scrapedAt)
	}

	return p, nil
}

// Count returns the number of profiles in table.
func (s *SQLiteSink) Count(ctx context.Context, table string) (int, error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return 0, err
	}

	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(table))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return n, nil
}

// quoteIdent quotes a table name that already passed ValidateTableName.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
