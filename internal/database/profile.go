package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/expert-scraper/internal/models"
)

var ErrInvalidTable = errors.New("invalid table name")

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidateTableName accepts lowercase SQL identifiers only. Profile tables are
// named per institution, so the name ends up in generated statements.
func ValidateTableName(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("%q: %w", table, ErrInvalidTable)
	}
	return nil
}

// ProfileRow is a stored profile with its bookkeeping columns.
type ProfileRow struct {
	models.Profile
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type ProfileRepository struct {
	db *DB
}

func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// EnsureTable creates a profile table keyed by source_url.
func (r *ProfileRepository) EnsureTable(ctx context.Context, table string) error {
	if err := ValidateTableName(table); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			source_url          TEXT PRIMARY KEY,
			institution         TEXT,
			title               TEXT,
			full_name           TEXT NOT NULL,
			position            TEXT[],
			org_unit            TEXT,
			telephone           TEXT,
			email               TEXT,
			orcid               TEXT,
			google_scholar_url  TEXT,
			brief_introduction  TEXT,
			scraped_at          TIMESTAMPTZ,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, pgx.Identifier{table}.Sanitize())

	if _, err := r.db.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	return nil
}

// UpsertWithTx inserts the profile or merges it into the stored row. Empty
// optional fields keep the stored value. The returned flag is true when the
// row did not exist before.
func (r *ProfileRepository) UpsertWithTx(ctx context.Context, tx pgx.Tx, table string, p *models.Profile) (bool, error) {
	if err := ValidateTableName(table); err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (
			source_url, institution, title, full_name, position, org_unit,
			telephone, email, orcid, google_scholar_url, brief_introduction, scraped_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (source_url) DO UPDATE SET
			institution = COALESCE(EXCLUDED.institution, %[1]s.institution),
			title = COALESCE(EXCLUDED.title, %[1]s.title),
			full_name = EXCLUDED.full_name,
			position = COALESCE(EXCLUDED.position, %[1]s.position),
			org_unit = COALESCE(EXCLUDED.org_unit, %[1]s.org_unit),
			telephone = COALESCE(EXCLUDED.telephone, %[1]s.telephone),
			email = COALESCE(EXCLUDED.email, %[1]s.email),
			orcid = COALESCE(EXCLUDED.orcid, %[1]s.orcid),
			google_scholar_url = COALESCE(EXCLUDED.google_scholar_url, %[1]s.google_scholar_url),
			brief_introduction = COALESCE(EXCLUDED.brief_introduction, %[1]s.brief_introduction),
			scraped_at = EXCLUDED.scraped_at,
			updated_at = NOW()
		RETURNING (xmax = 0)`, pgx.Identifier{table}.Sanitize())

	var position []string
	if len(p.Position) > 0 {
		position = p.Position
	}

	var inserted bool
	err := tx.QueryRow(ctx, query,
		p.SourceURL, nullString(p.Institution), nullString(p.Title), p.FullName, position,
		nullString(p.OrgUnit), nullString(p.Telephone), nullString(p.Email), nullString(p.ORCID),
		nullString(p.GoogleScholarURL), nullString(p.BriefIntroduction), p.ScrapedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert profile: %w", err)
	}

	return inserted, nil
}

// Get returns the stored profile for sourceURL, or nil when none exists.
func (r *ProfileRepository) Get(ctx context.Context, table, sourceURL string) (*ProfileRow, error) {
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT source_url, COALESCE(institution, ''), COALESCE(title, ''), full_name,
			position, COALESCE(org_unit, ''), COALESCE(telephone, ''), COALESCE(email, ''),
			COALESCE(orcid, ''), COALESCE(google_scholar_url, ''),
			COALESCE(brief_introduction, ''), COALESCE(scraped_at, created_at),
			created_at, updated_at
		FROM %s
		WHERE source_url = $1`, pgx.Identifier{table}.Sanitize())

	row := &ProfileRow{}
	err := r.db.pool.QueryRow(ctx, query, sourceURL).Scan(
		&row.SourceURL, &row.Institution, &row.Title, &row.FullName,
		&row.Position, &row.OrgUnit, &row.Telephone, &row.Email,
		&row.ORCID, &row.GoogleScholarURL,
		&row.BriefIntroduction, &row.ScrapedAt,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return row, nil
}

// Count returns the number of stored profiles in table.
func (r *ProfileRepository) Count(ctx context.Context, table string) (int64, error) {
	if err := ValidateTableName(table); err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, pgx.Identifier{table}.Sanitize())
	if err := r.db.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}

	return count, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
