package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/jobs"
)

// RunRepository persists crawl runs in crawl_runs. It satisfies jobs.RunStore.
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *jobs.Run) error {
	request, err := json.Marshal(run.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	query := `
		INSERT INTO crawl_runs (id, institution, status, start_page, end_page, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, jsonb_build_object('request', $6::jsonb), $7)`

	_, err = r.db.pool.Exec(ctx, query,
		run.ID, run.Request.Institution, string(run.Status),
		run.Request.Start, run.Request.End, request, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

func (r *RunRepository) Update(ctx context.Context, run *jobs.Run) error {
	doc, err := encodeRunDocument(run)
	if err != nil {
		return err
	}

	query := `
		UPDATE crawl_runs
		SET status = $2, summary = $3, error = NULLIF($4, ''), started_at = $5, finished_at = $6
		WHERE id = $1`

	result, err := r.db.pool.Exec(ctx, query,
		run.ID, string(run.Status), doc, run.Error, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", jobs.ErrRunNotFound, run.ID)
	}

	return nil
}

func (r *RunRepository) Get(ctx context.Context, id string) (*jobs.Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", jobs.ErrRunNotFound, id)
	}

	query := `
		SELECT id::text, status, summary, COALESCE(error, ''), created_at, started_at, finished_at
		FROM crawl_runs
		WHERE id = $1`

	run, err := scanRun(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

func (r *RunRepository) List(ctx context.Context, limit int) ([]*jobs.Run, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id::text, status, summary, COALESCE(error, ''), created_at, started_at, finished_at
		FROM crawl_runs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*jobs.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// runDocument is the JSON stored in crawl_runs.summary.
type runDocument struct {
	Request jobs.Request   `json:"request"`
	Summary *crawl.Summary `json:"summary,omitempty"`
}

func encodeRunDocument(run *jobs.Run) ([]byte, error) {
	doc, err := json.Marshal(runDocument{Request: run.Request, Summary: run.Summary})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run summary: %w", err)
	}
	return doc, nil
}

func scanRun(row pgx.Row) (*jobs.Run, error) {
	run := &jobs.Run{}
	var status string
	var raw []byte

	if err := row.Scan(&run.ID, &status, &raw, &run.Error,
		&run.CreatedAt, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	run.Status = jobs.Status(status)

	if len(raw) > 0 {
		var doc runDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode run summary: %w", err)
		}
		run.Request = doc.Request
		run.Summary = doc.Summary
	}

	return run, nil
}
