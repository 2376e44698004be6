// Package jobs schedules crawl runs and executes them one at a time.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maltedev/expert-scraper/internal/crawl"
)

var (
	ErrRunNotFound    = errors.New("run not found")
	ErrInvalidRequest = errors.New("invalid run request")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusFailed
}

// Request describes a crawl to execute.
type Request struct {
	Institution string `json:"institution"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Dedupe      bool   `json:"dedupe,omitempty"`
}

func (r Request) Validate() error {
	if r.Institution == "" {
		return fmt.Errorf("%w: institution is required", ErrInvalidRequest)
	}
	if r.Start < 0 {
		return fmt.Errorf("%w: start must not be negative", ErrInvalidRequest)
	}
	if r.End < r.Start {
		return fmt.Errorf("%w: end %d is before start %d", ErrInvalidRequest, r.End, r.Start)
	}
	return nil
}

type Run struct {
	ID         string         `json:"id"`
	Request    Request        `json:"request"`
	Status     Status         `json:"status"`
	Summary    *crawl.Summary `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Runner executes one crawl. A nil summary with an error means the crawl
// could not start at all.
type Runner interface {
	Run(ctx context.Context, runID string, req Request) (*crawl.Summary, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, runID string, req Request) (*crawl.Summary, error)

func (f RunnerFunc) Run(ctx context.Context, runID string, req Request) (*crawl.Summary, error) {
	return f(ctx, runID, req)
}

type RunStore interface {
	Create(ctx context.Context, run *Run) error
	Update(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]*Run, error)
}
