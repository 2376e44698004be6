package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/queue"
)

type Manager struct {
	store  RunStore
	queue  queue.Queue
	runner Runner
	logger *slog.Logger
}

func NewManager(store RunStore, q queue.Queue, runner Runner, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		queue:  q,
		runner: runner,
		logger: logger.With("component", "job_manager"),
	}
}

// Submit records a pending run and queues it for the worker.
func (m *Manager) Submit(ctx context.Context, req Request) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	run := &Run{
		ID:        uuid.New().String(),
		Request:   req,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := m.store.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	task := &queue.Task{RunID: run.ID, Institution: req.Institution, CreatedAt: run.CreatedAt}
	if err := m.queue.Push(task); err != nil {
		m.finish(ctx, run, StatusFailed, nil, err)
		return nil, fmt.Errorf("failed to queue run: %w", err)
	}

	m.logger.Info("run queued", "run_id", run.ID, "institution", req.Institution)
	return run, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Run, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, limit int) ([]*Run, error) {
	return m.store.List(ctx, limit)
}

// StartWorker executes queued runs strictly one at a time until ctx is
// cancelled or the queue is closed. A browser session serves one crawl, so
// there is never more than one worker.
func (m *Manager) StartWorker(ctx context.Context) error {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if errors.Is(err, queue.ErrQueueClosed) {
			m.logger.Info("job worker stopping", "reason", "queue closed")
			return nil
		}
		if err != nil {
			m.logger.Info("job worker stopping", "reason", err)
			return err
		}

		m.execute(ctx, task)
	}
}

func (m *Manager) execute(ctx context.Context, task *queue.Task) {
	logger := m.logger.With("run_id", task.RunID, "institution", task.Institution)

	run, err := m.store.Get(ctx, task.RunID)
	if err != nil {
		logger.Error("failed to load run", "error", err)
		return
	}

	started := time.Now().UTC()
	run.Status = StatusRunning
	run.StartedAt = &started
	if err := m.store.Update(ctx, run); err != nil {
		logger.Error("failed to mark run as running", "error", err)
	}

	logger.Info("run started")
	summary, runErr := m.runner.Run(ctx, run.ID, run.Request)

	status := StatusCompleted
	switch {
	case summary == nil && runErr != nil:
		status = StatusFailed
	case runErr != nil || (summary != nil && summary.Aborted):
		status = StatusAborted
	}

	m.finish(ctx, run, status, summary, runErr)
	logger.Info("run finished", "status", status)
}

func (m *Manager) finish(ctx context.Context, run *Run, status Status, summary *crawl.Summary, runErr error) {
	finished := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &finished
	run.Summary = summary
	if runErr != nil {
		run.Error = runErr.Error()
	}

	// the run outcome is recorded even when shutdown cancelled the crawl
	if err := m.store.Update(context.WithoutCancel(ctx), run); err != nil {
		m.logger.Error("failed to record run outcome", "run_id", run.ID, "error", err)
	}
}
