package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/queue"
)

func waitForStatus(t *testing.T, m *Manager, id string, want Status) *Run {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := m.Get(context.Background(), id)
		require.NoError(t, err)
		if run.Status == want {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", id, want)
	return nil
}

func startWorker(t *testing.T, m *Manager) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.StartWorker(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"valid", Request{Institution: "curtin", Start: 1, End: 10}, false},
		{"single page", Request{Institution: "csu", Start: 0, End: 0}, false},
		{"missing institution", Request{End: 1}, true},
		{"negative start", Request{Institution: "anu", Start: -1, End: 1}, true},
		{"end before start", Request{Institution: "anu", Start: 5, End: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestManager_RunCompletes(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, runID string, req Request) (*crawl.Summary, error) {
		return &crawl.Summary{RunID: runID, Institution: req.Institution, Processed: 3, StopReason: "disabled-control"}, nil
	})

	m := NewManager(NewMemoryStore(), queue.NewInMemoryQueue(), runner, slog.Default())
	startWorker(t, m)

	run, err := m.Submit(context.Background(), Request{Institution: "anu", End: 5})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, run.Status)

	done := waitForStatus(t, m, run.ID, StatusCompleted)
	require.NotNil(t, done.Summary)
	assert.Equal(t, run.ID, done.Summary.RunID)
	assert.Equal(t, 3, done.Summary.Processed)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)
	assert.Empty(t, done.Error)
}

func TestManager_AbortedAndFailed(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, runID string, req Request) (*crawl.Summary, error) {
		if req.Institution == "broken" {
			return nil, errors.New("session busy")
		}
		return &crawl.Summary{RunID: runID, Aborted: true}, crawl.ErrListingFetch
	})

	m := NewManager(NewMemoryStore(), queue.NewInMemoryQueue(), runner, slog.Default())
	startWorker(t, m)

	aborted, err := m.Submit(context.Background(), Request{Institution: "bond", End: 1})
	require.NoError(t, err)
	failed, err := m.Submit(context.Background(), Request{Institution: "broken", End: 1})
	require.NoError(t, err)

	run := waitForStatus(t, m, aborted.ID, StatusAborted)
	assert.Contains(t, run.Error, "listing fetch failed")
	assert.True(t, run.Summary.Aborted)

	run = waitForStatus(t, m, failed.ID, StatusFailed)
	assert.Nil(t, run.Summary)
	assert.Equal(t, "session busy", run.Error)
}

func TestManager_RunsOneAtATime(t *testing.T) {
	var active, peak atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, runID string, req Request) (*crawl.Summary, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return &crawl.Summary{RunID: runID}, nil
	})

	m := NewManager(NewMemoryStore(), queue.NewInMemoryQueue(), runner, slog.Default())
	startWorker(t, m)

	var ids []string
	for range 4 {
		run, err := m.Submit(context.Background(), Request{Institution: "deakin", End: 1})
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	for _, id := range ids {
		waitForStatus(t, m, id, StatusCompleted)
	}
	assert.Equal(t, int32(1), peak.Load())
}

func TestManager_SubmitRejectsInvalid(t *testing.T) {
	m := NewManager(NewMemoryStore(), queue.NewInMemoryQueue(), nil, slog.Default())

	_, err := m.Submit(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	runs, err := m.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestManager_SubmitOnClosedQueue(t *testing.T) {
	q := queue.NewInMemoryQueue()
	require.NoError(t, q.Close())

	m := NewManager(NewMemoryStore(), q, nil, slog.Default())
	_, err := m.Submit(context.Background(), Request{Institution: "acu-brisbane", End: 1})
	assert.ErrorIs(t, err, queue.ErrQueueClosed)

	runs, err := m.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
}

func TestManager_WorkerStopsOnClose(t *testing.T) {
	q := queue.NewInMemoryQueue()
	m := NewManager(NewMemoryStore(), q, nil, slog.Default())

	done := make(chan error, 1)
	go func() { done <- m.StartWorker(context.Background()) }()

	require.NoError(t, q.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	older := &Run{ID: "a", Status: StatusPending, CreatedAt: time.Now().Add(-time.Minute)}
	newer := &Run{ID: "b", Status: StatusPending, CreatedAt: time.Now()}
	require.NoError(t, store.Create(ctx, older))
	require.NoError(t, store.Create(ctx, newer))
	assert.Error(t, store.Create(ctx, older))

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)

	runs, err = store.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	got.Status = StatusRunning
	stored, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, store.Update(ctx, &Run{ID: "missing"}), ErrRunNotFound)
}
