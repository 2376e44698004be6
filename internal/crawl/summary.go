package crawl

import (
	"log/slog"
	"time"
)

// Summary is the terminal report of a run.
type Summary struct {
	RunID        string             `json:"run_id"`
	Institution  string             `json:"institution"`
	StartPage    int                `json:"start_page"`
	LastPage     int                `json:"last_page"`
	PagesVisited int                `json:"pages_visited"`
	Discovered   int                `json:"discovered"`
	Processed    int                `json:"processed"`
	Inserted     int                `json:"inserted"`
	Updated      int                `json:"updated"`
	Skipped      map[SkipReason]int `json:"skipped"`
	StopReason   string             `json:"stop_reason"`
	Aborted      bool               `json:"aborted"`
	Error        string             `json:"error,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
}

func newSummary(runID, institution string, start int) *Summary {
	return &Summary{
		RunID:       runID,
		Institution: institution,
		StartPage:   start,
		Skipped:     make(map[SkipReason]int),
		StartedAt:   time.Now(),
	}
}

func (s *Summary) SkippedTotal() int {
	total := 0
	for _, n := range s.Skipped {
		total += n
	}
	return total
}

func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s *Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("run_id", s.RunID),
		slog.String("institution", s.Institution),
		slog.Int("pages_visited", s.PagesVisited),
		slog.Int("discovered", s.Discovered),
		slog.Int("processed", s.Processed),
		slog.Int("inserted", s.Inserted),
		slog.Int("updated", s.Updated),
		slog.Int("skipped", s.SkippedTotal()),
		slog.String("stop_reason", s.StopReason),
		slog.Bool("aborted", s.Aborted),
		slog.Duration("duration", s.Duration()),
	}
	return slog.GroupValue(attrs...)
}
