package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/database"
	"github.com/maltedev/expert-scraper/internal/events"
	"github.com/maltedev/expert-scraper/internal/models"
)

// PostgresSink upserts profiles and records a PROFILE_UPSERTED outbox event
// in the same transaction.
type PostgresSink struct {
	db        *database.DB
	profiles  *database.ProfileRepository
	publisher *events.Publisher
	logger    *slog.Logger

	mu     sync.Mutex
	tables map[string]bool
}

func NewPostgresSink(db *database.DB, logger *slog.Logger) *PostgresSink {
	return &PostgresSink{
		db:        db,
		profiles:  database.NewProfileRepository(db),
		publisher: events.NewPublisher(database.NewOutboxRepository(db), logger),
		logger:    logger.With("component", "postgres_sink"),
		tables:    make(map[string]bool),
	}
}

func (s *PostgresSink) ensureTable(ctx context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tables[table] {
		return nil
	}
	if err := s.profiles.EnsureTable(ctx, table); err != nil {
		return err
	}
	s.tables[table] = true
	return nil
}

func (s *PostgresSink) Upsert(ctx context.Context, table string, p *models.Profile) (crawl.Outcome, error) {
	if err := validate(table, p); err != nil {
		return 0, err
	}
	if err := s.ensureTable(ctx, table); err != nil {
		return 0, err
	}

	outcome := crawl.OutcomeUpdated
	err := s.db.Transaction(ctx, func(tx pgx.Tx) error {
		inserted, err := s.profiles.UpsertWithTx(ctx, tx, table, p)
		if err != nil {
			return err
		}
		if inserted {
			outcome = crawl.OutcomeInserted
		}

		return s.publisher.PublishWithTx(ctx, tx, &events.ProfileUpsertedPayload{
			Table:   table,
			Outcome: outcome.String(),
			Profile: p,
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store profile %s: %w", p.SourceURL, err)
	}

	s.logger.Debug("profile stored", "table", table, "source_url", p.SourceURL, "outcome", outcome)
	return outcome, nil
}
