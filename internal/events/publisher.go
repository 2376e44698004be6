package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/expert-scraper/internal/database"
	"github.com/maltedev/expert-scraper/internal/models"
)

type EventType string

const (
	// EventTypeProfileUpserted is written whenever a sink stores a profile.
	EventTypeProfileUpserted EventType = "PROFILE_UPSERTED"

	AggregateProfile = "profile"
)

// ProfileUpsertedPayload is the body of a PROFILE_UPSERTED event.
type ProfileUpsertedPayload struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Table     string          `json:"table"`
	Outcome   string          `json:"outcome"`
	Profile   *models.Profile `json:"profile"`
	Source    string          `json:"source"`
}

// OutboxWriter adds events to the outbox inside an open transaction.
type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher writes profile events through the transactional outbox, so an
// event exists exactly when the profile change it describes was committed.
type Publisher struct {
	outbox OutboxWriter
	logger *slog.Logger
}

func NewPublisher(outbox OutboxWriter, logger *slog.Logger) *Publisher {
	return &Publisher{
		outbox: outbox,
		logger: logger.With("component", "event_publisher"),
	}
}

// NewProfileUpserted fills in event metadata and wraps the payload in an
// outbox event addressed to the profile stream.
func NewProfileUpserted(payload *ProfileUpsertedPayload) (*database.OutboxEvent, error) {
	if payload.Profile == nil || payload.Profile.SourceURL == "" {
		return nil, fmt.Errorf("%w: profile source URL is required", database.ErrInvalidEvent)
	}

	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeProfileUpserted)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	if payload.Source == "" {
		payload.Source = database.StreamSource
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: AggregateProfile,
		AggregateID:   payload.Profile.SourceURL,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  database.ProfileStream,
	}, nil
}

// PublishWithTx records the event in tx. The caller commits.
func (p *Publisher) PublishWithTx(ctx context.Context, tx pgx.Tx, payload *ProfileUpsertedPayload) error {
	event, err := NewProfileUpserted(payload)
	if err != nil {
		return err
	}

	if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event written to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"source_url", payload.Profile.SourceURL,
		"outbox_id", event.ID,
	)

	return nil
}
