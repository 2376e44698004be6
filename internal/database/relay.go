package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamSource identifies this service in published stream metadata.
const StreamSource = "expert-scraper"

type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen caps each stream approximately; zero keeps every entry.
	StreamMaxLen int64
}

// Relay copies profile events from the outbox to Redis streams. Delivery is
// at least once: an event published but not marked processed is sent again.
type Relay struct {
	outbox OutboxRepo
	redis  RedisClient
	config RelayConfig
	logger *slog.Logger
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	return &Relay{
		outbox: outbox,
		redis:  redisClient,
		config: config,
		logger: logger.With("component", "relay"),
	}
}

// Start drains the outbox every poll interval until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("relay started",
		"interval", r.config.PollInterval,
		"batch_size", r.config.BatchSize)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		if n, err := r.drain(ctx); err != nil {
			r.logger.Error("failed to drain outbox", "relayed", n, "error", err)
		} else if n > 0 {
			r.logger.Info("outbox drained", "relayed", n)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain relays batches until a short batch shows the backlog is empty. It
// returns the number of events published.
func (r *Relay) drain(ctx context.Context) (int, error) {
	relayed := 0
	for {
		n, full, err := r.relayBatch(ctx)
		relayed += n
		if err != nil || !full {
			return relayed, err
		}
	}
}

func (r *Relay) relayBatch(ctx context.Context) (int, bool, error) {
	events, err := r.outbox.GetPending(ctx, r.config.BatchSize)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get pending events: %w", err)
	}

	relayed := 0
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return relayed, false, err
		}
		if err := r.relay(ctx, event); err != nil {
			r.logger.Warn("event not relayed",
				"event_id", event.ID,
				"source_url", event.AggregateID,
				"error", err)
			continue
		}
		relayed++
	}

	// A batch with failures is not drained again until the next tick, so
	// events waiting out their retry backoff are not hammered.
	full := len(events) == r.config.BatchSize && relayed == len(events)
	return relayed, full, nil
}

func (r *Relay) relay(ctx context.Context, event *OutboxEvent) error {
	if err := r.publish(ctx, event); err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return nil
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	values, err := streamValues(event)
	if err != nil {
		return err
	}

	stream := event.TargetStream
	if stream == "" {
		stream = ProfileStream
	}

	args := &redis.XAddArgs{Stream: stream, Values: values}
	if r.config.StreamMaxLen > 0 {
		args.MaxLen = r.config.StreamMaxLen
		args.Approx = true
	}

	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// streamValues builds the stream entry: flat routing fields plus a JSON
// envelope carrying the payload and relay metadata.
func streamValues(event *OutboxEvent) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	data, err := json.Marshal(map[string]any{
		"id":             event.ID.String(),
		"type":           event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"timestamp":      event.CreatedAt.Format(time.RFC3339),
		"payload":        payload,
		"metadata": map[string]any{
			"source":        StreamSource,
			"outbox_id":     event.ID.String(),
			"retry_count":   event.RetryCount,
			"target_stream": event.TargetStream,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream data: %w", err)
	}

	return map[string]any{
		"data":           string(data),
		"timestamp":      strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
		"original_id":    event.ID.String(),
		"aggregate_id":   event.AggregateID,
		"aggregate_type": event.AggregateType,
		"event_type":     event.EventType,
	}, nil
}
