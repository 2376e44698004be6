package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/expert-scraper/internal/database"
)

// StreamClient is the subset of the Redis client a Consumer reads with.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Handler receives every decoded PROFILE_UPSERTED event.
type Handler func(ctx context.Context, payload *ProfileUpsertedPayload) error

type ConsumerConfig struct {
	Stream  string
	Group   string
	Name    string
	Count   int64
	Block   time.Duration
	Backoff time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Stream:  database.ProfileStream,
		Group:   "profile-consumer-group",
		Name:    "consumer-1",
		Count:   10,
		Block:   5 * time.Second,
		Backoff: time.Second,
	}
}

// Consumer reads profile events from a Redis stream as part of a consumer group.
// A message is acknowledged once the handler accepts it or when it is not a
// profile event at all; handler failures leave it pending for redelivery.
type Consumer struct {
	client  StreamClient
	handler Handler
	config  ConsumerConfig
	logger  *slog.Logger
}

func NewConsumer(client StreamClient, handler Handler, logger *slog.Logger, config ConsumerConfig) *Consumer {
	defaults := DefaultConsumerConfig()
	if config.Stream == "" {
		config.Stream = defaults.Stream
	}
	if config.Group == "" {
		config.Group = defaults.Group
	}
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.Count <= 0 {
		config.Count = defaults.Count
	}
	if config.Block <= 0 {
		config.Block = defaults.Block
	}
	if config.Backoff <= 0 {
		config.Backoff = defaults.Backoff
	}

	return &Consumer{
		client:  client,
		handler: handler,
		config:  config,
		logger:  logger.With("component", "profile_consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.config.Stream, c.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("consumer started", "stream", c.config.Stream, "group", c.config.Group)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return ctx.Err()
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.config.Group,
			Consumer: c.config.Name,
			Streams:  []string{c.config.Stream, ">"},
			Count:    c.config.Count,
			Block:    c.config.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.Backoff):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if err := c.handle(ctx, msg); err != nil {
					c.logger.Error("failed to process message", "id", msg.ID, "error", err)
					continue
				}
				if err := c.client.XAck(ctx, stream.Stream, c.config.Group, msg.ID).Err(); err != nil {
					c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
				}
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	if eventType, _ := msg.Values["event_type"].(string); eventType != string(EventTypeProfileUpserted) {
		return nil
	}

	payload, err := DecodeMessage(msg)
	if err != nil {
		return err
	}

	c.logger.Debug("profile event received",
		"id", msg.ID,
		"table", payload.Table,
		"source_url", payload.Profile.SourceURL)

	return c.handler(ctx, payload)
}

// DecodeMessage extracts the profile payload from a relayed stream message.
func DecodeMessage(msg redis.XMessage) (*ProfileUpsertedPayload, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing data in message %s", database.ErrInvalidEvent, msg.ID)
	}

	var envelope struct {
		Payload *ProfileUpsertedPayload `json:"payload"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse message %s: %w", msg.ID, err)
	}
	if envelope.Payload == nil || envelope.Payload.Profile == nil || envelope.Payload.Profile.SourceURL == "" {
		return nil, fmt.Errorf("%w: message %s has no profile", database.ErrInvalidEvent, msg.ID)
	}

	return envelope.Payload, nil
}
