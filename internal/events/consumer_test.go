package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/expert-scraper/internal/database"
)

type fakeStream struct {
	groupErr error
	batches  [][]redis.XMessage
	cancel   context.CancelFunc
	reads    int
	acked    []string
}

func (f *fakeStream) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", f.groupErr)
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.reads++
	if len(f.batches) == 0 {
		f.cancel()
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: a.Streams[0], Messages: batch}}, nil)
}

func (f *fakeStream) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.acked = append(f.acked, ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func relayedMessage(t *testing.T, id, sourceURL string) redis.XMessage {
	t.Helper()

	profile := testProfile()
	profile.SourceURL = sourceURL
	payload, err := json.Marshal(&ProfileUpsertedPayload{
		EventType: string(EventTypeProfileUpserted),
		Table:     "original_charles_sturt_university",
		Outcome:   "inserted",
		Profile:   profile,
		Source:    database.StreamSource,
	})
	require.NoError(t, err)

	data, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    string(EventTypeProfileUpserted),
		"payload": json.RawMessage(payload),
	})
	require.NoError(t, err)

	return redis.XMessage{
		ID: id,
		Values: map[string]any{
			"data":       string(data),
			"event_type": string(EventTypeProfileUpserted),
		},
	}
}

func TestDecodeMessage(t *testing.T) {
	payload, err := DecodeMessage(relayedMessage(t, "1-0", "https://example.edu/experts/jane"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.edu/experts/jane", payload.Profile.SourceURL)
	assert.Equal(t, "Jane Citizen", payload.Profile.FullName)
	assert.Equal(t, "inserted", payload.Outcome)

	_, err = DecodeMessage(redis.XMessage{ID: "2-0", Values: map[string]any{}})
	assert.ErrorIs(t, err, database.ErrInvalidEvent)

	_, err = DecodeMessage(redis.XMessage{ID: "3-0", Values: map[string]any{"data": `{"payload":{}}`}})
	assert.ErrorIs(t, err, database.ErrInvalidEvent)
}

func TestConsumer_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other := redis.XMessage{ID: "2-0", Values: map[string]any{"event_type": "SOMETHING_ELSE"}}
	stream := &fakeStream{
		cancel: cancel,
		batches: [][]redis.XMessage{
			{relayedMessage(t, "1-0", "https://example.edu/experts/jane"), other},
			{relayedMessage(t, "3-0", "https://example.edu/experts/fail")},
		},
	}

	var seen []string
	handler := func(ctx context.Context, p *ProfileUpsertedPayload) error {
		if p.Profile.SourceURL == "https://example.edu/experts/fail" {
			return errors.New("downstream unavailable")
		}
		seen = append(seen, p.Profile.SourceURL)
		return nil
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	consumer := NewConsumer(stream, handler, logger, ConsumerConfig{})

	err := consumer.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"https://example.edu/experts/jane"}, seen)
	assert.Equal(t, []string{"1-0", "2-0"}, stream.acked)
	assert.Equal(t, 3, stream.reads)
}

func TestConsumer_ExistingGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &fakeStream{
		cancel:   cancel,
		groupErr: errors.New("BUSYGROUP Consumer Group name already exists"),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	consumer := NewConsumer(stream, func(context.Context, *ProfileUpsertedPayload) error { return nil }, logger, ConsumerConfig{})

	assert.ErrorIs(t, consumer.Run(ctx), context.Canceled)

	stream = &fakeStream{cancel: cancel, groupErr: errors.New("connection refused")}
	consumer = NewConsumer(stream, func(context.Context, *ProfileUpsertedPayload) error { return nil }, logger, ConsumerConfig{})
	err := consumer.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer group")
}
