package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/expert-scraper/internal/database"
	"github.com/maltedev/expert-scraper/internal/models"
)

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

func testProfile() *models.Profile {
	p := models.NewProfile("https://www.csu.edu.au/research/gulbali/find-experts/jane", "charles-sturt")
	p.FullName = "Jane Citizen"
	p.Title = "Dr"
	return p
}

func TestNewProfileUpserted(t *testing.T) {
	payload := &ProfileUpsertedPayload{
		Table:   "original_charles_sturt_university",
		Outcome: "inserted",
		Profile: testProfile(),
	}

	event, err := NewProfileUpserted(payload)
	require.NoError(t, err)

	assert.Equal(t, AggregateProfile, event.AggregateType)
	assert.Equal(t, payload.Profile.SourceURL, event.AggregateID)
	assert.Equal(t, string(EventTypeProfileUpserted), event.EventType)
	assert.Equal(t, database.ProfileStream, event.TargetStream)
	assert.NotEmpty(t, payload.EventID)
	assert.False(t, payload.Timestamp.IsZero())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	assert.Equal(t, "original_charles_sturt_university", decoded["table"])
	assert.Equal(t, database.StreamSource, decoded["source"])

	profile, ok := decoded["profile"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Jane Citizen", profile["full_name"])
}

func TestNewProfileUpserted_RequiresProfile(t *testing.T) {
	_, err := NewProfileUpserted(&ProfileUpsertedPayload{})
	assert.ErrorIs(t, err, database.ErrInvalidEvent)

	_, err = NewProfileUpserted(&ProfileUpsertedPayload{Profile: &models.Profile{FullName: "x"}})
	assert.ErrorIs(t, err, database.ErrInvalidEvent)
}

func TestPublisher_PublishWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("writes to outbox", func(t *testing.T) {
		outbox := new(MockOutbox)
		outbox.On("InsertWithTx", ctx, nil, mock.MatchedBy(func(e *database.OutboxEvent) bool {
			return e.EventType == "PROFILE_UPSERTED" && e.AggregateID == testProfile().SourceURL
		})).Return(nil)

		pub := NewPublisher(outbox, slog.Default())
		err := pub.PublishWithTx(ctx, nil, &ProfileUpsertedPayload{Profile: testProfile(), Outcome: "updated"})
		require.NoError(t, err)
		outbox.AssertExpectations(t)
	})

	t.Run("wraps outbox failure", func(t *testing.T) {
		outbox := new(MockOutbox)
		outbox.On("InsertWithTx", ctx, nil, mock.Anything).Return(assert.AnError)

		pub := NewPublisher(outbox, slog.Default())
		err := pub.PublishWithTx(ctx, nil, &ProfileUpsertedPayload{Profile: testProfile()})
		assert.ErrorIs(t, err, assert.AnError)
		assert.ErrorContains(t, err, "failed to publish event")
	})
}
