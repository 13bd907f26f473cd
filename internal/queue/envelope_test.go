package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/domain"
)

func TestEnvelopeFromEvent(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	env := FromEvent(domain.Event{
		ID:        "evt_1",
		EntityID:  "m1",
		EventType: domain.EventMessageCreated,
		Payload:   []byte(`{"message_id":"m1"}`),
		Actor:     domain.SystemActor,
		CreatedAt: at,
	})
	body, err := env.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "evt_1",
		"entity_id": "m1",
		"event_type": "message_created",
		"payload": {"message_id": "m1"},
		"actor": "system",
		"created_at": "2024-03-01T10:00:00Z"
	}`, string(body))

	got, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.EventType, got.EventType)
}

func TestDecodeRejectsIncompleteEnvelopes(t *testing.T) {
	for _, body := range []string{`not json`, `{}`, `{"id":"evt_1"}`, `{"event_type":"message_created"}`} {
		_, err := Decode([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestChunks(t *testing.T) {
	batch := make([]Envelope, 25)
	chunks := Chunks(batch, 10)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[2], 5)
	assert.Empty(t, Chunks(nil, 10))
	assert.Len(t, Chunks(batch[:10], 10), 1)
}
