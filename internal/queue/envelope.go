// Package queue holds the wire format shared by every outbox publisher and the
// message-created consumer.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"courier/internal/domain"
)

// AttrEventType names the message attribute or header carrying the event type.
const AttrEventType = "event_type"

// Envelope is the JSON body of every published event.
type Envelope struct {
	ID        string           `json:"id"`
	EntityID  string           `json:"entity_id"`
	EventType domain.EventType `json:"event_type"`
	Payload   json.RawMessage  `json:"payload"`
	Actor     domain.Actor     `json:"actor"`
	CreatedAt time.Time        `json:"created_at"`
}

func FromEvent(e domain.Event) Envelope {
	return Envelope{
		ID:        e.ID,
		EntityID:  e.EntityID,
		EventType: e.EventType,
		Payload:   domain.RawJSON(e.Payload),
		Actor:     e.Actor,
		CreatedAt: e.CreatedAt,
	}
}

func (e Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", e.ID, err)
	}
	return b, nil
}

func Decode(body []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return e, fmt.Errorf("decode envelope: %w", err)
	}
	if e.ID == "" || e.EventType == "" {
		return e, fmt.Errorf("decode envelope: missing id or event_type")
	}
	return e, nil
}

// Publisher delivers a batch of envelopes. A nil error means every envelope
// was accepted. On error the whole batch is sent again later, so consumers
// dedupe on the envelope id.
type Publisher interface {
	Publish(ctx context.Context, batch []Envelope) error
}

// Chunks splits batch into slices of at most size envelopes.
func Chunks(batch []Envelope, size int) [][]Envelope {
	var out [][]Envelope
	for size < len(batch) {
		batch, out = batch[size:], append(out, batch[:size])
	}
	if len(batch) > 0 {
		out = append(out, batch)
	}
	return out
}
