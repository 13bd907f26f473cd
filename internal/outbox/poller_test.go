package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/domain"
	"courier/internal/queue"
	"courier/internal/store/memory"
	"courier/internal/util"
)

type recordingPublisher struct {
	batches [][]queue.Envelope
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, batch []queue.Envelope) error {
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, batch)
	return nil
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func seedEvents(t *testing.T, db *memory.Store, types ...domain.EventType) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	for i, et := range types {
		require.NoError(t, tx.InsertEvent(ctx, domain.Event{
			ID:        util.NewEventID(),
			EntityID:  "entity",
			EventType: et,
			Payload:   []byte(`{}`),
			Actor:     domain.SystemActor,
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, tx.Commit(ctx))
}

func TestPollOncePublishesAllowedAndSkipsTheRest(t *testing.T) {
	db := memory.New()
	seedEvents(t, db, domain.EventMessageCreated, domain.EventSchemaCreated, domain.EventMessageCreated)
	pub := &recordingPublisher{}
	p := &Poller{
		DB:          db,
		Publisher:   pub,
		Publishable: ParseEventTypes([]string{"message_created"}),
		MaxEvents:   10,
		Now:         func() time.Time { return t0.Add(time.Minute) },
	}

	res, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Published: 2, Skipped: 1}, res)

	require.Len(t, pub.batches, 1)
	require.Len(t, pub.batches[0], 2)
	assert.True(t, pub.batches[0][0].CreatedAt.Before(pub.batches[0][1].CreatedAt))

	for _, e := range db.Events() {
		require.NotNil(t, e.ConsumedAt)
		require.NotNil(t, e.Skipped)
		assert.Equal(t, e.EventType != domain.EventMessageCreated, *e.Skipped)
	}

	res, err = p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.Len(t, pub.batches, 1)
}

func TestPublishFailureLeavesEventsForNextCycle(t *testing.T) {
	db := memory.New()
	seedEvents(t, db, domain.EventMessageCreated, domain.EventSchemaCreated)
	pub := &recordingPublisher{err: errors.New("broker down")}
	p := &Poller{DB: db, Publisher: pub, Publishable: ParseEventTypes([]string{"message_created"})}

	_, err := p.PollOnce(context.Background())
	require.Error(t, err)
	for _, e := range db.Events() {
		assert.Nil(t, e.ConsumedAt)
	}

	pub.err = nil
	res, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Published: 1, Skipped: 1}, res)
}

func TestMaxEventsBoundsACycle(t *testing.T) {
	db := memory.New()
	seedEvents(t, db, domain.EventMessageCreated, domain.EventMessageCreated, domain.EventMessageCreated)
	pub := &recordingPublisher{}
	p := &Poller{DB: db, Publisher: pub, MaxEvents: 2}

	res, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)

	res, err = p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
}

func TestEmptyAllowListPublishesEverything(t *testing.T) {
	db := memory.New()
	seedEvents(t, db, domain.EventSchemaCreated)
	pub := &recordingPublisher{}
	p := &Poller{DB: db, Publisher: pub}

	res, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Published: 1}, res)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{DB: memory.New(), Publisher: &recordingPublisher{}, Interval: time.Millisecond}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	assert.ErrorIs(t, p.Run(ctx), context.Canceled)
}
