package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/domain"
	"courier/internal/store"
)

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	bu := domain.BusinessUnit{ID: uuid.New(), Code: "WINE", Name: "Wine", CreatedAt: time.Now()}
	require.NoError(t, tx.InsertBusinessUnit(ctx, bu))
	require.NoError(t, tx.InsertEvent(ctx, domain.Event{ID: "evt_1"}))
	require.NoError(t, tx.Rollback(ctx))

	conn, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()
	_, err = conn.GetBusinessUnit(ctx, bu.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, s.Events())
}

func TestCommitPublishesWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	bu := domain.BusinessUnit{ID: uuid.New(), Code: "WINE", Name: "Wine"}
	require.NoError(t, tx.InsertBusinessUnit(ctx, bu))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")

	conn, err := s.Acquire(ctx)
	require.NoError(t, err)
	got, err := conn.GetBusinessUnit(ctx, bu.ID)
	conn.Release()
	require.NoError(t, err)
	assert.Equal(t, bu.Code, got.Code)
}

func TestBeginHonoursContext(t *testing.T) {
	s := New()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUniqueKeys(t *testing.T) {
	ctx := context.Background()
	st := newState()

	bu := domain.BusinessUnit{ID: uuid.New(), Code: "WINE"}
	require.NoError(t, st.InsertBusinessUnit(ctx, bu))
	err := st.InsertBusinessUnit(ctx, domain.BusinessUnit{ID: uuid.New(), Code: "WINE"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	mt := domain.MessageType{ID: uuid.New(), BusinessUnitID: bu.ID, Code: "ORDER"}
	require.NoError(t, st.InsertMessageType(ctx, mt))
	err = st.InsertMessageType(ctx, domain.MessageType{ID: uuid.New(), BusinessUnitID: bu.ID, Code: "ORDER"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	r := domain.Route{ID: uuid.New(), SchemaID: uuid.New(), ChannelID: uuid.New()}
	require.NoError(t, st.InsertRoute(ctx, r))
	err = st.InsertRoute(ctx, domain.Route{ID: uuid.New(), SchemaID: r.SchemaID, ChannelID: r.ChannelID})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestNextSchemaVersion(t *testing.T) {
	ctx := context.Background()
	st := newState()
	mt := domain.MessageType{ID: uuid.New(), Code: "ORDER"}
	require.NoError(t, st.InsertMessageType(ctx, mt))

	for want := 1; want <= 3; want++ {
		v, err := st.NextSchemaVersion(ctx, mt.ID)
		require.NoError(t, err)
		assert.Equal(t, want, v)
		require.NoError(t, st.InsertSchema(ctx, domain.Schema{ID: uuid.New(), MessageTypeID: mt.ID, Version: v}))
	}

	_, err := st.NextSchemaVersion(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChannelStackOrderAndFilters(t *testing.T) {
	ctx := context.Background()
	st := newState()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	buID, mtID, schID := uuid.New(), uuid.New(), uuid.New()

	live := domain.Connection{ID: uuid.New(), Enabled: true}
	dead := domain.Connection{ID: uuid.New(), Enabled: false}
	require.NoError(t, st.InsertConnection(ctx, live))
	require.NoError(t, st.InsertConnection(ctx, dead))

	add := func(prio int, conn uuid.UUID, dt domain.DispatchType, chEnabled, routeEnabled bool, at time.Time) {
		ch := domain.Channel{ID: uuid.New(), BusinessUnitID: buID, ConnectionID: conn, DispatchType: dt, Priority: prio, Enabled: chEnabled, CreatedAt: at}
		require.NoError(t, st.InsertChannel(ctx, ch))
		require.NoError(t, st.InsertRoute(ctx, domain.Route{
			ID: uuid.New(), SchemaID: schID, ChannelID: ch.ID, BusinessUnitID: buID, MessageTypeID: mtID,
			ConnectionID: conn, Enabled: routeEnabled,
		}))
	}
	add(3, live.ID, domain.DispatchEmail, true, true, base)
	add(1, live.ID, domain.DispatchEmail, true, true, base.Add(time.Second))
	add(2, live.ID, domain.DispatchEmail, true, true, base)
	add(1, live.ID, domain.DispatchEmail, true, true, base)
	add(0, live.ID, domain.DispatchSMS, true, true, base)
	add(0, dead.ID, domain.DispatchEmail, true, true, base)
	add(0, live.ID, domain.DispatchEmail, false, true, base)
	add(0, live.ID, domain.DispatchEmail, true, false, base)

	stack, err := st.FindChannelStack(ctx, store.ChannelStackQuery{
		BusinessUnitID: buID, MessageTypeID: mtID, SchemaID: schID, DispatchType: domain.DispatchEmail,
	})
	require.NoError(t, err)
	require.Len(t, stack, 4)

	var prios []int
	for _, rc := range stack {
		prios = append(prios, rc.Channel.Priority)
	}
	assert.Equal(t, []int{1, 1, 2, 3}, prios)
	assert.Equal(t, base, stack[0].Channel.CreatedAt, "ties break on channel creation time")
}

func TestTemplateAssignmentsWindowAndPriority(t *testing.T) {
	ctx := context.Background()
	st := newState()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tplID := uuid.New()
	end := now

	low := domain.TemplateAssignment{ID: uuid.New(), Priority: 1, StartAt: now.Add(-time.Hour), Enabled: true, EmailTemplateID: &tplID}
	high := domain.TemplateAssignment{ID: uuid.New(), Priority: 5, StartAt: now.Add(-time.Hour), Enabled: true, EmailTemplateID: &tplID}
	expired := domain.TemplateAssignment{ID: uuid.New(), Priority: 9, StartAt: now.Add(-2 * time.Hour), EndAt: &end, Enabled: true, EmailTemplateID: &tplID}
	smsOnly := domain.TemplateAssignment{ID: uuid.New(), Priority: 7, StartAt: now.Add(-time.Hour), Enabled: true, SMSTemplateID: &tplID}
	for _, a := range []domain.TemplateAssignment{low, high, expired, smsOnly} {
		require.NoError(t, st.InsertTemplateAssignment(ctx, a))
	}

	got, err := st.FindTemplateAssignments(ctx, store.TemplateAssignmentQuery{
		Enabled: store.Ptr(true), At: &now, DispatchType: store.Ptr(domain.DispatchEmail),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, high.ID, got[0].ID)
	assert.Equal(t, low.ID, got[1].ID)
}

func TestMarkEventsConsumed(t *testing.T) {
	ctx := context.Background()
	st := newState()
	t0 := time.Now()
	require.NoError(t, st.InsertEvent(ctx, domain.Event{ID: "evt_b", CreatedAt: t0.Add(time.Millisecond)}))
	require.NoError(t, st.InsertEvent(ctx, domain.Event{ID: "evt_a", CreatedAt: t0}))
	require.NoError(t, st.InsertEvent(ctx, domain.Event{ID: "evt_c", CreatedAt: t0.Add(2 * time.Millisecond)}))

	evs, err := st.FindUnconsumedEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "evt_a", evs[0].ID)

	require.NoError(t, st.MarkEventsConsumed(ctx, []string{"evt_a"}, []string{"evt_b"}, t0))
	evs, err = st.FindUnconsumedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "evt_c", evs[0].ID)

	require.NotNil(t, st.events[0].Skipped)
	assert.True(t, *st.events[0].Skipped, "evt_b was filtered")
	assert.False(t, *st.events[1].Skipped)
}

func TestInsertMessageDispatchOncePerRoute(t *testing.T) {
	ctx := context.Background()
	st := newState()
	d := domain.MessageDispatch{ID: "dsp_1", MessageID: uuid.New(), RouteID: uuid.New()}

	ok, err := st.InsertMessageDispatch(ctx, d)
	require.NoError(t, err)
	assert.True(t, ok)

	d.ID = "dsp_2"
	ok, err = st.InsertMessageDispatch(ctx, d)
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := st.FindMessageDispatches(ctx, d.MessageID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdateMessageStatusRequiresExpectedStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	m := domain.Message{ID: uuid.New(), Status: domain.MessagePending}
	require.NoError(t, tx.InsertMessage(ctx, m))

	now := time.Now().UTC()
	require.NoError(t, tx.UpdateMessageStatus(ctx, m.ID, domain.MessagePending, domain.MessageDistributed, "", now))
	err = tx.UpdateMessageStatus(ctx, m.ID, domain.MessagePending, domain.MessageFailed, "late", now)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := tx.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageDistributed, got.Status)

	err = tx.UpdateMessageStatus(ctx, uuid.New(), domain.MessagePending, domain.MessageFailed, "", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
