package bus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/bus"
	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/store"
	"courier/internal/store/memory"
)

type createUnit struct {
	Code string `json:"code"`
	Fail bool   `json:"fail"`
}

func (createUnit) CommandName() string { return "test.create_unit" }

type listUnits struct{}

func (listUnits) QueryName() string { return "test.list_units" }

type unregistered struct{}

func (unregistered) CommandName() string { return "test.unregistered" }
func (unregistered) QueryName() string   { return "test.unregistered" }

var fixed = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func createUnitHandler(ctx context.Context, hc bus.HandlerContext, cmd createUnit) (domain.BusinessUnit, error) {
	bu := domain.BusinessUnit{ID: uuid.New(), Code: domain.Code(cmd.Code), Name: "unit", CreatedAt: hc.Now, UpdatedAt: hc.Now}
	if err := hc.Tx.InsertBusinessUnit(ctx, bu); err != nil {
		return domain.BusinessUnit{}, err
	}
	if cmd.Fail {
		return domain.BusinessUnit{}, errors.New("boom after write")
	}
	return bu, nil
}

func newBuses(t *testing.T) (*memory.Store, *bus.CommandBus, *bus.QueryBus) {
	t.Helper()
	db := memory.New()
	reg := connector.NewRegistry()
	cb := bus.NewCommandBus(db, reg)
	cb.SetClock(func() time.Time { return fixed })
	qb := bus.NewQueryBus(db, reg)

	bus.RegisterCommand(cb, bus.Emits(createUnitHandler, func(cmd createUnit, bu domain.BusinessUnit) (domain.EventDraft, bool) {
		return domain.EventDraft{EntityID: bu.ID.String(), Type: domain.EventBusinessUnitCreated, Payload: bu}, true
	}))
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, _ listUnits) ([]domain.BusinessUnit, error) {
		return hc.Tx.FindBusinessUnits(ctx, store.BusinessUnitQuery{})
	})
	return db, cb, qb
}

func TestExecuteWritesAuditAndEventWithMutation(t *testing.T) {
	ctx := context.Background()
	db, cb, qb := newBuses(t)

	bu, err := bus.Execute[createUnit, domain.BusinessUnit](ctx, cb, "alice", createUnit{Code: "WINE"})
	require.NoError(t, err)
	assert.Equal(t, fixed, bu.CreatedAt)

	units, err := bus.Ask[listUnits, []domain.BusinessUnit](ctx, qb, "alice", listUnits{})
	require.NoError(t, err)
	require.Len(t, units, 1)

	audits := db.AuditLogs()
	require.Len(t, audits, 1)
	assert.Equal(t, "test.create_unit", audits[0].Command)
	assert.Equal(t, domain.Actor("alice"), audits[0].Actor)
	assert.Empty(t, audits[0].Error)
	assert.JSONEq(t, `{"code":"WINE","fail":false}`, string(audits[0].Payload))

	events := db.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventBusinessUnitCreated, events[0].EventType)
	assert.Equal(t, bu.ID.String(), events[0].EntityID)
	assert.Equal(t, fixed, events[0].CreatedAt)
	assert.Nil(t, events[0].ConsumedAt)
}

func TestExecuteRollsBackButAuditsFailedCommand(t *testing.T) {
	ctx := context.Background()
	db, cb, qb := newBuses(t)

	_, err := bus.Execute[createUnit, domain.BusinessUnit](ctx, cb, "bob", createUnit{Code: "WINE", Fail: true})
	require.EqualError(t, err, "boom after write")

	units, err := bus.Ask[listUnits, []domain.BusinessUnit](ctx, qb, "bob", listUnits{})
	require.NoError(t, err)
	assert.Empty(t, units, "partial write is rolled back")

	audits := db.AuditLogs()
	require.Len(t, audits, 1)
	assert.Equal(t, "boom after write", audits[0].Error)
	assert.Empty(t, db.Events(), "no event for a failed command")
}

func TestExecuteReturnsDomainErrorsUnchanged(t *testing.T) {
	ctx := context.Background()
	_, cb, _ := newBuses(t)

	_, err := bus.Execute[createUnit, domain.BusinessUnit](ctx, cb, "", createUnit{Code: "WINE"})
	require.NoError(t, err)
	_, err = bus.Execute[createUnit, domain.BusinessUnit](ctx, cb, "", createUnit{Code: "WINE"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUnregisteredRequests(t *testing.T) {
	ctx := context.Background()
	_, cb, qb := newBuses(t)

	_, err := bus.Execute[unregistered, struct{}](ctx, cb, "", unregistered{})
	var nf *bus.HandlerNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "test.unregistered", nf.Name)

	_, err = bus.Ask[unregistered, struct{}](ctx, qb, "", unregistered{})
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "query", nf.Kind)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	_, cb, qb := newBuses(t)
	assert.Panics(t, func() {
		bus.RegisterCommand[createUnit, domain.BusinessUnit](cb, bus.CommandFunc[createUnit, domain.BusinessUnit](createUnitHandler))
	})
	assert.Panics(t, func() {
		bus.RegisterQuery(qb, func(context.Context, bus.HandlerContext, listUnits) (int, error) { return 0, nil })
	})
}

func TestHandlerWithoutEventSourceWritesNoEvent(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	cb := bus.NewCommandBus(db, connector.NewRegistry())
	bus.RegisterCommand[createUnit, domain.BusinessUnit](cb, bus.CommandFunc[createUnit, domain.BusinessUnit](createUnitHandler))

	_, err := bus.Execute[createUnit, domain.BusinessUnit](ctx, cb, "", createUnit{Code: "X"})
	require.NoError(t, err)
	assert.Empty(t, db.Events())
	assert.Len(t, db.AuditLogs(), 1)
}

type rotateKey struct {
	Key string `json:"key"`
}

func (rotateKey) CommandName() string { return "test.rotate_key" }

func (rotateKey) Redacted() any { return rotateKey{Key: "***"} }

func TestAuditStoresRedactedPayload(t *testing.T) {
	ctx := context.Background()
	db, cb, _ := newBuses(t)
	bus.RegisterCommand[rotateKey, string](cb, bus.CommandFunc[rotateKey, string](func(context.Context, bus.HandlerContext, rotateKey) (string, error) {
		return "ok", nil
	}))

	_, err := bus.Execute[rotateKey, string](ctx, cb, "alice", rotateKey{Key: "hunter2"})
	require.NoError(t, err)

	audits := db.AuditLogs()
	require.Len(t, audits, 1)
	assert.JSONEq(t, `{"key":"***"}`, string(audits[0].Payload))
}
