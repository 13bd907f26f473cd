package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/bus"
	"courier/internal/connector/connectortest"
	"courier/internal/domain"
	"courier/internal/service"
	"courier/internal/service/servicetest"
	"courier/internal/store"
)

func TestCreateSchemaAssignsConsecutiveVersionsUnderConcurrency(t *testing.T) {
	env := servicetest.New(t)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")
	require.Equal(t, 1, cat.Schema.Version)

	js, err := domain.NewJSONSchema(json.RawMessage(`{"type":"object"}`))
	require.NoError(t, err)

	const n = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions []int
		errs     []error
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := bus.Execute[service.CreateSchema, domain.Schema](context.Background(), env.Commands, "tester", service.CreateSchema{
				MessageTypeID: cat.MessageType.ID,
				JSONSchema:    js,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			versions = append(versions, s.Version)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	sort.Ints(versions)
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7}, versions)
}

func TestPublishedSchemaKeepsItsContract(t *testing.T) {
	env := servicetest.New(t)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")

	js, err := domain.NewJSONSchema(json.RawMessage(`{"type":"object"}`))
	require.NoError(t, err)
	_, err = bus.Execute[service.UpdateSchema, domain.Schema](context.Background(), env.Commands, "tester", service.UpdateSchema{
		ID:         cat.Schema.ID,
		JSONSchema: &js,
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Flags stay editable.
	disabled := false
	s := servicetest.Exec[service.UpdateSchema, domain.Schema](t, env, service.UpdateSchema{ID: cat.Schema.ID, Enabled: &disabled})
	assert.False(t, s.Enabled)
	assert.True(t, s.Published)
}

func TestDuplicateCodesConflict(t *testing.T) {
	env := servicetest.New(t)
	env.Catalog(t, "WINE", "ORDER_CONFIRM")

	_, err := bus.Execute[service.CreateBusinessUnit, domain.BusinessUnit](context.Background(), env.Commands, "tester", service.CreateBusinessUnit{
		Code: "WINE", Name: "again",
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = bus.Execute[service.CreateBusinessUnit, domain.BusinessUnit](context.Background(), env.Commands, "tester", service.CreateBusinessUnit{
		Code: "not a code!", Name: "",
	})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Fields, 2)
}

func TestOnlyOneActiveTemplatePerSchemaAndMedium(t *testing.T) {
	env := servicetest.New(t)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")
	first := env.EmailTemplate(t, cat, "Order {{.Payload.order_id}}", "Thanks")
	second := env.EmailTemplate(t, cat, "Your order {{.Payload.order_id}}", "Thanks again")

	active := func() []uuid.UUID {
		ts, err := bus.Ask[service.ListTemplates, []domain.Template](context.Background(), env.Queries, "tester", service.ListTemplates{
			TemplateQuery: store.TemplateQuery{SchemaID: &cat.Schema.ID, Active: store.Ptr(true)},
		})
		require.NoError(t, err)
		ids := make([]uuid.UUID, 0, len(ts))
		for _, tpl := range ts {
			ids = append(ids, tpl.ID)
		}
		return ids
	}
	assert.Equal(t, []uuid.UUID{second.ID}, active())

	servicetest.Exec[service.ActivateTemplate, domain.Template](t, env, service.ActivateTemplate{ID: first.ID})
	assert.Equal(t, []uuid.UUID{first.ID}, active())

	// An SMS template does not compete with the email ones.
	servicetest.Exec[service.CreateTemplate, domain.Template](t, env, service.CreateTemplate{
		SchemaID: cat.Schema.ID, DispatchType: domain.DispatchSMS, Name: "order sms",
		Content: domain.TemplateContent{Text: "Order {{.Payload.order_id}}"}, Active: true,
	})
	assert.Len(t, active(), 2)
}

func TestTemplateContentIsChecked(t *testing.T) {
	env := servicetest.New(t)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")

	cases := map[string]domain.TemplateContent{
		"missing subject":  {Text: "hi"},
		"unparsable text":  {Subject: "s", Text: "{{.Payload.order_id"},
		"unparsable html":  {Subject: "s", HTML: "<p>{{if}}</p>"},
		"empty email body": {Subject: "s"},
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := bus.Execute[service.CreateTemplate, domain.Template](context.Background(), env.Commands, "tester", service.CreateTemplate{
				SchemaID: cat.Schema.ID, DispatchType: domain.DispatchEmail, Name: "broken", Content: content,
			})
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestTemplateAssignmentChecksTemplates(t *testing.T) {
	env := servicetest.New(t)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")
	other := env.Catalog(t, "BEER", "ORDER_CONFIRM")
	own := env.EmailTemplate(t, cat, "s", "t")
	foreign := env.EmailTemplate(t, other, "s", "t")

	ctx := context.Background()
	exec := func(cmd service.CreateTemplateAssignment) error {
		_, err := bus.Execute[service.CreateTemplateAssignment, domain.TemplateAssignment](ctx, env.Commands, "tester", cmd)
		return err
	}

	base := service.CreateTemplateAssignment{BusinessUnitID: cat.BusinessUnit.ID, MessageTypeID: cat.MessageType.ID}

	assert.ErrorIs(t, exec(base), domain.ErrValidation, "no template ids")

	wrongMedium := base
	wrongMedium.SMSTemplateID = servicetest.Ref(own.ID)
	assert.ErrorIs(t, exec(wrongMedium), domain.ErrValidation)

	wrongType := base
	wrongType.EmailTemplateID = servicetest.Ref(foreign.ID)
	assert.ErrorIs(t, exec(wrongType), domain.ErrValidation)

	backwards := base
	backwards.EmailTemplateID = servicetest.Ref(own.ID)
	start := servicetest.Now
	end := start.Add(-1)
	backwards.StartAt, backwards.EndAt = &start, &end
	assert.ErrorIs(t, exec(backwards), domain.ErrValidation)

	ok := base
	ok.EmailTemplateID = servicetest.Ref(own.ID)
	require.NoError(t, exec(ok))
}

func TestCreateMessage(t *testing.T) {
	env := servicetest.New(t)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")

	m := env.Message(t, cat, `{"order_id":"A-1","total":12.5}`)
	assert.Equal(t, domain.MessagePending, m.Status)
	assert.Equal(t, cat.BusinessUnit.ID, m.BusinessUnitID)
	assert.Equal(t, cat.MessageType.ID, m.MessageTypeID)

	var created []domain.Event
	for _, ev := range env.DB.Events() {
		if ev.EventType == domain.EventMessageCreated {
			created = append(created, ev)
		}
	}
	require.Len(t, created, 1)
	var payload domain.MessageCreatedPayload
	require.NoError(t, json.Unmarshal(created[0].Payload, &payload))
	assert.Equal(t, m.ID.String(), payload.MessageID)
	assert.Equal(t, m.ID.String(), created[0].EntityID)
}

func TestCreateMessageRejectsBadInput(t *testing.T) {
	env := servicetest.New(t)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")
	js, err := domain.NewJSONSchema(json.RawMessage(servicetest.OrderSchema))
	require.NoError(t, err)
	draft := servicetest.Exec[service.CreateSchema, domain.Schema](t, env, service.CreateSchema{
		MessageTypeID: cat.MessageType.ID, JSONSchema: js,
	})

	valid := service.CreateMessage{
		SchemaID:      cat.Schema.ID,
		Payload:       json.RawMessage(`{"order_id":"A-1"}`),
		Recipient:     domain.Recipient{Email: "jane@example.com"},
		DispatchTypes: []domain.DispatchType{domain.DispatchEmail},
	}
	cases := map[string]func(c *service.CreateMessage){
		"unpublished schema":     func(c *service.CreateMessage) { c.SchemaID = draft.ID },
		"payload breaks schema":  func(c *service.CreateMessage) { c.Payload = json.RawMessage(`{"total":3}`) },
		"payload not json":       func(c *service.CreateMessage) { c.Payload = json.RawMessage(`{`) },
		"missing payload":        func(c *service.CreateMessage) { c.Payload = nil },
		"no dispatch types":      func(c *service.CreateMessage) { c.DispatchTypes = nil },
		"unknown dispatch type":  func(c *service.CreateMessage) { c.DispatchTypes = []domain.DispatchType{"fax"} },
		"no address for medium":  func(c *service.CreateMessage) { c.DispatchTypes = []domain.DispatchType{domain.DispatchSMS} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := valid
			mutate(&cmd)
			_, err := bus.Execute[service.CreateMessage, domain.Message](context.Background(), env.Commands, "tester", cmd)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	t.Run("unknown schema", func(t *testing.T) {
		cmd := valid
		cmd.SchemaID = uuid.New()
		_, err := bus.Execute[service.CreateMessage, domain.Message](context.Background(), env.Commands, "tester", cmd)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("disabled message type", func(t *testing.T) {
		off := false
		servicetest.Exec[service.UpdateMessageType, domain.MessageType](t, env, service.UpdateMessageType{ID: cat.MessageType.ID, Enabled: &off})
		_, err := bus.Execute[service.CreateMessage, domain.Message](context.Background(), env.Commands, "tester", valid)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	msgs, err := bus.Ask[service.ListMessages, []domain.Message](context.Background(), env.Queries, "tester", service.ListMessages{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCreateMessageDedupesMedia(t *testing.T) {
	env := servicetest.New(t)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")

	m := servicetest.Exec[service.CreateMessage, domain.Message](t, env, service.CreateMessage{
		SchemaID:      cat.Schema.ID,
		Payload:       json.RawMessage(`{"order_id":"A-1"}`),
		Recipient:     domain.Recipient{Email: "jane@example.com", Phone: "+1 555 0100"},
		DispatchTypes: []domain.DispatchType{"EMAIL", domain.DispatchSMS, domain.DispatchEmail},
	})
	assert.Equal(t, []domain.DispatchType{domain.DispatchEmail, domain.DispatchSMS}, m.DispatchTypes)
	assert.Equal(t, "+15550100", m.Recipient.Phone)
}

func TestRouteRequiresChannelOfSameBusinessUnit(t *testing.T) {
	fake := connectortest.New("fake")
	env := servicetest.New(t, fake)
	wine := env.Catalog(t, "WINE", "ORDER_CONFIRM")
	beer := env.Catalog(t, "BEER", "ORDER_CONFIRM")
	beerChannel, _ := env.Channel(t, beer, "fake", "beer", 1)

	_, err := bus.Execute[service.CreateRoute, domain.Route](context.Background(), env.Commands, "tester", service.CreateRoute{
		SchemaID:  wine.Schema.ID,
		ChannelID: beerChannel.ID,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRouteDenormalizesAndRejectsDuplicates(t *testing.T) {
	fake := connectortest.New("fake")
	env := servicetest.New(t, fake)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")
	ch, r := env.Channel(t, cat, "fake", "primary", 1)

	assert.Equal(t, cat.BusinessUnit.ID, r.BusinessUnitID)
	assert.Equal(t, cat.MessageType.ID, r.MessageTypeID)
	assert.Equal(t, ch.ConnectionID, r.ConnectionID)

	_, err := bus.Execute[service.CreateRoute, domain.Route](context.Background(), env.Commands, "tester", service.CreateRoute{
		SchemaID: cat.Schema.ID, ChannelID: ch.ID,
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestConnectionAndChannelPropertiesAreValidated(t *testing.T) {
	fake := connectortest.New("fake")
	env := servicetest.New(t, fake)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")
	ctx := context.Background()

	_, err := bus.Execute[service.CreateConnection, domain.Connection](ctx, env.Commands, "tester", service.CreateConnection{
		Name: "nope", PluginID: "missing",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = bus.Execute[service.CreateConnection, domain.Connection](ctx, env.Commands, "tester", service.CreateConnection{
		Name: "bad", PluginID: "fake", Properties: domain.Properties{"token": 5, "extra": "x"},
	})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	fields := map[string]bool{}
	for _, f := range ve.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["properties.token"])
	assert.True(t, fields["properties.extra"])

	conn := servicetest.Exec[service.CreateConnection, domain.Connection](t, env, service.CreateConnection{
		Name: "good", PluginID: "fake", Properties: domain.Properties{"token": "secret"},
	})
	for _, ev := range env.DB.Events() {
		if ev.EventType == domain.EventConnectionCreated {
			assert.NotContains(t, string(ev.Payload), "secret")
		}
	}
	servicetest.Exec[service.UpdateConnection, domain.Connection](t, env, service.UpdateConnection{
		ID: conn.ID, Properties: &domain.Properties{"token": "rotated"},
	})
	var succeeded int
	for _, a := range env.DB.AuditLogs() {
		if a.Command != "connection.create" && a.Command != "connection.update" {
			continue
		}
		assert.NotContains(t, string(a.Payload), "secret")
		assert.NotContains(t, string(a.Payload), "rotated")
		if a.Error == "" {
			succeeded++
			assert.Contains(t, string(a.Payload), `"token":"[redacted]"`)
		}
	}
	assert.Equal(t, 2, succeeded)

	_, err = bus.Execute[service.CreateChannel, domain.Channel](ctx, env.Commands, "tester", service.CreateChannel{
		BusinessUnitID: cat.BusinessUnit.ID, ConnectionID: conn.ID, Name: "c",
		DispatchType: domain.DispatchEmail, Properties: domain.Properties{"sender": true},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFinalizeMessageOnlyFromPending(t *testing.T) {
	env := servicetest.New(t)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")
	m := env.Message(t, cat, `{"order_id":"A-1"}`)

	done := servicetest.Exec[service.FinalizeMessage, domain.Message](t, env, service.FinalizeMessage{
		MessageID: m.ID, Status: domain.MessageDistributed,
	})
	assert.Equal(t, domain.MessageDistributed, done.Status)

	_, err := bus.Execute[service.FinalizeMessage, domain.Message](context.Background(), env.Commands, "tester", service.FinalizeMessage{
		MessageID: m.ID, Status: domain.MessageFailed, Reason: "late",
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := bus.Ask[service.GetMessage, domain.Message](context.Background(), env.Queries, "tester", service.GetMessage{ID: m.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageDistributed, got.Status)

	var distributed int
	for _, ev := range env.DB.Events() {
		if ev.EventType == domain.EventMessageDistributed {
			distributed++
		}
	}
	assert.Equal(t, 1, distributed)
}

func TestRecordDispatchAttemptOncePerRoute(t *testing.T) {
	fake := connectortest.New("fake")
	env := servicetest.New(t, fake)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")
	ch, r := env.Channel(t, cat, "fake", "primary", 1)
	m := env.Message(t, cat, `{"order_id":"A-1"}`)

	attempt := service.RecordDispatchAttempt{
		MessageID: m.ID, RouteID: r.ID, ChannelID: ch.ID,
		DispatchType: domain.DispatchEmail, Status: domain.DispatchFailed, Error: "timeout",
	}
	first := servicetest.Exec[service.RecordDispatchAttempt, service.RecordedDispatch](t, env, attempt)
	assert.True(t, first.Inserted)

	attempt.Status = domain.DispatchSuccess
	second := servicetest.Exec[service.RecordDispatchAttempt, service.RecordedDispatch](t, env, attempt)
	assert.False(t, second.Inserted)

	ds, err := bus.Ask[service.ListMessageDispatches, []domain.MessageDispatch](context.Background(), env.Queries, "tester", service.ListMessageDispatches{MessageID: m.ID})
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, domain.DispatchFailed, ds[0].Status)

	_, err = bus.Ask[service.ListMessageDispatches, []domain.MessageDispatch](context.Background(), env.Queries, "tester", service.ListMessageDispatches{MessageID: uuid.New()})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
