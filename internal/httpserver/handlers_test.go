package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/connector/connectortest"
	"courier/internal/domain"
	"courier/internal/service/servicetest"
)

func newTestServer(t *testing.T) (*servicetest.Env, http.Handler) {
	t.Helper()
	env := servicetest.New(t, connectortest.New("fake"))
	srv := New(1<<20, func(context.Context) error { return nil })
	(&API{Commands: env.Commands, Queries: env.Queries}).Register(srv.Mux)
	return env, srv.Mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set(ActorHeader, "ops@example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestBusinessUnitLifecycle(t *testing.T) {
	env, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/v1/business-units", `{"code":"WINE","name":"Wine shop","vars":{"brand":"WINE"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bu := decode[domain.BusinessUnit](t, rec)
	assert.Equal(t, domain.Code("WINE"), bu.Code)

	rec = do(t, h, http.MethodGet, "/v1/business-units/"+bu.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bu.ID, decode[domain.BusinessUnit](t, rec).ID)

	rec = do(t, h, http.MethodPatch, "/v1/business-units/"+bu.ID.String(), `{"name":"Wine & spirits"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.Name("Wine & spirits"), decode[domain.BusinessUnit](t, rec).Name)

	rec = do(t, h, http.MethodGet, "/v1/business-units?code=WINE", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.BusinessUnit](t, rec), 1)

	audits := env.DB.AuditLogs()
	require.NotEmpty(t, audits)
	assert.Equal(t, domain.Actor("ops@example.com"), audits[len(audits)-1].Actor)
}

func TestErrorMapping(t *testing.T) {
	_, h := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/business-units", `{"code":"WINE","name":"Wine"}`).Code)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"duplicate code", http.MethodPost, "/v1/business-units", `{"code":"WINE","name":"Again"}`, http.StatusConflict},
		{"malformed json", http.MethodPost, "/v1/business-units", `{"code":`, http.StatusBadRequest},
		{"invalid code", http.MethodPost, "/v1/business-units", `{"code":"no spaces allowed","name":"x"}`, http.StatusUnprocessableEntity},
		{"unknown id", http.MethodGet, "/v1/business-units/7f1a0e52-0000-4000-8000-000000000000", "", http.StatusNotFound},
		{"bad id", http.MethodGet, "/v1/business-units/nope", "", http.StatusBadRequest},
		{"bad filter", http.MethodGet, "/v1/message-types?enabled=maybe", "", http.StatusBadRequest},
		{"bad status", http.MethodGet, "/v1/messages?status=lost", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestValidationErrorListsFields(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/v1/connections", `{"name":"conn","plugin_id":"fake","properties":{"token":1}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body := decode[errorBody](t, rec)
	require.NotEmpty(t, body.Fields)
	assert.Equal(t, "properties.token", body.Fields[0].Field)
}

func TestMessageEndpoints(t *testing.T) {
	env, h := newTestServer(t)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")

	rec := do(t, h, http.MethodPost, "/v1/messages", `{
		"schema_id": "`+cat.Schema.ID.String()+`",
		"payload": {"order_id": "W-42", "total": 99.5},
		"recipient": {"email": "jane@example.com"},
		"dispatch_types": ["email"]
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	msg := decode[domain.Message](t, rec)
	assert.Equal(t, domain.MessagePending, msg.Status)

	rec = do(t, h, http.MethodGet, "/v1/messages?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Message](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/v1/messages/"+msg.ID.String()+"/dispatches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]domain.MessageDispatch](t, rec))

	rec = do(t, h, http.MethodPost, "/v1/messages", `{"schema_id":"`+cat.Schema.ID.String()+`","payload":{"total":1},"recipient":{"email":"jane@example.com"},"dispatch_types":["email"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestTemplateActivation(t *testing.T) {
	env, h := newTestServer(t)
	cat := env.Catalog(t, "WINE", "ORDER_CONFIRM")
	first := env.EmailTemplate(t, cat, "one", "1")

	rec := do(t, h, http.MethodPost, "/v1/templates", `{
		"schema_id": "`+cat.Schema.ID.String()+`",
		"dispatch_type": "email",
		"name": "second",
		"content": {"subject": "two", "text": "2"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decode[domain.Template](t, rec)
	assert.False(t, second.Active)

	rec = do(t, h, http.MethodPost, "/v1/templates/"+second.ID.String()+"/activate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/templates?active=true&dispatch_type=email&schema_id="+cat.Schema.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode[[]domain.Template](t, rec)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
	assert.NotEqual(t, first.ID, active[0].ID)
}

func TestPluginsAndHealth(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/v1/plugins", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var plugins []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plugins))
	require.Len(t, plugins, 1)
	assert.Equal(t, "fake", plugins[0].ID)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)

	down := New(0, func(context.Context) error { return errors.New("db down") })
	assert.Equal(t, http.StatusServiceUnavailable, do(t, down.Mux, http.MethodGet, "/readyz", "").Code)
}
