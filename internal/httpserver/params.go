package httpserver

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"courier/internal/domain"
	"courier/internal/store"
)

type paramError struct{ name string }

func (e *paramError) Error() string { return fmt.Sprintf("%s: %s", ErrInvalidQuery, e.name) }

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, &paramError{name: "id"}
	}
	return id, nil
}

// params reads optional filters from the query string and keeps the first
// malformed one.
type params struct {
	q   url.Values
	err error
}

func queryParams(r *http.Request) *params { return &params{q: r.URL.Query()} }

func (p *params) fail(name string) {
	if p.err == nil {
		p.err = &paramError{name: name}
	}
}

func (p *params) uuid(name string) *uuid.UUID {
	v := p.q.Get(name)
	if v == "" {
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		p.fail(name)
		return nil
	}
	return &id
}

func (p *params) bool(name string) *bool {
	v := p.q.Get(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(name)
		return nil
	}
	return &b
}

func (p *params) int(name string) *int {
	v := p.q.Get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(name)
		return nil
	}
	return &n
}

func (p *params) str(name string) *string {
	if v := p.q.Get(name); v != "" {
		return &v
	}
	return nil
}

func (p *params) code(name string) *domain.Code {
	if v := p.str(name); v != nil {
		c := domain.Code(*v)
		return &c
	}
	return nil
}

func (p *params) dispatchType(name string) *domain.DispatchType {
	v := p.q.Get(name)
	if v == "" {
		return nil
	}
	dt, err := domain.ParseDispatchType(v)
	if err != nil {
		p.fail(name)
		return nil
	}
	return &dt
}

func (p *params) messageStatus(name string) *domain.MessageStatus {
	v := p.q.Get(name)
	switch s := domain.MessageStatus(v); s {
	case "":
		return nil
	case domain.MessagePending, domain.MessageDistributed, domain.MessageFailed:
		return &s
	}
	p.fail(name)
	return nil
}

func (p *params) page() store.Page {
	var pg store.Page
	if n := p.int("limit"); n != nil {
		pg.Limit = *n
	}
	if n := p.int("offset"); n != nil {
		pg.Offset = *n
	}
	return pg
}
