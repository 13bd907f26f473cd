// Package memory is an in-process store.DB. Transactions work on a copy of
// the data and hold a single lock until commit or rollback, so commands are
// serialized.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"courier/internal/domain"
	"courier/internal/store"
)

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := lock(ctx, &s.mu); err != nil {
		return nil, err
	}
	return &tx{state: s.st.clone(), s: s}, nil
}

func (s *Store) Acquire(ctx context.Context) (store.Conn, error) {
	if err := lock(ctx, &s.mu); err != nil {
		return nil, err
	}
	return &conn{state: s.st, s: s}, nil
}

// Events returns a copy of every outbox row, for assertions.
func (s *Store) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.events)
}

func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.audits)
}

func lock(ctx context.Context, mu *sync.Mutex) error {
	for !mu.TryLock() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

type tx struct {
	*state
	s    *Store
	done bool
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.st = t.state
	t.s.mu.Unlock()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

type conn struct {
	*state
	s        *Store
	released bool
}

func (c *conn) Release() {
	if c.released {
		return
	}
	c.released = true
	c.s.mu.Unlock()
}

type state struct {
	businessUnits map[uuid.UUID]domain.BusinessUnit
	messageTypes  map[uuid.UUID]domain.MessageType
	schemas       map[uuid.UUID]domain.Schema
	connections   map[uuid.UUID]domain.Connection
	channels      map[uuid.UUID]domain.Channel
	routes        map[uuid.UUID]domain.Route
	templates     map[uuid.UUID]domain.Template
	assignments   map[uuid.UUID]domain.TemplateAssignment
	messages      map[uuid.UUID]domain.Message
	dispatches    []domain.MessageDispatch
	audits        []domain.AuditLog
	events        []domain.Event
}

func newState() *state {
	return &state{
		businessUnits: map[uuid.UUID]domain.BusinessUnit{},
		messageTypes:  map[uuid.UUID]domain.MessageType{},
		schemas:       map[uuid.UUID]domain.Schema{},
		connections:   map[uuid.UUID]domain.Connection{},
		channels:      map[uuid.UUID]domain.Channel{},
		routes:        map[uuid.UUID]domain.Route{},
		templates:     map[uuid.UUID]domain.Template{},
		assignments:   map[uuid.UUID]domain.TemplateAssignment{},
		messages:      map[uuid.UUID]domain.Message{},
	}
}

func (s *state) clone() *state {
	return &state{
		businessUnits: maps.Clone(s.businessUnits),
		messageTypes:  maps.Clone(s.messageTypes),
		schemas:       maps.Clone(s.schemas),
		connections:   maps.Clone(s.connections),
		channels:      maps.Clone(s.channels),
		routes:        maps.Clone(s.routes),
		templates:     maps.Clone(s.templates),
		assignments:   maps.Clone(s.assignments),
		messages:      maps.Clone(s.messages),
		dispatches:    slices.Clone(s.dispatches),
		audits:        slices.Clone(s.audits),
		events:        slices.Clone(s.events),
	}
}

func get[T any](m map[uuid.UUID]T, id uuid.UUID, entity string) (T, error) {
	v, ok := m[id]
	if !ok {
		var zero T
		return zero, domain.NotFound(entity, id)
	}
	return v, nil
}

func update[T any](m map[uuid.UUID]T, id uuid.UUID, v T, entity string) error {
	if _, ok := m[id]; !ok {
		return domain.NotFound(entity, id)
	}
	m[id] = v
	return nil
}

func insert[T any](m map[uuid.UUID]T, id uuid.UUID, v T, entity string) error {
	if _, ok := m[id]; ok {
		return domain.Conflict(entity, "id already exists")
	}
	m[id] = v
	return nil
}

// list filters, orders by (created, id) and pages.
func list[T any](m map[uuid.UUID]T, page store.Page, keep func(T) bool, key func(T) (time.Time, uuid.UUID)) []T {
	out := make([]T, 0)
	for _, v := range m {
		if keep(v) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b T) int {
		at, aid := key(a)
		bt, bid := key(b)
		if c := at.Compare(bt); c != 0 {
			return c
		}
		return cmp.Compare(aid.String(), bid.String())
	})
	return paged(out, page)
}

func paged[T any](in []T, page store.Page) []T {
	limit, offset := page.Bounds()
	if offset >= len(in) {
		return []T{}
	}
	end := min(offset+limit, len(in))
	return in[offset:end]
}

func eq[T comparable](want *T, got T) bool {
	return want == nil || *want == got
}
