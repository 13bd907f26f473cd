// Package bus routes typed commands and queries to their single registered
// handler. Commands run inside one transaction that also receives the audit
// row and the derived outbox event; queries run on a pooled connection.
package bus

import (
	"context"
	"fmt"
	"time"

	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/store"
)

// Command is any request that mutates state. CommandName must not depend on
// field values; the zero value's name is the registry key.
type Command interface {
	CommandName() string
}

// Redactor is implemented by commands carrying secrets. The audit row stores
// Redacted() instead of the command itself.
type Redactor interface {
	Redacted() any
}

// Query is any read-only request. QueryName follows the same rule as
// CommandName.
type Query interface {
	QueryName() string
}

// HandlerContext is what a handler gets besides the request itself. Every read
// and write goes through Tx.
type HandlerContext struct {
	Tx      store.Querier
	Plugins *connector.Registry
	Actor   domain.Actor
	Now     time.Time
}

type CommandHandler[C Command, O any] interface {
	Handle(ctx context.Context, hc HandlerContext, cmd C) (O, error)
}

// EventSource is implemented by command handlers that derive an outbox event
// from a successful execution. Returning false skips the event.
type EventSource[C Command, O any] interface {
	Event(cmd C, out O) (domain.EventDraft, bool)
}

type CommandFunc[C Command, O any] func(ctx context.Context, hc HandlerContext, cmd C) (O, error)

func (f CommandFunc[C, O]) Handle(ctx context.Context, hc HandlerContext, cmd C) (O, error) {
	return f(ctx, hc, cmd)
}

type emitting[C Command, O any] struct {
	CommandFunc[C, O]
	event func(C, O) (domain.EventDraft, bool)
}

func (e emitting[C, O]) Event(cmd C, out O) (domain.EventDraft, bool) { return e.event(cmd, out) }

// Emits pairs a handler func with the event it derives.
func Emits[C Command, O any](handle CommandFunc[C, O], event func(C, O) (domain.EventDraft, bool)) CommandHandler[C, O] {
	return emitting[C, O]{CommandFunc: handle, event: event}
}

type QueryFunc[Q Query, O any] func(ctx context.Context, hc HandlerContext, q Q) (O, error)

// HandlerNotFoundError means the request type was never registered. It is a
// wiring bug, not a runtime condition.
type HandlerNotFoundError struct {
	Kind string
	Name string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no %s handler registered for %q", e.Kind, e.Name)
}

func commandName[C Command]() string {
	var zero C
	return zero.CommandName()
}

func queryName[Q Query]() string {
	var zero Q
	return zero.QueryName()
}
