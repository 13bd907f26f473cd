package bus

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/logging"
	"courier/internal/observability"
	"courier/internal/store"
	"courier/internal/util"
)

type queryEntry struct {
	run func(ctx context.Context, hc HandlerContext, q any) (any, error)
}

type QueryBus struct {
	db       store.DB
	plugins  *connector.Registry
	handlers map[string]queryEntry
	now      func() time.Time
}

func NewQueryBus(db store.DB, plugins *connector.Registry) *QueryBus {
	return &QueryBus{
		db:       db,
		plugins:  plugins,
		handlers: map[string]queryEntry{},
		now:      util.NowUTC,
	}
}

func (b *QueryBus) SetClock(now func() time.Time) { b.now = now }

func RegisterQuery[Q Query, O any](b *QueryBus, h QueryFunc[Q, O]) {
	name := queryName[Q]()
	if _, dup := b.handlers[name]; dup {
		panic(fmt.Sprintf("bus: query %q registered twice", name))
	}
	b.handlers[name] = queryEntry{
		run: func(ctx context.Context, hc HandlerContext, q any) (any, error) {
			return h(ctx, hc, q.(Q))
		},
	}
}

// Ask answers q on a pooled connection. Nothing is audited and no event is
// written.
func Ask[Q Query, O any](ctx context.Context, b *QueryBus, actor domain.Actor, q Q) (O, error) {
	var zero O
	name := q.QueryName()
	entry, ok := b.handlers[name]
	if !ok {
		err := &HandlerNotFoundError{Kind: "query", Name: name}
		logging.From(ctx).Error("query bus misconfigured", "query", name, "err", err)
		return zero, err
	}

	ctx, span := observability.Tracer().Start(ctx, "query "+name)
	defer span.End()
	span.SetAttributes(attribute.String("courier.query", name))

	conn, err := b.db.Acquire(ctx)
	if err != nil {
		err = fmt.Errorf("query %s: %w", name, err)
		observability.Queries.WithLabelValues(name, "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	defer conn.Release()

	out, err := entry.run(ctx, HandlerContext{Tx: conn, Plugins: b.plugins, Actor: actor, Now: b.now()}, q)
	if err != nil {
		observability.Queries.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	observability.Queries.WithLabelValues(name, "ok").Inc()

	typed, ok := out.(O)
	if !ok && out != nil {
		return zero, fmt.Errorf("query %s returned %T", name, out)
	}
	return typed, nil
}
