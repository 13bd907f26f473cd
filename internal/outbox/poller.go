// Package outbox relays committed events to the message broker. Rows are
// claimed with SKIP LOCKED, so several pollers can share one table.
package outbox

import (
	"context"
	"fmt"
	"time"

	"courier/internal/domain"
	"courier/internal/logging"
	"courier/internal/observability"
	"courier/internal/queue"
	"courier/internal/store"
	"courier/internal/util"
)

const pollerName = "outbox"

type Poller struct {
	DB        store.DB
	Publisher queue.Publisher
	// Publishable is the allow-list of event types sent to the broker. Other
	// events are marked consumed with skipped=true. Empty publishes everything.
	Publishable map[domain.EventType]bool
	Interval    time.Duration
	MaxEvents   int
	Now         func() time.Time
}

// ParseEventTypes builds an allow-list from configuration values.
func ParseEventTypes(names []string) map[domain.EventType]bool {
	out := make(map[domain.EventType]bool, len(names))
	for _, n := range names {
		if n != "" {
			out[domain.EventType(n)] = true
		}
	}
	return out
}

// Run polls every Interval until ctx is cancelled. Cycle errors are logged and
// the loop continues.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logging.From(ctx)
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("outbox poll cycle failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Result counts the rows consumed by one cycle.
type Result struct {
	Published int
	Skipped   int
}

// PollOnce claims up to MaxEvents rows, publishes the allowed ones as one
// batch and marks every claimed row consumed. Nothing is marked when
// publishing fails, so the rows are picked up again.
func (p *Poller) PollOnce(ctx context.Context) (Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "outbox poll")
	defer span.End()

	res, err := p.cycle(ctx)
	switch {
	case err != nil:
		observability.PollCycles.WithLabelValues(pollerName, "error").Inc()
		span.RecordError(err)
	case res.Published+res.Skipped == 0:
		observability.PollCycles.WithLabelValues(pollerName, "empty").Inc()
	default:
		observability.PollCycles.WithLabelValues(pollerName, "ok").Inc()
		observability.OutboxPublished.WithLabelValues("published").Add(float64(res.Published))
		observability.OutboxPublished.WithLabelValues("skipped").Add(float64(res.Skipped))
	}
	return res, err
}

func (p *Poller) cycle(ctx context.Context) (Result, error) {
	tx, err := p.DB.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	events, err := tx.FindUnconsumedEvents(ctx, p.MaxEvents)
	if err != nil {
		return Result{}, err
	}
	if len(events) == 0 {
		return Result{}, nil
	}

	var (
		batch     []queue.Envelope
		published []string
		skipped   []string
	)
	for _, e := range events {
		if len(p.Publishable) > 0 && !p.Publishable[e.EventType] {
			skipped = append(skipped, e.ID)
			continue
		}
		batch = append(batch, queue.FromEvent(e))
		published = append(published, e.ID)
	}

	if len(batch) > 0 {
		if err := p.Publisher.Publish(ctx, batch); err != nil {
			observability.OutboxPublished.WithLabelValues("error").Add(float64(len(batch)))
			return Result{}, fmt.Errorf("publish %d events: %w", len(batch), err)
		}
	}

	now := util.NowUTC
	if p.Now != nil {
		now = p.Now
	}
	if err := tx.MarkEventsConsumed(ctx, published, skipped, now()); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}
	logging.From(ctx).Debug("outbox relayed", "published", len(published), "skipped", len(skipped))
	return Result{Published: len(published), Skipped: len(skipped)}, nil
}
