// Package consumer drains the raw event queue and applies each event to the
// broker's domain state: the call state machine, voicemail records, and
// message records.
//
// Multiple dispatcher instances may run concurrently, in one process or
// several. Exclusive progress on a queue entry is established by leasing
// rows with FOR UPDATE SKIP LOCKED inside a transaction; a peer dispatcher
// skips leased rows instead of blocking, so every event is handled at most
// once per pass and exactly once overall.
package consumer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/adeosun07/CTIserver-sub001/internal/store"
	"github.com/adeosun07/CTIserver-sub001/internal/telemetry"
)

// Handler processes one leased raw event. A returned error leaves the event
// unprocessed; it will be re-leased on a later pass.
type Handler interface {
	Handle(ctx context.Context, ev store.RawEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev store.RawEvent) error

func (f HandlerFunc) Handle(ctx context.Context, ev store.RawEvent) error { return f(ctx, ev) }

// Dispatcher is the queue worker loop.
type Dispatcher struct {
	pool      *pgxpool.Pool
	logger    *zap.Logger
	batchSize int32
	interval  time.Duration
	handlers  map[string]Handler
	metrics   *telemetry.Metrics
}

func NewDispatcher(pool *pgxpool.Pool, batchSize int, interval time.Duration, metrics *telemetry.Metrics, logger *zap.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 20
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Dispatcher{
		pool:      pool,
		logger:    logger,
		batchSize: int32(batchSize),
		interval:  interval,
		handlers:  make(map[string]Handler),
		metrics:   metrics,
	}
}

// Register binds a handler to an event type. Registration happens at
// startup, before Run; the map is read-only afterwards.
func (d *Dispatcher) Register(eventType string, h Handler) {
	d.handlers[eventType] = h
}

// Run executes dispatch passes until ctx is cancelled. The stop is
// cooperative: a pass in flight finishes its transaction before the loop
// exits, so no event is ever abandoned mid-processing — worst case the
// transaction rolls back and the events are re-leased later.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started",
		zap.Int32("batch_size", d.batchSize),
		zap.Duration("interval", d.interval),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			// Drain until the queue is empty so a burst is not throttled to
			// one batch per tick.
			for {
				n, err := d.pass(ctx)
				if err != nil {
					d.logger.Error("dispatch pass failed", zap.Error(err))
					break
				}
				if n < int(d.batchSize) {
					break
				}
			}
		}
	}
}

// pass leases one batch and processes it within a single transaction.
// It returns the number of leased events.
func (d *Dispatcher) pass(ctx context.Context) (int, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)
	qtx := store.New(tx)

	events, err := qtx.LeasePendingEvents(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	d.metrics.DispatchBatchSize.Observe(float64(len(events)))

	processed := d.dispatch(ctx, events)

	if err := qtx.MarkEventsProcessed(ctx, processed); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(events), nil
}

// dispatch routes each leased event to its handler in received-at order and
// returns the ids to mark processed. A handler failure leaves only that
// event unprocessed; an event with no registered handler is marked
// processed anyway so the queue does not bloat.
func (d *Dispatcher) dispatch(ctx context.Context, events []store.RawEvent) []pgtype.UUID {
	processed := make([]pgtype.UUID, 0, len(events))
	for _, ev := range events {
		h, ok := d.handlers[ev.EventType]
		if !ok {
			d.logger.Warn("no handler registered for event type",
				zap.String("event_type", ev.EventType),
				zap.String("event_id", store.UUIDString(ev.ID)),
			)
			processed = append(processed, ev.ID)
			continue
		}

		if err := h.Handle(ctx, ev); err != nil {
			d.metrics.EventsFailed.Inc()
			d.logger.Error("event handler failed; event will be retried",
				zap.String("event_type", ev.EventType),
				zap.String("event_id", store.UUIDString(ev.ID)),
				zap.Error(err),
			)
			continue
		}
		d.metrics.EventsProcessed.Inc()
		processed = append(processed, ev.ID)
	}
	return processed
}
