package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"
)

const rawEventColumns = `id, app_id, event_type, upstream_event_id, payload, received_at, processed_at`

func scanRawEvent(row interface{ Scan(...any) error }) (RawEvent, error) {
	var e RawEvent
	err := row.Scan(&e.ID, &e.AppID, &e.EventType, &e.UpstreamEventID,
		&e.Payload, &e.ReceivedAt, &e.ProcessedAt)
	return e, err
}

type EnqueueRawEventParams struct {
	ID              pgtype.UUID
	AppID           pgtype.UUID // invalid when the tenant could not be resolved
	EventType       string
	UpstreamEventID pgtype.Text
	Payload         json.RawMessage
}

// EnqueueRawEvent appends a delivery to the queue. The insert is idempotent
// on the upstream event id: a duplicate delivery is a silent no-op and the
// inserted flag reports false. Two concurrent inserts of the same event id
// are serialized by the unique index, so exactly one row ever exists.
func (q *Queries) EnqueueRawEvent(ctx context.Context, arg EnqueueRawEventParams) (inserted bool, err error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO raw_events (id, app_id, event_type, upstream_event_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (upstream_event_id) DO NOTHING`,
		arg.ID, arg.AppID, arg.EventType, arg.UpstreamEventID, arg.Payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// LeasePendingEvents selects up to limit unprocessed events oldest-first
// under FOR UPDATE SKIP LOCKED. The caller must hold an open transaction;
// the lease lasts for that transaction's lifetime and a concurrent
// dispatcher skips the locked rows instead of blocking on them.
//
// Events with no resolved tenant are left in the queue for forensics and
// never leased.
func (q *Queries) LeasePendingEvents(ctx context.Context, limit int32) ([]RawEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+rawEventColumns+`
		FROM raw_events
		WHERE processed_at IS NULL AND app_id IS NOT NULL
		ORDER BY received_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []RawEvent
	for rows.Next() {
		e, err := scanRawEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventsProcessed stamps processed_at for the given ids. processed_at is
// monotonic: a second stamp attempt leaves the original timestamp in place.
func (q *Queries) MarkEventsProcessed(ctx context.Context, ids []pgtype.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `
		UPDATE raw_events SET processed_at = now()
		WHERE id = ANY($1) AND processed_at IS NULL`, ids)
	return err
}

func (q *Queries) GetRawEvent(ctx context.Context, id pgtype.UUID) (RawEvent, error) {
	row := q.db.QueryRow(ctx, `SELECT `+rawEventColumns+` FROM raw_events WHERE id = $1`, id)
	e, err := scanRawEvent(row)
	if err != nil {
		return RawEvent{}, notFound(err)
	}
	return e, nil
}

// CountPendingEvents reports the queue depth, surfaced by the health
// endpoint.
func (q *Queries) CountPendingEvents(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx,
		`SELECT count(*) FROM raw_events WHERE processed_at IS NULL`).Scan(&n)
	return n, err
}
