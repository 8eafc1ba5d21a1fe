package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const messageColumns = `id, app_id, upstream_message_id, direction, from_number, to_number, body, user_id, sent_at, created_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.AppID, &m.UpstreamMessageID, &m.Direction,
		&m.FromNumber, &m.ToNumber, &m.Body, &m.UserID, &m.SentAt, &m.CreatedAt)
	return m, err
}

type UpsertMessageParams struct {
	ID                pgtype.UUID
	AppID             pgtype.UUID
	UpstreamMessageID string
	Direction         pgtype.Text
	FromNumber        pgtype.Text
	ToNumber          pgtype.Text
	Body              pgtype.Text
	UserID            pgtype.Text
	SentAt            pgtype.Timestamptz
}

// UpsertMessage is idempotent on (app_id, upstream_message_id). The conflict
// target carries the tenant so two tenants colliding on a message id never
// touch each other's rows.
func (q *Queries) UpsertMessage(ctx context.Context, arg UpsertMessageParams) (Message, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO messages (id, app_id, upstream_message_id, direction, from_number, to_number, body, user_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (app_id, upstream_message_id) DO UPDATE SET
			direction = COALESCE(EXCLUDED.direction, messages.direction),
			body = COALESCE(EXCLUDED.body, messages.body),
			user_id = COALESCE(EXCLUDED.user_id, messages.user_id),
			sent_at = COALESCE(EXCLUDED.sent_at, messages.sent_at)
		RETURNING `+messageColumns,
		arg.ID, arg.AppID, arg.UpstreamMessageID, arg.Direction, arg.FromNumber,
		arg.ToNumber, arg.Body, arg.UserID, arg.SentAt)
	return scanMessage(row)
}

func (q *Queries) GetMessage(ctx context.Context, appID pgtype.UUID, id pgtype.UUID) (Message, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE app_id = $1 AND id = $2`, appID, id)
	m, err := scanMessage(row)
	if err != nil {
		return Message{}, notFound(err)
	}
	return m, nil
}

type ListMessagesParams struct {
	AppID  pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListMessages(ctx context.Context, arg ListMessagesParams) ([]Message, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE app_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		arg.AppID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
