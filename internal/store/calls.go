package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"
)

const callColumns = `id, app_id, upstream_call_id, direction, status, from_number, to_number,
	user_id, started_at, ended_at, duration_seconds, recording_url, is_voicemail,
	voicemail_url, voicemail_transcript, last_payload, created_at, updated_at`

func scanCall(row interface{ Scan(...any) error }) (Call, error) {
	var c Call
	err := row.Scan(&c.ID, &c.AppID, &c.UpstreamCallID, &c.Direction, &c.Status,
		&c.FromNumber, &c.ToNumber, &c.UserID, &c.StartedAt, &c.EndedAt,
		&c.DurationSeconds, &c.RecordingURL, &c.IsVoicemail, &c.VoicemailURL,
		&c.VoicemailTranscript, &c.LastPayload, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

type CallKey struct {
	AppID          pgtype.UUID
	UpstreamCallID string
}

// GetCall looks up a call by its per-tenant upstream id.
func (q *Queries) GetCall(ctx context.Context, key CallKey) (Call, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+callColumns+` FROM calls WHERE app_id = $1 AND upstream_call_id = $2`,
		key.AppID, key.UpstreamCallID)
	c, err := scanCall(row)
	if err != nil {
		return Call{}, notFound(err)
	}
	return c, nil
}

// GetCallForUpdate is GetCall under a row lock; must run inside a
// transaction. Concurrent transitions on the same call serialize here.
func (q *Queries) GetCallForUpdate(ctx context.Context, key CallKey) (Call, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+callColumns+` FROM calls WHERE app_id = $1 AND upstream_call_id = $2 FOR UPDATE`,
		key.AppID, key.UpstreamCallID)
	c, err := scanCall(row)
	if err != nil {
		return Call{}, notFound(err)
	}
	return c, nil
}

type InsertCallParams struct {
	ID              pgtype.UUID
	AppID           pgtype.UUID
	UpstreamCallID  string
	Direction       pgtype.Text
	Status          string
	FromNumber      pgtype.Text
	ToNumber        pgtype.Text
	UserID          pgtype.Text
	StartedAt       pgtype.Timestamptz
	EndedAt         pgtype.Timestamptz
	DurationSeconds pgtype.Int4
	IsVoicemail     bool
	LastPayload     json.RawMessage
}

func (q *Queries) InsertCall(ctx context.Context, arg InsertCallParams) (Call, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO calls (id, app_id, upstream_call_id, direction, status, from_number, to_number,
			user_id, started_at, ended_at, duration_seconds, is_voicemail, last_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+callColumns,
		arg.ID, arg.AppID, arg.UpstreamCallID, arg.Direction, arg.Status,
		arg.FromNumber, arg.ToNumber, arg.UserID, arg.StartedAt, arg.EndedAt,
		arg.DurationSeconds, arg.IsVoicemail, arg.LastPayload)
	c, err := scanCall(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Call{}, ErrDuplicate
		}
		return Call{}, err
	}
	return c, nil
}

type UpdateCallParams struct {
	Key             CallKey
	Status          string
	Direction       pgtype.Text // only overwrites when valid
	FromNumber      pgtype.Text
	ToNumber        pgtype.Text
	UserID          pgtype.Text
	StartedAt       pgtype.Timestamptz
	EndedAt         pgtype.Timestamptz
	DurationSeconds pgtype.Int4
	LastPayload     json.RawMessage
}

// UpdateCall advances an existing row. Nullable fields use COALESCE so that
// richer data from earlier events survives sparser late events.
func (q *Queries) UpdateCall(ctx context.Context, arg UpdateCallParams) (Call, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE calls SET
			status = $3,
			direction = COALESCE($4, direction),
			from_number = COALESCE($5, from_number),
			to_number = COALESCE($6, to_number),
			user_id = COALESCE($7, user_id),
			started_at = COALESCE($8, started_at),
			ended_at = COALESCE($9, ended_at),
			duration_seconds = COALESCE($10, duration_seconds),
			last_payload = COALESCE($11, last_payload),
			updated_at = now()
		WHERE app_id = $1 AND upstream_call_id = $2
		RETURNING `+callColumns,
		arg.Key.AppID, arg.Key.UpstreamCallID, arg.Status, arg.Direction,
		arg.FromNumber, arg.ToNumber, arg.UserID, arg.StartedAt, arg.EndedAt,
		arg.DurationSeconds, arg.LastPayload)
	c, err := scanCall(row)
	if err != nil {
		return Call{}, notFound(err)
	}
	return c, nil
}

// AttachRecording sets the recording URL without touching status.
func (q *Queries) AttachRecording(ctx context.Context, key CallKey, recordingURL string) (Call, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE calls SET recording_url = $3, updated_at = now()
		WHERE app_id = $1 AND upstream_call_id = $2
		RETURNING `+callColumns,
		key.AppID, key.UpstreamCallID, recordingURL)
	c, err := scanCall(row)
	if err != nil {
		return Call{}, notFound(err)
	}
	return c, nil
}

type AttachVoicemailParams struct {
	Key          CallKey
	VoicemailURL pgtype.Text
	Transcript   pgtype.Text
}

// AttachVoicemail records voicemail media on the call row for convenience.
func (q *Queries) AttachVoicemail(ctx context.Context, arg AttachVoicemailParams) (Call, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE calls SET
			is_voicemail = TRUE,
			voicemail_url = COALESCE($3, voicemail_url),
			voicemail_transcript = COALESCE($4, voicemail_transcript),
			updated_at = now()
		WHERE app_id = $1 AND upstream_call_id = $2
		RETURNING `+callColumns,
		arg.Key.AppID, arg.Key.UpstreamCallID, arg.VoicemailURL, arg.Transcript)
	c, err := scanCall(row)
	if err != nil {
		return Call{}, notFound(err)
	}
	return c, nil
}

type ListCallsParams struct {
	AppID  pgtype.UUID
	Status pgtype.Text // optional filter
	Limit  int32
	Offset int32
}

func (q *Queries) ListCalls(ctx context.Context, arg ListCallsParams) ([]Call, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+callColumns+`
		FROM calls
		WHERE app_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		arg.AppID, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCalls(rows)
}

// ListActiveCalls returns ringing and active calls, served by the partial index.
func (q *Queries) ListActiveCalls(ctx context.Context, appID pgtype.UUID) ([]Call, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+callColumns+`
		FROM calls
		WHERE app_id = $1 AND status IN ('ringing', 'active')
		ORDER BY created_at DESC`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCalls(rows)
}

func collectCalls(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]Call, error) {
	var calls []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
