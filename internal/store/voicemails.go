package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const voicemailColumns = `id, app_id, upstream_call_id, user_id, from_number, to_number, recording_url, transcript, duration_seconds, created_at`

func scanVoicemail(row interface{ Scan(...any) error }) (Voicemail, error) {
	var v Voicemail
	err := row.Scan(&v.ID, &v.AppID, &v.UpstreamCallID, &v.UserID, &v.FromNumber,
		&v.ToNumber, &v.RecordingURL, &v.Transcript, &v.DurationSeconds, &v.CreatedAt)
	return v, err
}

type InsertVoicemailParams struct {
	ID              pgtype.UUID
	AppID           pgtype.UUID
	UpstreamCallID  pgtype.Text
	UserID          pgtype.Text
	FromNumber      pgtype.Text
	ToNumber        pgtype.Text
	RecordingURL    pgtype.Text
	Transcript      pgtype.Text
	DurationSeconds pgtype.Int4
}

func (q *Queries) InsertVoicemail(ctx context.Context, arg InsertVoicemailParams) (Voicemail, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO voicemails (id, app_id, upstream_call_id, user_id, from_number, to_number, recording_url, transcript, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+voicemailColumns,
		arg.ID, arg.AppID, arg.UpstreamCallID, arg.UserID, arg.FromNumber,
		arg.ToNumber, arg.RecordingURL, arg.Transcript, arg.DurationSeconds)
	return scanVoicemail(row)
}

// GetVoicemailByCall finds the voicemail linked to an upstream call id.
func (q *Queries) GetVoicemailByCall(ctx context.Context, appID pgtype.UUID, upstreamCallID string) (Voicemail, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+voicemailColumns+`
		FROM voicemails
		WHERE app_id = $1 AND upstream_call_id = $2`,
		appID, upstreamCallID)
	v, err := scanVoicemail(row)
	if err != nil {
		return Voicemail{}, notFound(err)
	}
	return v, nil
}

type UpdateVoicemailMediaParams struct {
	ID              pgtype.UUID
	RecordingURL    pgtype.Text
	Transcript      pgtype.Text
	DurationSeconds pgtype.Int4
}

func (q *Queries) UpdateVoicemailMedia(ctx context.Context, arg UpdateVoicemailMediaParams) (Voicemail, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE voicemails SET
			recording_url = COALESCE($2, recording_url),
			transcript = COALESCE($3, transcript),
			duration_seconds = COALESCE($4, duration_seconds)
		WHERE id = $1
		RETURNING `+voicemailColumns,
		arg.ID, arg.RecordingURL, arg.Transcript, arg.DurationSeconds)
	v, err := scanVoicemail(row)
	if err != nil {
		return Voicemail{}, notFound(err)
	}
	return v, nil
}

type RecentOrphanVoicemailParams struct {
	AppID      pgtype.UUID
	UserID     pgtype.Text
	FromNumber pgtype.Text
	Window     time.Duration
}

// FindRecentOrphanVoicemail is the duplicate guard for voicemails that carry
// no upstream call id: same tenant, recipient, and caller within the window.
func (q *Queries) FindRecentOrphanVoicemail(ctx context.Context, arg RecentOrphanVoicemailParams) (Voicemail, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+voicemailColumns+`
		FROM voicemails
		WHERE app_id = $1
		  AND upstream_call_id IS NULL
		  AND user_id IS NOT DISTINCT FROM $2
		  AND from_number IS NOT DISTINCT FROM $3
		  AND created_at > now() - $4::interval
		ORDER BY created_at DESC
		LIMIT 1`,
		arg.AppID, arg.UserID, arg.FromNumber, arg.Window.String())
	v, err := scanVoicemail(row)
	if err != nil {
		return Voicemail{}, notFound(err)
	}
	return v, nil
}

type ListVoicemailsParams struct {
	AppID  pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListVoicemails(ctx context.Context, arg ListVoicemailsParams) ([]Voicemail, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+voicemailColumns+`
		FROM voicemails
		WHERE app_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		arg.AppID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vms []Voicemail
	for rows.Next() {
		v, err := scanVoicemail(rows)
		if err != nil {
			return nil, err
		}
		vms = append(vms, v)
	}
	return vms, rows.Err()
}
