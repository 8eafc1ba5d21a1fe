package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type UpsertUserMappingParams struct {
	ID             pgtype.UUID
	AppID          pgtype.UUID
	UpstreamUserID string
	CRMUserID      string
}

// UpsertUserMapping is idempotent on (app_id, upstream_user_id).
func (q *Queries) UpsertUserMapping(ctx context.Context, arg UpsertUserMappingParams) (UserMapping, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO user_mappings (id, app_id, upstream_user_id, crm_user_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (app_id, upstream_user_id) DO UPDATE SET crm_user_id = EXCLUDED.crm_user_id
		RETURNING id, app_id, upstream_user_id, crm_user_id, created_at`,
		arg.ID, arg.AppID, arg.UpstreamUserID, arg.CRMUserID)
	var m UserMapping
	err := row.Scan(&m.ID, &m.AppID, &m.UpstreamUserID, &m.CRMUserID, &m.CreatedAt)
	return m, err
}

// ResolveUserMapping returns the tenant CRM user id for an upstream user id.
func (q *Queries) ResolveUserMapping(ctx context.Context, appID pgtype.UUID, upstreamUserID string) (string, error) {
	var crmUserID string
	err := q.db.QueryRow(ctx, `
		SELECT crm_user_id FROM user_mappings
		WHERE app_id = $1 AND upstream_user_id = $2`,
		appID, upstreamUserID).Scan(&crmUserID)
	if err != nil {
		return "", notFound(err)
	}
	return crmUserID, nil
}
