package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

const appColumns = `id, name, active, api_key_hash, api_key_lookup, api_key_hint, api_key_rotated_at, created_at`

func scanApp(row interface{ Scan(...any) error }) (App, error) {
	var a App
	err := row.Scan(&a.ID, &a.Name, &a.Active, &a.APIKeyHash, &a.APIKeyLookup,
		&a.APIKeyHint, &a.APIKeyRotatedAt, &a.CreatedAt)
	return a, err
}

type CreateAppParams struct {
	ID           pgtype.UUID
	Name         string
	APIKeyHash   string
	APIKeyLookup string
	APIKeyHint   string
}

func (q *Queries) CreateApp(ctx context.Context, arg CreateAppParams) (App, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO apps (id, name, active, api_key_hash, api_key_lookup, api_key_hint, api_key_rotated_at)
		VALUES ($1, $2, TRUE, $3, $4, $5, now())
		RETURNING `+appColumns,
		arg.ID, arg.Name, arg.APIKeyHash, arg.APIKeyLookup, arg.APIKeyHint)
	return scanApp(row)
}

func (q *Queries) GetApp(ctx context.Context, id pgtype.UUID) (App, error) {
	row := q.db.QueryRow(ctx, `SELECT `+appColumns+` FROM apps WHERE id = $1`, id)
	a, err := scanApp(row)
	if err != nil {
		return App{}, notFound(err)
	}
	return a, nil
}

// GetAppByLookup finds the app owning the given peppered lookup digest.
// The digest is non-adaptive, so this is a plain unique-index hit; the
// adaptive hash comparison happens in the credentials package afterwards.
func (q *Queries) GetAppByLookup(ctx context.Context, lookup string) (App, error) {
	row := q.db.QueryRow(ctx, `SELECT `+appColumns+` FROM apps WHERE api_key_lookup = $1`, lookup)
	a, err := scanApp(row)
	if err != nil {
		return App{}, notFound(err)
	}
	return a, nil
}

type RotateAPIKeyParams struct {
	ID           pgtype.UUID
	APIKeyHash   string
	APIKeyLookup string
	APIKeyHint   string
}

// RotateAPIKey atomically replaces the stored hash; the old key stops
// validating at commit.
func (q *Queries) RotateAPIKey(ctx context.Context, arg RotateAPIKeyParams) (App, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE apps
		SET api_key_hash = $2, api_key_lookup = $3, api_key_hint = $4, api_key_rotated_at = now()
		WHERE id = $1
		RETURNING `+appColumns,
		arg.ID, arg.APIKeyHash, arg.APIKeyLookup, arg.APIKeyHint)
	a, err := scanApp(row)
	if err != nil {
		return App{}, notFound(err)
	}
	return a, nil
}

func (q *Queries) RevokeAPIKey(ctx context.Context, id pgtype.UUID) (App, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE apps
		SET api_key_hash = NULL, api_key_lookup = NULL, api_key_hint = NULL
		WHERE id = $1
		RETURNING `+appColumns, id)
	a, err := scanApp(row)
	if err != nil {
		return App{}, notFound(err)
	}
	return a, nil
}

// ── upstream bindings ─────────────────────────────────────────────────────

const bindingColumns = `app_id, organization_id, access_token, refresh_token, token_expires_at, environment, updated_at`

func scanBinding(row interface{ Scan(...any) error }) (UpstreamBinding, error) {
	var b UpstreamBinding
	err := row.Scan(&b.AppID, &b.OrganizationID, &b.AccessToken, &b.RefreshToken,
		&b.TokenExpiresAt, &b.Environment, &b.UpdatedAt)
	return b, err
}

type UpsertBindingParams struct {
	AppID          pgtype.UUID
	OrganizationID string
	AccessToken    pgtype.Text
	RefreshToken   pgtype.Text
	TokenExpiresAt pgtype.Timestamptz
	Environment    string
}

// UpsertBinding enforces at most one binding per tenant.
func (q *Queries) UpsertBinding(ctx context.Context, arg UpsertBindingParams) (UpstreamBinding, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO upstream_bindings (app_id, organization_id, access_token, refresh_token, token_expires_at, environment)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (app_id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			environment = EXCLUDED.environment,
			updated_at = now()
		RETURNING `+bindingColumns,
		arg.AppID, arg.OrganizationID, arg.AccessToken, arg.RefreshToken, arg.TokenExpiresAt, arg.Environment)
	b, err := scanBinding(row)
	if err != nil {
		if isUniqueViolation(err) {
			return UpstreamBinding{}, fmt.Errorf("%w: organization already bound", ErrDuplicate)
		}
		return UpstreamBinding{}, err
	}
	return b, nil
}

func (q *Queries) GetBindingByOrganization(ctx context.Context, organizationID string) (UpstreamBinding, error) {
	row := q.db.QueryRow(ctx, `SELECT `+bindingColumns+` FROM upstream_bindings WHERE organization_id = $1`, organizationID)
	b, err := scanBinding(row)
	if err != nil {
		return UpstreamBinding{}, notFound(err)
	}
	return b, nil
}

func (q *Queries) GetBindingByApp(ctx context.Context, appID pgtype.UUID) (UpstreamBinding, error) {
	row := q.db.QueryRow(ctx, `SELECT `+bindingColumns+` FROM upstream_bindings WHERE app_id = $1`, appID)
	b, err := scanBinding(row)
	if err != nil {
		return UpstreamBinding{}, notFound(err)
	}
	return b, nil
}

type UpdateBindingTokensParams struct {
	AppID          pgtype.UUID
	AccessToken    pgtype.Text
	RefreshToken   pgtype.Text
	TokenExpiresAt pgtype.Timestamptz
}

func (q *Queries) UpdateBindingTokens(ctx context.Context, arg UpdateBindingTokensParams) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE upstream_bindings
		SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = now()
		WHERE app_id = $1`,
		arg.AppID, arg.AccessToken, arg.RefreshToken, arg.TokenExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ── webhook registrations ─────────────────────────────────────────────────

type CreateWebhookRegistrationParams struct {
	ID                 pgtype.UUID
	AppID              pgtype.UUID
	UpstreamWebhookID  string
	URL                string
	Secret             pgtype.Text
	SignatureAlgo      string
	SignaturePlacement string
}

func (q *Queries) CreateWebhookRegistration(ctx context.Context, arg CreateWebhookRegistrationParams) (WebhookRegistration, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO webhook_registrations (id, app_id, upstream_webhook_id, url, secret, signature_algo, signature_placement)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, app_id, upstream_webhook_id, url, secret, signature_algo, signature_placement, created_at`,
		arg.ID, arg.AppID, arg.UpstreamWebhookID, arg.URL, arg.Secret, arg.SignatureAlgo, arg.SignaturePlacement)
	var w WebhookRegistration
	err := row.Scan(&w.ID, &w.AppID, &w.UpstreamWebhookID, &w.URL, &w.Secret,
		&w.SignatureAlgo, &w.SignaturePlacement, &w.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return WebhookRegistration{}, fmt.Errorf("%w: webhook already registered", ErrDuplicate)
		}
		return WebhookRegistration{}, err
	}
	return w, nil
}

// ── credential audit ──────────────────────────────────────────────────────

type AppendAuditParams struct {
	ID      pgtype.UUID
	AppID   pgtype.UUID
	Action  string
	OldHint pgtype.Text
	NewHint pgtype.Text
}

func (q *Queries) AppendAudit(ctx context.Context, arg AppendAuditParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO api_key_audit (id, app_id, action, old_hint, new_hint)
		VALUES ($1, $2, $3, $4, $5)`,
		arg.ID, arg.AppID, arg.Action, arg.OldHint, arg.NewHint)
	return err
}

type ListAuditParams struct {
	AppID  pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListAudit(ctx context.Context, arg ListAuditParams) ([]APIKeyAuditEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, app_id, action, old_hint, new_hint, created_at
		FROM api_key_audit
		WHERE app_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		arg.AppID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []APIKeyAuditEntry
	for rows.Next() {
		var e APIKeyAuditEntry
		if err := rows.Scan(&e.ID, &e.AppID, &e.Action, &e.OldHint, &e.NewHint, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
