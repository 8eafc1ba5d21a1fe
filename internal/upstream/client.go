// Package upstream talks to the telephony provider: OAuth token lifecycle
// for tenant bindings and webhook subscription management.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/adeosun07/CTIserver-sub001/internal/config"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
)

const (
	sandboxBaseURL    = "https://sandbox.dialpad.com"
	productionBaseURL = "https://dialpad.com"

	requestTimeout = 10 * time.Second
)

// BindingStore is the slice of the store the client persists into.
type BindingStore interface {
	UpsertBinding(ctx context.Context, arg store.UpsertBindingParams) (store.UpstreamBinding, error)
	UpdateBindingTokens(ctx context.Context, arg store.UpdateBindingTokensParams) error
	CreateWebhookRegistration(ctx context.Context, arg store.CreateWebhookRegistrationParams) (store.WebhookRegistration, error)
}

// Client is the provider API client.
type Client struct {
	oauth         *oauth2.Config
	http          *http.Client
	baseURL       string
	store         BindingStore
	refreshWindow time.Duration
	logger        *zap.Logger
}

func NewClient(cfg *config.Config, bindings BindingStore, logger *zap.Logger) *Client {
	base := sandboxBaseURL
	if cfg.Environment == "production" {
		base = productionBaseURL
	}
	env := cfg.OAuth()
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     env.ClientID,
			ClientSecret: env.ClientSecret,
			RedirectURL:  env.RedirectURL,
			Scopes:       splitScopes(cfg.OAuthScopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/oauth2/authorize",
				TokenURL: base + "/oauth2/token",
			},
		},
		http:          &http.Client{Timeout: requestTimeout},
		baseURL:       base,
		store:         bindings,
		refreshWindow: cfg.TokenRefreshWindow,
		logger:        logger,
	}
}

// AuthCodeURL builds the provider consent URL for a tenant onboarding flow.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Bind exchanges an authorization code and persists the resulting binding
// for the tenant. Exactly one binding per tenant; a re-bind replaces it.
func (c *Client) Bind(ctx context.Context, appID pgtype.UUID, organizationID, code, environment string) (store.UpstreamBinding, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return store.UpstreamBinding{}, fmt.Errorf("oauth exchange: %w", err)
	}
	return c.store.UpsertBinding(ctx, store.UpsertBindingParams{
		AppID:          appID,
		OrganizationID: organizationID,
		AccessToken:    pgtype.Text{String: tok.AccessToken, Valid: tok.AccessToken != ""},
		RefreshToken:   pgtype.Text{String: tok.RefreshToken, Valid: tok.RefreshToken != ""},
		TokenExpiresAt: pgtype.Timestamptz{Time: tok.Expiry, Valid: !tok.Expiry.IsZero()},
		Environment:    environment,
	})
}

// AccessToken returns a valid access token for the binding, refreshing and
// persisting it when expiry falls inside the refresh window.
func (c *Client) AccessToken(ctx context.Context, b store.UpstreamBinding) (string, error) {
	if b.AccessToken.String == "" {
		return "", fmt.Errorf("binding for organization %s has no access token", b.OrganizationID)
	}
	if b.TokenExpiresAt.Valid && time.Until(b.TokenExpiresAt.Time) > c.refreshWindow {
		return b.AccessToken.String, nil
	}
	if b.RefreshToken.String == "" {
		// Long-lived token with no refresh grant; use it as-is.
		return b.AccessToken.String, nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	// Seed the source with the refresh grant only; a still-valid access
	// token would short-circuit the refresh we decided to perform.
	src := c.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: b.RefreshToken.String,
	})
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("refresh token for organization %s: %w", b.OrganizationID, err)
	}

	// The provider may rotate the refresh token; keep the old one when the
	// response omits it.
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = b.RefreshToken.String
	}
	if err := c.store.UpdateBindingTokens(ctx, store.UpdateBindingTokensParams{
		AppID:          b.AppID,
		AccessToken:    pgtype.Text{String: tok.AccessToken, Valid: true},
		RefreshToken:   pgtype.Text{String: refresh, Valid: refresh != ""},
		TokenExpiresAt: pgtype.Timestamptz{Time: tok.Expiry, Valid: !tok.Expiry.IsZero()},
	}); err != nil {
		return "", fmt.Errorf("persist refreshed tokens: %w", err)
	}
	c.logger.Info("upstream token refreshed", zap.String("organization_id", b.OrganizationID))
	return tok.AccessToken, nil
}

// RegisterWebhook creates a webhook subscription on the provider and records
// it locally. The hookURL is this broker's ingest endpoint; the secret is the
// shared HMAC secret the provider will sign deliveries with.
func (c *Client) RegisterWebhook(ctx context.Context, b store.UpstreamBinding, hookURL, secret string) (store.WebhookRegistration, error) {
	token, err := c.AccessToken(ctx, b)
	if err != nil {
		return store.WebhookRegistration{}, err
	}

	body, err := json.Marshal(map[string]string{
		"hook_url": hookURL,
		"secret":   secret,
	})
	if err != nil {
		return store.WebhookRegistration{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/webhooks", bytes.NewReader(body))
	if err != nil {
		return store.WebhookRegistration{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return store.WebhookRegistration{}, fmt.Errorf("create upstream webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return store.WebhookRegistration{}, fmt.Errorf("create upstream webhook: status %d: %s", resp.StatusCode, snippet)
	}

	var created struct {
		ID json.Number `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return store.WebhookRegistration{}, fmt.Errorf("decode upstream webhook response: %w", err)
	}
	if created.ID.String() == "" {
		return store.WebhookRegistration{}, fmt.Errorf("upstream webhook response missing id")
	}

	return c.store.CreateWebhookRegistration(ctx, store.CreateWebhookRegistrationParams{
		ID:                 store.NewUUID(),
		AppID:              b.AppID,
		UpstreamWebhookID:  created.ID.String(),
		URL:                hookURL,
		Secret:             pgtype.Text{String: secret, Valid: secret != ""},
		SignatureAlgo:      "hmac-sha256",
		SignaturePlacement: "header",
	})
}

func splitScopes(raw string) []string {
	return strings.Fields(raw)
}
