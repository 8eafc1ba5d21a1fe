// Package tenant maps an inbound webhook delivery to exactly one tenant.
package tenant

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/adeosun07/CTIserver-sub001/internal/credentials"
	"github.com/adeosun07/CTIserver-sub001/internal/payload"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
)

// BindingLookup is the slice of the store the resolver needs.
type BindingLookup interface {
	GetBindingByOrganization(ctx context.Context, organizationID string) (store.UpstreamBinding, error)
}

// KeyVerifier authenticates a tenant API key.
type KeyVerifier interface {
	Verify(ctx context.Context, plaintext string) (store.App, error)
}

// Resolver resolves deliveries in a fixed order: the upstream organization
// id found in the payload wins; a tenant API key header is the fallback. An
// unresolved delivery is not an error — the event is still queued with a
// null tenant for forensics.
type Resolver struct {
	bindings BindingLookup
	keys     KeyVerifier
	logger   *zap.Logger
}

func NewResolver(bindings BindingLookup, keys KeyVerifier, logger *zap.Logger) *Resolver {
	return &Resolver{bindings: bindings, keys: keys, logger: logger}
}

// Resolve returns the tenant id for a delivery, or an invalid UUID when no
// tenant could be determined.
func (r *Resolver) Resolve(ctx context.Context, doc payload.Doc, apiKey string) pgtype.UUID {
	if orgID := doc.OrganizationID(); orgID != "" {
		binding, err := r.bindings.GetBindingByOrganization(ctx, orgID)
		if err == nil {
			return binding.AppID
		}
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Error("binding lookup failed", zap.String("organization_id", orgID), zap.Error(err))
		}
	}

	if apiKey != "" {
		app, err := r.keys.Verify(ctx, apiKey)
		if err == nil {
			return app.ID
		}
		if !errors.Is(err, credentials.ErrInvalidKey) && !errors.Is(err, credentials.ErrInactiveApp) {
			r.logger.Error("api key verification failed during resolution", zap.Error(err))
		}
	}

	r.logger.Warn("webhook delivery could not be resolved to a tenant",
		zap.String("organization_id", doc.OrganizationID()))
	return pgtype.UUID{}
}
