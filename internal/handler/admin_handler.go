package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adeosun07/CTIserver-sub001/internal/credentials"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
	"github.com/adeosun07/CTIserver-sub001/internal/upstream"
)

// AdminStore is the store surface of the admin API. Satisfied by
// *store.Queries.
type AdminStore interface {
	UpsertUserMapping(ctx context.Context, arg store.UpsertUserMappingParams) (store.UserMapping, error)
	UpsertBinding(ctx context.Context, arg store.UpsertBindingParams) (store.UpstreamBinding, error)
	GetBindingByApp(ctx context.Context, appID pgtype.UUID) (store.UpstreamBinding, error)
	GetRawEvent(ctx context.Context, id pgtype.UUID) (store.RawEvent, error)
}

// CredentialManager is the key lifecycle surface. Satisfied by
// *credentials.Manager.
type CredentialManager interface {
	Create(ctx context.Context, name string) (credentials.Material, store.App, error)
	Rotate(ctx context.Context, appID pgtype.UUID) (credentials.Material, store.App, error)
	Revoke(ctx context.Context, appID pgtype.UUID) error
	Status(ctx context.Context, appID pgtype.UUID) (credentials.Status, error)
	Audit(ctx context.Context, appID pgtype.UUID, limit, offset int32) ([]store.APIKeyAuditEntry, error)
}

// AdminHandler serves the internal management surface: tenant registration,
// API key lifecycle, user mappings, upstream bindings, and webhook
// registration. Every route requires the internal bearer secret; this
// surface is never exposed to tenants.
type AdminHandler struct {
	queries  AdminStore
	creds    CredentialManager
	upstream *upstream.Client
	secret   string
	logger   *zap.Logger
}

func NewAdminHandler(queries AdminStore, creds CredentialManager, up *upstream.Client, internalSecret string, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		queries:  queries,
		creds:    creds,
		upstream: up,
		secret:   internalSecret,
		logger:   logger,
	}
}

// Register mounts the internal routes behind the bearer guard.
func (h *AdminHandler) Register(e *echo.Echo) {
	g := e.Group("/internal", h.requireInternal)
	g.POST("/apps", h.CreateApp)
	g.POST("/apps/:id/api-key", h.RotateKey)
	g.POST("/apps/:id/api-key/revoke", h.RevokeKey)
	g.GET("/apps/:id/api-key/status", h.KeyStatus)
	g.GET("/apps/:id/api-key/audit", h.KeyAudit)
	g.POST("/apps/:id/users/map", h.MapUser)
	g.POST("/apps/:id/users/map/batch", h.MapUsersBatch)
	g.POST("/apps/:id/binding", h.Bind)
	g.GET("/apps/:id/oauth/url", h.OAuthURL)
	g.POST("/apps/:id/webhooks", h.RegisterWebhook)
	g.GET("/events/:id", h.GetEvent)
}

// requireInternal authenticates the shared internal secret with a
// constant-time comparison.
func (h *AdminHandler) requireInternal(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		return next(c)
	}
}

func (h *AdminHandler) appID(c echo.Context) (pgtype.UUID, bool) {
	id, err := store.ParseUUID(c.Param("id"))
	if err != nil {
		return pgtype.UUID{}, false
	}
	return id, true
}

// ── POST /internal/apps ───────────────────────────────────────────────────

type createAppRequest struct {
	Name string `json:"name"`
}

// CreateApp registers a tenant and issues its first API key. Issuance and
// the `created` audit entry commit in one transaction inside the manager.
// The plaintext key appears only in this response.
func (h *AdminHandler) CreateApp(c echo.Context) error {
	var req createAppRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}

	mat, app, err := h.creds.Create(c.Request().Context(), strings.TrimSpace(req.Name))
	if err != nil {
		h.logger.Error("create app failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"app":     app,
		"api_key": mat.Plaintext,
	})
}

// ── API key lifecycle ─────────────────────────────────────────────────────

// RotateKey issues a replacement key. The previous key stops validating the
// moment the rotation commits.
func (h *AdminHandler) RotateKey(c echo.Context) error {
	id, ok := h.appID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid app id"})
	}

	mat, app, err := h.creds.Rotate(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "app not found"})
	}
	if err != nil {
		h.logger.Error("rotate api key failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"app":     app,
		"api_key": mat.Plaintext,
	})
}

func (h *AdminHandler) RevokeKey(c echo.Context) error {
	id, ok := h.appID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid app id"})
	}

	err := h.creds.Revoke(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "app not found"})
	}
	if err != nil {
		h.logger.Error("revoke api key failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *AdminHandler) KeyStatus(c echo.Context) error {
	id, ok := h.appID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid app id"})
	}

	status, err := h.creds.Status(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "app not found"})
	}
	if err != nil {
		h.logger.Error("key status failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, status)
}

func (h *AdminHandler) KeyAudit(c echo.Context) error {
	id, ok := h.appID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid app id"})
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	entries, err := h.creds.Audit(c.Request().Context(), id, int32(limit), int32(offset))
	if err != nil {
		h.logger.Error("key audit failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	if entries == nil {
		entries = []store.APIKeyAuditEntry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": entries})
}

// ── user mappings ─────────────────────────────────────────────────────────

type mapUserRequest struct {
	UpstreamUserID string `json:"upstream_user_id"`
	CRMUserID      string `json:"crm_user_id"`
}

func (h *AdminHandler) MapUser(c echo.Context) error {
	id, ok := h.appID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid app id"})
	}
	var req mapUserRequest
	if err := c.Bind(&req); err != nil || req.UpstreamUserID == "" || req.CRMUserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "upstream_user_id and crm_user_id are required"})
	}

	m, err := h.queries.UpsertUserMapping(c.Request().Context(), store.UpsertUserMappingParams{
		ID:             store.NewUUID(),
		AppID:          id,
		UpstreamUserID: req.UpstreamUserID,
		CRMUserID:      req.CRMUserID,
	})
	if err != nil {
		h.logger.Error("upsert user mapping failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, m)
}

// MapUsersBatch upserts a list of mappings. Entries are applied
// independently; a bad entry is reported without aborting the rest.
func (h *AdminHandler) MapUsersBatch(c echo.Context) error {
	id, ok := h.appID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid app id"})
	}
	var reqs []mapUserRequest
	if err := c.Bind(&reqs); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	applied := 0
	var failed []string
	for _, req := range reqs {
		if req.UpstreamUserID == "" || req.CRMUserID == "" {
			failed = append(failed, req.UpstreamUserID)
			continue
		}
		if _, err := h.queries.UpsertUserMapping(c.Request().Context(), store.UpsertUserMappingParams{
			ID:             store.NewUUID(),
			AppID:          id,
			UpstreamUserID: req.UpstreamUserID,
			CRMUserID:      req.CRMUserID,
		}); err != nil {
			h.logger.Error("upsert user mapping failed",
				zap.String("upstream_user_id", req.UpstreamUserID), zap.Error(err))
			failed = append(failed, req.UpstreamUserID)
			continue
		}
		applied++
	}
	return c.JSON(http.StatusOK, map[string]any{
		"applied": applied,
		"failed":  failed,
	})
}

// ── upstream binding and webhook registration ─────────────────────────────

type bindRequest struct {
	OrganizationID string `json:"organization_id"`
	Code           string `json:"code"`
	Environment    string `json:"environment"`
	// Direct token material for providers issuing long-lived keys out of
	// band; used only when no authorization code is given.
	AccessToken string `json:"access_token"`
}

// Bind attaches a tenant to its upstream organization, either by exchanging
// an OAuth authorization code or by storing a directly issued token.
func (h *AdminHandler) Bind(c echo.Context) error {
	id, ok := h.appID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid app id"})
	}
	var req bindRequest
	if err := c.Bind(&req); err != nil || req.OrganizationID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "organization_id is required"})
	}
	if req.Environment == "" {
		req.Environment = "sandbox"
	}

	var (
		binding store.UpstreamBinding
		err     error
	)
	if req.Code != "" {
		binding, err = h.upstream.Bind(c.Request().Context(), id, req.OrganizationID, req.Code, req.Environment)
	} else {
		binding, err = h.queries.UpsertBinding(c.Request().Context(), store.UpsertBindingParams{
			AppID:          id,
			OrganizationID: req.OrganizationID,
			AccessToken:    pgText(req.AccessToken),
			Environment:    req.Environment,
		})
	}
	if err != nil {
		h.logger.Error("bind upstream organization failed",
			zap.String("organization_id", req.OrganizationID), zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "binding failed"})
	}

	h.logger.Info("upstream organization bound",
		zap.String("app_id", store.UUIDString(id)),
		zap.String("organization_id", req.OrganizationID),
	)
	return c.JSON(http.StatusOK, binding)
}

// OAuthURL returns the provider consent URL for a tenant onboarding flow.
// The state round-trips the app id so the callback can tie the exchanged
// code back to the tenant.
func (h *AdminHandler) OAuthURL(c echo.Context) error {
	id, ok := h.appID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid app id"})
	}
	state := c.QueryParam("state")
	if state == "" {
		state = store.UUIDString(id)
	}
	return c.JSON(http.StatusOK, map[string]string{"url": h.upstream.AuthCodeURL(state)})
}

type registerWebhookRequest struct {
	HookURL string `json:"hook_url"`
	Secret  string `json:"secret"`
}

// RegisterWebhook creates the event subscription on the provider so
// deliveries start flowing to the ingest endpoint.
func (h *AdminHandler) RegisterWebhook(c echo.Context) error {
	id, ok := h.appID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid app id"})
	}
	var req registerWebhookRequest
	if err := c.Bind(&req); err != nil || req.HookURL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "hook_url is required"})
	}

	binding, err := h.queries.GetBindingByApp(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "app has no upstream binding"})
	}
	if err != nil {
		h.logger.Error("binding lookup failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	reg, err := h.upstream.RegisterWebhook(c.Request().Context(), binding, req.HookURL, req.Secret)
	if errors.Is(err, store.ErrDuplicate) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "webhook already registered"})
	}
	if err != nil {
		h.logger.Error("register upstream webhook failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "webhook registration failed"})
	}
	return c.JSON(http.StatusCreated, reg)
}

// GetEvent returns one raw queue entry verbatim, payload bytes included, so
// an operator can re-verify a stored delivery against its signature.
func (h *AdminHandler) GetEvent(c echo.Context) error {
	id, err := store.ParseUUID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid event id"})
	}

	ev, err := h.queries.GetRawEvent(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "event not found"})
	}
	if err != nil {
		h.logger.Error("get raw event failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, ev)
}

// ── shared helpers ────────────────────────────────────────────────────────

func pgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func queryInt(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
