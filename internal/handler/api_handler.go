package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adeosun07/CTIserver-sub001/internal/credentials"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
)

const appContextKey = "cti.app"

// KeyVerifier authenticates a tenant API key. Satisfied by
// *credentials.Manager.
type KeyVerifier interface {
	Verify(ctx context.Context, plaintext string) (store.App, error)
}

// QueryStore is the read surface of the tenant API. Satisfied by
// *store.Queries.
type QueryStore interface {
	ListCalls(ctx context.Context, arg store.ListCallsParams) ([]store.Call, error)
	ListActiveCalls(ctx context.Context, appID pgtype.UUID) ([]store.Call, error)
	GetCall(ctx context.Context, key store.CallKey) (store.Call, error)
	ListMessages(ctx context.Context, arg store.ListMessagesParams) ([]store.Message, error)
	GetMessage(ctx context.Context, appID pgtype.UUID, id pgtype.UUID) (store.Message, error)
	ListVoicemails(ctx context.Context, arg store.ListVoicemailsParams) ([]store.Voicemail, error)
}

// APIHandler serves the tenant-facing query surface. Every route is scoped
// to the authenticated tenant; a resource belonging to another tenant is
// indistinguishable from one that does not exist.
type APIHandler struct {
	queries QueryStore
	keys    KeyVerifier
	logger  *zap.Logger
}

func NewAPIHandler(queries QueryStore, keys KeyVerifier, logger *zap.Logger) *APIHandler {
	return &APIHandler{queries: queries, keys: keys, logger: logger}
}

// Register mounts the tenant API routes behind API key auth.
func (h *APIHandler) Register(e *echo.Echo) {
	g := e.Group("/api", h.requireAPIKey)
	g.GET("/calls", h.ListCalls)
	g.GET("/calls/active", h.ListActiveCalls)
	g.GET("/calls/:call_id", h.GetCall)
	g.GET("/messages", h.ListMessages)
	g.GET("/messages/:id", h.GetMessage)
	g.GET("/voicemails", h.ListVoicemails)
}

func (h *APIHandler) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		app, err := h.keys.Verify(c.Request().Context(), c.Request().Header.Get("x-app-api-key"))
		if err != nil {
			if errors.Is(err, credentials.ErrInactiveApp) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "app is inactive"})
			}
			if errors.Is(err, credentials.ErrInvalidKey) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			h.logger.Error("api key verification failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		c.Set(appContextKey, app)
		return next(c)
	}
}

func currentApp(c echo.Context) store.App {
	app, _ := c.Get(appContextKey).(store.App)
	return app
}

// ── calls ─────────────────────────────────────────────────────────────────

func (h *APIHandler) ListCalls(c echo.Context) error {
	app := currentApp(c)
	calls, err := h.queries.ListCalls(c.Request().Context(), store.ListCallsParams{
		AppID:  app.ID,
		Status: pgText(c.QueryParam("status")),
		Limit:  int32(clamp(queryInt(c, "limit", 50), 1, 200)),
		Offset: int32(max(queryInt(c, "offset", 0), 0)),
	})
	if err != nil {
		h.logger.Error("list calls failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	if calls == nil {
		calls = []store.Call{}
	}
	return c.JSON(http.StatusOK, map[string]any{"calls": calls})
}

func (h *APIHandler) ListActiveCalls(c echo.Context) error {
	app := currentApp(c)
	calls, err := h.queries.ListActiveCalls(c.Request().Context(), app.ID)
	if err != nil {
		h.logger.Error("list active calls failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	if calls == nil {
		calls = []store.Call{}
	}
	return c.JSON(http.StatusOK, map[string]any{"calls": calls})
}

// GetCall looks up one call by its upstream call id within the tenant.
func (h *APIHandler) GetCall(c echo.Context) error {
	app := currentApp(c)
	call, err := h.queries.GetCall(c.Request().Context(), store.CallKey{
		AppID:          app.ID,
		UpstreamCallID: c.Param("call_id"),
	})
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "call not found"})
	}
	if err != nil {
		h.logger.Error("get call failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, call)
}

// ── messages ──────────────────────────────────────────────────────────────

func (h *APIHandler) ListMessages(c echo.Context) error {
	app := currentApp(c)
	msgs, err := h.queries.ListMessages(c.Request().Context(), store.ListMessagesParams{
		AppID:  app.ID,
		Limit:  int32(clamp(queryInt(c, "limit", 50), 1, 200)),
		Offset: int32(max(queryInt(c, "offset", 0), 0)),
	})
	if err != nil {
		h.logger.Error("list messages failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}

func (h *APIHandler) GetMessage(c echo.Context) error {
	app := currentApp(c)
	id, err := store.ParseUUID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "message not found"})
	}

	msg, err := h.queries.GetMessage(c.Request().Context(), app.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "message not found"})
	}
	if err != nil {
		h.logger.Error("get message failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, msg)
}

// ── voicemails ────────────────────────────────────────────────────────────

func (h *APIHandler) ListVoicemails(c echo.Context) error {
	app := currentApp(c)
	vms, err := h.queries.ListVoicemails(c.Request().Context(), store.ListVoicemailsParams{
		AppID:  app.ID,
		Limit:  int32(clamp(queryInt(c, "limit", 50), 1, 200)),
		Offset: int32(max(queryInt(c, "offset", 0), 0)),
	})
	if err != nil {
		h.logger.Error("list voicemails failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	if vms == nil {
		vms = []store.Voicemail{}
	}
	return c.JSON(http.StatusOK, map[string]any{"voicemails": vms})
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
