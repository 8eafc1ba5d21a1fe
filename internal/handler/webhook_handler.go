// Package handler contains the Echo HTTP handlers for the broker: the
// upstream webhook ingest endpoint, the internal admin surface, and the
// tenant-facing query API.
package handler

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adeosun07/CTIserver-sub001/internal/payload"
	"github.com/adeosun07/CTIserver-sub001/internal/signature"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
	"github.com/adeosun07/CTIserver-sub001/internal/telemetry"
)

// maxWebhookBody caps an inbound delivery at 1 MiB. Upstream payloads are a
// few KiB; anything larger is hostile or broken.
const maxWebhookBody = 1 << 20

const (
	// upstreamKeyHeader carries the shared provider API key accepted as an
	// alternative to the HMAC signature.
	upstreamKeyHeader = "x-api-key"
	// eventTypeHeader is the optional event type hint, used when the payload
	// does not carry one.
	eventTypeHeader = "x-event-type"
)

// EventQueue is the queue insert surface. Satisfied by *store.Queries.
type EventQueue interface {
	EnqueueRawEvent(ctx context.Context, arg store.EnqueueRawEventParams) (bool, error)
}

// TenantResolver maps a delivery to its tenant. Satisfied by
// *tenant.Resolver.
type TenantResolver interface {
	Resolve(ctx context.Context, doc payload.Doc, apiKey string) pgtype.UUID
}

// WebhookHandler ingests provider deliveries into the raw event queue.
type WebhookHandler struct {
	queue       EventQueue
	resolver    TenantResolver
	secret      string
	sigHeader   string
	upstreamKey string
	metrics     *telemetry.Metrics
	logger      *zap.Logger
}

func NewWebhookHandler(queue EventQueue, resolver TenantResolver, secret, sigHeader, upstreamKey string, metrics *telemetry.Metrics, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		queue:       queue,
		resolver:    resolver,
		secret:      secret,
		sigHeader:   sigHeader,
		upstreamKey: upstreamKey,
		metrics:     metrics,
		logger:      logger,
	}
}

// Register mounts the ingest route.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/events", h.Receive)
}

// Receive accepts one provider delivery. The exact raw body is read before
// any parsing: the HMAC signature covers the bytes on the wire, and the
// queue row stores them verbatim.
func (h *WebhookHandler) Receive(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	if !h.authenticated(c, body) {
		h.logger.Warn("webhook delivery rejected", zap.String("remote", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	var (
		appID     pgtype.UUID
		eventID   string
		eventType = c.Request().Header.Get(eventTypeHeader)
	)
	doc, err := payload.Decode(body)
	if err != nil {
		// Authenticated but unparseable. The bytes are retained under a null
		// tenant for forensics; no handler will ever run for the row. 2xx
		// stops the upstream from retrying a permanently bad body forever.
		h.logger.Warn("unparseable webhook payload retained", zap.Error(err))
	} else {
		appID = h.resolver.Resolve(ctx, doc, c.Request().Header.Get("x-app-api-key"))
		eventID = doc.EventID()
		if t := doc.EventType(); t != "" {
			eventType = t
		}
	}

	inserted, err := h.queue.EnqueueRawEvent(ctx, store.EnqueueRawEventParams{
		ID:              store.NewUUID(),
		AppID:           appID,
		EventType:       eventType,
		UpstreamEventID: pgText(eventID),
		Payload:         body,
	})
	if err != nil {
		h.logger.Error("enqueue raw event failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	h.metrics.EventsReceived.Inc()
	if !inserted {
		// Duplicate delivery of an already-queued event. The upstream retries
		// until it sees a 2xx, so the duplicate must succeed too.
		h.metrics.EventsDeduplicated.Inc()
		h.logger.Debug("duplicate webhook delivery", zap.String("upstream_event_id", eventID))
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

// authenticated accepts a delivery when the shared upstream API key matches,
// or else when the HMAC signature over the raw body verifies.
func (h *WebhookHandler) authenticated(c echo.Context, body []byte) bool {
	if h.upstreamKey != "" && subtle.ConstantTimeCompare(
		[]byte(c.Request().Header.Get(upstreamKeyHeader)), []byte(h.upstreamKey)) == 1 {
		return true
	}
	return signature.Verify(body, h.secret, c.Request().Header.Get(h.sigHeader))
}
