// Package fanout delivers pipeline events in real time to connected tenant
// backends over websocket sessions.
//
// The registry is process-local. When a relay publisher is attached, every
// broadcast is also mirrored onto the message bus so that hubs in other
// processes can deliver it to their own subscribers.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/adeosun07/CTIserver-sub001/internal/store"
	"github.com/adeosun07/CTIserver-sub001/internal/telemetry"
)

// Event is the payload streamed to subscribers.
type Event struct {
	Event      string `json:"event"`
	CallID     string `json:"call_id,omitempty"`
	Direction  string `json:"direction,omitempty"`
	FromNumber string `json:"from_number,omitempty"`
	ToNumber   string `json:"to_number,omitempty"`
	Status     string `json:"status,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	CRMUserID  string `json:"crm_user_id,omitempty"`
	Duration   *int32 `json:"duration,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// MappingResolver resolves an upstream user id to the tenant's CRM user id.
// Satisfied by *store.Queries.
type MappingResolver interface {
	ResolveUserMapping(ctx context.Context, appID pgtype.UUID, upstreamUserID string) (string, error)
}

// RelayPublisher mirrors a broadcast onto an out-of-process bus.
type RelayPublisher interface {
	Publish(appID string, data []byte) error
}

// Hub is the in-process subscription registry, keyed by tenant id.
type Hub struct {
	mu       sync.Mutex
	conns    map[string]map[*connection]struct{}
	mappings MappingResolver
	relay    RelayPublisher
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	closed   bool
}

func NewHub(mappings MappingResolver, metrics *telemetry.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		conns:    make(map[string]map[*connection]struct{}),
		mappings: mappings,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetRelay attaches the bus publisher. Must be called before traffic flows.
func (h *Hub) SetRelay(r RelayPublisher) { h.relay = r }

// Broadcast delivers an event to every open connection of the tenant.
// Exactly one tenant-wide send happens per event; when the event names an
// upstream user with a known mapping, the event is enriched with the CRM
// user id first. Per-subscriber filtering is the subscriber's concern.
func (h *Hub) Broadcast(ctx context.Context, appID pgtype.UUID, ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if ev.UserID != "" && h.mappings != nil {
		crmID, err := h.mappings.ResolveUserMapping(ctx, appID, ev.UserID)
		switch {
		case err == nil:
			ev.CRMUserID = crmID
		case !errors.Is(err, store.ErrNotFound):
			h.logger.Error("user mapping lookup failed", zap.Error(err))
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal fanout event", zap.Error(err))
		return
	}

	id := store.UUIDString(appID)
	h.deliverLocal(id, data)

	if h.relay != nil {
		if err := h.relay.Publish(id, data); err != nil {
			h.logger.Error("relay publish failed", zap.Error(err))
		}
	}
}

// DeliverLocal sends raw bytes to the tenant's local connections. Used by
// the bus relay for events produced in other processes.
func (h *Hub) DeliverLocal(appID string, data []byte) { h.deliverLocal(appID, data) }

func (h *Hub) deliverLocal(appID string, data []byte) {
	h.mu.Lock()
	set := h.conns[appID]
	targets := make([]*connection, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	// Delivery is best-effort: a slow or dead connection is dropped without
	// delaying its siblings.
	for _, c := range targets {
		select {
		case c.send <- data:
			h.metrics.FanoutSends.Inc()
		default:
			h.metrics.FanoutSendFailures.Inc()
			h.logger.Warn("subscriber send buffer full, dropping connection",
				zap.String("app_id", appID))
			c.close()
		}
	}
}

func (h *Hub) add(c *connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.conns[c.appID]
	if !ok {
		set = make(map[*connection]struct{})
		h.conns[c.appID] = set
	}
	set[c] = struct{}{}
	h.metrics.FanoutConnections.Inc()
	return true
}

func (h *Hub) remove(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.appID]
	if !ok {
		return
	}
	if _, present := set[c]; !present {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.appID)
	}
	h.metrics.FanoutConnections.Dec()
}

// ConnectionCount reports the number of open connections for a tenant.
func (h *Hub) ConnectionCount(appID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[appID])
}

// Close terminates every connection. New registrations are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*connection
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}
