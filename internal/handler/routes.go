package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports database liveness. Satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStats reports raw event queue depth. Satisfied by *store.Queries.
type QueueStats interface {
	CountPendingEvents(ctx context.Context) (int64, error)
}

// RegisterSystem mounts the unauthenticated operational routes: liveness
// with the current queue depth, plus the Prometheus scrape endpoint.
func RegisterSystem(e *echo.Echo, db Pinger, queue QueueStats, reg *prometheus.Registry) {
	e.GET("/health", func(c echo.Context) error {
		ctx := c.Request().Context()
		if err := db.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "degraded",
				"error":  "database unreachable",
			})
		}
		doc := map[string]any{"status": "ok"}
		if depth, err := queue.CountPendingEvents(ctx); err == nil {
			doc["queue_depth"] = depth
		}
		return c.JSON(http.StatusOK, doc)
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
}
