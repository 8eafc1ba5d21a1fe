package fanout

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/adeosun07/CTIserver-sub001/internal/credentials"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
)

const (
	// pingInterval is the keepalive probe period. A connection that has not
	// answered with a pong within one probe interval is terminated.
	pingInterval = 30 * time.Second
	pongWait     = pingInterval + 5*time.Second

	writeWait      = 10 * time.Second
	maxInboundSize = 4096
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Subscribers are backend services, not browsers.
	CheckOrigin: func(*http.Request) bool { return true },
}

// connection is one subscriber session.
type connection struct {
	appID string
	ws    *websocket.Conn
	send  chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// KeyVerifier authenticates the upgrade handshake.
type KeyVerifier interface {
	Verify(ctx context.Context, plaintext string) (store.App, error)
}

// HandlerOptions wires the upgrade endpoint.
type HandlerOptions struct {
	Hub    *Hub
	Keys   KeyVerifier
	Logger *zap.Logger
}

// Handler returns the echo handler for the websocket upgrade path. The
// handshake authenticates with the same API key mechanism as REST:
// credentials come from the api_key query parameter or the x-app-api-key
// header.
func Handler(opts HandlerOptions) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.QueryParam("api_key")
		if key == "" {
			key = c.Request().Header.Get("x-app-api-key")
		}

		app, err := opts.Keys.Verify(c.Request().Context(), key)
		if err != nil {
			if errors.Is(err, credentials.ErrInactiveApp) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "app is inactive"})
			}
			if errors.Is(err, credentials.ErrInvalidKey) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			opts.Logger.Error("websocket auth failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// Upgrade already wrote the error response.
			return nil
		}

		conn := &connection{
			appID: store.UUIDString(app.ID),
			ws:    ws,
			send:  make(chan []byte, sendBufferSize),
			done:  make(chan struct{}),
		}
		if !opts.Hub.add(conn) {
			conn.close()
			return nil
		}

		opts.Logger.Info("subscriber connected", zap.String("app_id", conn.appID))

		go conn.writePump(opts.Hub, opts.Logger)
		go conn.readPump(opts.Hub, opts.Logger)
		return nil
	}
}

// writePump serializes all writes on the connection: fanout messages and
// keepalive pings. gorilla/websocket permits only one concurrent writer.
func (c *connection) writePump(hub *Hub, logger *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		hub.remove(c)
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("subscriber write failed", zap.String("app_id", c.appID), zap.Error(err))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound frames to keep the connection's read side
// serviced and enforces the pong deadline.
func (c *connection) readPump(hub *Hub, logger *zap.Logger) {
	defer func() {
		hub.remove(c)
		c.close()
		logger.Info("subscriber disconnected", zap.String("app_id", c.appID))
	}()

	c.ws.SetReadLimit(maxInboundSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Subscribers do not send application data; discard anything inbound.
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
