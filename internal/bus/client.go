// Package bus carries fanout events across broker instances over NATS
// JetStream. A single instance works without it; the relay exists so that a
// subscriber connected to one instance still receives events ingested and
// processed by another.
package bus

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamFanout buffers relayed fanout events.
	StreamFanout = "CTI_FANOUT"
	// SubjectFanout is the per-tenant subject hierarchy: fanout.<app_id>.
	SubjectFanout = "fanout.>"

	subjectPrefix = "fanout."
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
	Log  *zap.Logger
}

// NewClient connects to NATS and initialises a JetStream context.
func NewClient(url string, logger *zap.Logger) (*Client, error) {
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	logger.Info("NATS JetStream connected", zap.String("url", url))
	return &Client{Conn: nc, JS: js, Log: logger}, nil
}

// ProvisionStreams idempotently creates the fanout stream. The stream only
// bridges live deliveries between instances, so retention is capped tightly
// rather than kept as durable history.
func (c *Client) ProvisionStreams() error {
	_, err := c.JS.StreamInfo(StreamFanout)
	if err == nil {
		c.Log.Info("NATS stream exists", zap.String("stream", StreamFanout))
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to check stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamFanout,
		Subjects:  []string{SubjectFanout},
		Storage:   nats.MemoryStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    streamMaxAge,
	}
	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	c.Log.Info("NATS stream provisioned", zap.String("stream", StreamFanout))
	return nil
}

// Close drains the connection so in-flight publishes flush before shutdown;
// falls back to Close if the drain itself errors.
func (c *Client) Close() {
	if c.Conn != nil {
		if err := c.Conn.Drain(); err != nil {
			c.Conn.Close()
		}
	}
}
