package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// streamMaxAge bounds how long a relayed event may sit in the stream. A
	// fanout event older than this is stale for a live subscriber anyway.
	streamMaxAge = 2 * time.Minute

	headerInstanceID = "Cti-Instance-Id"
)

// LocalDeliverer receives relayed events for in-process subscribers.
// Satisfied by *fanout.Hub.
type LocalDeliverer interface {
	DeliverLocal(appID string, data []byte)
}

// Relay mirrors fanout broadcasts across instances. Each instance publishes
// its own broadcasts tagged with its instance id and subscribes to the whole
// stream, skipping messages it published itself.
type Relay struct {
	client     *Client
	instanceID string
	logger     *zap.Logger
	sub        *nats.Subscription
}

func NewRelay(client *Client, logger *zap.Logger) *Relay {
	return &Relay{
		client:     client,
		instanceID: uuid.NewString(),
		logger:     logger,
	}
}

// Publish implements fanout.RelayPublisher.
func (r *Relay) Publish(appID string, data []byte) error {
	msg := nats.NewMsg(subjectPrefix + appID)
	msg.Header.Set(headerInstanceID, r.instanceID)
	msg.Data = data
	if _, err := r.client.JS.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish fanout relay: %w", err)
	}
	return nil
}

// Start subscribes to the fanout stream with an ephemeral push consumer.
// Every instance needs every message, so no durable group is shared; only
// messages arriving after startup matter.
func (r *Relay) Start(ctx context.Context, dst LocalDeliverer) error {
	sub, err := r.client.JS.Subscribe(SubjectFanout, func(msg *nats.Msg) {
		defer msg.Ack()
		if msg.Header.Get(headerInstanceID) == r.instanceID {
			return // our own broadcast, already delivered locally
		}
		appID := strings.TrimPrefix(msg.Subject, subjectPrefix)
		if appID == "" || appID == msg.Subject {
			r.logger.Warn("relay message with malformed subject", zap.String("subject", msg.Subject))
			return
		}
		dst.DeliverLocal(appID, msg.Data)
	}, nats.DeliverNew(), nats.AckExplicit())
	if err != nil {
		return fmt.Errorf("subscribe fanout relay: %w", err)
	}
	r.sub = sub

	r.logger.Info("fanout relay started", zap.String("instance_id", r.instanceID))

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("relay unsubscribe failed", zap.Error(err))
		}
		r.logger.Info("fanout relay stopped")
	}()
	return nil
}
