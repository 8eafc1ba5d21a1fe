package consumer

import (
	"context"

	"go.uber.org/zap"

	"github.com/adeosun07/CTIserver-sub001/internal/payload"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
)

// MessageHandler records SMS events. Messages are append-only history, not
// live call state, so no fanout event is emitted.
type MessageHandler struct {
	tx     TxRunner
	logger *zap.Logger
}

func NewMessageHandler(tx TxRunner, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{tx: tx, logger: logger}
}

// Handle upserts one message keyed by its upstream message id.
func (h *MessageHandler) Handle(ctx context.Context, ev store.RawEvent) error {
	doc, err := payload.Decode(ev.Payload)
	if err != nil {
		h.logger.Warn("undecodable message payload",
			zap.String("event_id", store.UUIDString(ev.ID)), zap.Error(err))
		return nil
	}
	msg := doc.Message()
	if msg.MessageID == "" {
		h.logger.Warn("message event without message id",
			zap.String("event_type", ev.EventType))
		return nil
	}

	// Explicit direction field wins; fall back to the event type wording.
	direction := payload.NormalizeDirection(msg.RawDirection)
	if direction == "" {
		direction = payload.DirectionFromEventType(ev.EventType)
	}

	return h.tx.InTx(ctx, func(q Queries) error {
		_, err := q.UpsertMessage(ctx, store.UpsertMessageParams{
			ID:                store.NewUUID(),
			AppID:             ev.AppID,
			UpstreamMessageID: msg.MessageID,
			Direction:         textOrNull(direction),
			FromNumber:        textOrNull(msg.FromNumber),
			ToNumber:          textOrNull(msg.ToNumber),
			Body:              textOrNull(msg.Body),
			UserID:            textOrNull(msg.UserID),
			SentAt:            tstz(msg.SentAt, msg.HasSentAt),
		})
		return err
	})
}
