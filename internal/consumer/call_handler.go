package consumer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/adeosun07/CTIserver-sub001/internal/fanout"
	"github.com/adeosun07/CTIserver-sub001/internal/payload"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
)

// CallHandler reconstructs per-call state machines from call-family events.
// Each event type follows the same pattern: read the existing status under a
// row lock, validate the transition against the matrix, insert or update,
// then emit one fanout event for the tenant.
type CallHandler struct {
	tx        TxRunner
	broadcast Broadcaster
	logger    *zap.Logger
}

func NewCallHandler(tx TxRunner, broadcast Broadcaster, logger *zap.Logger) *CallHandler {
	return &CallHandler{tx: tx, broadcast: broadcast, logger: logger}
}

// Ring handles the initial ring notification. Target status: ringing.
func (h *CallHandler) Ring(ctx context.Context, ev store.RawEvent) error {
	return h.apply(ctx, ev, store.CallRinging, applyOpts{})
}

// Started handles call pickup. Target status: active; records started-at.
func (h *CallHandler) Started(ctx context.Context, ev store.RawEvent) error {
	return h.apply(ctx, ev, store.CallActive, applyOpts{recordStarted: true})
}

// Ended handles hangup. Target status: ended. The update path is preferred
// over insert so richer data from earlier events survives; when no row
// exists yet a minimal row is created directly in the ended state.
func (h *CallHandler) Ended(ctx context.Context, ev store.RawEvent) error {
	return h.apply(ctx, ev, store.CallEnded, applyOpts{recordEnded: true})
}

// Missed handles an unanswered inbound call. Target status: missed.
func (h *CallHandler) Missed(ctx context.Context, ev store.RawEvent) error {
	return h.apply(ctx, ev, store.CallMissed, applyOpts{recordEnded: true})
}

// Rejected handles an explicitly declined call. Target status: rejected.
func (h *CallHandler) Rejected(ctx context.Context, ev store.RawEvent) error {
	return h.apply(ctx, ev, store.CallRejected, applyOpts{recordEnded: true})
}

// Recording attaches a completed recording URL to an existing call. It
// never transitions status and never creates a row: a recording event for
// an unknown call is logged and dropped.
func (h *CallHandler) Recording(ctx context.Context, ev store.RawEvent) error {
	call, ok := h.decode(ev)
	if !ok {
		return nil
	}
	if call.RecordingURL == "" {
		h.logger.Warn("recording event without recording url",
			zap.String("call_id", call.CallID))
		return nil
	}

	key := store.CallKey{AppID: ev.AppID, UpstreamCallID: call.CallID}
	err := h.tx.InTx(ctx, func(q Queries) error {
		_, err := q.AttachRecording(ctx, key, call.RecordingURL)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("recording event for unknown call, dropping",
			zap.String("call_id", call.CallID))
		return nil
	}
	return err
}

type applyOpts struct {
	recordStarted bool
	recordEnded   bool
}

// apply runs the shared read-validate-upsert pattern for one target status.
func (h *CallHandler) apply(ctx context.Context, ev store.RawEvent, target string, opts applyOpts) error {
	call, ok := h.decode(ev)
	if !ok {
		return nil
	}

	direction := payload.NormalizeDirection(call.RawDirection)
	if call.RawDirection != "" && direction == "" {
		h.logger.Warn("unrecognized call direction",
			zap.String("direction", call.RawDirection),
			zap.String("call_id", call.CallID))
	}

	sanitized := payload.Sanitize(ev.Payload)
	key := store.CallKey{AppID: ev.AppID, UpstreamCallID: call.CallID}

	var (
		result       store.Call
		transitioned bool
	)
	err := h.tx.InTx(ctx, func(q Queries) error {
		existing, err := q.GetCallForUpdate(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			result, err = q.InsertCall(ctx, store.InsertCallParams{
				ID:              store.NewUUID(),
				AppID:           ev.AppID,
				UpstreamCallID:  call.CallID,
				Direction:       textOrNull(direction),
				Status:          target,
				FromNumber:      textOrNull(call.FromNumber),
				ToNumber:        textOrNull(call.ToNumber),
				UserID:          textOrNull(call.UserID),
				StartedAt:       tstz(call.StartedAt, opts.recordStarted && call.HasStartedAt),
				EndedAt:         tstz(ev.ReceivedAt.Time, opts.recordEnded),
				DurationSeconds: int4(call.Duration, opts.recordEnded && call.HasDuration),
				LastPayload:     sanitized,
			})
			if errors.Is(err, store.ErrDuplicate) {
				// A peer won the insert race inside our lock window; retry
				// the event on the next pass against the now-existing row.
				return err
			}
			transitioned = err == nil
			return err
		}
		if err != nil {
			return err
		}

		if !canTransition(existing.Status, target) {
			h.logger.Warn("illegal call transition dropped",
				zap.String("call_id", call.CallID),
				zap.String("from", existing.Status),
				zap.String("to", target))
			return nil
		}

		result, err = q.UpdateCall(ctx, store.UpdateCallParams{
			Key:             key,
			Status:          target,
			Direction:       textOrNull(direction),
			FromNumber:      textOrNull(call.FromNumber),
			ToNumber:        textOrNull(call.ToNumber),
			UserID:          textOrNull(call.UserID),
			StartedAt:       tstz(call.StartedAt, opts.recordStarted && call.HasStartedAt),
			EndedAt:         tstz(ev.ReceivedAt.Time, opts.recordEnded),
			DurationSeconds: int4(call.Duration, opts.recordEnded && call.HasDuration),
			LastPayload:     sanitized,
		})
		transitioned = err == nil
		return err
	})
	if err != nil {
		return err
	}

	if transitioned {
		h.emit(ctx, ev, result, opts)
	}
	return nil
}

// decode parses the raw payload and extracts the call view. Structurally
// unusable events are logged and swallowed: the verbatim payload stays in
// the queue row, and retrying a parse failure can never succeed.
func (h *CallHandler) decode(ev store.RawEvent) (payload.CallEvent, bool) {
	doc, err := payload.Decode(ev.Payload)
	if err != nil {
		h.logger.Warn("undecodable call payload",
			zap.String("event_id", store.UUIDString(ev.ID)),
			zap.Error(err))
		return payload.CallEvent{}, false
	}
	call := doc.Call()
	if call.CallID == "" {
		h.logger.Warn("call event without call id",
			zap.String("event_type", ev.EventType))
		return payload.CallEvent{}, false
	}
	return call, true
}

func (h *CallHandler) emit(ctx context.Context, ev store.RawEvent, call store.Call, opts applyOpts) {
	fe := fanout.Event{
		Event:      ev.EventType,
		CallID:     call.UpstreamCallID,
		Direction:  call.Direction.String,
		FromNumber: call.FromNumber.String,
		ToNumber:   call.ToNumber.String,
		Status:     call.Status,
		UserID:     call.UserID.String,
	}
	if opts.recordEnded && call.DurationSeconds.Valid {
		d := call.DurationSeconds.Int32
		fe.Duration = &d
	}
	h.broadcast.Broadcast(ctx, ev.AppID, fe)
}
