package consumer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/adeosun07/CTIserver-sub001/internal/fanout"
	"github.com/adeosun07/CTIserver-sub001/internal/payload"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
)

// orphanWindow is the duplicate guard for voicemails without a call id:
// a second delivery for the same (tenant, recipient, caller) inside this
// window is treated as the same voicemail.
const orphanWindow = 60 * time.Second

// VoicemailHandler upserts voicemail rows and cross-links them to calls.
type VoicemailHandler struct {
	tx        TxRunner
	broadcast Broadcaster
	logger    *zap.Logger
}

func NewVoicemailHandler(tx TxRunner, broadcast Broadcaster, logger *zap.Logger) *VoicemailHandler {
	return &VoicemailHandler{tx: tx, broadcast: broadcast, logger: logger}
}

// Handle processes one voicemail event.
func (h *VoicemailHandler) Handle(ctx context.Context, ev store.RawEvent) error {
	doc, err := payload.Decode(ev.Payload)
	if err != nil {
		h.logger.Warn("undecodable voicemail payload",
			zap.String("event_id", store.UUIDString(ev.ID)), zap.Error(err))
		return nil
	}
	vm := doc.Voicemail()

	var saved store.Voicemail
	err = h.tx.InTx(ctx, func(q Queries) error {
		saved, err = h.upsertVoicemail(ctx, q, ev, vm)
		if err != nil {
			return err
		}
		if vm.CallID != "" {
			return h.linkCall(ctx, q, ev, vm)
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.broadcast.Broadcast(ctx, ev.AppID, fanout.Event{
		Event:      ev.EventType,
		CallID:     vm.CallID,
		FromNumber: saved.FromNumber.String,
		ToNumber:   saved.ToNumber.String,
		Status:     store.CallVoicemail,
		UserID:     saved.UserID.String,
	})
	return nil
}

// upsertVoicemail applies the two-case upsert: keyed by upstream call id
// when present, guarded by the short orphan window otherwise.
func (h *VoicemailHandler) upsertVoicemail(ctx context.Context, q Queries, ev store.RawEvent, vm payload.VoicemailEvent) (store.Voicemail, error) {
	if vm.CallID != "" {
		existing, err := q.GetVoicemailByCall(ctx, ev.AppID, vm.CallID)
		switch {
		case err == nil:
			return q.UpdateVoicemailMedia(ctx, store.UpdateVoicemailMediaParams{
				ID:              existing.ID,
				RecordingURL:    textOrNull(vm.RecordingURL),
				Transcript:      textOrNull(vm.Transcript),
				DurationSeconds: int4(vm.Duration, vm.HasDuration),
			})
		case !errors.Is(err, store.ErrNotFound):
			return store.Voicemail{}, err
		}
	} else {
		dup, err := q.FindRecentOrphanVoicemail(ctx, store.RecentOrphanVoicemailParams{
			AppID:      ev.AppID,
			UserID:     textOrNull(vm.UserID),
			FromNumber: textOrNull(vm.FromNumber),
			Window:     orphanWindow,
		})
		switch {
		case err == nil:
			h.logger.Info("duplicate orphan voicemail within guard window",
				zap.String("voicemail_id", store.UUIDString(dup.ID)))
			return dup, nil
		case !errors.Is(err, store.ErrNotFound):
			return store.Voicemail{}, err
		}
	}

	return q.InsertVoicemail(ctx, store.InsertVoicemailParams{
		ID:              store.NewUUID(),
		AppID:           ev.AppID,
		UpstreamCallID:  textOrNull(vm.CallID),
		UserID:          textOrNull(vm.UserID),
		FromNumber:      textOrNull(vm.FromNumber),
		ToNumber:        textOrNull(vm.ToNumber),
		RecordingURL:    textOrNull(vm.RecordingURL),
		Transcript:      textOrNull(vm.Transcript),
		DurationSeconds: int4(vm.Duration, vm.HasDuration),
	})
}

// linkCall transitions the corresponding call to voicemail where the matrix
// permits and records the media on the call row for convenience. When no
// call row exists, an informational row is created directly in the
// voicemail terminal state.
func (h *VoicemailHandler) linkCall(ctx context.Context, q Queries, ev store.RawEvent, vm payload.VoicemailEvent) error {
	key := store.CallKey{AppID: ev.AppID, UpstreamCallID: vm.CallID}

	existing, err := q.GetCallForUpdate(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		_, err = q.InsertCall(ctx, store.InsertCallParams{
			ID:             store.NewUUID(),
			AppID:          ev.AppID,
			UpstreamCallID: vm.CallID,
			Status:         store.CallVoicemail,
			Direction:      textOrNull(payload.DirectionInbound),
			FromNumber:     textOrNull(vm.FromNumber),
			ToNumber:       textOrNull(vm.ToNumber),
			UserID:         textOrNull(vm.UserID),
			IsVoicemail:    true,
			LastPayload:    payload.Sanitize(ev.Payload),
		})
		if errors.Is(err, store.ErrDuplicate) {
			return err // insert race, retry next pass
		}
		return err
	}
	if err != nil {
		return err
	}

	if canTransition(existing.Status, store.CallVoicemail) && existing.Status != store.CallVoicemail {
		if _, err := q.UpdateCall(ctx, store.UpdateCallParams{
			Key:         key,
			Status:      store.CallVoicemail,
			LastPayload: payload.Sanitize(ev.Payload),
		}); err != nil {
			return err
		}
	} else if existing.Status != store.CallVoicemail {
		h.logger.Warn("voicemail transition dropped",
			zap.String("call_id", vm.CallID),
			zap.String("from", existing.Status))
	}

	_, err = q.AttachVoicemail(ctx, store.AttachVoicemailParams{
		Key:          key,
		VoicemailURL: textOrNull(vm.RecordingURL),
		Transcript:   textOrNull(vm.Transcript),
	})
	return err
}
