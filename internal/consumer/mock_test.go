package consumer_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/adeosun07/CTIserver-sub001/internal/consumer"
	"github.com/adeosun07/CTIserver-sub001/internal/fanout"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
)

// memStore is an in-memory stand-in for the handler query surface. It
// mirrors the COALESCE upsert semantics of the real SQL closely enough for
// state machine tests.
type messageKey struct {
	appID      pgtype.UUID
	upstreamID string
}

type memStore struct {
	calls      map[store.CallKey]store.Call
	voicemails []store.Voicemail
	messages   map[messageKey]store.Message

	now time.Time
}

func newMemStore() *memStore {
	return &memStore{
		calls:    make(map[store.CallKey]store.Call),
		messages: make(map[messageKey]store.Message),
		now:      time.Now().UTC(),
	}
}

func (m *memStore) message(appID pgtype.UUID, upstreamID string) store.Message {
	return m.messages[messageKey{appID: appID, upstreamID: upstreamID}]
}

func (m *memStore) GetCallForUpdate(_ context.Context, key store.CallKey) (store.Call, error) {
	c, ok := m.calls[key]
	if !ok {
		return store.Call{}, store.ErrNotFound
	}
	return c, nil
}

func (m *memStore) InsertCall(_ context.Context, arg store.InsertCallParams) (store.Call, error) {
	key := store.CallKey{AppID: arg.AppID, UpstreamCallID: arg.UpstreamCallID}
	if _, ok := m.calls[key]; ok {
		return store.Call{}, store.ErrDuplicate
	}
	c := store.Call{
		ID:              arg.ID,
		AppID:           arg.AppID,
		UpstreamCallID:  arg.UpstreamCallID,
		Direction:       arg.Direction,
		Status:          arg.Status,
		FromNumber:      arg.FromNumber,
		ToNumber:        arg.ToNumber,
		UserID:          arg.UserID,
		StartedAt:       arg.StartedAt,
		EndedAt:         arg.EndedAt,
		DurationSeconds: arg.DurationSeconds,
		IsVoicemail:     arg.IsVoicemail,
		LastPayload:     arg.LastPayload,
	}
	m.calls[key] = c
	return c, nil
}

func (m *memStore) UpdateCall(_ context.Context, arg store.UpdateCallParams) (store.Call, error) {
	c, ok := m.calls[arg.Key]
	if !ok {
		return store.Call{}, store.ErrNotFound
	}
	c.Status = arg.Status
	if arg.Direction.Valid {
		c.Direction = arg.Direction
	}
	if arg.FromNumber.Valid {
		c.FromNumber = arg.FromNumber
	}
	if arg.ToNumber.Valid {
		c.ToNumber = arg.ToNumber
	}
	if arg.UserID.Valid {
		c.UserID = arg.UserID
	}
	if arg.StartedAt.Valid {
		c.StartedAt = arg.StartedAt
	}
	if arg.EndedAt.Valid {
		c.EndedAt = arg.EndedAt
	}
	if arg.DurationSeconds.Valid {
		c.DurationSeconds = arg.DurationSeconds
	}
	if arg.LastPayload != nil {
		c.LastPayload = arg.LastPayload
	}
	m.calls[arg.Key] = c
	return c, nil
}

func (m *memStore) AttachRecording(_ context.Context, key store.CallKey, recordingURL string) (store.Call, error) {
	c, ok := m.calls[key]
	if !ok {
		return store.Call{}, store.ErrNotFound
	}
	c.RecordingURL = pgtype.Text{String: recordingURL, Valid: true}
	m.calls[key] = c
	return c, nil
}

func (m *memStore) AttachVoicemail(_ context.Context, arg store.AttachVoicemailParams) (store.Call, error) {
	c, ok := m.calls[arg.Key]
	if !ok {
		return store.Call{}, store.ErrNotFound
	}
	c.IsVoicemail = true
	if arg.VoicemailURL.Valid {
		c.VoicemailURL = arg.VoicemailURL
	}
	if arg.Transcript.Valid {
		c.VoicemailTranscript = arg.Transcript
	}
	m.calls[arg.Key] = c
	return c, nil
}

func (m *memStore) GetVoicemailByCall(_ context.Context, appID pgtype.UUID, upstreamCallID string) (store.Voicemail, error) {
	for _, v := range m.voicemails {
		if v.AppID == appID && v.UpstreamCallID.Valid && v.UpstreamCallID.String == upstreamCallID {
			return v, nil
		}
	}
	return store.Voicemail{}, store.ErrNotFound
}

func (m *memStore) InsertVoicemail(_ context.Context, arg store.InsertVoicemailParams) (store.Voicemail, error) {
	v := store.Voicemail{
		ID:              arg.ID,
		AppID:           arg.AppID,
		UpstreamCallID:  arg.UpstreamCallID,
		UserID:          arg.UserID,
		FromNumber:      arg.FromNumber,
		ToNumber:        arg.ToNumber,
		RecordingURL:    arg.RecordingURL,
		Transcript:      arg.Transcript,
		DurationSeconds: arg.DurationSeconds,
		CreatedAt:       pgtype.Timestamptz{Time: m.now, Valid: true},
	}
	m.voicemails = append(m.voicemails, v)
	return v, nil
}

func (m *memStore) UpdateVoicemailMedia(_ context.Context, arg store.UpdateVoicemailMediaParams) (store.Voicemail, error) {
	for i, v := range m.voicemails {
		if v.ID != arg.ID {
			continue
		}
		if arg.RecordingURL.Valid {
			v.RecordingURL = arg.RecordingURL
		}
		if arg.Transcript.Valid {
			v.Transcript = arg.Transcript
		}
		if arg.DurationSeconds.Valid {
			v.DurationSeconds = arg.DurationSeconds
		}
		m.voicemails[i] = v
		return v, nil
	}
	return store.Voicemail{}, store.ErrNotFound
}

func (m *memStore) FindRecentOrphanVoicemail(_ context.Context, arg store.RecentOrphanVoicemailParams) (store.Voicemail, error) {
	cutoff := m.now.Add(-arg.Window)
	for i := len(m.voicemails) - 1; i >= 0; i-- {
		v := m.voicemails[i]
		if v.AppID != arg.AppID || v.UpstreamCallID.Valid {
			continue
		}
		if v.UserID != arg.UserID || v.FromNumber != arg.FromNumber {
			continue
		}
		if v.CreatedAt.Time.After(cutoff) {
			return v, nil
		}
	}
	return store.Voicemail{}, store.ErrNotFound
}

// UpsertMessage conflicts on (app_id, upstream_message_id), mirroring the
// tenant-scoped unique constraint.
func (m *memStore) UpsertMessage(_ context.Context, arg store.UpsertMessageParams) (store.Message, error) {
	key := messageKey{appID: arg.AppID, upstreamID: arg.UpstreamMessageID}
	msg, ok := m.messages[key]
	if !ok {
		msg = store.Message{
			ID:                arg.ID,
			AppID:             arg.AppID,
			UpstreamMessageID: arg.UpstreamMessageID,
			FromNumber:        arg.FromNumber,
			ToNumber:          arg.ToNumber,
		}
	}
	if arg.Direction.Valid {
		msg.Direction = arg.Direction
	}
	if arg.Body.Valid {
		msg.Body = arg.Body
	}
	if arg.UserID.Valid {
		msg.UserID = arg.UserID
	}
	if arg.SentAt.Valid {
		msg.SentAt = arg.SentAt
	}
	m.messages[key] = msg
	return msg, nil
}

// memTxRunner hands the mem store straight to the handler function.
type memTxRunner struct {
	store *memStore
}

func (r *memTxRunner) InTx(_ context.Context, fn func(q consumer.Queries) error) error {
	return fn(r.store)
}

// captureBroadcaster records every fanout emission.
type captureBroadcaster struct {
	events []fanout.Event
	appIDs []pgtype.UUID
}

func (b *captureBroadcaster) Broadcast(_ context.Context, appID pgtype.UUID, ev fanout.Event) {
	b.appIDs = append(b.appIDs, appID)
	b.events = append(b.events, ev)
}
