// Package payload gives the opaque upstream webhook bodies a typed surface.
// The provider duck-types its payloads: the same logical field travels under
// several alias paths depending on event family and API version. All alias
// probing is confined to this package; the rest of the broker works with the
// typed views below.
package payload

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Doc is a decoded JSON payload supporting dotted-path lookups.
type Doc map[string]any

// Decode parses raw bytes into a Doc. Numbers are kept as json.Number so
// that large upstream ids survive without float rounding.
func Decode(raw []byte) (Doc, error) {
	var doc Doc
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// lookup walks a dotted path ("call.from_number") through nested objects.
// A numeric segment indexes into an array ("call.admin_recording_urls.0").
func (d Doc) lookup(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// str probes the alias paths in order and returns the first non-empty
// string rendition.
func (d Doc) str(paths ...string) string {
	for _, p := range paths {
		v, ok := d.lookup(p)
		if !ok || v == nil {
			continue
		}
		if s := stringify(v); s != "" {
			return s
		}
	}
	return ""
}

func (d Doc) intVal(paths ...string) (int32, bool) {
	for _, p := range paths {
		v, ok := d.lookup(p)
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int32(i), true
			}
		case string:
			if i, err := strconv.ParseInt(n, 10, 32); err == nil {
				return int32(i), true
			}
		}
	}
	return 0, false
}

func (d Doc) timeVal(paths ...string) (time.Time, bool) {
	for _, p := range paths {
		v, ok := d.lookup(p)
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if ts, err := time.Parse(time.RFC3339, t); err == nil {
				return ts, true
			}
		case json.Number:
			// Millisecond epoch, the provider's other timestamp format.
			if ms, err := t.Int64(); err == nil && ms > 0 {
				return time.UnixMilli(ms).UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// ── typed views ───────────────────────────────────────────────────────────

// EventType extracts the event type when the delivery did not carry it as a
// header.
func (d Doc) EventType() string {
	return d.str("event_type", "type", "event")
}

// EventID is the upstream delivery identity used for queue deduplication.
func (d Doc) EventID() string {
	return d.str("event_id", "id", "webhook_event_id")
}

// OrganizationID probes the fixed alias list for the upstream org identity.
func (d Doc) OrganizationID() string {
	return d.str("organization_id", "org_id", "company_id", "organization.id", "company.id")
}

// CallEvent is the typed view of a call-family payload.
type CallEvent struct {
	CallID       string
	RawDirection string
	FromNumber   string
	ToNumber     string
	UserID       string
	Duration     int32
	HasDuration  bool
	StartedAt    time.Time
	HasStartedAt bool
	RecordingURL string
}

// Call extracts the call-family fields.
func (d Doc) Call() CallEvent {
	ev := CallEvent{
		CallID:       d.str("call.id", "call.call_id", "call_id"),
		RawDirection: d.str("call.direction", "direction"),
		FromNumber:   d.str("call.from", "call.from_number", "call.caller", "call.external_number", "from_number"),
		ToNumber:     d.str("call.to", "call.to_number", "call.callee", "call.internal_number", "to_number"),
		UserID:       d.str("call.user_id", "call.target.id", "user_id"),
		RecordingURL: d.str("call.recording_url", "recording_url", "call.admin_recording_urls.0"),
	}
	ev.Duration, ev.HasDuration = d.intVal("call.duration", "duration")
	ev.StartedAt, ev.HasStartedAt = d.timeVal("call.date_started", "call.started_at", "started_at")
	return ev
}

// MessageEvent is the typed view of an SMS payload.
type MessageEvent struct {
	MessageID    string
	RawDirection string
	FromNumber   string
	ToNumber     string
	Body         string
	UserID       string
	SentAt       time.Time
	HasSentAt    bool
}

// Message extracts the SMS-family fields.
func (d Doc) Message() MessageEvent {
	ev := MessageEvent{
		MessageID:    d.str("message.id", "message.message_id", "message_id", "id"),
		RawDirection: d.str("message.direction", "direction"),
		FromNumber:   d.str("message.from", "message.from_number", "from_number"),
		ToNumber:     d.str("message.to", "message.to_number", "to_number"),
		Body:         d.str("message.text", "message.body", "text"),
		UserID:       d.str("message.user_id", "user_id"),
	}
	ev.SentAt, ev.HasSentAt = d.timeVal("message.created_date", "message.sent_at", "sent_at")
	return ev
}

// VoicemailEvent is the typed view of a voicemail payload.
type VoicemailEvent struct {
	CallID       string
	UserID       string
	FromNumber   string
	ToNumber     string
	RecordingURL string
	Transcript   string
	Duration     int32
	HasDuration  bool
}

// Voicemail extracts the voicemail-family fields. CallID may be empty; the
// handler treats that as an orphan voicemail.
func (d Doc) Voicemail() VoicemailEvent {
	ev := VoicemailEvent{
		CallID:       d.str("call_id", "call.id", "voicemail.call_id"),
		UserID:       d.str("user_id", "target.id", "voicemail.user_id"),
		FromNumber:   d.str("from", "from_number", "voicemail.from"),
		ToNumber:     d.str("to", "to_number", "voicemail.to"),
		RecordingURL: d.str("recording_url", "voicemail.recording_url", "voicemail_url"),
		Transcript:   d.str("transcript", "voicemail.transcript", "transcription_text"),
	}
	ev.Duration, ev.HasDuration = d.intVal("duration", "voicemail.duration")
	return ev
}
