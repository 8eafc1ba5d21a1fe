package store

import (
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"
)

// Call lifecycle statuses.
const (
	CallRinging   = "ringing"
	CallActive    = "active"
	CallEnded     = "ended"
	CallMissed    = "missed"
	CallRejected  = "rejected"
	CallVoicemail = "voicemail"
)

// Credential audit actions.
const (
	AuditCreated = "created"
	AuditRotated = "rotated"
	AuditRevoked = "revoked"
)

// App is a tenant backend registered with the broker.
type App struct {
	ID              pgtype.UUID        `json:"id"`
	Name            string             `json:"name"`
	Active          bool               `json:"active"`
	APIKeyHash      pgtype.Text        `json:"-"`
	APIKeyLookup    pgtype.Text        `json:"-"`
	APIKeyHint      pgtype.Text        `json:"api_key_hint"`
	APIKeyRotatedAt pgtype.Timestamptz `json:"api_key_rotated_at"`
	CreatedAt       pgtype.Timestamptz `json:"created_at"`
}

// UpstreamBinding connects a tenant to its upstream organization.
type UpstreamBinding struct {
	AppID          pgtype.UUID        `json:"app_id"`
	OrganizationID string             `json:"organization_id"`
	AccessToken    pgtype.Text        `json:"-"`
	RefreshToken   pgtype.Text        `json:"-"`
	TokenExpiresAt pgtype.Timestamptz `json:"token_expires_at"`
	Environment    string             `json:"environment"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}

// WebhookRegistration records a webhook configured with the upstream.
type WebhookRegistration struct {
	ID                 pgtype.UUID        `json:"id"`
	AppID              pgtype.UUID        `json:"app_id"`
	UpstreamWebhookID  string             `json:"upstream_webhook_id"`
	URL                string             `json:"url"`
	Secret             pgtype.Text        `json:"-"`
	SignatureAlgo      string             `json:"signature_algo"`
	SignaturePlacement string             `json:"signature_placement"`
	CreatedAt          pgtype.Timestamptz `json:"created_at"`
}

// RawEvent is a durable queue entry holding one upstream delivery verbatim.
type RawEvent struct {
	ID              pgtype.UUID        `json:"id"`
	AppID           pgtype.UUID        `json:"app_id"`
	EventType       string             `json:"event_type"`
	UpstreamEventID pgtype.Text        `json:"upstream_event_id"`
	Payload         json.RawMessage    `json:"payload"`
	ReceivedAt      pgtype.Timestamptz `json:"received_at"`
	ProcessedAt     pgtype.Timestamptz `json:"processed_at"`
}

// Call is the reconstructed state of one telephone call.
type Call struct {
	ID                  pgtype.UUID        `json:"id"`
	AppID               pgtype.UUID        `json:"app_id"`
	UpstreamCallID      string             `json:"upstream_call_id"`
	Direction           pgtype.Text        `json:"direction"`
	Status              string             `json:"status"`
	FromNumber          pgtype.Text        `json:"from_number"`
	ToNumber            pgtype.Text        `json:"to_number"`
	UserID              pgtype.Text        `json:"user_id"`
	StartedAt           pgtype.Timestamptz `json:"started_at"`
	EndedAt             pgtype.Timestamptz `json:"ended_at"`
	DurationSeconds     pgtype.Int4        `json:"duration_seconds"`
	RecordingURL        pgtype.Text        `json:"recording_url"`
	IsVoicemail         bool               `json:"is_voicemail"`
	VoicemailURL        pgtype.Text        `json:"voicemail_url"`
	VoicemailTranscript pgtype.Text        `json:"voicemail_transcript"`
	LastPayload         json.RawMessage    `json:"last_payload,omitempty"`
	CreatedAt           pgtype.Timestamptz `json:"created_at"`
	UpdatedAt           pgtype.Timestamptz `json:"updated_at"`
}

// Message is a short message record. Messages carry no state machine.
type Message struct {
	ID                pgtype.UUID        `json:"id"`
	AppID             pgtype.UUID        `json:"app_id"`
	UpstreamMessageID string             `json:"upstream_message_id"`
	Direction         pgtype.Text        `json:"direction"`
	FromNumber        pgtype.Text        `json:"from_number"`
	ToNumber          pgtype.Text        `json:"to_number"`
	Body              pgtype.Text        `json:"body"`
	UserID            pgtype.Text        `json:"user_id"`
	SentAt            pgtype.Timestamptz `json:"sent_at"`
	CreatedAt         pgtype.Timestamptz `json:"created_at"`
}

// Voicemail is an individual voicemail record, optionally linked to a call.
type Voicemail struct {
	ID              pgtype.UUID        `json:"id"`
	AppID           pgtype.UUID        `json:"app_id"`
	UpstreamCallID  pgtype.Text        `json:"upstream_call_id"`
	UserID          pgtype.Text        `json:"user_id"`
	FromNumber      pgtype.Text        `json:"from_number"`
	ToNumber        pgtype.Text        `json:"to_number"`
	RecordingURL    pgtype.Text        `json:"recording_url"`
	Transcript      pgtype.Text        `json:"transcript"`
	DurationSeconds pgtype.Int4        `json:"duration_seconds"`
	CreatedAt       pgtype.Timestamptz `json:"created_at"`
}

// UserMapping relates an upstream user id to a tenant CRM user id.
type UserMapping struct {
	ID             pgtype.UUID        `json:"id"`
	AppID          pgtype.UUID        `json:"app_id"`
	UpstreamUserID string             `json:"upstream_user_id"`
	CRMUserID      string             `json:"crm_user_id"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
}

// APIKeyAuditEntry is one append-only credential lifecycle record.
type APIKeyAuditEntry struct {
	ID        pgtype.UUID        `json:"id"`
	AppID     pgtype.UUID        `json:"app_id"`
	Action    string             `json:"action"`
	OldHint   pgtype.Text        `json:"old_hint"`
	NewHint   pgtype.Text        `json:"new_hint"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}
