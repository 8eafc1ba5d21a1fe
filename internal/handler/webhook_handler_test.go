package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adeosun07/CTIserver-sub001/internal/handler"
	"github.com/adeosun07/CTIserver-sub001/internal/payload"
	"github.com/adeosun07/CTIserver-sub001/internal/signature"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
	"github.com/adeosun07/CTIserver-sub001/internal/telemetry"
)

const (
	testSecret    = "shared-webhook-secret"
	testSigHeader = "x-dialpad-signature"
)

type fakeQueue struct {
	inserted bool
	err      error
	got      []store.EnqueueRawEventParams
}

func (f *fakeQueue) EnqueueRawEvent(_ context.Context, arg store.EnqueueRawEventParams) (bool, error) {
	f.got = append(f.got, arg)
	return f.inserted, f.err
}

type fakeResolver struct {
	appID pgtype.UUID
}

func (f *fakeResolver) Resolve(_ context.Context, _ payload.Doc, _ string) pgtype.UUID {
	return f.appID
}

func postWebhook(t *testing.T, wh *handler.WebhookHandler, body, sig string) *httptest.ResponseRecorder {
	t.Helper()
	headers := map[string]string{}
	if sig != "" {
		headers[testSigHeader] = sig
	}
	return postWebhookWith(t, wh, body, headers)
}

func postWebhookWith(t *testing.T, wh *handler.WebhookHandler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/events", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, wh.Receive(e.NewContext(req, rec)))
	return rec
}

func TestWebhook_ValidDeliveryQueued(t *testing.T) {
	queue := &fakeQueue{inserted: true}
	appID := store.NewUUID()
	wh := handler.NewWebhookHandler(queue, &fakeResolver{appID: appID}, testSecret, testSigHeader, "",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	body := `{"event_type":"call.ring","event_id":"ev-1","call":{"id":"c-1"}}`
	rec := postWebhook(t, wh, body, signature.Compute([]byte(body), testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"received":true`)

	require.Len(t, queue.got, 1)
	arg := queue.got[0]
	assert.Equal(t, "call.ring", arg.EventType)
	assert.Equal(t, "ev-1", arg.UpstreamEventID.String)
	assert.Equal(t, appID, arg.AppID)
	// The queue row stores the wire bytes verbatim.
	assert.Equal(t, body, string(arg.Payload))
}

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	queue := &fakeQueue{inserted: true}
	wh := handler.NewWebhookHandler(queue, &fakeResolver{}, testSecret, testSigHeader, "",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	body := `{"event_type":"call.ring"}`
	rec := postWebhook(t, wh, body, signature.Compute([]byte(body), "wrong-secret"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, queue.got, "rejected delivery must not reach the queue")
}

func TestWebhook_MissingSignatureRejected(t *testing.T) {
	queue := &fakeQueue{inserted: true}
	wh := handler.NewWebhookHandler(queue, &fakeResolver{}, testSecret, testSigHeader, "",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	rec := postWebhook(t, wh, `{"event_type":"call.ring"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_DuplicateDeliveryStillAccepted(t *testing.T) {
	// The upstream retries until it sees 2xx, so a dedup hit must return 200.
	queue := &fakeQueue{inserted: false}
	wh := handler.NewWebhookHandler(queue, &fakeResolver{}, testSecret, testSigHeader, "",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	body := `{"event_type":"call.ring","event_id":"ev-dup"}`
	sig := signature.Compute([]byte(body), testSecret)

	first := postWebhook(t, wh, body, sig)
	second := postWebhook(t, wh, body, sig)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Len(t, queue.got, 2)
}

func TestWebhook_UnparseablePayloadRetained(t *testing.T) {
	// An authenticated delivery with a broken body is kept for forensics
	// under a null tenant. A non-2xx here would make the upstream retry a
	// permanently bad body forever.
	queue := &fakeQueue{inserted: true}
	wh := handler.NewWebhookHandler(queue, &fakeResolver{appID: store.NewUUID()}, testSecret, testSigHeader, "",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	body := `{"event_type":` // valid signature over broken JSON
	rec := postWebhook(t, wh, body, signature.Compute([]byte(body), testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, queue.got, 1)
	arg := queue.got[0]
	assert.False(t, arg.AppID.Valid, "broken body cannot name a tenant")
	assert.Equal(t, body, string(arg.Payload))
}

func TestWebhook_UnparseablePayloadUnsignedStillRejected(t *testing.T) {
	queue := &fakeQueue{inserted: true}
	wh := handler.NewWebhookHandler(queue, &fakeResolver{}, testSecret, testSigHeader, "",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	rec := postWebhook(t, wh, `{"event_type":`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, queue.got)
}

func TestWebhook_UpstreamKeyAccepted(t *testing.T) {
	queue := &fakeQueue{inserted: true}
	wh := handler.NewWebhookHandler(queue, &fakeResolver{}, testSecret, testSigHeader, "provider-key",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	// Shared provider key stands in for the signature.
	rec := postWebhookWith(t, wh, `{"event_type":"call.ring"}`,
		map[string]string{"x-api-key": "provider-key"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, queue.got, 1)
}

func TestWebhook_WrongUpstreamKeyFallsBackToSignature(t *testing.T) {
	queue := &fakeQueue{inserted: true}
	wh := handler.NewWebhookHandler(queue, &fakeResolver{}, testSecret, testSigHeader, "provider-key",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	body := `{"event_type":"call.ring"}`
	rejected := postWebhookWith(t, wh, body, map[string]string{"x-api-key": "guess"})
	assert.Equal(t, http.StatusUnauthorized, rejected.Code)

	accepted := postWebhookWith(t, wh, body, map[string]string{
		"x-api-key":   "guess",
		testSigHeader: signature.Compute([]byte(body), testSecret),
	})
	assert.Equal(t, http.StatusOK, accepted.Code)
	assert.Len(t, queue.got, 1)
}

func TestWebhook_EventTypeHeaderFallback(t *testing.T) {
	queue := &fakeQueue{inserted: true}
	wh := handler.NewWebhookHandler(queue, &fakeResolver{}, testSecret, testSigHeader, "",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	body := `{"call":{"id":"c-1"}}` // no event_type field
	rec := postWebhookWith(t, wh, body, map[string]string{
		testSigHeader:  signature.Compute([]byte(body), testSecret),
		"x-event-type": "call.hangup",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, queue.got, 1)
	assert.Equal(t, "call.hangup", queue.got[0].EventType)
}

func TestWebhook_PayloadEventTypeWinsOverHeader(t *testing.T) {
	queue := &fakeQueue{inserted: true}
	wh := handler.NewWebhookHandler(queue, &fakeResolver{}, testSecret, testSigHeader, "",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	body := `{"event_type":"call.ring"}`
	rec := postWebhookWith(t, wh, body, map[string]string{
		testSigHeader:  signature.Compute([]byte(body), testSecret),
		"x-event-type": "call.hangup",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, queue.got, 1)
	assert.Equal(t, "call.ring", queue.got[0].EventType)
}

func TestWebhook_QueueFailureIs500(t *testing.T) {
	queue := &fakeQueue{err: errors.New("connection refused")}
	wh := handler.NewWebhookHandler(queue, &fakeResolver{}, testSecret, testSigHeader, "",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	body := `{"event_type":"call.ring"}`
	rec := postWebhook(t, wh, body, signature.Compute([]byte(body), testSecret))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhook_NoSecretDisablesVerification(t *testing.T) {
	queue := &fakeQueue{inserted: true}
	wh := handler.NewWebhookHandler(queue, &fakeResolver{}, "", testSigHeader, "",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	rec := postWebhook(t, wh, `{"event_type":"call.ring"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, queue.got, 1)
}

func TestWebhook_UnresolvedTenantStillQueued(t *testing.T) {
	queue := &fakeQueue{inserted: true}
	wh := handler.NewWebhookHandler(queue, &fakeResolver{appID: pgtype.UUID{}}, testSecret, testSigHeader, "",
		telemetry.NewTestMetrics(), zaptest.NewLogger(t))

	body := `{"event_type":"call.ring","org_id":"unknown"}`
	rec := postWebhook(t, wh, body, signature.Compute([]byte(body), testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, queue.got, 1)
	assert.False(t, queue.got[0].AppID.Valid, "unresolved delivery keeps a null tenant")
}
