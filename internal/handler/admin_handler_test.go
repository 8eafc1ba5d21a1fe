package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adeosun07/CTIserver-sub001/internal/config"
	"github.com/adeosun07/CTIserver-sub001/internal/credentials"
	"github.com/adeosun07/CTIserver-sub001/internal/handler"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
	"github.com/adeosun07/CTIserver-sub001/internal/upstream"
)

const internalToken = "internal-shared-secret"

type fakeAdminStore struct {
	mappings []store.UpsertUserMappingParams
	bindings map[string]store.UpstreamBinding // keyed by app id string
	events   map[string]store.RawEvent        // keyed by event id string
}

func (f *fakeAdminStore) UpsertUserMapping(_ context.Context, arg store.UpsertUserMappingParams) (store.UserMapping, error) {
	f.mappings = append(f.mappings, arg)
	return store.UserMapping{
		ID:             arg.ID,
		AppID:          arg.AppID,
		UpstreamUserID: arg.UpstreamUserID,
		CRMUserID:      arg.CRMUserID,
	}, nil
}

func (f *fakeAdminStore) UpsertBinding(_ context.Context, arg store.UpsertBindingParams) (store.UpstreamBinding, error) {
	b := store.UpstreamBinding{
		AppID:          arg.AppID,
		OrganizationID: arg.OrganizationID,
		AccessToken:    arg.AccessToken,
		Environment:    arg.Environment,
	}
	if f.bindings == nil {
		f.bindings = make(map[string]store.UpstreamBinding)
	}
	f.bindings[store.UUIDString(arg.AppID)] = b
	return b, nil
}

func (f *fakeAdminStore) GetBindingByApp(_ context.Context, appID pgtype.UUID) (store.UpstreamBinding, error) {
	b, ok := f.bindings[store.UUIDString(appID)]
	if !ok {
		return store.UpstreamBinding{}, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeAdminStore) GetRawEvent(_ context.Context, id pgtype.UUID) (store.RawEvent, error) {
	e, ok := f.events[store.UUIDString(id)]
	if !ok {
		return store.RawEvent{}, store.ErrNotFound
	}
	return e, nil
}

// fakeCreds records key lifecycle calls. Each issuance is a single atomic
// operation from the handler's point of view.
type fakeCreds struct {
	createdNames []string
	material     credentials.Material
	app          store.App
	err          error
}

func (f *fakeCreds) Create(_ context.Context, name string) (credentials.Material, store.App, error) {
	f.createdNames = append(f.createdNames, name)
	app := f.app
	app.Name = name
	return f.material, app, f.err
}

func (f *fakeCreds) Rotate(_ context.Context, _ pgtype.UUID) (credentials.Material, store.App, error) {
	return f.material, f.app, f.err
}

func (f *fakeCreds) Revoke(_ context.Context, _ pgtype.UUID) error {
	return f.err
}

func (f *fakeCreds) Status(_ context.Context, _ pgtype.UUID) (credentials.Status, error) {
	return credentials.Status{Active: true, Hint: f.material.Hint}, f.err
}

func (f *fakeCreds) Audit(_ context.Context, _ pgtype.UUID, _, _ int32) ([]store.APIKeyAuditEntry, error) {
	return nil, f.err
}

type adminFixture struct {
	e     *echo.Echo
	store *fakeAdminStore
	creds *fakeCreds
}

func setupAdmin(t *testing.T) *adminFixture {
	t.Helper()
	fs := &fakeAdminStore{}
	fc := &fakeCreds{
		material: credentials.Material{
			Plaintext: "raw_" + strings.Repeat("ab", 32),
			Hint:      credentials.Hint("raw_" + strings.Repeat("ab", 32)),
		},
		app: store.App{ID: store.NewUUID(), Active: true},
	}

	cfg := &config.Config{
		Environment: "sandbox",
		OAuthSandbox: config.OAuthEnv{
			ClientID:    "client-sandbox-1",
			RedirectURL: "https://broker.example/oauth/callback",
		},
	}
	up := upstream.NewClient(cfg, nil, zaptest.NewLogger(t))

	e := echo.New()
	handler.NewAdminHandler(fs, fc, up, internalToken, zaptest.NewLogger(t)).Register(e)
	return &adminFixture{e: e, store: fs, creds: fc}
}

func (f *adminFixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_RequiresBearerSecret(t *testing.T) {
	f := setupAdmin(t)

	assert.Equal(t, http.StatusUnauthorized,
		f.do(http.MethodPost, "/internal/apps", "", `{"name":"acme"}`).Code)
	assert.Equal(t, http.StatusUnauthorized,
		f.do(http.MethodPost, "/internal/apps", "wrong-token", `{"name":"acme"}`).Code)
	assert.Empty(t, f.creds.createdNames)
}

func TestAdmin_CreateAppIssuesOneShotKey(t *testing.T) {
	f := setupAdmin(t)

	rec := f.do(http.MethodPost, "/internal/apps", internalToken, `{"name":"  acme  "}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		App    store.App `json:"app"`
		APIKey string    `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "acme", resp.App.Name)
	assert.Equal(t, f.creds.material.Plaintext, resp.APIKey,
		"plaintext surfaces exactly once, in the issuance response")

	// Issuance is one call into the manager; app row and audit entry commit
	// together there, never as separate handler steps.
	require.Equal(t, []string{"acme"}, f.creds.createdNames)
}

func TestAdmin_CreateAppRequiresName(t *testing.T) {
	f := setupAdmin(t)

	assert.Equal(t, http.StatusBadRequest,
		f.do(http.MethodPost, "/internal/apps", internalToken, `{"name":"  "}`).Code)
	assert.Empty(t, f.creds.createdNames)
}

func TestAdmin_InvalidAppIDRejected(t *testing.T) {
	f := setupAdmin(t)

	rec := f.do(http.MethodPost, "/internal/apps/not-a-uuid/users/map", internalToken,
		`{"upstream_user_id":"u-1","crm_user_id":"crm-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_MapUser(t *testing.T) {
	f := setupAdmin(t)
	appID := store.NewUUID()

	rec := f.do(http.MethodPost, "/internal/apps/"+store.UUIDString(appID)+"/users/map", internalToken,
		`{"upstream_user_id":"u-1","crm_user_id":"crm-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.store.mappings, 1)
	assert.Equal(t, appID, f.store.mappings[0].AppID)
	assert.Equal(t, "u-1", f.store.mappings[0].UpstreamUserID)
	assert.Equal(t, "crm-1", f.store.mappings[0].CRMUserID)
}

func TestAdmin_MapUserValidatesFields(t *testing.T) {
	f := setupAdmin(t)
	appID := store.NewUUID()

	rec := f.do(http.MethodPost, "/internal/apps/"+store.UUIDString(appID)+"/users/map", internalToken,
		`{"upstream_user_id":"","crm_user_id":"crm-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.store.mappings)
}

func TestAdmin_MapUsersBatchPartialFailure(t *testing.T) {
	f := setupAdmin(t)
	appID := store.NewUUID()

	rec := f.do(http.MethodPost, "/internal/apps/"+store.UUIDString(appID)+"/users/map/batch", internalToken,
		`[{"upstream_user_id":"u-1","crm_user_id":"crm-1"},
		  {"upstream_user_id":"","crm_user_id":"crm-2"},
		  {"upstream_user_id":"u-3","crm_user_id":"crm-3"}]`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Applied int      `json:"applied"`
		Failed  []string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Applied)
	assert.Len(t, resp.Failed, 1)
	assert.Len(t, f.store.mappings, 2, "bad entries skip the store without aborting the rest")
}

func TestAdmin_BindWithDirectToken(t *testing.T) {
	f := setupAdmin(t)
	appID := store.NewUUID()

	rec := f.do(http.MethodPost, "/internal/apps/"+store.UUIDString(appID)+"/binding", internalToken,
		`{"organization_id":"org-9","access_token":"tok-direct"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	b, err := f.store.GetBindingByApp(context.Background(), appID)
	require.NoError(t, err)
	assert.Equal(t, "org-9", b.OrganizationID)
	assert.Equal(t, "tok-direct", b.AccessToken.String)
	assert.Equal(t, "sandbox", b.Environment, "environment defaults to sandbox")

	// Token material never appears in the response body.
	assert.NotContains(t, rec.Body.String(), "tok-direct")
}

func TestAdmin_BindRequiresOrganization(t *testing.T) {
	f := setupAdmin(t)
	appID := store.NewUUID()

	rec := f.do(http.MethodPost, "/internal/apps/"+store.UUIDString(appID)+"/binding", internalToken,
		`{"access_token":"tok"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_RegisterWebhookWithoutBindingConflicts(t *testing.T) {
	f := setupAdmin(t)
	appID := store.NewUUID()

	rec := f.do(http.MethodPost, "/internal/apps/"+store.UUIDString(appID)+"/webhooks", internalToken,
		`{"hook_url":"https://tenant.example/hooks"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdmin_OAuthURL(t *testing.T) {
	f := setupAdmin(t)
	appID := store.NewUUID()

	rec := f.do(http.MethodGet, "/internal/apps/"+store.UUIDString(appID)+"/oauth/url", internalToken, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.URL, "client_id=client-sandbox-1")
	// The state defaults to the app id so the callback can tie the code
	// back to the tenant.
	assert.Contains(t, resp.URL, "state="+store.UUIDString(appID))
}

func TestAdmin_GetEvent(t *testing.T) {
	f := setupAdmin(t)

	eventID := store.NewUUID()
	body := `{"event_type":"call.ring",  "call": {"id":"c-1"}}`
	f.store.events = map[string]store.RawEvent{
		store.UUIDString(eventID): {
			ID:        eventID,
			EventType: "call.ring",
			Payload:   json.RawMessage(body),
		},
	}

	rec := f.do(http.MethodGet, "/internal/events/"+store.UUIDString(eventID), internalToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	// Stored wire bytes come back verbatim, whitespace included, so the
	// delivery can be re-verified against its signature.
	assert.Contains(t, rec.Body.String(), `"call": {"id":"c-1"}`)
}

func TestAdmin_GetEventNotFound(t *testing.T) {
	f := setupAdmin(t)

	rec := f.do(http.MethodGet, "/internal/events/"+store.UUIDString(store.NewUUID()), internalToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusBadRequest,
		f.do(http.MethodGet, "/internal/events/not-a-uuid", internalToken, "").Code)
}
