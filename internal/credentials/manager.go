// Package credentials owns the lifecycle of tenant API keys: one-shot
// issuance, adaptive-hash verification, rotation, revocation, and the
// append-only audit trail.
//
// Two digests are stored per key. The bcrypt hash is what authenticates a
// presented key; it is adaptive and salted, so it cannot be used as a lookup
// index. A second, peppered HMAC-SHA256 digest provides the O(1) tenant
// lookup without weakening offline resistance: the pepper never leaves the
// server process.
package credentials

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/adeosun07/CTIserver-sub001/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefix  = "raw_"
	bcryptCost = 10
)

var (
	// ErrInvalidKey covers unknown, malformed, and revoked keys alike so the
	// caller cannot distinguish them.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrInactiveApp is returned for a valid key whose tenant is disabled.
	ErrInactiveApp = errors.New("app is inactive")
)

// Manager issues and verifies tenant API keys.
type Manager struct {
	pool    *pgxpool.Pool
	queries *store.Queries
	pepper  []byte
	logger  *zap.Logger
}

func NewManager(pool *pgxpool.Pool, queries *store.Queries, pepper string, logger *zap.Logger) *Manager {
	return &Manager{pool: pool, queries: queries, pepper: []byte(pepper), logger: logger}
}

// Material is freshly generated key material. Plaintext leaves the process
// exactly once, in the issuance response; it is never logged or persisted.
type Material struct {
	Plaintext string
	Hash      string
	Lookup    string
	Hint      string
}

// Generate mints 32 bytes of cryptographic randomness as a prefixed hex key
// and derives its stored digests.
func (m *Manager) Generate() (Material, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return Material{}, fmt.Errorf("read randomness: %w", err)
	}
	plaintext := keyPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return Material{}, fmt.Errorf("hash key: %w", err)
	}
	return Material{
		Plaintext: plaintext,
		Hash:      string(hash),
		Lookup:    m.lookupDigest(plaintext),
		Hint:      Hint(plaintext),
	}, nil
}

// Hint redacts a key down to its first 8 and last 4 characters.
func Hint(key string) string {
	if len(key) < 12 {
		return ""
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func (m *Manager) lookupDigest(plaintext string) string {
	mac := hmac.New(sha256.New, m.pepper)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// Create registers a tenant and issues its first key in a single
// transaction: the app row and the `created` audit entry commit together, so
// a tenant can never exist with an active key and no audit trail. The
// returned Material carries the one-shot plaintext.
func (m *Manager) Create(ctx context.Context, name string) (Material, store.App, error) {
	mat, err := m.Generate()
	if err != nil {
		return Material{}, store.App{}, err
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return Material{}, store.App{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	qtx := store.New(tx)

	app, err := qtx.CreateApp(ctx, store.CreateAppParams{
		ID:           store.NewUUID(),
		Name:         name,
		APIKeyHash:   mat.Hash,
		APIKeyLookup: mat.Lookup,
		APIKeyHint:   mat.Hint,
	})
	if err != nil {
		return Material{}, store.App{}, fmt.Errorf("create app: %w", err)
	}

	if err := qtx.AppendAudit(ctx, store.AppendAuditParams{
		ID:      store.NewUUID(),
		AppID:   app.ID,
		Action:  store.AuditCreated,
		NewHint: pgtype.Text{String: mat.Hint, Valid: true},
	}); err != nil {
		return Material{}, store.App{}, fmt.Errorf("append audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Material{}, store.App{}, fmt.Errorf("commit: %w", err)
	}

	m.logger.Info("app created",
		zap.String("app_id", store.UUIDString(app.ID)),
		zap.String("name", app.Name),
		zap.String("hint", mat.Hint),
	)
	return mat, app, nil
}

// Rotate replaces the app's key in a single transaction: the new hash and
// the matching audit entry commit together, and the old key stops
// validating at that instant. The returned Material carries the one-shot
// plaintext.
func (m *Manager) Rotate(ctx context.Context, appID pgtype.UUID) (Material, store.App, error) {
	mat, err := m.Generate()
	if err != nil {
		return Material{}, store.App{}, err
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return Material{}, store.App{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	qtx := store.New(tx)

	prev, err := qtx.GetApp(ctx, appID)
	if err != nil {
		return Material{}, store.App{}, err
	}

	action := store.AuditRotated
	if !prev.APIKeyHash.Valid {
		action = store.AuditCreated
	}

	app, err := qtx.RotateAPIKey(ctx, store.RotateAPIKeyParams{
		ID:           appID,
		APIKeyHash:   mat.Hash,
		APIKeyLookup: mat.Lookup,
		APIKeyHint:   mat.Hint,
	})
	if err != nil {
		return Material{}, store.App{}, fmt.Errorf("rotate key: %w", err)
	}

	if err := qtx.AppendAudit(ctx, store.AppendAuditParams{
		ID:      store.NewUUID(),
		AppID:   appID,
		Action:  action,
		OldHint: prev.APIKeyHint,
		NewHint: pgtype.Text{String: mat.Hint, Valid: true},
	}); err != nil {
		return Material{}, store.App{}, fmt.Errorf("append audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Material{}, store.App{}, fmt.Errorf("commit: %w", err)
	}

	m.logger.Info("api key rotated",
		zap.String("app_id", store.UUIDString(appID)),
		zap.String("action", action),
		zap.String("hint", mat.Hint),
	)
	return mat, app, nil
}

// Revoke nulls the stored hash and appends the audit entry atomically.
// Authentication fails until a new key is issued.
func (m *Manager) Revoke(ctx context.Context, appID pgtype.UUID) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	qtx := store.New(tx)

	prev, err := qtx.GetApp(ctx, appID)
	if err != nil {
		return err
	}
	if _, err := qtx.RevokeAPIKey(ctx, appID); err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	if err := qtx.AppendAudit(ctx, store.AppendAuditParams{
		ID:      store.NewUUID(),
		AppID:   appID,
		Action:  store.AuditRevoked,
		OldHint: prev.APIKeyHint,
	}); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	m.logger.Info("api key revoked", zap.String("app_id", store.UUIDString(appID)))
	return nil
}

// Verify authenticates a presented plaintext key and returns its tenant.
// The peppered lookup digest finds the candidate row; bcrypt then confirms
// the match. A dummy bcrypt comparison runs on the miss path so that
// unknown and known-but-wrong keys cost the same.
func (m *Manager) Verify(ctx context.Context, plaintext string) (store.App, error) {
	if len(plaintext) < len(keyPrefix) || subtle.ConstantTimeCompare(
		[]byte(plaintext[:len(keyPrefix)]), []byte(keyPrefix)) != 1 {
		return store.App{}, ErrInvalidKey
	}

	app, err := m.queries.GetAppByLookup(ctx, m.lookupDigest(plaintext))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Equalize timing with the hit path.
			bcrypt.CompareHashAndPassword(dummyHash, []byte(plaintext))
			return store.App{}, ErrInvalidKey
		}
		return store.App{}, err
	}
	if !app.APIKeyHash.Valid {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(plaintext))
		return store.App{}, ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(app.APIKeyHash.String), []byte(plaintext)); err != nil {
		return store.App{}, ErrInvalidKey
	}
	if !app.Active {
		return store.App{}, ErrInactiveApp
	}
	return app, nil
}

// dummyHash is a bcrypt digest of an unguessable throwaway value, used only
// to equalize verification timing on the miss path.
var dummyHash = func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("cti-broker-dummy-comparison-subject"), bcryptCost)
	return h
}()

// Status reports whether the app currently holds an active key.
type Status struct {
	Active    bool               `json:"active"`
	Hint      string             `json:"hint,omitempty"`
	RotatedAt pgtype.Timestamptz `json:"rotated_at"`
}

func (m *Manager) Status(ctx context.Context, appID pgtype.UUID) (Status, error) {
	app, err := m.queries.GetApp(ctx, appID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Active:    app.APIKeyHash.Valid,
		Hint:      app.APIKeyHint.String,
		RotatedAt: app.APIKeyRotatedAt,
	}, nil
}

// Audit pages through the append-only lifecycle log, newest first.
func (m *Manager) Audit(ctx context.Context, appID pgtype.UUID, limit, offset int32) ([]store.APIKeyAuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return m.queries.ListAudit(ctx, store.ListAuditParams{AppID: appID, Limit: limit, Offset: offset})
}
