package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adeosun07/CTIserver-sub001/internal/fanout"
	"github.com/adeosun07/CTIserver-sub001/internal/store"
)

// Queries is the slice of the store the event handlers need. Satisfied by
// *store.Queries; tests substitute a hand-rolled mock.
type Queries interface {
	GetCallForUpdate(ctx context.Context, key store.CallKey) (store.Call, error)
	InsertCall(ctx context.Context, arg store.InsertCallParams) (store.Call, error)
	UpdateCall(ctx context.Context, arg store.UpdateCallParams) (store.Call, error)
	AttachRecording(ctx context.Context, key store.CallKey, recordingURL string) (store.Call, error)
	AttachVoicemail(ctx context.Context, arg store.AttachVoicemailParams) (store.Call, error)

	GetVoicemailByCall(ctx context.Context, appID pgtype.UUID, upstreamCallID string) (store.Voicemail, error)
	InsertVoicemail(ctx context.Context, arg store.InsertVoicemailParams) (store.Voicemail, error)
	UpdateVoicemailMedia(ctx context.Context, arg store.UpdateVoicemailMediaParams) (store.Voicemail, error)
	FindRecentOrphanVoicemail(ctx context.Context, arg store.RecentOrphanVoicemailParams) (store.Voicemail, error)

	UpsertMessage(ctx context.Context, arg store.UpsertMessageParams) (store.Message, error)
}

// TxRunner executes a function within one database transaction. Transition
// validation and the row update share the transaction so the row lock taken
// by GetCallForUpdate serializes concurrent transitions on the same call.
type TxRunner interface {
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// Broadcaster is the fanout surface the handlers emit into.
type Broadcaster interface {
	Broadcast(ctx context.Context, appID pgtype.UUID, ev fanout.Event)
}

// pgxRunner is the production TxRunner.
type pgxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner wraps a pool for handler transactions.
func NewTxRunner(pool *pgxpool.Pool) TxRunner { return &pgxRunner{pool: pool} }

func (r *pgxRunner) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(store.New(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ── small pgtype helpers shared by the handlers ───────────────────────────

func textOrNull(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func int4(v int32, ok bool) pgtype.Int4 {
	return pgtype.Int4{Int32: v, Valid: ok}
}

func tstz(t time.Time, ok bool) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: ok}
}
