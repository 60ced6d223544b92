package agreement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tradeflow/activity"
	"tradeflow/address"
	"tradeflow/payload"
	"tradeflow/stage"
)

// TestRecordStageEvent_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies the repository + service behavior including idempotency.
func TestRecordStageEvent_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"agreements", "stage_events", "outbox", "activity_logs"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skip("database schema missing; apply migrations/0001_core.sql first")
		}
	}

	logger := log.New(io.Discard, "", 0)
	repo := NewRepository(pool)
	audit := activity.NewLog(activity.NewPGStore(pool), logger)
	svc := NewService(repo, NewRoleResolver(nil, repo), logger).WithActivity(audit)

	agreementID := address.Checksum(fmt.Sprintf("0x%040x", time.Now().UnixNano()))
	deployTx := fmt.Sprintf("0x%x", time.Now().UnixNano())

	if _, err := svc.RecordStageEvent(ctx, RecordParams{
		AgreementID: agreementID,
		Action:      stage.ActionDeploy,
		Actor:       "0x1",
		TxID:        deployTx,
		Extra:       payload.Deploy{Primary: "0x1", Counterparty: "0x2", Logistics: "0x3"},
	}); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	sign := RecordParams{AgreementID: agreementID, Action: stage.ActionSign, Actor: "0x2", TxID: deployTx + "01"}
	first, err := svc.RecordStageEvent(ctx, sign)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	replay, err := svc.RecordStageEvent(ctx, sign)
	if err != nil {
		t.Fatalf("replay sign: %v", err)
	}
	if first.Seq != replay.Seq {
		t.Fatalf("expected idempotent replay, got seq %d and %d", first.Seq, replay.Seq)
	}

	a, err := svc.Get(ctx, agreementID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(a.Events) != 2 || a.Stage != stage.SignedByCounterparty || !a.Signatures.Counterparty {
		t.Fatalf("unexpected mirror %+v", a)
	}

	var outboxCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE topic = $1 AND payload->>'agreement_id' = $2`,
		OutboxTopicStageRecorded, agreementID).Scan(&outboxCount); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outboxCount != 2 {
		t.Fatalf("expected 2 outbox messages, got %d", outboxCount)
	}

	if _, err := repo.FindEvent(ctx, agreementID, stage.ActionSign, "0xnope"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}

	if _, err := pool.Exec(ctx, `UPDATE stage_events SET actor = 'x' WHERE agreement_id = $1`, agreementID); err == nil {
		t.Fatalf("expected append-only trigger to reject update")
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
