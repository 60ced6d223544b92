package agreement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tradeflow/payload"
	"tradeflow/stage"
)

func TestAppend_DuplicateTxRollsBack(t *testing.T) {
	pool := &fakePool{rows: []fakeRow{
		{values: []any{int(stage.Deployed), false, false}},
		{err: &pgconn.PgError{Code: "23505"}},
	}}
	repo := NewRepository(pool)

	_, err := repo.Append(context.Background(), AppendParams{
		Event:       StageEvent{AgreementID: "0xaa", Action: stage.ActionSign, Actor: "0x1", TxID: "0xs1"},
		SignPrimary: true,
	})
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback to be called")
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped on duplicate")
	}
}

func TestAppend_Success(t *testing.T) {
	pool := &fakePool{rows: []fakeRow{
		{values: []any{int(stage.SignedByCounterparty), false, true}},
		{values: []any{int64(7)}},
	}}
	repo := NewRepository(pool)

	ev, err := repo.Append(context.Background(), AppendParams{
		Event:       StageEvent{AgreementID: "0xaa", Action: stage.ActionSign, Actor: "0x1", Timestamp: 10},
		SignPrimary: true,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ev.Seq != 7 {
		t.Errorf("seq = %d, want 7", ev.Seq)
	}
	if !pool.tx.committed {
		t.Fatalf("expected commit to be called")
	}

	update := pool.tx.execArgs("UPDATE agreements")
	if update == nil {
		t.Fatalf("expected stage update")
	}
	if update[1] != int(stage.FullySigned) || update[2] != true || update[3] != true {
		t.Errorf("unexpected update args %v", update)
	}
	if outbox := pool.tx.execArgs("INSERT INTO outbox"); outbox == nil || outbox[0] != OutboxTopicStageRecorded {
		t.Errorf("expected outbox message, got %v", outbox)
	}
	if ctxArgs := pool.tx.execArgs("set_config"); ctxArgs == nil || ctxArgs[0] != "0x1" {
		t.Errorf("expected actor context, got %v", ctxArgs)
	}
}

func TestAppend_SecondDeploy(t *testing.T) {
	pool := &fakePool{rows: []fakeRow{{err: pgx.ErrNoRows}}}
	repo := NewRepository(pool)

	_, err := repo.Append(context.Background(), AppendParams{
		Event:  StageEvent{AgreementID: "0xaa", Action: stage.ActionDeploy, Actor: "0x1"},
		Deploy: &payload.Deploy{Primary: "0x1"},
	})
	if !errors.Is(err, ErrAlreadyDeployed) {
		t.Fatalf("expected ErrAlreadyDeployed, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected no commit")
	}
}

func TestAppend_MissingAgreement(t *testing.T) {
	pool := &fakePool{rows: []fakeRow{{err: pgx.ErrNoRows}}}
	repo := NewRepository(pool)

	_, err := repo.Append(context.Background(), AppendParams{
		Event: StageEvent{AgreementID: "0xaa", Action: stage.ActionDeposit, Actor: "0x1"},
	})
	if !errors.Is(err, ErrAgreementNotFound) {
		t.Fatalf("expected ErrAgreementNotFound, got %v", err)
	}
}

type fakePool struct {
	tx   *fakeTx
	rows []fakeRow
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{rows: f.rows}
	return f.tx, nil
}

func (f *fakePool) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("fakeRow: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int:
			*p = r.values[i].(int)
		case *int64:
			*p = r.values[i].(int64)
		case *bool:
			*p = r.values[i].(bool)
		case *string:
			*p = r.values[i].(string)
		default:
			return fmt.Errorf("fakeRow: unsupported destination %T", d)
		}
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type fakeTx struct {
	rows      []fakeRow
	execs     []execCall
	rolled    bool
	committed bool
}

func (f *fakeTx) execArgs(fragment string) []any {
	for _, c := range f.execs {
		if strings.Contains(c.sql, fragment) {
			return c.args
		}
	}
	return nil
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolled = true
	}
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("OK"), nil
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	if len(f.rows) == 0 {
		return fakeRow{err: errors.New("fakeTx: unexpected query")}
	}
	row := f.rows[0]
	f.rows = f.rows[1:]
	return row
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
