package action

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockDB implements token.DB with function fields.
type mockDB struct {
	QueryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	ExecFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, sql, args...)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.QueryRowFunc != nil {
		return m.QueryRowFunc(ctx, sql, args...)
	}
	return errRow{errors.New("not implemented")}
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *mockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

// The team batch names its conflict target so a retried batch is a
// genuine no-op: every row carries the event id, and the statement
// dedupes on (event_id, player_id).
func TestLogTeamActionBatchIdempotencyKey(t *testing.T) {
	var gotSQL string
	var gotArgs []any
	db := &mockDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			gotArgs = args
			return pgconn.NewCommandTag("INSERT 0 2"), nil
		},
	}
	log := NewEventLog(db)

	rows := []TeamActionRow{
		{EventID: "msg_abc_0000000000000001", PlayerID: 5, ActionID: 3, ServerID: 7, Map: "de_dust2", Bonus: 7},
		{EventID: "msg_abc_0000000000000001", PlayerID: 9, ActionID: 3, ServerID: 7, Map: "de_dust2", Bonus: 7},
	}
	if err := log.LogTeamActionBatch(context.Background(), rows); err != nil {
		t.Fatalf("batch: %v", err)
	}

	if !strings.Contains(gotSQL, "ON CONFLICT (event_id, player_id) DO NOTHING") {
		t.Errorf("statement lacks the dedupe target: %s", gotSQL)
	}
	if !strings.Contains(gotSQL, "(event_id, player_id, action_id, server_id, map, bonus, created_at)") {
		t.Errorf("statement column list = %s", gotSQL)
	}
	if len(gotArgs) != 12 {
		t.Fatalf("args = %d, want 12", len(gotArgs))
	}
	if gotArgs[0] != "msg_abc_0000000000000001" || gotArgs[6] != "msg_abc_0000000000000001" {
		t.Errorf("event id params = %v, %v", gotArgs[0], gotArgs[6])
	}
	if gotArgs[1] != 5 || gotArgs[7] != 9 {
		t.Errorf("player id params = %v, %v", gotArgs[1], gotArgs[7])
	}
}

func TestLogTeamActionBatchEmptyNoCall(t *testing.T) {
	called := false
	db := &mockDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			called = true
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		},
	}
	if err := NewEventLog(db).LogTeamActionBatch(context.Background(), nil); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if called {
		t.Error("empty batch reached the database")
	}
}
