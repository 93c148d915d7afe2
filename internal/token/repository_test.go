package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/hlxstats/ingressd/internal/models"
)

// mockDB implements DB with function fields.
type mockDB struct {
	QueryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	ExecFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	ExecCalls int
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
	m.ExecCalls++
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (m *mockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

func TestHashToken(t *testing.T) {
	h := HashToken("hlxn_0123456789012345678901234567890123456789")
	if len(h) != 64 {
		t.Errorf("hash length = %d, want 64", len(h))
	}
	if h != HashToken("hlxn_0123456789012345678901234567890123456789") {
		t.Error("hash is not deterministic")
	}
	if h == HashToken("hlxn_different") {
		t.Error("distinct tokens collide")
	}
}

func TestClassify(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		tok  models.ServerToken
		want LookupStatus
	}{
		{"valid", models.ServerToken{}, TokenValid},
		{"valid with future expiry", models.ServerToken{ExpiresAt: &future}, TokenValid},
		{"expired", models.ServerToken{ExpiresAt: &past}, TokenExpired},
		{"revoked", models.ServerToken{RevokedAt: &past}, TokenRevoked},
		// Revocation wins over expiry.
		{"revoked and expired", models.ServerToken{RevokedAt: &past, ExpiresAt: &past}, TokenRevoked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(&tt.tok, now); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindByHashNotFound(t *testing.T) {
	db := &mockDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return errRow{pgx.ErrNoRows}
		},
	}
	repo := NewRepository(db, time.Minute, zap.NewNop().Sugar())

	tok, status, err := repo.FindByHash(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != nil || status != TokenNotFound {
		t.Errorf("got tok=%v status=%v", tok, status)
	}
}

// UpdateLastUsed writes at most once per debounce window per token.
func TestUpdateLastUsedDebounce(t *testing.T) {
	db := &mockDB{}
	repo := NewRepository(db, 5*time.Minute, zap.NewNop().Sugar())

	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		repo.UpdateLastUsed(ctx, 1)
	}
	if db.ExecCalls != 1 {
		t.Fatalf("exec calls = %d, want 1", db.ExecCalls)
	}

	// A different token is debounced independently.
	repo.UpdateLastUsed(ctx, 2)
	if db.ExecCalls != 2 {
		t.Fatalf("exec calls = %d, want 2", db.ExecCalls)
	}

	clock = clock.Add(6 * time.Minute)
	repo.UpdateLastUsed(ctx, 1)
	if db.ExecCalls != 3 {
		t.Errorf("exec calls = %d, want 3 after window elapsed", db.ExecCalls)
	}
}

// Write failures are swallowed; the next window still writes.
func TestUpdateLastUsedNonFatal(t *testing.T) {
	db := &mockDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New("connection refused")
		},
	}
	repo := NewRepository(db, time.Minute, zap.NewNop().Sugar())

	repo.UpdateLastUsed(context.Background(), 1)
	if db.ExecCalls != 1 {
		t.Errorf("exec calls = %d", db.ExecCalls)
	}
}
