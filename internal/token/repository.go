// Package token implements the beacon authentication pipeline: token
// lookup with TTL caching, rate limiting, transactional server
// auto-registration and the source cache consulted for every log line.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/hlxstats/ingressd/internal/models"
)

// DB is the subset of pgxpool.Pool the stores need.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LookupStatus discriminates the outcome of a token lookup.
type LookupStatus int

const (
	TokenValid LookupStatus = iota
	TokenNotFound
	TokenRevoked
	TokenExpired
)

// Store is the token repository contract.
type Store interface {
	// FindByHash returns the token for a hash. The token is returned for
	// revoked/expired outcomes too so callers can log its display prefix.
	FindByHash(ctx context.Context, hash string) (*models.ServerToken, LookupStatus, error)
	FindByID(ctx context.Context, id int) (*models.ServerToken, error)
	// UpdateLastUsed is debounced and non-fatal: failures are logged and
	// swallowed, and at most one write per debounce window per id reaches
	// the database.
	UpdateLastUsed(ctx context.Context, id int)
}

// HashToken creates the SHA-256 hash under which tokens are stored.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Repository is the Postgres-backed token store.
type Repository struct {
	db       DB
	logger   *zap.SugaredLogger
	debounce time.Duration

	mu          sync.Mutex
	lastWritten map[int]time.Time
	now         func() time.Time
}

func NewRepository(db DB, debounce time.Duration, logger *zap.SugaredLogger) *Repository {
	return &Repository{
		db:          db,
		logger:      logger,
		debounce:    debounce,
		lastWritten: make(map[int]time.Time),
		now:         time.Now,
	}
}

const tokenColumns = `id, token_hash, token_prefix, name, rcon_password, game, created_at, expires_at, revoked_at, last_used_at`

func scanToken(row pgx.Row) (*models.ServerToken, error) {
	var t models.ServerToken
	err := row.Scan(&t.ID, &t.TokenHash, &t.TokenPrefix, &t.Name, &t.RconPassword,
		&t.Game, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt, &t.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) FindByHash(ctx context.Context, hash string) (*models.ServerToken, LookupStatus, error) {
	t, err := scanToken(r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM server_tokens WHERE token_hash = $1`, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, TokenNotFound, nil
		}
		return nil, TokenNotFound, fmt.Errorf("token lookup: %w", err)
	}
	return t, Classify(t, r.now()), nil
}

func (r *Repository) FindByID(ctx context.Context, id int) (*models.ServerToken, error) {
	t, err := scanToken(r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM server_tokens WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("token lookup by id: %w", err)
	}
	return t, nil
}

// Classify re-evaluates a token record's lifecycle fields against now.
// Cache hits go through this too, so revocation and expiry take effect
// without waiting for the cache TTL.
func Classify(t *models.ServerToken, now time.Time) LookupStatus {
	if t.Revoked() {
		return TokenRevoked
	}
	if t.Expired(now) {
		return TokenExpired
	}
	return TokenValid
}

func (r *Repository) UpdateLastUsed(ctx context.Context, id int) {
	r.mu.Lock()
	now := r.now()
	if last, ok := r.lastWritten[id]; ok && now.Sub(last) < r.debounce {
		r.mu.Unlock()
		return
	}
	r.lastWritten[id] = now
	r.mu.Unlock()

	_, err := r.db.Exec(ctx,
		`UPDATE server_tokens SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		r.logger.Warnw("Failed to update token last_used_at", "tokenId", id, "error", err)
	}
}
