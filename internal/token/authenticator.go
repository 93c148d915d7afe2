package token

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hlxstats/ingressd/internal/ids"
	"github.com/hlxstats/ingressd/internal/models"
	"github.com/hlxstats/ingressd/internal/ratelimit"
)

// Outcome discriminates the result of a beacon.
type Outcome int

const (
	Authenticated Outcome = iota
	AutoRegistered
	Unauthorized
)

// Reason explains an Unauthorized outcome.
type Reason string

const (
	ReasonRateLimited   Reason = "rate_limited"
	ReasonInvalidFormat Reason = "invalid_format"
	ReasonNotFound      Reason = "not_found"
	ReasonRevoked       Reason = "revoked"
	ReasonExpired       Reason = "expired"
)

// BeaconResult is the tagged result of HandleBeacon.
type BeaconResult struct {
	Outcome   Outcome
	ServerID  int
	TokenID   int
	SessionID string
	Reason    Reason
}

// Session describes an authenticated source-cache entry.
type Session struct {
	ServerID  int
	TokenID   int
	Game      string
	SessionID string
}

// EventSink publishes events; emission failures never fail a beacon.
type EventSink interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Raw tokens are `hlxn_` plus url-safe characters. Admin tooling mints
// them at varying lengths; the bounds only cut off obvious garbage.
var tokenFormat = regexp.MustCompile(`^hlxn_[A-Za-z0-9_-]{20,128}$`)

type tokenCacheEntry struct {
	token    *models.ServerToken
	cachedAt time.Time
}

type sourceCacheEntry struct {
	session  Session
	cachedAt time.Time
}

// Authenticator validates token beacons and owns the token cache, the
// source cache and the rate limiter.
type Authenticator struct {
	tokens  Store
	servers ServerStore
	limiter *ratelimit.Limiter
	sink    EventSink
	ids     ids.Generator
	logger  *zap.SugaredLogger

	tokenTTL  time.Duration
	sourceTTL time.Duration
	dbTimeout time.Duration

	mu          sync.Mutex
	tokenCache  map[string]tokenCacheEntry
	sourceCache map[string]sourceCacheEntry
	now         func() time.Time
}

// AuthenticatorConfig wires an Authenticator.
type AuthenticatorConfig struct {
	Tokens    Store
	Servers   ServerStore
	Limiter   *ratelimit.Limiter
	Sink      EventSink
	IDs       ids.Generator
	Logger    *zap.SugaredLogger
	TokenTTL  time.Duration
	SourceTTL time.Duration
	DBTimeout time.Duration
}

func NewAuthenticator(cfg AuthenticatorConfig) *Authenticator {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Minute
	}
	if cfg.SourceTTL <= 0 {
		cfg.SourceTTL = 5 * time.Minute
	}
	if cfg.DBTimeout <= 0 {
		cfg.DBTimeout = 5 * time.Second
	}
	return &Authenticator{
		tokens:      cfg.Tokens,
		servers:     cfg.Servers,
		limiter:     cfg.Limiter,
		sink:        cfg.Sink,
		ids:         cfg.IDs,
		logger:      cfg.Logger,
		tokenTTL:    cfg.TokenTTL,
		sourceTTL:   cfg.SourceTTL,
		dbTimeout:   cfg.DBTimeout,
		tokenCache:  make(map[string]tokenCacheEntry),
		sourceCache: make(map[string]sourceCacheEntry),
		now:         time.Now,
	}
}

func sourceKey(addr string, port int) string {
	return fmt.Sprintf("%s:%d", addr, port)
}

// HandleBeacon runs the authentication state machine for one beacon. Each
// step short-circuits on non-success; failures feed the rate limiter.
func (a *Authenticator) HandleBeacon(ctx context.Context, rawToken string, gamePort int, sourceAddr string, sourcePort int) BeaconResult {
	if a.limiter.IsBlocked(sourceAddr) {
		a.logger.Debugw("Beacon from blocked source", "source", sourceAddr)
		return BeaconResult{Outcome: Unauthorized, Reason: ReasonRateLimited}
	}

	if !tokenFormat.MatchString(rawToken) {
		a.logger.Warnw("Beacon token has invalid format", "source", sourceAddr)
		if a.limiter.RecordFailure(sourceAddr) {
			// The failure that trips the limit already reports rate_limited.
			return BeaconResult{Outcome: Unauthorized, Reason: ReasonRateLimited}
		}
		return BeaconResult{Outcome: Unauthorized, Reason: ReasonInvalidFormat}
	}

	tok, status, err := a.validateToken(ctx, HashToken(rawToken))
	if err != nil {
		// Repository failures are our outage, not the source misbehaving:
		// retryable unauthorized, and no rate-limiter strike.
		a.logger.Errorw("Token lookup failed", "source", sourceAddr, "error", err)
		return BeaconResult{Outcome: Unauthorized, Reason: ReasonNotFound}
	}
	if status != TokenValid {
		reason := reasonFor(status)
		prefix := ""
		if tok != nil {
			prefix = tok.TokenPrefix
		}
		a.logger.Warnw("Beacon rejected", "source", sourceAddr, "reason", reason, "tokenPrefix", prefix)
		if a.limiter.RecordFailure(sourceAddr) {
			return BeaconResult{Outcome: Unauthorized, Reason: ReasonRateLimited}
		}
		return BeaconResult{Outcome: Unauthorized, Reason: reason}
	}

	a.tokens.UpdateLastUsed(ctx, tok.ID)

	resolveCtx, cancel := context.WithTimeout(ctx, a.dbTimeout)
	defer cancel()
	srv, created, err := a.servers.Resolve(resolveCtx, tok, gamePort, sourceAddr)
	if err != nil {
		// Infrastructure failure again: no strike against the source.
		a.logger.Errorw("Server resolution failed", "source", sourceAddr, "tokenId", tok.ID, "error", err)
		return BeaconResult{Outcome: Unauthorized, Reason: ReasonNotFound}
	}

	session := Session{
		ServerID:  srv.ServerID,
		TokenID:   tok.ID,
		Game:      tok.Game,
		SessionID: uuid.New().String(),
	}
	a.mu.Lock()
	a.sourceCache[sourceKey(sourceAddr, sourcePort)] = sourceCacheEntry{
		session:  session,
		cachedAt: a.now(),
	}
	a.mu.Unlock()

	a.emitAuthenticated(ctx, srv, session)

	res := BeaconResult{ServerID: srv.ServerID, TokenID: tok.ID, SessionID: session.SessionID}
	if created {
		res.Outcome = AutoRegistered
		a.logger.Infow("Auto-registered game server",
			"serverId", srv.ServerID, "address", sourceAddr, "gamePort", gamePort, "game", tok.Game)
	} else {
		res.Outcome = Authenticated
		a.logger.Infow("Game server authenticated",
			"serverId", srv.ServerID, "source", sourceKey(sourceAddr, sourcePort))
	}
	return res
}

// validateToken consults the token cache first. Hits re-check revocation
// and expiry on the cached record so a revoked token dies immediately,
// not after the TTL.
func (a *Authenticator) validateToken(ctx context.Context, hash string) (*models.ServerToken, LookupStatus, error) {
	now := a.now()

	a.mu.Lock()
	entry, ok := a.tokenCache[hash]
	if ok && now.Sub(entry.cachedAt) >= a.tokenTTL {
		delete(a.tokenCache, hash)
		ok = false
	}
	a.mu.Unlock()

	if ok {
		return entry.token, Classify(entry.token, now), nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.dbTimeout)
	defer cancel()
	tok, status, err := a.tokens.FindByHash(lookupCtx, hash)
	if err != nil {
		return nil, status, err
	}
	if status == TokenValid {
		a.mu.Lock()
		a.tokenCache[hash] = tokenCacheEntry{token: tok, cachedAt: now}
		a.mu.Unlock()
	}
	return tok, status, nil
}

func (a *Authenticator) emitAuthenticated(ctx context.Context, srv *models.Server, session Session) {
	event := &models.Event{
		EventID:       a.ids.EventID(),
		CorrelationID: a.ids.CorrelationID(),
		EventType:     models.EventServerAuth,
		ServerID:      srv.ServerID,
		Timestamp:     a.now().UTC(),
		Data: models.ServerAuthData{
			ServerID:  srv.ServerID,
			SessionID: session.SessionID,
			Address:   srv.Address,
			Port:      srv.Port,
		},
	}
	if err := a.sink.Publish(ctx, event); err != nil {
		a.logger.Warnw("Failed to publish authentication event",
			"serverId", srv.ServerID, "error", err)
	}
}

// LookupSource returns the session for an authenticated source, pruning
// expired entries lazily.
func (a *Authenticator) LookupSource(sourceAddr string, sourcePort int) (Session, bool) {
	key := sourceKey(sourceAddr, sourcePort)

	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.sourceCache[key]
	if !ok {
		return Session{}, false
	}
	if a.now().Sub(entry.cachedAt) >= a.sourceTTL {
		delete(a.sourceCache, key)
		return Session{}, false
	}
	return entry.session, true
}

// AuthenticatedServerIDs returns the distinct serverIds with a live
// source-cache entry.
func (a *Authenticator) AuthenticatedServerIDs() []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	seen := make(map[int]struct{})
	var out []int
	for key, entry := range a.sourceCache {
		if now.Sub(entry.cachedAt) >= a.sourceTTL {
			delete(a.sourceCache, key)
			continue
		}
		if _, dup := seen[entry.session.ServerID]; !dup {
			seen[entry.session.ServerID] = struct{}{}
			out = append(out, entry.session.ServerID)
		}
	}
	return out
}

func reasonFor(status LookupStatus) Reason {
	switch status {
	case TokenRevoked:
		return ReasonRevoked
	case TokenExpired:
		return ReasonExpired
	default:
		return ReasonNotFound
	}
}
