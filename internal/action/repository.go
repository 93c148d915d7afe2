package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hlxstats/ingressd/internal/models"
	"github.com/hlxstats/ingressd/internal/token"
)

// catalogTTL bounds how stale a cached definition may be. Admin edits to
// the catalog show up within a minute.
const catalogTTL = time.Minute

type catalogEntry struct {
	def      *models.ActionDefinition // nil caches a miss
	cachedAt time.Time
}

// PGCatalog is the Postgres-backed action catalog with a TTL cache.
type PGCatalog struct {
	db  token.DB
	mu  sync.Mutex
	c   map[string]catalogEntry
	now func() time.Time
}

func NewCatalog(db token.DB) *PGCatalog {
	return &PGCatalog{db: db, c: make(map[string]catalogEntry), now: time.Now}
}

func (r *PGCatalog) FindByCode(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
	key := game + "|" + code + "|" + team

	r.mu.Lock()
	if e, ok := r.c[key]; ok && r.now().Sub(e.cachedAt) < catalogTTL {
		r.mu.Unlock()
		return e.def, nil
	}
	r.mu.Unlock()

	def, err := r.query(ctx, game, code, team)
	if err != nil {
		return nil, err
	}
	if def == nil && team != "" {
		def, err = r.query(ctx, game, code, "")
		if err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.c[key] = catalogEntry{def: def, cachedAt: r.now()}
	r.mu.Unlock()
	return def, nil
}

func (r *PGCatalog) query(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
	var d models.ActionDefinition
	err := r.db.QueryRow(ctx, `
		SELECT id, game, code, team, reward_player, reward_team,
		       for_player_actions, for_player_player_actions, for_team_actions, for_world_actions
		FROM actions
		WHERE game = $1 AND code = $2 AND team = $3
	`, game, code, team).Scan(&d.ID, &d.Game, &d.Code, &d.Team, &d.RewardPlayer, &d.RewardTeam,
		&d.ForPlayerActions, &d.ForPlayerPlayerActions, &d.ForTeamActions, &d.ForWorldActions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("action lookup: %w", err)
	}
	return &d, nil
}

// PGEventLog writes the append-only event log tables.
type PGEventLog struct {
	db token.DB
}

func NewEventLog(db token.DB) *PGEventLog {
	return &PGEventLog{db: db}
}

func (l *PGEventLog) LogPlayerAction(ctx context.Context, row PlayerActionRow) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO event_player_actions (player_id, action_id, server_id, map, bonus, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, row.PlayerID, row.ActionID, row.ServerID, row.Map, row.Bonus)
	if err != nil {
		return fmt.Errorf("log player action: %w", err)
	}
	return nil
}

func (l *PGEventLog) LogPairAction(ctx context.Context, row PairActionRow) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO event_player_player_actions (player_id, victim_id, action_id, server_id, map, bonus, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, row.PlayerID, row.VictimPlayerID, row.ActionID, row.ServerID, row.Map, row.Bonus)
	if err != nil {
		return fmt.Errorf("log pair action: %w", err)
	}
	return nil
}

// LogTeamActionBatch writes one row per teammate in a single statement.
// The (event_id, player_id) conflict target makes a retried batch a
// no-op for rows that already landed.
func (l *PGEventLog) LogTeamActionBatch(ctx context.Context, rows []TeamActionRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO event_team_bonuses (event_id, player_id, action_id, server_id, map, bonus, created_at) VALUES ")
	vals := make([]any, 0, len(rows)*6)
	for i, row := range rows {
		n := i * 6
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, NOW())", n+1, n+2, n+3, n+4, n+5, n+6)
		vals = append(vals, row.EventID, row.PlayerID, row.ActionID, row.ServerID, row.Map, row.Bonus)
	}
	sb.WriteString(" ON CONFLICT (event_id, player_id) DO NOTHING")

	if _, err := l.db.Exec(ctx, sb.String(), vals...); err != nil {
		return fmt.Errorf("log team action batch: %w", err)
	}
	return nil
}

func (l *PGEventLog) LogWorldAction(ctx context.Context, row WorldActionRow) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO event_world_actions (action_id, server_id, map, bonus, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, row.ActionID, row.ServerID, row.Map, row.Bonus)
	if err != nil {
		return fmt.Errorf("log world action: %w", err)
	}
	return nil
}

func (l *PGEventLog) LogSuicide(ctx context.Context, row SuicideRow) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO event_suicides (player_id, server_id, map, weapon, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, row.PlayerID, row.ServerID, row.Map, row.Weapon)
	if err != nil {
		return fmt.Errorf("log suicide: %w", err)
	}
	return nil
}
