package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/hlxstats/ingressd/internal/models"
	"github.com/hlxstats/ingressd/internal/state"
	"github.com/hlxstats/ingressd/internal/token"
)

const playerColumns = "p.id, p.name, p.game, p.skill"

// PGPlayerService is the Postgres-backed player surface. Slot lookups go
// through the live player_sessions table maintained by the resolver.
type PGPlayerService struct {
	db token.DB
}

func NewPlayerService(db token.DB) *PGPlayerService {
	return &PGPlayerService{db: db}
}

func (s *PGPlayerService) FindBySlot(ctx context.Context, serverID, gameUserID int) (*models.Player, error) {
	var p models.Player
	err := s.db.QueryRow(ctx, `
		SELECT `+playerColumns+`
		FROM player_sessions ps
		JOIN players p ON p.id = ps.player_id
		WHERE ps.server_id = $1 AND ps.game_user_id = $2
	`, serverID, gameUserID).Scan(&p.ID, &p.Name, &p.Game, &p.Skill)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("player slot lookup: %w", err)
	}
	return &p, nil
}

func (s *PGPlayerService) Resolve(ctx context.Context, steamID, name, game string) (*models.Player, error) {
	if steamID == "" || steamID == "BOT" {
		return nil, nil
	}
	var p models.Player
	err := s.db.QueryRow(ctx, `
		INSERT INTO players (name, steam_id, game, skill)
		VALUES ($1, $2, $3, 1000)
		ON CONFLICT (game, steam_id) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, game, skill
	`, name, steamID, game).Scan(&p.ID, &p.Name, &p.Game, &p.Skill)
	if err != nil {
		return nil, fmt.Errorf("player resolve: %w", err)
	}
	return &p, nil
}

func (s *PGPlayerService) FindPair(ctx context.Context, serverID, actorSlot, victimSlot int) (*models.Player, *models.Player, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ps.game_user_id, `+playerColumns+`
		FROM player_sessions ps
		JOIN players p ON p.id = ps.player_id
		WHERE ps.server_id = $1 AND ps.game_user_id IN ($2, $3)
	`, serverID, actorSlot, victimSlot)
	if err != nil {
		return nil, nil, fmt.Errorf("player pair lookup: %w", err)
	}
	defer rows.Close()

	bySlot := make(map[int]*models.Player, 2)
	for rows.Next() {
		var slot int
		var p models.Player
		if err := rows.Scan(&slot, &p.ID, &p.Name, &p.Game, &p.Skill); err != nil {
			return nil, nil, fmt.Errorf("player pair scan: %w", err)
		}
		bySlot[slot] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("player pair rows: %w", err)
	}
	return bySlot[actorSlot], bySlot[victimSlot], nil
}

func (s *PGPlayerService) UpdateSkill(ctx context.Context, playerID, delta int) error {
	_, err := s.db.Exec(ctx, `UPDATE players SET skill = skill + $2 WHERE id = $1`, playerID, delta)
	if err != nil {
		return fmt.Errorf("update skill: %w", err)
	}
	return nil
}

// UpdateSkillBatch applies all deltas in one statement.
func (s *PGPlayerService) UpdateSkillBatch(ctx context.Context, updates []SkillUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("UPDATE players SET skill = skill + v.delta FROM (VALUES ")
	vals := make([]any, 0, len(updates)*2)
	for i, u := range updates {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d::int, $%d::int)", i*2+1, i*2+2)
		vals = append(vals, u.PlayerID, u.SkillDelta)
	}
	sb.WriteString(") AS v(id, delta) WHERE players.id = v.id")

	if _, err := s.db.Exec(ctx, sb.String(), vals...); err != nil {
		return fmt.Errorf("batch skill update: %w", err)
	}
	return nil
}

func (s *PGPlayerService) Skill(ctx context.Context, playerID int) (int, error) {
	var skill int
	err := s.db.QueryRow(ctx, `SELECT skill FROM players WHERE id = $1`, playerID).Scan(&skill)
	if err != nil {
		return 0, fmt.Errorf("skill lookup: %w", err)
	}
	return skill, nil
}

// PGMatchService reads team membership from player_sessions and the
// current map from in-memory match state.
type PGMatchService struct {
	db    token.DB
	state *state.Manager
}

func NewMatchService(db token.DB, st *state.Manager) *PGMatchService {
	return &PGMatchService{db: db, state: st}
}

func (s *PGMatchService) TeamMembers(ctx context.Context, serverID int, team string) ([]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT player_id FROM player_sessions
		WHERE server_id = $1 AND team = $2
	`, serverID, team)
	if err != nil {
		return nil, fmt.Errorf("team members: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("team members scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGMatchService) CurrentMap(serverID int) string {
	return s.state.GetState(serverID).CurrentMap
}

// GameCache answers GameFor from the servers table, caching forever: a
// server never changes game within a process lifetime.
type GameCache struct {
	servers token.ServerStore

	mu    sync.Mutex
	games map[int]string
}

func NewGameCache(servers token.ServerStore) *GameCache {
	return &GameCache{servers: servers, games: make(map[int]string)}
}

func (g *GameCache) GameFor(ctx context.Context, serverID int) (string, error) {
	g.mu.Lock()
	if game, ok := g.games[serverID]; ok {
		g.mu.Unlock()
		return game, nil
	}
	g.mu.Unlock()

	srv, err := g.servers.FindByID(ctx, serverID)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	g.games[serverID] = srv.Game
	g.mu.Unlock()
	return srv.Game, nil
}
