// Package action resolves parsed action events against the action
// catalog, validates participants and distributes rewards, batching all
// team fan-out into single database calls.
package action

import (
	"context"

	"github.com/hlxstats/ingressd/internal/models"
)

// PlayerService resolves in-game identity to internal player ids and
// applies skill changes. Implemented downstream; the processor only
// depends on this surface.
type PlayerService interface {
	// FindBySlot maps an engine slot on a server to a player, if the
	// downstream service has registered a session for it.
	FindBySlot(ctx context.Context, serverID, gameUserID int) (*models.Player, error)
	// Resolve finds or creates a player from unresolved in-game identity.
	Resolve(ctx context.Context, steamID, name, game string) (*models.Player, error)
	// FindPair batch-fetches two players in one call.
	FindPair(ctx context.Context, serverID, actorSlot, victimSlot int) (actor, victim *models.Player, err error)
	// UpdateSkill applies a single skill delta.
	UpdateSkill(ctx context.Context, playerID, delta int) error
	// UpdateSkillBatch applies one delta per row in a single call.
	UpdateSkillBatch(ctx context.Context, updates []SkillUpdate) error
	// Skill fetches a player's current skill.
	Skill(ctx context.Context, playerID int) (int, error)
}

// MatchService exposes live match membership. Implemented downstream.
type MatchService interface {
	// TeamMembers returns the player ids currently on a team.
	TeamMembers(ctx context.Context, serverID int, team string) ([]int, error)
	// CurrentMap returns the map known from match state, or "".
	CurrentMap(serverID int) string
}

// RconStatus reports live server facts gathered over RCON.
type RconStatus interface {
	// CurrentMap returns the live map if a recent status reply knows it.
	CurrentMap(serverID int) (string, bool)
}

// ServerGames resolves the game code a server runs.
type ServerGames interface {
	GameFor(ctx context.Context, serverID int) (string, error)
}

// Notifier delivers in-game reward notifications. Optional; failures are
// logged and swallowed.
type Notifier interface {
	NotifyReward(ctx context.Context, n RewardNotification) error
}

// SkillUpdate is one row of a batched skill change.
type SkillUpdate struct {
	PlayerID   int
	SkillDelta int
}

// RewardNotification describes a reward for in-game display.
type RewardNotification struct {
	ServerID    int
	PlayerID    int
	PlayerName  string
	ActionCode  string
	TotalPoints int
	Skill       int
}

// Catalog looks up action definitions.
type Catalog interface {
	// FindByCode prefers an exact (game, code, team) match and falls back
	// to the empty-team definition. Returns nil for unknown codes.
	FindByCode(ctx context.Context, game, code, team string) (*models.ActionDefinition, error)
}

// PlayerActionRow is one append-only player-action log row.
type PlayerActionRow struct {
	PlayerID int
	ActionID int
	ServerID int
	Map      string
	Bonus    int
}

// PairActionRow is one append-only player-versus-player log row.
type PairActionRow struct {
	PlayerID       int
	VictimPlayerID int
	ActionID       int
	ServerID       int
	Map            string
	Bonus          int
}

// TeamActionRow is one row of a batched team-bonus write. EventID is the
// originating event's id; (event_id, player_id) is the idempotency key
// that makes batch retries safe.
type TeamActionRow struct {
	EventID  string
	PlayerID int
	ActionID int
	ServerID int
	Map      string
	Bonus    int
}

// WorldActionRow is one append-only world-action log row.
type WorldActionRow struct {
	ActionID int
	ServerID int
	Map      string
	Bonus    int
}

// SuicideRow is one append-only suicide log row.
type SuicideRow struct {
	PlayerID int
	ServerID int
	Map      string
	Weapon   string
}

// EventLog is the append-only event log surface. Team writes are batched:
// one call, one statement, idempotent under retry.
type EventLog interface {
	LogPlayerAction(ctx context.Context, row PlayerActionRow) error
	LogPairAction(ctx context.Context, row PairActionRow) error
	LogTeamActionBatch(ctx context.Context, rows []TeamActionRow) error
	LogWorldAction(ctx context.Context, row WorldActionRow) error
	LogSuicide(ctx context.Context, row SuicideRow) error
}
