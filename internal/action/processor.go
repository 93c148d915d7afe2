package action

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hlxstats/ingressd/internal/models"
	"github.com/hlxstats/ingressd/internal/throttle"
)

// baselineSkill is reported in notifications when the actor's current
// skill cannot be fetched.
const baselineSkill = 1000

// Processor correlates action events with the catalog and distributes
// rewards. Unknown codes, missing capabilities and missing players are
// success-with-no-effect; database write failures surface.
type Processor struct {
	catalog  Catalog
	log      EventLog
	players  PlayerService
	match    MatchService
	maps     *MapResolver
	games    ServerGames
	notifier Notifier // optional
	warns    *throttle.Throttle
	logger   *zap.SugaredLogger
}

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Catalog  Catalog
	Log      EventLog
	Players  PlayerService
	Match    MatchService
	Maps     *MapResolver
	Games    ServerGames
	Notifier Notifier
	Warns    *throttle.Throttle
	Logger   *zap.SugaredLogger
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	return &Processor{
		catalog:  cfg.Catalog,
		log:      cfg.Log,
		players:  cfg.Players,
		match:    cfg.Match,
		maps:     cfg.Maps,
		games:    cfg.Games,
		notifier: cfg.Notifier,
		warns:    cfg.Warns,
		logger:   cfg.Logger,
	}
}

// Process consumes one action-family event.
func (p *Processor) Process(ctx context.Context, event *models.Event) error {
	switch data := event.Data.(type) {
	case models.ActionPlayerData:
		return p.playerAction(ctx, event, data)
	case models.ActionPlayerPairData:
		return p.pairAction(ctx, event, data)
	case models.ActionTeamData:
		return p.teamAction(ctx, event, data)
	case models.ActionWorldData:
		return p.worldAction(ctx, event, data)
	case models.SuicideData:
		return p.suicide(ctx, event, data)
	default:
		return fmt.Errorf("unsupported action payload %T", event.Data)
	}
}

// lookupDefinition runs phase 1: catalog lookup plus capability check.
// A nil definition means success-with-no-effect.
func (p *Processor) lookupDefinition(ctx context.Context, serverID int, code, team string, capable func(*models.ActionDefinition) bool) (*models.ActionDefinition, error) {
	game, err := p.games.GameFor(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("resolve game for server %d: %w", serverID, err)
	}

	def, err := p.catalog.FindByCode(ctx, game, code, team)
	if err != nil {
		return nil, err
	}
	if def == nil {
		if p.warns.Allow("action:" + game + ":" + code) {
			p.logger.Warnw("Unknown action code", "game", game, "code", code, "team", team)
		}
		return nil, nil
	}
	if !capable(def) {
		return nil, nil
	}
	return def, nil
}

// resolveActor runs phase 2 for a single player: slot lookup first, then
// best-effort resolution from the unresolved meta identity.
func (p *Processor) resolveActor(ctx context.Context, event *models.Event, slot int) (*models.Player, error) {
	player, err := p.players.FindBySlot(ctx, event.ServerID, slot)
	if err != nil {
		return nil, err
	}
	if player != nil {
		return player, nil
	}
	if event.Meta == nil || event.Meta.SteamID == "" {
		return nil, nil
	}
	game, err := p.games.GameFor(ctx, event.ServerID)
	if err != nil {
		return nil, err
	}
	return p.players.Resolve(ctx, event.Meta.SteamID, event.Meta.PlayerName, game)
}

func (p *Processor) playerAction(ctx context.Context, event *models.Event, data models.ActionPlayerData) error {
	def, err := p.lookupDefinition(ctx, event.ServerID, data.Code, data.Player.Team,
		func(d *models.ActionDefinition) bool { return d.ForPlayerActions })
	if err != nil || def == nil {
		return err
	}

	player, err := p.resolveActor(ctx, event, data.Player.GameUserID)
	if err != nil {
		return err
	}
	if player == nil {
		if p.warns.Allow(fmt.Sprintf("noplayer:%d", event.ServerID)) {
			p.logger.Warnw("Action by unknown player, skipping",
				"serverId", event.ServerID, "code", data.Code, "slot", data.Player.GameUserID)
		}
		return nil
	}

	currentMap := p.maps.Resolve(event.ServerID)
	reward := def.RewardPlayer + data.Bonus

	if err := p.log.LogPlayerAction(ctx, PlayerActionRow{
		PlayerID: player.ID,
		ActionID: def.ID,
		ServerID: event.ServerID,
		Map:      currentMap,
		Bonus:    reward,
	}); err != nil {
		return err
	}

	if reward != 0 {
		if err := p.players.UpdateSkill(ctx, player.ID, reward); err != nil {
			return err
		}
	}

	p.notify(ctx, event.ServerID, player, data.Code, reward)
	return nil
}

func (p *Processor) pairAction(ctx context.Context, event *models.Event, data models.ActionPlayerPairData) error {
	def, err := p.lookupDefinition(ctx, event.ServerID, data.Code, data.Player.Team,
		func(d *models.ActionDefinition) bool { return d.ForPlayerPlayerActions })
	if err != nil || def == nil {
		return err
	}

	actor, victim, err := p.players.FindPair(ctx, event.ServerID, data.Player.GameUserID, data.Victim.GameUserID)
	if err != nil {
		return err
	}
	if actor == nil || victim == nil {
		if p.warns.Allow(fmt.Sprintf("noplayer:%d", event.ServerID)) {
			p.logger.Warnw("Pair action with unknown participant, skipping",
				"serverId", event.ServerID, "code", data.Code)
		}
		return nil
	}

	currentMap := p.maps.Resolve(event.ServerID)
	reward := def.RewardPlayer + data.Bonus

	if err := p.log.LogPairAction(ctx, PairActionRow{
		PlayerID:       actor.ID,
		VictimPlayerID: victim.ID,
		ActionID:       def.ID,
		ServerID:       event.ServerID,
		Map:            currentMap,
		Bonus:          reward,
	}); err != nil {
		return err
	}

	if reward != 0 {
		if err := p.players.UpdateSkill(ctx, actor.ID, reward); err != nil {
			return err
		}
	}

	p.notify(ctx, event.ServerID, actor, data.Code, reward)
	return nil
}

func (p *Processor) teamAction(ctx context.Context, event *models.Event, data models.ActionTeamData) error {
	def, err := p.lookupDefinition(ctx, event.ServerID, data.Code, data.Team,
		func(d *models.ActionDefinition) bool { return d.ForTeamActions })
	if err != nil || def == nil {
		return err
	}

	members, err := p.match.TeamMembers(ctx, event.ServerID, data.Team)
	if err != nil {
		return err
	}
	valid := members[:0:0]
	for _, id := range members {
		if id > 0 {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	currentMap := p.maps.Resolve(event.ServerID)
	reward := def.RewardTeam + data.Bonus

	rows := make([]TeamActionRow, 0, len(valid))
	for _, id := range valid {
		rows = append(rows, TeamActionRow{
			EventID:  event.EventID,
			PlayerID: id,
			ActionID: def.ID,
			ServerID: event.ServerID,
			Map:      currentMap,
			Bonus:    reward,
		})
	}
	if err := p.log.LogTeamActionBatch(ctx, rows); err != nil {
		return err
	}

	// The skill fan-out mirrors the log fan-out: one batched call, never
	// one statement per teammate.
	if def.RewardTeam != 0 {
		updates := make([]SkillUpdate, 0, len(valid))
		for _, id := range valid {
			updates = append(updates, SkillUpdate{PlayerID: id, SkillDelta: reward})
		}
		if err := p.players.UpdateSkillBatch(ctx, updates); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) worldAction(ctx context.Context, event *models.Event, data models.ActionWorldData) error {
	def, err := p.lookupDefinition(ctx, event.ServerID, data.Code, "",
		func(d *models.ActionDefinition) bool { return d.ForWorldActions })
	if err != nil || def == nil {
		return err
	}

	return p.log.LogWorldAction(ctx, WorldActionRow{
		ActionID: def.ID,
		ServerID: event.ServerID,
		Map:      p.maps.Resolve(event.ServerID),
		Bonus:    def.RewardPlayer + data.Bonus,
	})
}

func (p *Processor) suicide(ctx context.Context, event *models.Event, data models.SuicideData) error {
	player, err := p.resolveActor(ctx, event, data.Player.GameUserID)
	if err != nil {
		return err
	}
	if player == nil {
		return nil
	}
	return p.log.LogSuicide(ctx, SuicideRow{
		PlayerID: player.ID,
		ServerID: event.ServerID,
		Map:      p.maps.Resolve(event.ServerID),
		Weapon:   data.Weapon,
	})
}

// notify runs phase 4. Best effort: a dead notifier never fails an event.
func (p *Processor) notify(ctx context.Context, serverID int, player *models.Player, code string, totalPoints int) {
	if p.notifier == nil || totalPoints == 0 {
		return
	}
	skill, err := p.players.Skill(ctx, player.ID)
	if err != nil {
		skill = baselineSkill
	}
	err = p.notifier.NotifyReward(ctx, RewardNotification{
		ServerID:    serverID,
		PlayerID:    player.ID,
		PlayerName:  player.Name,
		ActionCode:  code,
		TotalPoints: totalPoints,
		Skill:       skill,
	})
	if err != nil {
		p.logger.Warnw("Reward notification failed",
			"serverId", serverID, "playerId", player.ID, "error", err)
	}
}
