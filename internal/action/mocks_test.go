package action

import (
	"context"

	"github.com/hlxstats/ingressd/internal/models"
)

type mockCatalog struct {
	FindByCodeFunc func(ctx context.Context, game, code, team string) (*models.ActionDefinition, error)
}

func (m *mockCatalog) FindByCode(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
	if m.FindByCodeFunc != nil {
		return m.FindByCodeFunc(ctx, game, code, team)
	}
	return nil, nil
}

type mockEventLog struct {
	PlayerRows  []PlayerActionRow
	PairRows    []PairActionRow
	TeamBatches [][]TeamActionRow
	WorldRows   []WorldActionRow
	SuicideRows []SuicideRow
	Err         error
}

func (m *mockEventLog) LogPlayerAction(ctx context.Context, row PlayerActionRow) error {
	m.PlayerRows = append(m.PlayerRows, row)
	return m.Err
}

func (m *mockEventLog) LogPairAction(ctx context.Context, row PairActionRow) error {
	m.PairRows = append(m.PairRows, row)
	return m.Err
}

func (m *mockEventLog) LogTeamActionBatch(ctx context.Context, rows []TeamActionRow) error {
	m.TeamBatches = append(m.TeamBatches, rows)
	return m.Err
}

func (m *mockEventLog) LogWorldAction(ctx context.Context, row WorldActionRow) error {
	m.WorldRows = append(m.WorldRows, row)
	return m.Err
}

func (m *mockEventLog) LogSuicide(ctx context.Context, row SuicideRow) error {
	m.SuicideRows = append(m.SuicideRows, row)
	return m.Err
}

type mockPlayers struct {
	FindBySlotFunc func(ctx context.Context, serverID, gameUserID int) (*models.Player, error)
	ResolveFunc    func(ctx context.Context, steamID, name, game string) (*models.Player, error)
	FindPairFunc   func(ctx context.Context, serverID, actorSlot, victimSlot int) (*models.Player, *models.Player, error)
	SkillFunc      func(ctx context.Context, playerID int) (int, error)

	SkillUpdates []SkillUpdate
	SkillBatches [][]SkillUpdate
}

func (m *mockPlayers) FindBySlot(ctx context.Context, serverID, gameUserID int) (*models.Player, error) {
	if m.FindBySlotFunc != nil {
		return m.FindBySlotFunc(ctx, serverID, gameUserID)
	}
	return nil, nil
}

func (m *mockPlayers) Resolve(ctx context.Context, steamID, name, game string) (*models.Player, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, steamID, name, game)
	}
	return nil, nil
}

func (m *mockPlayers) FindPair(ctx context.Context, serverID, actorSlot, victimSlot int) (*models.Player, *models.Player, error) {
	if m.FindPairFunc != nil {
		return m.FindPairFunc(ctx, serverID, actorSlot, victimSlot)
	}
	return nil, nil, nil
}

func (m *mockPlayers) UpdateSkill(ctx context.Context, playerID, delta int) error {
	m.SkillUpdates = append(m.SkillUpdates, SkillUpdate{PlayerID: playerID, SkillDelta: delta})
	return nil
}

func (m *mockPlayers) UpdateSkillBatch(ctx context.Context, updates []SkillUpdate) error {
	m.SkillBatches = append(m.SkillBatches, updates)
	return nil
}

func (m *mockPlayers) Skill(ctx context.Context, playerID int) (int, error) {
	if m.SkillFunc != nil {
		return m.SkillFunc(ctx, playerID)
	}
	return 1000, nil
}

type mockMatch struct {
	TeamMembersFunc func(ctx context.Context, serverID int, team string) ([]int, error)
	Map             string
}

func (m *mockMatch) TeamMembers(ctx context.Context, serverID int, team string) ([]int, error) {
	if m.TeamMembersFunc != nil {
		return m.TeamMembersFunc(ctx, serverID, team)
	}
	return nil, nil
}

func (m *mockMatch) CurrentMap(serverID int) string { return m.Map }

type mockGames struct{ Game string }

func (m *mockGames) GameFor(ctx context.Context, serverID int) (string, error) {
	if m.Game == "" {
		return "cstrike", nil
	}
	return m.Game, nil
}

type mockNotifier struct {
	Notifications []RewardNotification
	Err           error
}

func (m *mockNotifier) NotifyReward(ctx context.Context, n RewardNotification) error {
	if m.Err != nil {
		return m.Err
	}
	m.Notifications = append(m.Notifications, n)
	return nil
}
