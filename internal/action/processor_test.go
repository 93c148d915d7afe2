package action

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hlxstats/ingressd/internal/models"
	"github.com/hlxstats/ingressd/internal/throttle"
)

type procFixture struct {
	proc     *Processor
	catalog  *mockCatalog
	log      *mockEventLog
	players  *mockPlayers
	match    *mockMatch
	notifier *mockNotifier
}

func newProcFixture() *procFixture {
	f := &procFixture{
		catalog:  &mockCatalog{},
		log:      &mockEventLog{},
		players:  &mockPlayers{},
		match:    &mockMatch{Map: "de_dust2"},
		notifier: &mockNotifier{},
	}
	f.proc = NewProcessor(ProcessorConfig{
		Catalog:  f.catalog,
		Log:      f.log,
		Players:  f.players,
		Match:    f.match,
		Maps:     NewMapResolver(nil, f.match),
		Games:    &mockGames{},
		Notifier: f.notifier,
		Warns:    throttle.New(time.Minute),
		Logger:   zap.NewNop().Sugar(),
	})
	return f
}

func actionEvent(eventType models.EventType, data any) *models.Event {
	return &models.Event{
		EventID:       "msg_test_0000000000000000",
		CorrelationID: "corr_test_000000000000",
		EventType:     eventType,
		ServerID:      7,
		Timestamp:     time.Now().UTC(),
		Data:          data,
		Meta:          &models.Meta{SteamID: "STEAM_0:0:111", PlayerName: "Pete"},
	}
}

func teamDef(reward int) *models.ActionDefinition {
	return &models.ActionDefinition{
		ID:             3,
		Game:           "cstrike",
		Code:           "Bomb_Defused",
		RewardTeam:     reward,
		ForTeamActions: true,
	}
}

// A team action produces one batched log write covering every valid
// teammate and one batched skill update, never per-player statements.
func TestTeamActionFanOut(t *testing.T) {
	f := newProcFixture()
	f.catalog.FindByCodeFunc = func(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
		return teamDef(5), nil
	}
	// Slot 0 and -1 are invalid ids and must be filtered.
	f.match.TeamMembersFunc = func(ctx context.Context, serverID int, team string) ([]int, error) {
		return []int{5, 9, 0, -1}, nil
	}

	event := actionEvent(models.EventActionTeam, models.ActionTeamData{
		Team: "CT", Code: "Bomb_Defused", Bonus: 2,
	})
	if err := f.proc.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(f.log.TeamBatches) != 1 {
		t.Fatalf("team batches = %d, want 1", len(f.log.TeamBatches))
	}
	rows := f.log.TeamBatches[0]
	if len(rows) != 2 {
		t.Fatalf("rows = %+v, want 2", rows)
	}
	for i, wantID := range []int{5, 9} {
		if rows[i].PlayerID != wantID || rows[i].Bonus != 7 || rows[i].Map != "de_dust2" || rows[i].ActionID != 3 {
			t.Errorf("row %d = %+v", i, rows[i])
		}
		// Each row carries the originating event id so a retried batch
		// dedupes on (event_id, player_id).
		if rows[i].EventID != "msg_test_0000000000000000" {
			t.Errorf("row %d event id = %q", i, rows[i].EventID)
		}
	}

	if len(f.players.SkillBatches) != 1 {
		t.Fatalf("skill batches = %d, want 1", len(f.players.SkillBatches))
	}
	updates := f.players.SkillBatches[0]
	if len(updates) != 2 || updates[0] != (SkillUpdate{PlayerID: 5, SkillDelta: 7}) || updates[1] != (SkillUpdate{PlayerID: 9, SkillDelta: 7}) {
		t.Errorf("updates = %+v", updates)
	}
	if len(f.players.SkillUpdates) != 0 {
		t.Error("team action used per-player skill updates")
	}
}

// RewardTeam zero: the log batch is still written, the skill batch is not.
func TestTeamActionZeroRewardLogsOnly(t *testing.T) {
	f := newProcFixture()
	f.catalog.FindByCodeFunc = func(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
		return teamDef(0), nil
	}
	f.match.TeamMembersFunc = func(ctx context.Context, serverID int, team string) ([]int, error) {
		return []int{5, 9}, nil
	}

	event := actionEvent(models.EventActionTeam, models.ActionTeamData{Team: "CT", Code: "Bomb_Defused"})
	if err := f.proc.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.log.TeamBatches) != 1 {
		t.Errorf("team batches = %d, want 1", len(f.log.TeamBatches))
	}
	if len(f.players.SkillBatches) != 0 {
		t.Errorf("skill batches = %d, want 0", len(f.players.SkillBatches))
	}
}

func TestTeamActionEmptyRosterNoEffect(t *testing.T) {
	f := newProcFixture()
	f.catalog.FindByCodeFunc = func(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
		return teamDef(5), nil
	}
	f.match.TeamMembersFunc = func(ctx context.Context, serverID int, team string) ([]int, error) {
		return []int{0, -1}, nil
	}

	event := actionEvent(models.EventActionTeam, models.ActionTeamData{Team: "CT", Code: "Bomb_Defused"})
	if err := f.proc.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.log.TeamBatches) != 0 || len(f.players.SkillBatches) != 0 {
		t.Error("empty roster produced writes")
	}
}

// Unknown codes are success-with-no-effect, never errors.
func TestUnknownCodeNoEffect(t *testing.T) {
	f := newProcFixture()

	event := actionEvent(models.EventActionPlayer, models.ActionPlayerData{
		Player: models.PlayerRef{GameUserID: 4, Name: "Pete", SteamID: "STEAM_0:0:111", Team: "CT"},
		Code:   "No_Such_Code",
	})
	if err := f.proc.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.log.PlayerRows) != 0 || len(f.players.SkillUpdates) != 0 {
		t.Error("unknown code produced writes")
	}
}

// A definition without the matching capability is a no-effect success.
func TestCapabilityMismatchNoEffect(t *testing.T) {
	f := newProcFixture()
	f.catalog.FindByCodeFunc = func(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
		return &models.ActionDefinition{ID: 1, RewardPlayer: 5, ForTeamActions: true}, nil
	}

	event := actionEvent(models.EventActionPlayer, models.ActionPlayerData{
		Player: models.PlayerRef{GameUserID: 4},
		Code:   "Bomb_Defused",
	})
	if err := f.proc.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.log.PlayerRows) != 0 {
		t.Error("capability mismatch produced writes")
	}
}

func TestPlayerAction(t *testing.T) {
	f := newProcFixture()
	f.catalog.FindByCodeFunc = func(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
		return &models.ActionDefinition{ID: 11, RewardPlayer: 10, ForPlayerActions: true}, nil
	}
	f.players.FindBySlotFunc = func(ctx context.Context, serverID, gameUserID int) (*models.Player, error) {
		return &models.Player{ID: 77, Name: "Pete", Skill: 1200}, nil
	}
	f.players.SkillFunc = func(ctx context.Context, playerID int) (int, error) {
		return 1210, nil
	}

	event := actionEvent(models.EventActionPlayer, models.ActionPlayerData{
		Player: models.PlayerRef{GameUserID: 4, Name: "Pete", Team: "CT"},
		Code:   "Defused_The_Bomb",
		Bonus:  3,
	})
	if err := f.proc.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(f.log.PlayerRows) != 1 {
		t.Fatalf("log rows = %+v", f.log.PlayerRows)
	}
	row := f.log.PlayerRows[0]
	if row.PlayerID != 77 || row.ActionID != 11 || row.Bonus != 13 || row.Map != "de_dust2" {
		t.Errorf("row = %+v", row)
	}
	if len(f.players.SkillUpdates) != 1 || f.players.SkillUpdates[0] != (SkillUpdate{PlayerID: 77, SkillDelta: 13}) {
		t.Errorf("skill updates = %+v", f.players.SkillUpdates)
	}
	if len(f.notifier.Notifications) != 1 {
		t.Fatalf("notifications = %+v", f.notifier.Notifications)
	}
	n := f.notifier.Notifications[0]
	if n.PlayerID != 77 || n.TotalPoints != 13 || n.Skill != 1210 {
		t.Errorf("notification = %+v", n)
	}
}

// An actor without a session falls back to resolution from the envelope
// meta; if that fails too, the event is a no-effect success.
func TestPlayerActionResolvesFromMeta(t *testing.T) {
	f := newProcFixture()
	f.catalog.FindByCodeFunc = func(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
		return &models.ActionDefinition{ID: 11, RewardPlayer: 10, ForPlayerActions: true}, nil
	}
	f.players.ResolveFunc = func(ctx context.Context, steamID, name, game string) (*models.Player, error) {
		if steamID != "STEAM_0:0:111" || game != "cstrike" {
			t.Errorf("resolve called with steamID=%q game=%q", steamID, game)
		}
		return &models.Player{ID: 88, Name: name}, nil
	}

	event := actionEvent(models.EventActionPlayer, models.ActionPlayerData{
		Player: models.PlayerRef{GameUserID: 4, Name: "Pete"},
		Code:   "Defused_The_Bomb",
	})
	if err := f.proc.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.log.PlayerRows) != 1 || f.log.PlayerRows[0].PlayerID != 88 {
		t.Errorf("log rows = %+v", f.log.PlayerRows)
	}
}

func TestPlayerActionMissingPlayerSkipped(t *testing.T) {
	f := newProcFixture()
	f.catalog.FindByCodeFunc = func(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
		return &models.ActionDefinition{ID: 11, RewardPlayer: 10, ForPlayerActions: true}, nil
	}

	event := actionEvent(models.EventActionPlayer, models.ActionPlayerData{
		Player: models.PlayerRef{GameUserID: 4},
		Code:   "Defused_The_Bomb",
	})
	event.Meta = nil

	if err := f.proc.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.log.PlayerRows) != 0 {
		t.Error("missing player produced writes")
	}
}

func TestPairAction(t *testing.T) {
	f := newProcFixture()
	f.catalog.FindByCodeFunc = func(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
		return &models.ActionDefinition{ID: 21, RewardPlayer: 4, ForPlayerPlayerActions: true}, nil
	}
	f.players.FindPairFunc = func(ctx context.Context, serverID, actorSlot, victimSlot int) (*models.Player, *models.Player, error) {
		return &models.Player{ID: 1, Name: "A"}, &models.Player{ID: 2, Name: "B"}, nil
	}

	event := actionEvent(models.EventActionPlayerPair, models.ActionPlayerPairData{
		Player: models.PlayerRef{GameUserID: 4, Name: "A"},
		Victim: models.PlayerRef{GameUserID: 5, Name: "B"},
		Code:   "Killed_A_Hostage",
	})
	if err := f.proc.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(f.log.PairRows) != 1 {
		t.Fatalf("pair rows = %+v", f.log.PairRows)
	}
	row := f.log.PairRows[0]
	if row.PlayerID != 1 || row.VictimPlayerID != 2 || row.ActionID != 21 || row.Bonus != 4 {
		t.Errorf("row = %+v", row)
	}
	if len(f.players.SkillUpdates) != 1 || f.players.SkillUpdates[0].PlayerID != 1 {
		t.Errorf("skill updates = %+v", f.players.SkillUpdates)
	}
}

func TestWorldAction(t *testing.T) {
	f := newProcFixture()
	f.catalog.FindByCodeFunc = func(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
		return &models.ActionDefinition{ID: 31, RewardPlayer: 1, ForWorldActions: true}, nil
	}

	event := actionEvent(models.EventActionWorld, models.ActionWorldData{Code: "Round_Draw"})
	if err := f.proc.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.log.WorldRows) != 1 || f.log.WorldRows[0].ActionID != 31 {
		t.Errorf("world rows = %+v", f.log.WorldRows)
	}
}

func TestSuicideLogged(t *testing.T) {
	f := newProcFixture()
	f.players.FindBySlotFunc = func(ctx context.Context, serverID, gameUserID int) (*models.Player, error) {
		return &models.Player{ID: 55, Name: "Pete"}, nil
	}

	event := actionEvent(models.EventPlayerSuicide, models.SuicideData{
		Player: models.PlayerRef{GameUserID: 4, Name: "Pete"},
		Weapon: "grenade",
	})
	if err := f.proc.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.log.SuicideRows) != 1 {
		t.Fatalf("suicide rows = %+v", f.log.SuicideRows)
	}
	row := f.log.SuicideRows[0]
	if row.PlayerID != 55 || row.Weapon != "grenade" || row.Map != "de_dust2" {
		t.Errorf("row = %+v", row)
	}
}

// Notifier failures never fail the event.
func TestNotifierFailureNonFatal(t *testing.T) {
	f := newProcFixture()
	f.catalog.FindByCodeFunc = func(ctx context.Context, game, code, team string) (*models.ActionDefinition, error) {
		return &models.ActionDefinition{ID: 11, RewardPlayer: 10, ForPlayerActions: true}, nil
	}
	f.players.FindBySlotFunc = func(ctx context.Context, serverID, gameUserID int) (*models.Player, error) {
		return &models.Player{ID: 77}, nil
	}
	f.notifier.Err = context.DeadlineExceeded

	event := actionEvent(models.EventActionPlayer, models.ActionPlayerData{
		Player: models.PlayerRef{GameUserID: 4},
		Code:   "Defused_The_Bomb",
	})
	if err := f.proc.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.log.PlayerRows) != 1 {
		t.Error("log write missing after notifier failure")
	}
}

func TestMapResolverPrefersRcon(t *testing.T) {
	match := &mockMatch{Map: "de_dust2"}

	r := NewMapResolver(nil, match)
	if got := r.Resolve(1); got != "de_dust2" {
		t.Errorf("fallback map = %q", got)
	}

	r = NewMapResolver(staticRcon{m: "de_aztec"}, match)
	if got := r.Resolve(1); got != "de_aztec" {
		t.Errorf("rcon map = %q", got)
	}

	r = NewMapResolver(staticRcon{}, match)
	if got := r.Resolve(1); got != "de_dust2" {
		t.Errorf("map with empty rcon = %q", got)
	}
}

type staticRcon struct{ m string }

func (s staticRcon) CurrentMap(serverID int) (string, bool) { return s.m, s.m != "" }
