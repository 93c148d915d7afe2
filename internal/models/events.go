package models

import "time"

// EventType discriminates the parsed-event sum type carried on the queue.
type EventType string

const (
	EventPlayerKill       EventType = "PLAYER_KILL"
	EventPlayerDamage     EventType = "PLAYER_DAMAGE"
	EventPlayerSuicide    EventType = "PLAYER_SUICIDE"
	EventPlayerConnect    EventType = "PLAYER_CONNECT"
	EventPlayerEntry      EventType = "PLAYER_ENTRY"
	EventPlayerDisconnect EventType = "PLAYER_DISCONNECT"
	EventPlayerChangeTeam EventType = "PLAYER_CHANGE_TEAM"
	EventPlayerChangeRole EventType = "PLAYER_CHANGE_ROLE"
	EventPlayerChangeName EventType = "PLAYER_CHANGE_NAME"
	EventChatMessage      EventType = "CHAT_MESSAGE"
	EventActionPlayer     EventType = "ACTION_PLAYER"
	EventActionPlayerPair EventType = "ACTION_PLAYER_PLAYER"
	EventActionTeam       EventType = "ACTION_TEAM"
	EventActionWorld      EventType = "ACTION_WORLD"
	EventRoundStart       EventType = "ROUND_START"
	EventRoundEnd         EventType = "ROUND_END"
	EventTeamWin          EventType = "TEAM_WIN"
	EventMapChange        EventType = "MAP_CHANGE"
	EventServerAuth       EventType = "SERVER_AUTHENTICATED"
)

// Event is the envelope published for every recognized log line.
type Event struct {
	EventID       string    `json:"event_id" validate:"required"`
	CorrelationID string    `json:"correlation_id" validate:"required"`
	EventType     EventType `json:"event_type" validate:"required"`
	ServerID      int       `json:"server_id" validate:"gt=0"`
	Timestamp     time.Time `json:"timestamp" validate:"required"`
	Raw           string    `json:"raw,omitempty"`
	Data          any       `json:"data,omitempty"`
	Meta          *Meta     `json:"meta,omitempty"`
}

// Meta carries unresolved in-game identity. Mapping a steam id to an
// internal player id happens downstream, never in the parser.
type Meta struct {
	SteamID    string `json:"steam_id,omitempty"`
	PlayerName string `json:"player_name,omitempty"`
	IsBot      bool   `json:"is_bot,omitempty"`
}

// PlayerRef identifies a player within an engine log line. GameUserID is
// the engine slot and may be -1 for legacy fakeclients.
type PlayerRef struct {
	GameUserID int    `json:"game_user_id"`
	Name       string `json:"name"`
	SteamID    string `json:"steam_id"`
	Team       string `json:"team"`
	IsBot      bool   `json:"is_bot"`
}

type KillData struct {
	Killer   PlayerRef `json:"killer"`
	Victim   PlayerRef `json:"victim"`
	Weapon   string    `json:"weapon"`
	Headshot bool      `json:"headshot"`
}

type DamageData struct {
	Attacker    PlayerRef `json:"attacker"`
	Victim      PlayerRef `json:"victim"`
	Weapon      string    `json:"weapon"`
	Damage      int       `json:"damage"`
	DamageArmor int       `json:"damage_armor"`
	Health      int       `json:"health"`
	Armor       int       `json:"armor"`
	Hitgroup    string    `json:"hitgroup"`
}

type SuicideData struct {
	Player PlayerRef `json:"player"`
	Weapon string    `json:"weapon"`
}

type ConnectData struct {
	Player  PlayerRef `json:"player"`
	Address string    `json:"address"`
}

type EntryData struct {
	Player PlayerRef `json:"player"`
}

type DisconnectData struct {
	Player PlayerRef `json:"player"`
	Reason string    `json:"reason,omitempty"`
}

type ChangeTeamData struct {
	Player  PlayerRef `json:"player"`
	NewTeam string    `json:"new_team"`
}

type ChangeRoleData struct {
	Player PlayerRef `json:"player"`
	Role   string    `json:"role"`
}

type ChangeNameData struct {
	Player  PlayerRef `json:"player"`
	NewName string    `json:"new_name"`
}

type ChatData struct {
	Player  PlayerRef `json:"player"`
	Message string    `json:"message"`
	Team    bool      `json:"team_chat"`
}

type ActionPlayerData struct {
	Player PlayerRef `json:"player"`
	Code   string    `json:"code"`
	Bonus  int       `json:"bonus,omitempty"`
}

type ActionPlayerPairData struct {
	Player PlayerRef `json:"player"`
	Victim PlayerRef `json:"victim"`
	Code   string    `json:"code"`
	Bonus  int       `json:"bonus,omitempty"`
}

type ActionTeamData struct {
	Team  string `json:"team"`
	Code  string `json:"code"`
	Bonus int    `json:"bonus,omitempty"`
}

type ActionWorldData struct {
	Code  string `json:"code"`
	Bonus int    `json:"bonus,omitempty"`
}

type RoundStartData struct {
	Map         string `json:"map"`
	RoundNumber int    `json:"round_number"`
}

type RoundEndData struct {
	RoundNumber int    `json:"round_number"`
	WinningTeam string `json:"winning_team,omitempty"`
}

type TeamWinData struct {
	Team        string `json:"team"`
	TriggerName string `json:"trigger_name"`
	ScoreCT     int    `json:"score_ct,omitempty"`
	ScoreT      int    `json:"score_t,omitempty"`
	PlayerCount int    `json:"player_count,omitempty"`
}

type MapChangeData struct {
	Map         string `json:"map"`
	PreviousMap string `json:"previous_map,omitempty"`
}

type ServerAuthData struct {
	ServerID  int    `json:"server_id"`
	SessionID string `json:"session_id"`
	Address   string `json:"address"`
	Port      int    `json:"port"`
}
