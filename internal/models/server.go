package models

import "time"

// ServerToken is a row in the server_tokens table. Tokens are minted by
// admin tooling; the daemon only ever reads them and touches LastUsedAt.
type ServerToken struct {
	ID           int
	TokenHash    string
	TokenPrefix  string
	Name         string
	RconPassword string // encrypted at rest
	Game         string
	CreatedAt    time.Time
	ExpiresAt    *time.Time
	RevokedAt    *time.Time
	LastUsedAt   *time.Time
}

// Revoked reports whether the token has been deactivated.
func (t *ServerToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Expired reports whether the token has passed its expiry at the given time.
func (t *ServerToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// Server is a registered game server. Identity is (AuthTokenID, Port),
// never the address: containerized servers keep their identity across IP
// churn and the address is rewritten in place.
type Server struct {
	ServerID     int
	Name         string
	Address      string
	Port         int
	Game         string
	AuthTokenID  int
	RconPassword string
}

// ActionDefinition is a row in the action catalog. Definitions are keyed
// (game, code, team) with an empty team as the fallback.
type ActionDefinition struct {
	ID           int
	Game         string
	Code         string
	Team         string
	RewardPlayer int
	RewardTeam   int

	ForPlayerActions       bool
	ForPlayerPlayerActions bool
	ForTeamActions         bool
	ForWorldActions        bool
}

// Player is the downstream identity an action event resolves to.
type Player struct {
	ID    int
	Name  string
	Game  string
	Skill int
}
