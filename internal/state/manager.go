// Package state holds per-server match state shared between parser
// instances: current map, round counter and the winning-team latch.
package state

import (
	"sync"
	"time"
)

// MatchState tracks whether a server has seen round activity yet.
type MatchState string

const (
	MatchWaiting MatchState = "waiting"
	MatchLive    MatchState = "live"
)

// ServerState is a snapshot of one server's match state.
type ServerState struct {
	CurrentMap      string
	CurrentRound    int
	LastWinningTeam string
	Match           MatchState
	TeamCounts      map[string]int
	MaxPlayers      int
	LastActivity    time.Time
}

type serverState struct {
	mu              sync.Mutex
	currentMap      string
	currentRound    int
	lastWinningTeam string
	match           MatchState
	teamCounts      map[string]int
	maxPlayers      int
	lastActivity    time.Time
}

// Manager is a thread-safe registry of per-server state.
type Manager struct {
	mu      sync.Mutex
	servers map[int]*serverState
	now     func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		servers: make(map[int]*serverState),
		now:     time.Now,
	}
}

func (m *Manager) state(serverID int) *serverState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.servers[serverID]
	if s == nil {
		s = &serverState{
			match:      MatchWaiting,
			teamCounts: make(map[string]int),
		}
		m.servers[serverID] = s
	}
	return s
}

// GetState returns a snapshot, creating default state on first touch.
func (m *Manager) GetState(serverID int) ServerState {
	s := m.state(serverID)
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int, len(s.teamCounts))
	for k, v := range s.teamCounts {
		counts[k] = v
	}
	return ServerState{
		CurrentMap:      s.currentMap,
		CurrentRound:    s.currentRound,
		LastWinningTeam: s.lastWinningTeam,
		Match:           s.match,
		TeamCounts:      counts,
		MaxPlayers:      s.maxPlayers,
		LastActivity:    s.lastActivity,
	}
}

// MapResult reports the outcome of UpdateMap.
type MapResult struct {
	Changed     bool
	PreviousMap string
}

// UpdateMap sets the current map and returns the previous one.
func (m *Manager) UpdateMap(serverID int, name string) MapResult {
	s := m.state(serverID)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.currentMap
	if prev == name {
		s.lastActivity = m.now()
		return MapResult{Changed: false, PreviousMap: prev}
	}
	s.currentMap = name
	s.currentRound = 0
	s.lastWinningTeam = ""
	s.match = MatchWaiting
	s.lastActivity = m.now()
	return MapResult{Changed: true, PreviousMap: prev}
}

// SetWinningTeam latches the team that won the current round. The latch is
// consumed exactly once by the following EndRound.
func (m *Manager) SetWinningTeam(serverID int, team string) {
	s := m.state(serverID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastWinningTeam = team
	s.lastActivity = m.now()
}

// RoundStart reports the state after StartRound.
type RoundStart struct {
	RoundNumber int
	Map         string
}

// StartRound increments the round counter and marks the match live.
func (m *Manager) StartRound(serverID int) RoundStart {
	s := m.state(serverID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentRound++
	s.match = MatchLive
	s.lastActivity = m.now()
	return RoundStart{RoundNumber: s.currentRound, Map: s.currentMap}
}

// RoundEnd reports the state after EndRound. WinningTeam is empty when no
// team-win was latched since the previous round end.
type RoundEnd struct {
	RoundNumber int
	WinningTeam string
}

// EndRound reads and clears the winning-team latch.
func (m *Manager) EndRound(serverID int) RoundEnd {
	s := m.state(serverID)
	s.mu.Lock()
	defer s.mu.Unlock()
	winner := s.lastWinningTeam
	s.lastWinningTeam = ""
	s.lastActivity = m.now()
	return RoundEnd{RoundNumber: s.currentRound, WinningTeam: winner}
}

// SetTeamCount records the live roster size for a team.
func (m *Manager) SetTeamCount(serverID int, team string, count int) {
	s := m.state(serverID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teamCounts[team] = count
	s.lastActivity = m.now()
}

// SetMaxPlayers records the server's slot count.
func (m *Manager) SetMaxPlayers(serverID, max int) {
	s := m.state(serverID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPlayers = max
}
