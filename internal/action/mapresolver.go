package action

// MapResolver picks the best known current map for a server: a live RCON
// status reply wins, then match state, then empty.
type MapResolver struct {
	rcon  RconStatus // optional
	match MatchService
}

func NewMapResolver(rcon RconStatus, match MatchService) *MapResolver {
	return &MapResolver{rcon: rcon, match: match}
}

func (r *MapResolver) Resolve(serverID int) string {
	if r.rcon != nil {
		if m, ok := r.rcon.CurrentMap(serverID); ok && m != "" {
			return m
		}
	}
	if r.match != nil {
		return r.match.CurrentMap(serverID)
	}
	return ""
}
