package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hlxstats/ingressd/internal/models"
)

var parseErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hlx_parse_errors_total",
	Help: "Total number of log lines that matched a trigger but failed to parse",
})

// player is the quoted engine token `"Name<slot><steamid><team>"`.
// The slot may be -1 for legacy fakeclients and the steam id may be empty
// on old-style disconnect lines.
const player = `"(.*?)<(-?\d+)><([^<>]*)><([^<>]*)>"`

var (
	reKill = regexp.MustCompile(`^` + player + ` killed ` + player + ` with "([^"]*)"( \(headshot\))?`)

	// Strict damage form first, then a tolerant fallback for plugins that
	// vary the spacing between the property groups.
	reDamage = regexp.MustCompile(`^` + player + ` attacked ` + player +
		` with "([^"]*)" \(damage "(\d+)"\) \(damage_armor "(\d+)"\) \(health "(-?\d+)"\) \(armor "(-?\d+)"\)( \(hitgroup "([^"]*)"\))?`)
	reDamageLoose = regexp.MustCompile(`^` + player + `\s+attacked\s+` + player +
		`\s+with\s+"([^"]*)"\s*\(damage\s*"(\d+)"\)\s*\(damage_armor\s*"(\d+)"\)\s*\(health\s*"(-?\d+)"\)\s*\(armor\s*"(-?\d+)"\)\s*(\(hitgroup\s*"([^"]*)"\))?`)

	reSuicide    = regexp.MustCompile(`^` + player + ` committed suicide with "([^"]*)"`)
	reKilledSelf = regexp.MustCompile(`^` + player + ` killed self with "([^"]*)"`)

	reConnect    = regexp.MustCompile(`^` + player + ` connected, address "([^"]*)"`)
	reEntered    = regexp.MustCompile(`^` + player + ` entered the game`)
	reDisconnect = regexp.MustCompile(`^` + player + ` disconnected \(reason "([^"]*)"\)`)
	// Legacy form without a reason; also matches slot -1 / empty steam id.
	reDisconnectOld = regexp.MustCompile(`^` + player + ` disconnected`)

	reJoinTeam   = regexp.MustCompile(`^` + player + ` joined team "([^"]*)"`)
	reChangeTeam = regexp.MustCompile(`^` + player + ` changed team to "([^"]*)"`)
	reChangeRole = regexp.MustCompile(`^` + player + ` changed role to "([^"]*)"`)
	reChangeName = regexp.MustCompile(`^` + player + ` changed name to "(.*)"`)

	reSay = regexp.MustCompile(`^` + player + ` say(_team)? "(.*)"`)

	reMapchange   = regexp.MustCompile(`Mapchange to (\S+?)\s*-*\s*$`)
	reStartedMap  = regexp.MustCompile(`Started map "([^"]*)"`)
	reChangelevel = regexp.MustCompile(`changelevel: (\S+)`)

	reTeamTriggered   = regexp.MustCompile(`^Team "([^"]*)" triggered "([^"]*)"( \(CT "(\d+)"\) \(T "(\d+)"\))?`)
	reWorldTriggered  = regexp.MustCompile(`^World triggered "([^"]*)"`)
	rePairTriggered   = regexp.MustCompile(`^` + player + ` triggered "([^"]*)" against ` + player)
	rePlayerTriggered = regexp.MustCompile(`^` + player + ` triggered "([^"]*)"`)
)

// winTriggers maps team-win trigger names to the winning team.
var winTriggers = map[string]string{
	"Terrorists_Win": "TERRORIST",
	"CTs_Win":        "CT",
}

type csParser struct {
	deps Deps
	now  func() time.Time
}

func newCSParser(deps Deps) *csParser {
	return &csParser{deps: deps, now: time.Now}
}

// ParseLine classifies one engine log line. At most one event is emitted;
// unrecognized lines are a silent success. A panic inside a handler is
// caught and reported as a failed parse instead of killing the worker.
func (p *csParser) ParseLine(raw string, serverID int) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			parseErrors.Inc()
			res = Result{Success: false, Err: fmt.Sprintf("parser panic: %v", r)}
		}
	}()

	line := StripTimestamp(raw)

	// RCON echoes and admin-chat triggers can embed arbitrary text,
	// including substrings like ` killed `. Filter them before dispatch so
	// they can never reach a handler.
	if isNoise(line) {
		return Result{Success: true}
	}

	switch {
	case strings.Contains(line, " killed ") && !strings.Contains(line, " killed self"):
		return p.parseKill(line, raw, serverID)
	case strings.Contains(line, " attacked "):
		return p.parseDamage(line, raw, serverID)
	case strings.Contains(line, " committed suicide with ") || strings.Contains(line, " killed self"):
		return p.parseSuicide(line, raw, serverID)
	case strings.Contains(line, " connected, address "):
		return p.parseConnect(line, raw, serverID)
	case strings.Contains(line, " entered the game"):
		return p.parseEntered(line, raw, serverID)
	case strings.Contains(line, " disconnected (reason "):
		return p.parseDisconnect(line, raw, serverID, true)
	case strings.Contains(line, " disconnected"):
		return p.parseDisconnect(line, raw, serverID, false)
	case strings.Contains(line, " joined team ") || strings.Contains(line, " changed team to "):
		return p.parseTeamChange(line, raw, serverID)
	case strings.Contains(line, " changed role "):
		return p.parseRoleChange(line, raw, serverID)
	case strings.Contains(line, " changed name to "):
		return p.parseNameChange(line, raw, serverID)
	case strings.Contains(line, " say ") || strings.Contains(line, " say_team "):
		return p.parseChat(line, raw, serverID)
	case strings.Contains(line, "Mapchange to ") || strings.Contains(line, `Started map "`) || strings.Contains(line, "changelevel:"):
		return p.parseMapChange(line, raw, serverID)
	case strings.Contains(line, `World triggered "Round_Start"`):
		return p.parseRoundStart(raw, serverID)
	case strings.Contains(line, `triggered "Terrorists_Win"`) || strings.Contains(line, `triggered "CTs_Win"`):
		return p.parseTeamWin(line, raw, serverID)
	case strings.Contains(line, `World triggered "Round_End"`):
		return p.parseRoundEnd(raw, serverID)
	case strings.Contains(line, `triggered "`):
		return p.parseAction(line, raw, serverID)
	}

	return Result{Success: true}
}

// isNoise reports whether the line is an RCON echo or an admin-chat
// trigger that must never be classified as a game event.
func isNoise(line string) bool {
	if strings.HasPrefix(line, "Rcon:") || strings.HasPrefix(line, "Bad Rcon:") {
		return true
	}
	if strings.Contains(line, `triggered "amx_`) {
		return true
	}
	// Server-actor chat relays: `"Console<0><Console><Console>" triggered "say" ...`
	if strings.Contains(line, `triggered "say"`) {
		return true
	}
	return false
}

func (p *csParser) fail(line string) Result {
	parseErrors.Inc()
	excerpt := line
	if len(excerpt) > 100 {
		excerpt = excerpt[:100]
	}
	p.deps.Logger.Warnw("Recognized trigger failed to parse", "line", excerpt)
	return Result{Success: false, Err: "unparseable line: " + excerpt}
}

// emit builds the envelope around a typed payload.
func (p *csParser) emit(eventType models.EventType, serverID int, raw string, data any, meta *models.Meta) Result {
	return Result{
		Success: true,
		Event: &models.Event{
			EventID:       p.deps.IDs.EventID(),
			CorrelationID: p.deps.IDs.CorrelationID(),
			EventType:     eventType,
			ServerID:      serverID,
			Timestamp:     p.now().UTC(),
			Raw:           raw,
			Data:          data,
			Meta:          meta,
		},
	}
}

func playerRef(name, slot, steamID, team string) models.PlayerRef {
	n, _ := strconv.Atoi(slot)
	return models.PlayerRef{
		GameUserID: n,
		Name:       name,
		SteamID:    steamID,
		Team:       team,
		IsBot:      steamID == "BOT",
	}
}

func metaFor(ref models.PlayerRef) *models.Meta {
	return &models.Meta{SteamID: ref.SteamID, PlayerName: ref.Name, IsBot: ref.IsBot}
}

func (p *csParser) parseKill(line, raw string, serverID int) Result {
	m := reKill.FindStringSubmatch(line)
	if m == nil {
		return p.fail(line)
	}
	killer := playerRef(m[1], m[2], m[3], m[4])
	victim := playerRef(m[5], m[6], m[7], m[8])
	data := models.KillData{
		Killer:   killer,
		Victim:   victim,
		Weapon:   m[9],
		Headshot: m[10] != "",
	}
	return p.emit(models.EventPlayerKill, serverID, raw, data, metaFor(killer))
}

func (p *csParser) parseDamage(line, raw string, serverID int) Result {
	m := reDamage.FindStringSubmatch(line)
	if m == nil {
		m = reDamageLoose.FindStringSubmatch(line)
	}
	if m == nil {
		return p.fail(line)
	}
	attacker := playerRef(m[1], m[2], m[3], m[4])
	victim := playerRef(m[5], m[6], m[7], m[8])
	damage, _ := strconv.Atoi(m[10])
	damageArmor, _ := strconv.Atoi(m[11])
	health, _ := strconv.Atoi(m[12])
	armor, _ := strconv.Atoi(m[13])
	hitgroup := m[15]
	if hitgroup == "" {
		hitgroup = "generic"
	}
	data := models.DamageData{
		Attacker:    attacker,
		Victim:      victim,
		Weapon:      m[9],
		Damage:      damage,
		DamageArmor: damageArmor,
		Health:      health,
		Armor:       armor,
		Hitgroup:    hitgroup,
	}
	return p.emit(models.EventPlayerDamage, serverID, raw, data, metaFor(attacker))
}

func (p *csParser) parseSuicide(line, raw string, serverID int) Result {
	m := reSuicide.FindStringSubmatch(line)
	if m == nil {
		m = reKilledSelf.FindStringSubmatch(line)
	}
	if m == nil {
		return p.fail(line)
	}
	ref := playerRef(m[1], m[2], m[3], m[4])
	return p.emit(models.EventPlayerSuicide, serverID, raw, models.SuicideData{Player: ref, Weapon: m[5]}, metaFor(ref))
}

func (p *csParser) parseConnect(line, raw string, serverID int) Result {
	m := reConnect.FindStringSubmatch(line)
	if m == nil {
		return p.fail(line)
	}
	ref := playerRef(m[1], m[2], m[3], m[4])
	return p.emit(models.EventPlayerConnect, serverID, raw, models.ConnectData{Player: ref, Address: m[5]}, metaFor(ref))
}

func (p *csParser) parseEntered(line, raw string, serverID int) Result {
	m := reEntered.FindStringSubmatch(line)
	if m == nil {
		return p.fail(line)
	}
	ref := playerRef(m[1], m[2], m[3], m[4])
	return p.emit(models.EventPlayerEntry, serverID, raw, models.EntryData{Player: ref}, metaFor(ref))
}

func (p *csParser) parseDisconnect(line, raw string, serverID int, withReason bool) Result {
	if withReason {
		if m := reDisconnect.FindStringSubmatch(line); m != nil {
			ref := playerRef(m[1], m[2], m[3], m[4])
			return p.emit(models.EventPlayerDisconnect, serverID, raw, models.DisconnectData{Player: ref, Reason: m[5]}, metaFor(ref))
		}
		return p.fail(line)
	}
	m := reDisconnectOld.FindStringSubmatch(line)
	if m == nil {
		return p.fail(line)
	}
	ref := playerRef(m[1], m[2], m[3], m[4])
	return p.emit(models.EventPlayerDisconnect, serverID, raw, models.DisconnectData{Player: ref}, metaFor(ref))
}

func (p *csParser) parseTeamChange(line, raw string, serverID int) Result {
	m := reJoinTeam.FindStringSubmatch(line)
	if m == nil {
		m = reChangeTeam.FindStringSubmatch(line)
	}
	if m == nil {
		return p.fail(line)
	}
	ref := playerRef(m[1], m[2], m[3], m[4])
	return p.emit(models.EventPlayerChangeTeam, serverID, raw, models.ChangeTeamData{Player: ref, NewTeam: m[5]}, metaFor(ref))
}

func (p *csParser) parseRoleChange(line, raw string, serverID int) Result {
	m := reChangeRole.FindStringSubmatch(line)
	if m == nil {
		return p.fail(line)
	}
	ref := playerRef(m[1], m[2], m[3], m[4])
	return p.emit(models.EventPlayerChangeRole, serverID, raw, models.ChangeRoleData{Player: ref, Role: m[5]}, metaFor(ref))
}

func (p *csParser) parseNameChange(line, raw string, serverID int) Result {
	m := reChangeName.FindStringSubmatch(line)
	if m == nil {
		return p.fail(line)
	}
	ref := playerRef(m[1], m[2], m[3], m[4])
	return p.emit(models.EventPlayerChangeName, serverID, raw, models.ChangeNameData{Player: ref, NewName: m[5]}, metaFor(ref))
}

func (p *csParser) parseChat(line, raw string, serverID int) Result {
	m := reSay.FindStringSubmatch(line)
	if m == nil {
		return p.fail(line)
	}
	ref := playerRef(m[1], m[2], m[3], m[4])
	data := models.ChatData{Player: ref, Message: m[6], Team: m[5] == "_team"}
	return p.emit(models.EventChatMessage, serverID, raw, data, metaFor(ref))
}

func (p *csParser) parseMapChange(line, raw string, serverID int) Result {
	var name string
	if m := reMapchange.FindStringSubmatch(line); m != nil {
		name = m[1]
	} else if m := reStartedMap.FindStringSubmatch(line); m != nil {
		name = m[1]
	} else if m := reChangelevel.FindStringSubmatch(line); m != nil {
		name = m[1]
	}
	if name == "" {
		return p.fail(line)
	}
	res := p.deps.State.UpdateMap(serverID, name)
	data := models.MapChangeData{Map: name, PreviousMap: res.PreviousMap}
	return p.emit(models.EventMapChange, serverID, raw, data, nil)
}

func (p *csParser) parseRoundStart(raw string, serverID int) Result {
	rs := p.deps.State.StartRound(serverID)
	data := models.RoundStartData{Map: rs.Map, RoundNumber: rs.RoundNumber}
	return p.emit(models.EventRoundStart, serverID, raw, data, nil)
}

func (p *csParser) parseTeamWin(line, raw string, serverID int) Result {
	m := reTeamTriggered.FindStringSubmatch(line)
	if m == nil {
		return p.fail(line)
	}
	trigger := m[2]
	team := winTriggers[trigger]
	if team == "" {
		team = m[1]
	}
	scoreCT, _ := strconv.Atoi(m[4])
	scoreT, _ := strconv.Atoi(m[5])

	p.deps.State.SetWinningTeam(serverID, team)

	data := models.TeamWinData{
		Team:        team,
		TriggerName: trigger,
		ScoreCT:     scoreCT,
		ScoreT:      scoreT,
	}
	return p.emit(models.EventTeamWin, serverID, raw, data, nil)
}

func (p *csParser) parseRoundEnd(raw string, serverID int) Result {
	re := p.deps.State.EndRound(serverID)
	data := models.RoundEndData{RoundNumber: re.RoundNumber, WinningTeam: re.WinningTeam}
	return p.emit(models.EventRoundEnd, serverID, raw, data, nil)
}

// parseAction handles the generic `triggered "<code>"` family: world
// actions, team actions, player-versus-player actions and single-player
// actions, in that match order.
func (p *csParser) parseAction(line, raw string, serverID int) Result {
	if m := reWorldTriggered.FindStringSubmatch(line); m != nil {
		return p.emit(models.EventActionWorld, serverID, raw, models.ActionWorldData{Code: m[1]}, nil)
	}
	if m := reTeamTriggered.FindStringSubmatch(line); m != nil {
		return p.emit(models.EventActionTeam, serverID, raw, models.ActionTeamData{Team: m[1], Code: m[2]}, nil)
	}
	if m := rePairTriggered.FindStringSubmatch(line); m != nil {
		actor := playerRef(m[1], m[2], m[3], m[4])
		victim := playerRef(m[6], m[7], m[8], m[9])
		data := models.ActionPlayerPairData{Player: actor, Victim: victim, Code: m[5]}
		return p.emit(models.EventActionPlayerPair, serverID, raw, data, metaFor(actor))
	}
	if m := rePlayerTriggered.FindStringSubmatch(line); m != nil {
		actor := playerRef(m[1], m[2], m[3], m[4])
		data := models.ActionPlayerData{Player: actor, Code: m[5]}
		return p.emit(models.EventActionPlayer, serverID, raw, data, metaFor(actor))
	}
	return p.fail(line)
}
