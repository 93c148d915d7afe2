// Package parser turns raw engine log lines into typed events. One parser
// instance exists per server; cross-line correlations (map to round,
// team-win to round-end) go through the shared state manager.
package parser

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hlxstats/ingressd/internal/ids"
	"github.com/hlxstats/ingressd/internal/models"
	"github.com/hlxstats/ingressd/internal/state"
)

// Result is the outcome of parsing one line. A line that matches nothing
// is a success with a nil event; Err is set only when a recognized trigger
// failed to parse.
type Result struct {
	Event   *models.Event
	Success bool
	Err     string
}

// Parser parses engine log lines for one game.
type Parser interface {
	ParseLine(line string, serverID int) Result
}

// Deps are the collaborators every parser shares.
type Deps struct {
	State  *state.Manager
	IDs    ids.Generator
	Logger *zap.SugaredLogger
}

var timestampPrefix = regexp.MustCompile(`^L \d{2}/\d{2}/\d{4} - \d{2}:\d{2}:\d{2}:\s*`)

// StripTimestamp removes the engine timestamp prefix. Idempotent: lines
// without the prefix pass through unchanged.
func StripTimestamp(line string) string {
	return timestampPrefix.ReplaceAllString(line, "")
}

// New returns the parser for a game code. Known Counter-Strike aliases map
// to the CS parser; anything else gets a no-op parser that recognizes
// nothing and never fails.
func New(game string, deps Deps) Parser {
	switch strings.ToLower(strings.TrimSpace(game)) {
	case "cstrike", "cs", "cs16", "counter-strike", "czero":
		return newCSParser(deps)
	default:
		return noopParser{}
	}
}

type noopParser struct{}

func (noopParser) ParseLine(string, int) Result {
	return Result{Success: true}
}
