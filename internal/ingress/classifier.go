// Package ingress owns the UDP listener, the datagram worker pool and the
// orchestrator that routes beacons and log lines through authentication,
// parsing and publication.
package ingress

import (
	"strconv"
	"strings"

	"github.com/hlxstats/ingressd/internal/parser"
)

// LineKind discriminates classified datagram payloads.
type LineKind int

const (
	// KindLogLine is a regular engine log line.
	KindLogLine LineKind = iota
	// KindBeacon is an HLXTOKEN identity assertion.
	KindBeacon
	// KindRejected is a malformed beacon. It is dropped, never parsed:
	// falling through to the log path would let arbitrary data ride in
	// under the beacon prefix.
	KindRejected
)

const (
	beaconPrefix    = "HLXTOKEN:"
	defaultGamePort = 27015
)

// Classified is the result of Classify.
type Classified struct {
	Kind     LineKind
	Token    string
	GamePort int
	Line     string // original line, for the log path
}

// Classify distinguishes beacon lines from engine log lines. The engine
// timestamp prefix is stripped before the beacon check; log lines are
// returned unmodified (the parser strips again).
func Classify(line string) Classified {
	stripped := parser.StripTimestamp(line)
	if !strings.HasPrefix(stripped, beaconPrefix) {
		return Classified{Kind: KindLogLine, Line: line}
	}

	payload := strings.TrimSpace(strings.TrimPrefix(stripped, beaconPrefix))
	if payload == "" {
		return Classified{Kind: KindRejected}
	}

	tok := payload
	port := defaultGamePort
	// Last-colon split: the token charset excludes ':' but a stray colon
	// in the payload must not end up inside the token.
	if idx := strings.LastIndexByte(payload, ':'); idx >= 0 {
		tok = payload[:idx]
		p, err := strconv.Atoi(payload[idx+1:])
		if err != nil {
			return Classified{Kind: KindRejected}
		}
		port = p
	}

	if tok == "" || port < 1 || port > 65535 {
		return Classified{Kind: KindRejected}
	}
	return Classified{Kind: KindBeacon, Token: tok, GamePort: port}
}
