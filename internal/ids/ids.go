// Package ids mints the event and correlation identifiers carried on the
// downstream queue envelope. The formats are part of the wire contract:
// msg_<base36-time>_<16 hex> and corr_<base36-time>_<12 hex>.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// Generator produces unique event and correlation ids.
type Generator interface {
	EventID() string
	CorrelationID() string
}

type generator struct {
	now func() time.Time
}

// New returns the production generator.
func New() Generator {
	return &generator{now: time.Now}
}

// NewWithClock returns a generator with an injected clock, for tests.
func NewWithClock(now func() time.Time) Generator {
	return &generator{now: now}
}

func (g *generator) EventID() string {
	return "msg_" + strconv.FormatInt(g.now().UnixMilli(), 36) + "_" + randHex(8)
}

func (g *generator) CorrelationID() string {
	return "corr_" + strconv.FormatInt(g.now().UnixMilli(), 36) + "_" + randHex(6)
}

func randHex(n int) string {
	buf := make([]byte, n)
	// rand.Read only fails if the OS entropy source is broken; in that
	// case a panic is preferable to emitting duplicate ids.
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
