package ingress

import (
	"context"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hlxstats/ingressd/internal/ids"
	"github.com/hlxstats/ingressd/internal/models"
	"github.com/hlxstats/ingressd/internal/parser"
	"github.com/hlxstats/ingressd/internal/state"
	"github.com/hlxstats/ingressd/internal/throttle"
	"github.com/hlxstats/ingressd/internal/token"
)

// Publisher pushes events onto the downstream queue.
type Publisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Archiver accepts events for best-effort archival. Never blocks.
type Archiver interface {
	Enqueue(event *models.Event)
}

// ActionSink consumes action-family events for reward processing.
type ActionSink interface {
	Process(ctx context.Context, event *models.Event) error
}

// Orchestrator wires the authenticator, the per-server parser cache and
// the downstream sinks. It is the only writer of the parser cache.
type Orchestrator struct {
	auth      *token.Authenticator
	publisher Publisher
	archive   Archiver
	actions   ActionSink
	logger    *zap.SugaredLogger
	warns     *throttle.Throttle
	validate  *validator.Validate

	parserDeps parser.Deps

	mu      sync.Mutex
	parsers map[int]parser.Parser
	// One lock per serverId: two sources can feed the same server, and the
	// parser's cross-line state needs a single-writer discipline.
	locks map[int]*sync.Mutex
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Auth      *token.Authenticator
	Publisher Publisher
	Archive   Archiver // optional
	Actions   ActionSink
	State     *state.Manager
	IDs       ids.Generator
	Logger    *zap.SugaredLogger
	Warns     *throttle.Throttle
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		auth:      cfg.Auth,
		publisher: cfg.Publisher,
		archive:   cfg.Archive,
		actions:   cfg.Actions,
		logger:    cfg.Logger,
		warns:     cfg.Warns,
		validate:  validator.New(),
		parserDeps: parser.Deps{
			State:  cfg.State,
			IDs:    cfg.IDs,
			Logger: cfg.Logger,
		},
		parsers: make(map[int]parser.Parser),
		locks:   make(map[int]*sync.Mutex),
	}
}

// Process handles one datagram end to end. Called from pool workers.
func (o *Orchestrator) Process(ctx context.Context, d Datagram) {
	c := Classify(d.Line)
	switch c.Kind {
	case KindBeacon:
		beaconsHandled.Inc()
		o.auth.HandleBeacon(ctx, c.Token, c.GamePort, d.SourceAddr, d.SourcePort)

	case KindRejected:
		beaconsRejected.Inc()
		if o.warns.Allow("rejected:" + d.SourceAddr) {
			o.logger.Warnw("Rejected malformed beacon", "source", d.SourceAddr)
		}

	case KindLogLine:
		o.processLogLine(ctx, c.Line, d)
	}
}

func (o *Orchestrator) processLogLine(ctx context.Context, line string, d Datagram) {
	sess, ok := o.auth.LookupSource(d.SourceAddr, d.SourcePort)
	if !ok {
		unknownSources.Inc()
		if o.warns.Allow("nosession:" + d.SourceAddr) {
			o.logger.Warnw("Log line from unauthenticated source, dropping",
				"source", d.SourceAddr, "sourcePort", d.SourcePort)
		}
		return
	}

	p, lock := o.parserFor(sess)

	lock.Lock()
	res := p.ParseLine(line, sess.ServerID)
	lock.Unlock()

	if !res.Success {
		if o.warns.Allow("parse:" + strconv.Itoa(sess.ServerID)) {
			o.logger.Warnw("Parse failure", "serverId", sess.ServerID, "error", res.Err)
		}
		return
	}
	if res.Event == nil {
		return
	}

	event := res.Event
	if err := o.validate.Struct(event); err != nil {
		o.logger.Warnw("Dropping invalid event envelope",
			"serverId", sess.ServerID, "eventType", event.EventType, "error", err)
		return
	}

	if err := o.publisher.Publish(ctx, event); err != nil {
		publishFailures.Inc()
		o.logger.Errorw("Failed to publish event",
			"serverId", sess.ServerID, "eventType", event.EventType,
			"eventId", event.EventID, "error", err)
	} else {
		eventsPublished.Inc()
	}

	if o.archive != nil {
		o.archive.Enqueue(event)
	}

	switch event.EventType {
	case models.EventActionPlayer, models.EventActionPlayerPair,
		models.EventActionTeam, models.EventActionWorld, models.EventPlayerSuicide:
		if err := o.actions.Process(ctx, event); err != nil {
			o.logger.Errorw("Action processing failed",
				"serverId", sess.ServerID, "eventId", event.EventID, "error", err)
		}
	}
}

// parserFor returns the cached parser and per-server lock for a session,
// creating both on first use. Entries live for the whole process; the map
// is bounded by the number of distinct servers.
func (o *Orchestrator) parserFor(sess token.Session) (parser.Parser, *sync.Mutex) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.parsers[sess.ServerID]
	if !ok {
		p = parser.New(sess.Game, o.parserDeps)
		o.parsers[sess.ServerID] = p
		o.logger.Infow("Parser created", "serverId", sess.ServerID, "game", sess.Game)
	}
	lock, ok := o.locks[sess.ServerID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[sess.ServerID] = lock
	}
	return p, lock
}
