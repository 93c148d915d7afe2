package ingress

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Prometheus metrics
var (
	datagramsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_datagrams_received_total",
		Help: "Total number of UDP datagrams accepted by the pool",
	})

	datagramsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_datagrams_dropped_total",
		Help: "Total number of datagrams dropped because a worker queue was full",
	})

	beaconsHandled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_beacons_total",
		Help: "Total number of beacon datagrams processed",
	})

	beaconsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_beacons_rejected_total",
		Help: "Total number of malformed beacon datagrams rejected",
	})

	eventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_events_published_total",
		Help: "Total number of parsed events published downstream",
	})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_publish_failures_total",
		Help: "Total number of events that failed to publish",
	})

	unknownSources = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_unknown_source_lines_total",
		Help: "Total number of log lines from sources without a beacon session",
	})

	poolQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlx_ingress_queue_depth",
		Help: "Current total depth of the datagram worker queues",
	})
)

// Pool fans datagrams out to a fixed set of workers. A datagram is routed
// by the FNV-1a hash of its source, so a single source is always handled
// by the same worker in arrival order; a beacon's cache write therefore
// happens before any later log line from that source is parsed.
type Pool struct {
	process func(ctx context.Context, d Datagram)
	queues  []chan Datagram
	grace   time.Duration
	logger  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(workers, queueSize int, grace time.Duration, process func(ctx context.Context, d Datagram), logger *zap.SugaredLogger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 10000
	}
	queues := make([]chan Datagram, workers)
	// Per-worker queue share keeps aggregate capacity at queueSize.
	per := queueSize / workers
	if per < 1 {
		per = 1
	}
	for i := range queues {
		queues[i] = make(chan Datagram, per)
	}
	return &Pool{
		process: process,
		queues:  queues,
		grace:   grace,
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i, q := range p.queues {
		p.wg.Add(1)
		go p.worker(i, q)
	}
	go p.reportQueueDepth()

	p.logger.Infow("Ingress pool started", "workers", len(p.queues))
}

// Stop drains in-flight work, waiting at most the grace period.
func (p *Pool) Stop() {
	p.logger.Info("Stopping ingress pool...")
	for _, q := range p.queues {
		close(q)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.grace):
		p.logger.Warn("Ingress pool drain exceeded grace period")
	}
	p.cancel()
	p.logger.Info("Ingress pool stopped")
}

// Handle routes one datagram. Never blocks the receive loop: a full
// worker queue sheds the datagram.
func (p *Pool) Handle(d Datagram) {
	idx := sourceHash(d.SourceAddr, d.SourcePort) % uint32(len(p.queues))

	defer func() {
		// Sends on a closed queue during shutdown are dropped.
		if r := recover(); r != nil {
			datagramsDropped.Inc()
		}
	}()

	select {
	case p.queues[idx] <- d:
		datagramsReceived.Inc()
	default:
		datagramsDropped.Inc()
		p.logger.Warnw("Worker queue full, dropping datagram",
			"source", d.SourceAddr, "worker", idx)
	}
}

// QueueDepth returns the aggregate queued datagram count.
func (p *Pool) QueueDepth() int {
	total := 0
	for _, q := range p.queues {
		total += len(q)
	}
	return total
}

func (p *Pool) worker(id int, q chan Datagram) {
	defer p.wg.Done()
	for d := range q {
		p.process(p.ctx, d)
	}
	p.logger.Debugw("Ingress worker drained", "worker", id)
}

func (p *Pool) reportQueueDepth() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			poolQueueDepth.Set(float64(p.QueueDepth()))
		case <-p.ctx.Done():
			return
		}
	}
}

func sourceHash(addr string, port int) uint32 {
	h := fnv.New32a()
	h.Write([]byte(addr))
	h.Write([]byte{':', byte(port), byte(port >> 8)})
	return h.Sum32()
}
