// Package archive batches parsed events into ClickHouse for long-term
// analytics. The archive is best-effort: a full buffer sheds, a failed
// flush is logged and dropped, and the hot path never blocks on it.
package archive

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/hlxstats/ingressd/internal/models"
)

// Prometheus metrics
var (
	eventsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_events_archived_total",
		Help: "Total number of events written to the ClickHouse archive",
	})

	archiveFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_archive_failed_total",
		Help: "Total number of events lost to failed archive flushes",
	})

	archiveShed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_archive_shed_total",
		Help: "Total number of events dropped because the archive buffer was full",
	})

	archiveFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hlx_archive_flush_duration_seconds",
		Help:    "Duration of batch inserts to ClickHouse",
		Buckets: prometheus.DefBuckets,
	})
)

const insertEvents = `
	INSERT INTO hlx_stats.raw_events (
		timestamp, event_id, correlation_id, server_id, event_type, raw, payload
	)
`

// Config configures the Archiver.
type Config struct {
	Conn          driver.Conn
	BatchSize     int
	FlushInterval time.Duration
	Logger        *zap.SugaredLogger
}

// Archiver buffers events and flushes them to ClickHouse in batches,
// on size or on a timer, whichever comes first.
type Archiver struct {
	conn          driver.Conn
	batchSize     int
	flushInterval time.Duration
	logger        *zap.SugaredLogger

	queue  chan *models.Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Archiver{
		conn:          cfg.Conn,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
		queue:         make(chan *models.Event, cfg.BatchSize*4),
	}
}

// Start launches the flush loop.
func (a *Archiver) Start(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.run()
	a.logger.Infow("Archiver started",
		"batchSize", a.batchSize, "flushInterval", a.flushInterval)
}

// Stop flushes buffered events and shuts down.
func (a *Archiver) Stop() {
	a.logger.Info("Stopping archiver...")
	close(a.queue)
	a.wg.Wait()
	a.cancel()
	a.logger.Info("Archiver stopped")
}

// Enqueue buffers one event. Never blocks: a full buffer sheds.
func (a *Archiver) Enqueue(event *models.Event) {
	defer func() {
		// Sends on the closed queue during shutdown are dropped.
		if r := recover(); r != nil {
			archiveShed.Inc()
		}
	}()

	select {
	case a.queue <- event:
	default:
		archiveShed.Inc()
	}
}

func (a *Archiver) run() {
	defer a.wg.Done()

	batch := make([]*models.Event, 0, a.batchSize)
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := a.flush(batch); err != nil {
			a.logger.Errorw("Archive flush failed", "batchSize", len(batch), "error", err)
			archiveFailed.Add(float64(len(batch)))
		} else {
			eventsArchived.Add(float64(len(batch)))
		}
		archiveFlushDuration.Observe(time.Since(start).Seconds())
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-a.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= a.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (a *Archiver) flush(batch []*models.Event) error {
	ctx := context.Background()

	chBatch, err := a.conn.PrepareBatch(ctx, insertEvents)
	if err != nil {
		return err
	}

	for _, event := range batch {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			a.logger.Warnw("Failed to marshal event payload",
				"eventId", event.EventID, "error", err)
			continue
		}
		err = chBatch.Append(
			event.Timestamp,
			event.EventID,
			event.CorrelationID,
			uint32(event.ServerID),
			string(event.EventType),
			event.Raw,
			string(payload),
		)
		if err != nil {
			a.logger.Warnw("Failed to append event to archive batch",
				"eventId", event.EventID, "error", err)
		}
	}

	return chBatch.Send()
}
