// Package publish delivers validated events to the downstream pipeline
// over a Redis Stream.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hlxstats/ingressd/internal/models"
)

var publishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "hlx_publish_duration_seconds",
	Help:    "Latency of XADD calls to the event stream",
	Buckets: prometheus.DefBuckets,
})

// maxStreamLen caps the stream so a stalled consumer cannot exhaust
// Redis memory. Approximate trimming (~) keeps XADD cheap.
const maxStreamLen = 1_000_000

// RedisPublisher appends events to a Redis Stream. Consumers read with
// XREADGROUP; this side only ever appends.
type RedisPublisher struct {
	client *redis.Client
	stream string
	logger *zap.SugaredLogger
}

func NewRedisPublisher(client *redis.Client, stream string, logger *zap.SugaredLogger) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, logger: logger}
}

// Publish appends one event. The full envelope travels as a single JSON
// field; type and server id are duplicated as top-level fields so
// consumers can filter without unmarshalling.
func (p *RedisPublisher) Publish(ctx context.Context, event *models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	start := time.Now()
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{
			"event":    payload,
			"type":     string(event.EventType),
			"serverId": event.ServerID,
		},
	}).Err()
	publishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Ping reports whether Redis is reachable, for readiness checks.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
