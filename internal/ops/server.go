// Package ops serves the operational HTTP surface: liveness, readiness
// and Prometheus metrics. It is not a public API.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QueueStats reports ingestion queue depth for readiness output.
type QueueStats interface {
	QueueDepth() int
}

type Config struct {
	Port       int
	Postgres   *pgxpool.Pool
	Redis      *redis.Client
	ClickHouse driver.Conn // optional
	Pool       QueueStats
	Logger     *zap.SugaredLogger
}

type Server struct {
	srv    *http.Server
	pg     *pgxpool.Pool
	redis  *redis.Client
	ch     driver.Conn
	pool   QueueStats
	logger *zap.SugaredLogger
}

func New(cfg Config) *Server {
	s := &Server{
		pg:     cfg.Postgres,
		redis:  cfg.Redis,
		ch:     cfg.ClickHouse,
		pool:   cfg.Pool,
		logger: cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("Ops server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready checks every backing store. ClickHouse is optional and reported
// but never fails readiness: the archive is best-effort.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string)
	ready := true

	if err := s.pg.Ping(ctx); err != nil {
		checks["postgres"] = "failed: " + err.Error()
		ready = false
	} else {
		checks["postgres"] = "ok"
	}

	if err := s.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = "failed: " + err.Error()
		ready = false
	} else {
		checks["redis"] = "ok"
	}

	if s.ch != nil {
		if err := s.ch.Ping(ctx); err != nil {
			checks["clickhouse"] = "failed: " + err.Error()
		} else {
			checks["clickhouse"] = "ok"
		}
	} else {
		checks["clickhouse"] = "disabled"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.jsonResponse(w, status, map[string]interface{}{
		"ready":      ready,
		"checks":     checks,
		"queueDepth": s.pool.QueueDepth(),
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode response", "error", err)
	}
}
