// Package adminhttp exposes the engine's operational surface:
// liveness, Prometheus metrics, and per-topic queue depth.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/ecoachlabs/ideamind-sub006/pkg/observability"
	"github.com/ecoachlabs/ideamind-sub006/pkg/ratelimit"
)

// QueueDepthReader is the subset of streamqueue.Queue the /queue
// endpoint needs; satisfied by *streamqueue.Queue.
type QueueDepthReader interface {
	GetQueueDepth(ctx context.Context, topic string) (int64, error)
}

// Server is the admin HTTP surface: a chi router wired with
// observability middleware and health/metrics/queue-depth routes.
type Server struct {
	router  chi.Router
	queue   QueueDepthReader
	started time.Time
}

// New builds a Server. obs may be nil (observability disabled); queue
// may be nil (the /queue route then always 503s); limiter may be nil
// (no rate limiting on the admin surface).
func New(obs *observability.Manager, queue QueueDepthReader, limiter ratelimit.RateLimiter) *Server {
	s := &Server{queue: queue, started: time.Now().UTC()}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	if obs != nil {
		r.Use(observability.HTTPMiddleware(obs.Tracer(), obs.Metrics()))
	}
	r.Use(ratelimit.Middleware(ratelimit.MiddlewareConfig{
		Limiter:       limiter,
		ExcludedPaths: []string{"/healthz"},
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.handleMetrics(obs))
	r.Get("/queue/{topic}/depth", s.handleQueueDepth)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) handleMetrics(obs *observability.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if obs == nil || !obs.MetricsEnabled() {
			http.Error(w, "metrics disabled", http.StatusNotFound)
			return
		}
		obs.MetricsHandler().ServeHTTP(w, r)
	}
}

func (s *Server) handleQueueDepth(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		http.Error(w, "queue not configured", http.StatusServiceUnavailable)
		return
	}
	topic := chi.URLParam(r, "topic")
	depth, err := s.queue.GetQueueDepth(r.Context(), topic)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"topic": topic, "depth": depth})
}
