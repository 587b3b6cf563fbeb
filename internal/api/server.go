// Package api exposes the HTTP interface for the menu pipeline service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/config"
	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
	"github.com/grazeapp/menupipe/internal/score"
	"github.com/grazeapp/menupipe/internal/search"
)

// Job priorities assigned by the API. Reprocessing jumps the queue so
// operator-triggered refreshes beat background discovery.
const (
	discoverPriority  = 1
	reprocessPriority = 5
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Places     pipeline.PlaceStore
	Menus      pipeline.MenuStore
	Runs       pipeline.CrawlRunStore
	Queue      pipeline.JobQueue
	Search     *search.Service
	Recomputer *score.Recomputer
	IDs        pipeline.IDGenerator
	Clock      pipeline.Clock
	Logger     *zap.Logger
}

// Server wires HTTP handlers to the stores, queue, and search service.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg config.Config, deps Deps) *Server {
	s := &Server{deps: deps, cfg: cfg}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(deps.Logger))
	r.Use(metricsMiddleware)
	r.Use(recoverMiddleware(deps.Logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/places", func(r chi.Router) {
			r.Post("/", s.createPlace)
			r.Route("/{place_id}", func(r chi.Router) {
				r.Get("/", s.getPlace)
				r.Post("/discover", s.discover)
				r.Post("/reprocess", s.reprocess)
			})
		})
		r.Patch("/items/{item_id}", s.patchItem)
		r.Post("/search/cravings", s.searchCravings)
		r.Post("/scores/recompute", s.recomputeScores)
		r.Get("/jobs/stats", s.jobStats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The queue is the one dependency every stage needs; a failing Stats
	// call means the backing store is unreachable.
	if _, err := s.deps.Queue.Stats(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
