// Package server exposes the operator HTTP API: document upsert, queue
// health, drain/reindex triggers, and suggestion review.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/pipeline"
	"github.com/weftlabs/weft/internal/queue"
	"github.com/weftlabs/weft/internal/store"
)

// Server is the weft HTTP API server.
type Server struct {
	db      *store.DB
	q       *queue.Queue
	orch    *pipeline.Orchestrator
	log     *zap.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server.
func New(db *store.DB, q *queue.Queue, orch *pipeline.Orchestrator, log *zap.Logger, version string) *Server {
	s := &Server{
		db:      db,
		q:       q,
		orch:    orch,
		log:     log,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/documents", s.handlePutDocument)
		r.Get("/documents/{docID}", s.handleGetDocument)
		r.Post("/documents/{docID}/enqueue", s.handleEnqueue)

		r.Get("/queue", s.handleQueueStats)
		r.Post("/queue/drain", s.handleDrain)
		r.Post("/queue/reindex", s.handleReindex)

		r.Get("/suggestions", s.handleListSuggestions)
		r.Post("/suggestions/{suggestionID}/approve", s.handleApproveSuggestion)
		r.Post("/suggestions/{suggestionID}/reject", s.handleRejectSuggestion)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
		"queue":   s.q.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
