package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/systemshift/bioref/internal/logger"
	"github.com/systemshift/bioref/internal/pipeline"
)

// Jobs is the work the server can trigger.
type Jobs interface {
	FetchAll(ctx context.Context, force bool, names ...string) ([]pipeline.FetchReport, error)
	Load(ctx context.Context, opts pipeline.LoadOptions) ([]pipeline.LoadReport, error)
	Sources() []pipeline.SourceStatus
}

// Server holds the HTTP server dependencies
type Server struct {
	jobs Jobs
	log  *logger.Logger
}

// New creates a new API server
func New(jobs Jobs, log *logger.Logger) *Server {
	return &Server{jobs: jobs, log: log}
}

// Router builds the HTTP routes. metrics serves GET /metrics when non-nil.
func (s *Server) Router(metrics http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HealthCheck)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.ListSources)
		r.Post("/fetch", s.Fetch)
		r.Post("/load", s.Load)
	})
	return r
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListSources handles GET /api/sources
func (s *Server) ListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.jobs.Sources()})
}

// FetchResponse is the response for a fetch run
type FetchResponse struct {
	Reports []pipeline.FetchReport `json:"reports"`
}

// Fetch handles POST /api/fetch
// Supports query params: ?source=NAME (repeatable) and ?force=true
func (s *Server) Fetch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	force, err := boolParam(query.Get("force"))
	if err != nil {
		http.Error(w, "invalid force parameter", http.StatusBadRequest)
		return
	}

	reports, err := s.jobs.FetchAll(r.Context(), force, query["source"]...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, FetchResponse{Reports: reports})
}

// LoadResponse is the response for a load run
type LoadResponse struct {
	Reports []pipeline.LoadReport `json:"reports"`
	Error   string                `json:"error,omitempty"`
}

// Load handles POST /api/load
// Supports query params: ?delete=true to wipe collections first, ?only_changed=true
func (s *Server) Load(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	del, err := boolParam(query.Get("delete"))
	if err != nil {
		http.Error(w, "invalid delete parameter", http.StatusBadRequest)
		return
	}
	onlyChanged, err := boolParam(query.Get("only_changed"))
	if err != nil {
		http.Error(w, "invalid only_changed parameter", http.StatusBadRequest)
		return
	}

	reports, err := s.jobs.Load(r.Context(), pipeline.LoadOptions{Delete: del, OnlyChanged: onlyChanged})
	resp := LoadResponse{Reports: reports}
	status := http.StatusOK
	if err != nil {
		s.log.Error("load run failed", "error", err)
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
