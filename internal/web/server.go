// Package web binds the pipeline, version store and comparison engine to an
// HTTP JSON API, with an SSE progress stream per job and static serving of
// the active version's files.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sitemirror/sitemirror/internal/compare"
	"github.com/sitemirror/sitemirror/internal/config"
	"github.com/sitemirror/sitemirror/internal/fault"
	"github.com/sitemirror/sitemirror/internal/orchestrator"
	"github.com/sitemirror/sitemirror/internal/version"
)

// Server is the HTTP API server.
type Server struct {
	orch     *orchestrator.Orchestrator
	versions *version.Store
	engine   *compare.Engine
	db       *version.DB
	cfg      *config.Sitemirror
	log      zerolog.Logger
}

// NewServer creates a Server.
func NewServer(
	orch *orchestrator.Orchestrator,
	versions *version.Store,
	engine *compare.Engine,
	db *version.DB,
	cfg *config.Sitemirror,
	log zerolog.Logger,
) *Server {
	return &Server{orch: orch, versions: versions, engine: engine, db: db, cfg: cfg, log: log}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/pipeline", func(r chi.Router) {
			r.Post("/", s.handleStartPipeline)
			r.Get("/", s.handleListJobs)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleJobStatus)
				r.Get("/checkpoint", s.handleCheckpointInfo)
				r.Post("/resume", s.handleResume)
				r.Get("/events", s.handleProgressStream)
				r.Get("/log", s.handleEventLog)
			})
		})

		r.Route("/websites/{websiteID}", func(r chi.Router) {
			r.Post("/versions", s.handleCreateVersion)
			r.Get("/versions", s.handleListVersions)
			r.Get("/rollback-check/{targetID}", s.handleRollbackCheck)
			r.Post("/rollback", s.handleRollback)
			r.Post("/compare", s.handleRunComparison)
			r.Get("/compare", s.handleGetReport)
		})

		r.Route("/versions/{versionID}", func(r chi.Router) {
			r.Get("/", s.handleGetVersion)
			r.Get("/files", s.handleVersionFiles)
			r.Post("/activate", s.handleActivateVersion)
			r.Delete("/", s.handleDeleteVersion)
		})
	})

	r.Get("/sites/{websiteID}/*", s.handleServeActiveSite)

	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Int("port", s.cfg.Server.Port).Msg("http server listening")

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the fault taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fault.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, fault.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fault.ErrConflict), errors.Is(err, fault.ErrImmutable):
		status = http.StatusConflict
	case errors.Is(err, fault.ErrExternalUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, fault.ErrCorruptState), errors.Is(err, fault.ErrPersistence):
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fault.Validationf("decode request body: %v", err)
	}
	return nil
}
