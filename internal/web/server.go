package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dance-studio/internal/analysis"
	"dance-studio/internal/metrics"
	"dance-studio/internal/studio"
)

type Options struct {
	Studio *studio.Orchestrator
	// Analyzer backs the analyze-image function. Nil disables the route.
	Analyzer analysis.Analyzer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// RunTimeout bounds one background pipeline run. Zero means none.
	RunTimeout time.Duration
}

// Server exposes the studio as a JSON API. Image and video runs are
// started in the background and observed through GET /api/jobs/current.
type Server struct {
	studio     *studio.Orchestrator
	analyzer   analysis.Analyzer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	runTimeout time.Duration

	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup

	router chi.Router
}

type apiError struct {
	Error string `json:"error"`
}

func New(opts Options) (*Server, error) {
	if opts.Studio == nil {
		return nil, errors.New("web: studio is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		studio:     opts.Studio,
		analyzer:   opts.Analyzer,
		metrics:    opts.Metrics,
		logger:     logger,
		runTimeout: opts.RunTimeout,
		runCtx:     runCtx,
		cancelRun:  cancel,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/keys", func(r chi.Router) {
			r.Get("/", s.handleGetKeys)
			r.Put("/", s.handlePutKeys)
			r.Delete("/", s.handleDeleteKeys)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Get("/current", s.handleCurrentJob)
			r.Put("/current/selection", s.handleSelection)
			r.Post("/current/videos", s.handleVideos)
		})
		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleHistory)
			r.Delete("/", s.handleClearHistory)
			r.Delete("/{id}", s.handleRemoveHistory)
		})
	})

	if s.analyzer != nil {
		r.Options("/functions/v1/analyze-image", s.handleAnalyzeOptions)
		r.Post("/functions/v1/analyze-image", s.handleAnalyze)
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Shutdown cancels background runs and waits for them to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelRun()
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every background run has returned.
func (s *Server) Wait() {
	s.runs.Wait()
}

func (s *Server) background(name string, fn func(ctx context.Context) error) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()

		ctx := s.runCtx
		if s.runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
			defer cancel()
		}

		start := time.Now()
		if err := fn(ctx); err != nil {
			s.logger.Warn("background run failed", "run", name, "error", err, "dur_ms", time.Since(start).Milliseconds())
			return
		}
		s.logger.Info("background run finished", "run", name, "dur_ms", time.Since(start).Milliseconds())
	}()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		s.metrics.HTTPRequest(r.Method, route, status, d)
		s.logger.Info("http", "method", r.Method, "route", route, "status", status, "dur_ms", d.Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// writeStudioError maps orchestrator errors onto HTTP statuses.
func writeStudioError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, studio.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, studio.ErrNoCurrentJob):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, studio.ErrImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case studio.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
