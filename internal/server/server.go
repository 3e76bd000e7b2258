// Package server exposes stored analysis results and pipeline metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iyulab/log-coroner/internal/model"
	"github.com/iyulab/log-coroner/internal/reporter"
	"github.com/iyulab/log-coroner/internal/store"
)

// Results is the read side of the history store.
type Results interface {
	Get(ctx context.Context, id string) (*model.AnalysisResult, error)
	List(ctx context.Context, limit, offset int) ([]store.Summary, error)
}

// Server serves the read-only results API.
type Server struct {
	r          *chi.Mux
	results    Results
	reporter   *reporter.Reporter
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a Server. A nil gatherer uses the default Prometheus registry.
func New(results Results, rep *reporter.Reporter, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		r:        chi.NewRouter(),
		results:  results,
		reporter: rep,
		gatherer: gatherer,
		logger:   logger.With("component", "server"),
	}
	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.Recoverer)
	s.r.Use(s.logRequests)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/health", s.handleHealth)
	s.r.Get("/results", s.handleList)
	s.r.Get("/results/{id}", s.handleGet)
	s.r.Get("/results/{id}/summary", s.handleSummary)
	s.r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.r }

// Start begins listening on addr (":0" = OS-assigned port). Returns the bound "host:port".
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}

	s.httpServer = &http.Server{Handler: s.r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "error", err)
		}
	}()
	return ln.Addr().String(), nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type listResponse struct {
	Results []store.Summary `json:"results"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	items, err := s.results.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list results", "error", err)
		http.Error(w, "failed to list results", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, listResponse{Results: items, Limit: limit, Offset: offset})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.reporter == nil {
		http.Error(w, "summary rendering not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.reporter.Write(w, res, reporter.FormatText); err != nil {
		s.logger.Error("render summary", "id", res.ID, "error", err)
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*model.AnalysisResult, bool) {
	id := chi.URLParam(r, "id")
	res, err := s.results.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "result not found", http.StatusNotFound)
		return nil, false
	case err != nil:
		s.logger.Error("get result", "id", id, "error", err)
		http.Error(w, "failed to load result", http.StatusInternalServerError)
		return nil, false
	}
	return res, true
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
