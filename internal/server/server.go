// Package server exposes the research pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/audit"
	"github.com/colloquyhq/colloquy/internal/auth"
	"github.com/colloquyhq/colloquy/internal/config"
	"github.com/colloquyhq/colloquy/internal/metrics"
	"github.com/colloquyhq/colloquy/internal/pipeline"
	"github.com/colloquyhq/colloquy/internal/policy"
	"github.com/colloquyhq/colloquy/internal/tracing"
)

// Runner executes one research run to completion.
type Runner interface {
	Run(ctx context.Context, input pipeline.RunInput) pipeline.Result
}

// ReportStore reads persisted run results back for report rendering.
type ReportStore interface {
	GetRunResult(ctx context.Context, runID string) (audit.RunRecord, error)
	GetRoundRecords(ctx context.Context, runID string) ([]audit.RoundRecord, error)
}

// Deps carries the collaborators the server needs. Reports, Policy and
// Auth are optional: a nil Reports disables the report endpoint, a nil
// Policy skips the policy gate, a nil Auth leaves routes open.
type Deps struct {
	Runner  Runner
	Reports ReportStore
	Policy  *policy.Engine
	Auth    *auth.Middleware
	Logger  *zap.Logger
}

// Server is the public API of the pipeline service.
type Server struct {
	cfg     config.Config
	runner  Runner
	reports ReportStore
	policy  *policy.Engine
	auth    *auth.Middleware
	logger  *zap.Logger
}

// New builds a Server from its dependencies.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Runner == nil {
		return nil, errors.New("server: runner is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		runner:  deps.Runner,
		reports: deps.Reports,
		policy:  deps.Policy,
		auth:    deps.Auth,
		logger:  deps.Logger.Named("server"),
	}, nil
}

// Routes builds the API handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/runs",
		s.instrument("/api/v1/runs",
			s.withAuth(http.HandlerFunc(s.handleCreateRun)),
		),
	)
	mux.Handle("GET /api/v1/runs/{id}/report",
		s.instrument("/api/v1/runs/{id}/report",
			s.withAuth(http.HandlerFunc(s.handleGetReport)),
		),
	)
	return mux
}

// Start begins serving the API in the background and returns the
// http.Server so the caller can shut it down.
func (s *Server) Start() *http.Server {
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", s.cfg.Service.Port),
		Handler:        s.Routes(),
		ReadTimeout:    s.cfg.Service.ReadTimeout,
		WriteTimeout:   s.cfg.Service.WriteTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: s.cfg.Service.MaxHeaderBytes,
	}
	go func() {
		s.logger.Info("Starting API server", zap.Int("port", s.cfg.Service.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
	return srv
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return s.auth.HTTPMiddleware(next)
}

// responseRecorder captures the status code for request metrics.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency under the route
// pattern, keeping label cardinality independent of path params.
func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracing.StartSpan(r.Context(), pattern)
		defer span.End()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		metrics.RecordHTTPRequest(pattern, r.Method, strconv.Itoa(rec.statusCode), time.Since(start).Seconds())
	})
}

// requireScope enforces a scope only when auth is enabled.
func (s *Server) requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	if s.auth == nil {
		return true
	}
	if err := auth.RequireScopes(r.Context(), scope); err != nil {
		s.sendError(w, err.Error(), http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
