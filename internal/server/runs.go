package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/audit"
	"github.com/colloquyhq/colloquy/internal/auth"
	"github.com/colloquyhq/colloquy/internal/formatting"
	"github.com/colloquyhq/colloquy/internal/pipeline"
	"github.com/colloquyhq/colloquy/internal/policy"
	"github.com/colloquyhq/colloquy/internal/util"
)

// runRequest is the payload for starting a research run. Temperature
// and max_tokens fall back to the configured defaults when omitted.
type runRequest struct {
	Topic       string   `json:"topic"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// handleCreateRun handles POST /api/v1/runs. The request blocks until
// the run finishes; error results are relayed with a 502.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireScope(w, r, auth.ScopeRunsWrite) {
		return
	}

	var req runRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.sendError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		s.sendError(w, "topic is required", http.StatusBadRequest)
		return
	}

	input := pipeline.RunInput{
		Topic:       topic,
		Temperature: s.cfg.Pipeline.Temperature,
		MaxTokens:   s.cfg.Pipeline.MaxTokens,
	}
	if req.Temperature != nil {
		input.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		input.MaxTokens = *req.MaxTokens
	}

	if s.policy != nil {
		decision, err := s.policy.Evaluate(r.Context(), &policy.Input{
			Topic:       input.Topic,
			Temperature: input.Temperature,
			MaxTokens:   input.MaxTokens,
			Environment: s.policy.Environment(),
		})
		if err != nil {
			s.logger.Warn("Policy evaluation error", zap.Error(err))
		}
		if !decision.Allow {
			s.logger.Info("Run denied by policy",
				zap.String("topic", util.TruncateString(input.Topic, 120)),
				zap.String("reason", decision.Reason),
			)
			s.sendError(w, fmt.Sprintf("run denied by policy: %s", decision.Reason), http.StatusForbidden)
			return
		}
	}

	ctx := r.Context()
	if s.cfg.Pipeline.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Pipeline.RunTimeout)
		defer cancel()
	}

	result := s.runner.Run(ctx, input)
	if result.Status != pipeline.StatusSuccess {
		s.logger.Warn("Run failed",
			zap.String("topic", util.TruncateString(input.Topic, 120)),
			zap.String("message", result.Message),
		)
		s.sendJSON(w, http.StatusBadGateway, map[string]string{
			"status":  result.Status,
			"message": result.Message,
		})
		return
	}

	s.sendJSON(w, http.StatusOK, result)
}

// handleGetReport handles GET /api/v1/runs/{id}/report, rendering the
// stored result as markdown. Without a report store every run is a 404.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if !s.requireScope(w, r, auth.ScopeReportsRead) {
		return
	}

	if s.reports == nil {
		s.sendError(w, "report storage is not enabled", http.StatusNotFound)
		return
	}

	runID := r.PathValue("id")
	if runID == "" {
		s.sendError(w, "run id is required", http.StatusBadRequest)
		return
	}

	rec, err := s.reports.GetRunResult(r.Context(), runID)
	if errors.Is(err, audit.ErrNotFound) {
		s.sendError(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Failed to load run result", zap.String("run_id", runID), zap.Error(err))
		s.sendError(w, "failed to load run result", http.StatusInternalServerError)
		return
	}

	rounds, err := s.reports.GetRoundRecords(r.Context(), runID)
	if err != nil {
		// The report is still useful without the round trace.
		s.logger.Warn("Failed to load round records", zap.String("run_id", runID), zap.Error(err))
		rounds = nil
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(formatting.RenderReport(rec, rounds))); err != nil {
		s.logger.Error("Failed to write report", zap.String("run_id", runID), zap.Error(err))
	}
}
