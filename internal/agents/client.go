// Package agents invokes role agents over the agent-runtime HTTP API.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/circuitbreaker"
	"github.com/colloquyhq/colloquy/internal/metrics"
	"github.com/colloquyhq/colloquy/internal/ratecontrol"
	"github.com/colloquyhq/colloquy/internal/response"
	"github.com/colloquyhq/colloquy/internal/tracing"
)

// RunContext carries the prior-round material the agent builds on
type RunContext struct {
	PreviousQuestions []string           `json:"previous_questions"`
	RelevantFindings  []response.Finding `json:"relevant_findings"`
	FormattedContent  string             `json:"formatted_content"`
}

// RunRequest is the payload for one agent round
type RunRequest struct {
	Topic       string     `json:"topic"`
	Round       int        `json:"round"`
	Context     RunContext `json:"context"`
	Temperature float64    `json:"temperature,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
}

// RunResult is the runtime's reply. Results holds one payload per model
// call the agent made; the last element is the authoritative answer.
type RunResult struct {
	Results []json.RawMessage `json:"results"`
}

// Last returns the authoritative payload, nil when the runtime sent none
func (r RunResult) Last() json.RawMessage {
	if len(r.Results) == 0 {
		return nil
	}
	return r.Results[len(r.Results)-1]
}

// Invoker runs one named agent round
type Invoker interface {
	Invoke(ctx context.Context, role string, req RunRequest) (RunResult, error)
}

// Config holds agent runtime settings
type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Client is the HTTP Invoker implementation
type Client struct {
	cfg    Config
	httpw  *circuitbreaker.HTTPWrapper
	limits *ratecontrol.Registry
	log    *zap.Logger
}

// NewClient creates an agent runtime client; zero config fields get defaults
func NewClient(cfg Config, limits *ratecontrol.Registry, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = envOrDefault("AGENT_SERVICE_URL", "http://agent-runtime:8090")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	httpw := circuitbreaker.NewHTTPWrapper(httpClient, "agent-runtime", "agents", logger)
	return &Client{cfg: cfg, httpw: httpw, limits: limits, log: logger.Named("agents")}
}

// Invoke runs one round of the named agent and returns its raw results
func (c *Client) Invoke(ctx context.Context, role string, req RunRequest) (RunResult, error) {
	if c == nil {
		return RunResult{}, fmt.Errorf("agents: client not initialized")
	}
	start := time.Now()

	// The runtime requires list-typed context fields, so nil slices must
	// encode as empty lists rather than null
	if req.Context.PreviousQuestions == nil {
		req.Context.PreviousQuestions = []string{}
	}
	if req.Context.RelevantFindings == nil {
		req.Context.RelevantFindings = []response.Finding{}
	}

	if c.limits != nil {
		if err := c.limits.Wait(ctx, role); err != nil {
			metrics.RecordAgentCall(role, "error", time.Since(start).Seconds())
			return RunResult{}, fmt.Errorf("agents: rate wait for %s: %w", role, err)
		}
	}

	url := fmt.Sprintf("%s/agents/%s/run", c.cfg.BaseURL, role)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, err := json.Marshal(req)
	if err != nil {
		metrics.RecordAgentCall(role, "error", time.Since(start).Seconds())
		return RunResult{}, fmt.Errorf("agents: encode request for %s: %w", role, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		metrics.RecordAgentCall(role, "error", time.Since(start).Seconds())
		return RunResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := c.httpw.Do(httpReq)
	if err != nil {
		metrics.RecordAgentCall(role, "error", time.Since(start).Seconds())
		return RunResult{}, fmt.Errorf("agents: invoke %s: %w", role, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.RecordAgentCall(role, "error", time.Since(start).Seconds())
		return RunResult{}, fmt.Errorf("agents: invoke %s: status %d: %s",
			role, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result RunResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.RecordAgentCall(role, "error", time.Since(start).Seconds())
		return RunResult{}, fmt.Errorf("agents: invoke %s: decode response: %w", role, err)
	}

	metrics.RecordAgentCall(role, "ok", time.Since(start).Seconds())
	c.log.Info("Agent round complete",
		zap.String("role", role),
		zap.Int("round", req.Round),
		zap.Int("results", len(result.Results)),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
