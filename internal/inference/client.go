package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	"github.com/colloquyhq/colloquy/internal/tracing"
)

// limitKey is the rate limiter lane shared by all completion calls.
const limitKey = "inference"

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the wire request for the completion endpoint
type CompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Usage reports token accounting when the service provides it
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the decoded completion
type CompletionResponse struct {
	Content string
	Model   string
	Usage   Usage
}

// Client sends chat completions to the inference gateway
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// wireCompletion covers both response shapes the gateway is known to emit:
// the structured choices list and the flat content mapping.
type wireCompletion struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Content  string `json:"content"`
	Response string `json:"response"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

func (w wireCompletion) text() (string, bool) {
	if len(w.Choices) > 0 && w.Choices[0].Message.Content != "" {
		return w.Choices[0].Message.Content, true
	}
	if w.Content != "" {
		return w.Content, true
	}
	if w.Response != "" {
		return w.Response, true
	}
	return "", false
}

// Config holds inference gateway settings
type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPClient is the production Client implementation
type HTTPClient struct {
	cfg    Config
	httpw  *circuitbreaker.HTTPWrapper
	limits *ratecontrol.Registry
	log    *zap.Logger
}

// NewClient creates an inference client, defaulting unset fields. A nil
// limits registry disables call pacing.
func NewClient(cfg Config, limits *ratecontrol.Registry, logger *zap.Logger) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = envOrDefault("LLM_SERVICE_URL", "http://inference:8000")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	httpw := circuitbreaker.NewHTTPWrapper(httpClient, "inference", "inference-gateway", logger)
	return &HTTPClient{cfg: cfg, httpw: httpw, limits: limits, log: logger.Named("inference")}
}

// Complete sends one chat completion request
func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	start := time.Now()

	if req.Model == "" {
		req.Model = c.cfg.Model
	}

	if c.limits != nil {
		if err := c.limits.Wait(ctx, limitKey); err != nil {
			metrics.RecordInferenceCall("error", time.Since(start).Seconds())
			return CompletionResponse{}, fmt.Errorf("inference: rate wait: %w", err)
		}
	}

	url := c.cfg.BaseURL + "/v1/chat/completions"
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, err := json.Marshal(req)
	if err != nil {
		metrics.RecordInferenceCall("error", time.Since(start).Seconds())
		return CompletionResponse{}, fmt.Errorf("inference: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		metrics.RecordInferenceCall("error", time.Since(start).Seconds())
		return CompletionResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := c.httpw.Do(httpReq)
	if err != nil {
		metrics.RecordInferenceCall("error", time.Since(start).Seconds())
		return CompletionResponse{}, fmt.Errorf("inference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.RecordInferenceCall("error", time.Since(start).Seconds())
		return CompletionResponse{}, fmt.Errorf("inference: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var w wireCompletion
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		metrics.RecordInferenceCall("error", time.Since(start).Seconds())
		return CompletionResponse{}, fmt.Errorf("inference: decode response: %w", err)
	}

	text, ok := w.text()
	if !ok {
		metrics.RecordInferenceCall("error", time.Since(start).Seconds())
		return CompletionResponse{}, errors.New("inference: empty completion")
	}

	metrics.RecordInferenceCall("ok", time.Since(start).Seconds())
	return CompletionResponse{Content: text, Model: w.Model, Usage: w.Usage}, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
