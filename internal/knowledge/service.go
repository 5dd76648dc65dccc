package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/circuitbreaker"
	"github.com/colloquyhq/colloquy/internal/metrics"
	"github.com/colloquyhq/colloquy/internal/tracing"
)

// ServiceConfig holds settings for the HTTP knowledge service backend
type ServiceConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ServiceStore talks to a remote knowledge service over HTTP
type ServiceStore struct {
	cfg   ServiceConfig
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewServiceStore creates a store backed by the remote knowledge service
func NewServiceStore(cfg ServiceConfig, logger *zap.Logger) *ServiceStore {
	if cfg.Collection == "" {
		cfg.Collection = "colloquy_knowledge"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	httpw := circuitbreaker.NewHTTPWrapper(httpClient, "knowledge", "knowledge-service", logger)
	return &ServiceStore{cfg: cfg, httpw: httpw, log: logger.Named("knowledge.service")}
}

type serviceQueryRequest struct {
	RunID string `json:"run_id"`
	Topic string `json:"topic,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type serviceQueryResponse struct {
	Entries []Entry `json:"entries"`
}

// serviceSearchResponse is the shape returned by the legacy search endpoint
type serviceSearchResponse struct {
	Results []Entry `json:"results"`
}

// Write stores one entry in the remote collection
func (s *ServiceStore) Write(ctx context.Context, entry Entry) error {
	start := time.Now()

	url := fmt.Sprintf("%s/collections/%s/entries", s.cfg.BaseURL, s.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "PUT", url)
	defer span.End()

	buf, err := json.Marshal(entry)
	if err != nil {
		metrics.RecordStoreOperation("service", "write", "error", time.Since(start).Seconds())
		return fmt.Errorf("knowledge write: encode entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		metrics.RecordStoreOperation("service", "write", "error", time.Since(start).Seconds())
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.httpw.Do(req)
	if err != nil {
		metrics.RecordStoreOperation("service", "write", "error", time.Since(start).Seconds())
		return fmt.Errorf("knowledge write: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordStoreOperation("service", "write", "error", time.Since(start).Seconds())
		return fmt.Errorf("knowledge write: status %d", resp.StatusCode)
	}

	metrics.RecordStoreOperation("service", "write", "ok", time.Since(start).Seconds())
	return nil
}

// Ping checks the remote service for health reporting
func (s *ServiceStore) Ping(ctx context.Context) error {
	url := s.cfg.BaseURL + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("knowledge service health: status %d", resp.StatusCode)
	}
	return nil
}

// Query fetches entries for a run. It prefers the modern query endpoint and
// falls back to the legacy search endpoint for older service versions.
func (s *ServiceStore) Query(ctx context.Context, q QueryRequest) ([]Entry, error) {
	start := time.Now()

	urlQuery := fmt.Sprintf("%s/collections/%s/query", s.cfg.BaseURL, s.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", urlQuery)
	defer span.End()

	buf, _ := json.Marshal(serviceQueryRequest{RunID: q.RunID, Topic: q.Topic, Limit: q.Limit})

	call := func(url string, body []byte) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectTraceparent(ctx, req)
		return s.httpw.Do(req)
	}

	resp, err := call(urlQuery, buf)
	if err != nil {
		metrics.RecordStoreOperation("service", "query", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("knowledge query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)

		// Fall back to the legacy search endpoint
		urlSearch := fmt.Sprintf("%s/collections/%s/search", s.cfg.BaseURL, s.cfg.Collection)
		legacy := map[string]interface{}{"run_id": q.RunID}
		if q.Topic != "" {
			legacy["query"] = q.Topic
		}
		if q.Limit > 0 {
			legacy["limit"] = q.Limit
		}
		buf2, _ := json.Marshal(legacy)
		resp2, err2 := call(urlSearch, buf2)
		if err2 != nil {
			metrics.RecordStoreOperation("service", "query", "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("knowledge query/search failed: %w", err2)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			metrics.RecordStoreOperation("service", "query", "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("knowledge query: status %d", resp2.StatusCode)
		}
		var sr serviceSearchResponse
		if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
			metrics.RecordStoreOperation("service", "query", "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("knowledge query: decode: %w", err)
		}
		metrics.RecordStoreOperation("service", "query", "ok", time.Since(start).Seconds())
		return sr.Results, nil
	}

	var qr serviceQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		metrics.RecordStoreOperation("service", "query", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("knowledge query: decode: %w", err)
	}
	metrics.RecordStoreOperation("service", "query", "ok", time.Since(start).Seconds())
	return qr.Entries, nil
}
