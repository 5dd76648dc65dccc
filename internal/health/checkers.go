package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/circuitbreaker"
	"github.com/colloquyhq/colloquy/internal/knowledge"
)

// pinger is implemented by knowledge backends that can be probed.
type pinger interface {
	Ping(ctx context.Context) error
}

// StoreHealthChecker checks the knowledge store backend
type StoreHealthChecker struct {
	store   knowledge.Store
	backend string
	logger  *zap.Logger
	timeout time.Duration
}

// NewStoreHealthChecker creates a knowledge store health checker
func NewStoreHealthChecker(store knowledge.Store, backend string, logger *zap.Logger) *StoreHealthChecker {
	return &StoreHealthChecker{
		store:   store,
		backend: backend,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (s *StoreHealthChecker) Name() string           { return "knowledge_store" }
func (s *StoreHealthChecker) IsCritical() bool       { return true }
func (s *StoreHealthChecker) Timeout() time.Duration { return s.timeout }

func (s *StoreHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: "knowledge_store",
		Critical:  true,
		Timestamp: start,
	}

	p, ok := s.store.(pinger)
	if !ok {
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%s store does not support probing, assumed healthy", s.backend)
		result.Duration = time.Since(start)
		return result
	}

	err := p.Ping(ctx)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = fmt.Sprintf("%s store ping failed", s.backend)
		result.Details = map[string]interface{}{
			"backend":    s.backend,
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%s store responding but with high latency", s.backend)
	} else {
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%s store healthy", s.backend)
	}
	result.Details = map[string]interface{}{
		"backend":    s.backend,
		"latency_ms": result.Duration.Milliseconds(),
	}
	return result
}

// AuditHealthChecker checks the audit database connection. Audit is
// non-critical: round records are best effort and runs proceed without
// them.
type AuditHealthChecker struct {
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewAuditHealthChecker creates an audit database health checker
func NewAuditHealthChecker(wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *AuditHealthChecker {
	return &AuditHealthChecker{
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (a *AuditHealthChecker) Name() string           { return "audit_database" }
func (a *AuditHealthChecker) IsCritical() bool       { return false }
func (a *AuditHealthChecker) Timeout() time.Duration { return a.timeout }

func (a *AuditHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: "audit_database",
		Critical:  false,
		Timestamp: start,
	}

	if a.wrapper.IsOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Audit database circuit breaker is open"
		result.Duration = time.Since(start)
		return result
	}

	err := a.wrapper.PingContext(ctx)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Audit database ping failed"
		result.Details = map[string]interface{}{
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	stats := a.wrapper.DB().Stats()
	if stats.OpenConnections >= stats.MaxOpenConnections && stats.MaxOpenConnections > 0 {
		result.Status = StatusDegraded
		result.Message = "Audit database connection pool exhausted"
	} else if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Audit database responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Audit database healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"idle_connections":     stats.Idle,
		"in_use_connections":   stats.InUse,
	}
	return result
}

// HTTPServiceHealthChecker probes an HTTP service's health endpoint.
// It covers both the agent runtime and the inference service.
type HTTPServiceHealthChecker struct {
	name     string
	url      string
	critical bool
	client   *http.Client
	logger   *zap.Logger
	timeout  time.Duration
}

// NewHTTPServiceHealthChecker creates a checker that GETs baseURL/health
func NewHTTPServiceHealthChecker(name, baseURL string, critical bool, logger *zap.Logger) *HTTPServiceHealthChecker {
	timeout := 5 * time.Second
	return &HTTPServiceHealthChecker{
		name:     name,
		url:      baseURL + "/health",
		critical: critical,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		timeout:  timeout,
	}
}

func (h *HTTPServiceHealthChecker) Name() string           { return h.name }
func (h *HTTPServiceHealthChecker) IsCritical() bool       { return h.critical }
func (h *HTTPServiceHealthChecker) Timeout() time.Duration { return h.timeout }

func (h *HTTPServiceHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Component: h.name,
		Critical:  h.critical,
		Timestamp: start,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	resp, err := h.client.Do(req)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = fmt.Sprintf("%s unreachable", h.name)
		result.Details = map[string]interface{}{
			"url":        h.url,
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		if result.Duration > 500*time.Millisecond {
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("%s responding slowly", h.name)
		} else {
			result.Status = StatusHealthy
			result.Message = fmt.Sprintf("%s healthy", h.name)
		}
	case resp.StatusCode >= 500:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%s health endpoint returned %d", h.name, resp.StatusCode)
	default:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%s health endpoint returned %d", h.name, resp.StatusCode)
	}

	result.Details = map[string]interface{}{
		"url":         h.url,
		"status_code": resp.StatusCode,
		"latency_ms":  result.Duration.Milliseconds(),
	}
	return result
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
