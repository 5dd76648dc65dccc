package circuitbreaker

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestHTTPWrapperReturnsServerErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	wrapper := NewHTTPWrapper(srv.Client(), "http-5xx-test", "test-service", logger)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}

	// 5xx counts against the breaker but the response is still handed back
	resp, err := wrapper.Do(req)
	if err != nil {
		t.Fatalf("Expected response despite 5xx, got error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", resp.StatusCode)
	}
}

func TestHTTPWrapperBreakerOpensOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	wrapper := NewHTTPWrapper(srv.Client(), "http-breaker-test", "test-service", logger)

	threshold := int(HTTPProfile().FailureThreshold)
	for i := 0; i < threshold; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := wrapper.Do(req)
		if err != nil {
			t.Fatalf("Expected 5xx response, got error: %v", err)
		}
		resp.Body.Close()
	}

	if !wrapper.IsOpen() {
		t.Error("Expected circuit breaker to open after consecutive 5xx responses")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := wrapper.Do(req); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected circuit breaker open error, got %v", err)
	}
}

func TestHTTPWrapperClientErrorDoesNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	wrapper := NewHTTPWrapper(srv.Client(), "http-4xx-test", "test-service", logger)

	threshold := int(HTTPProfile().FailureThreshold)
	for i := 0; i < threshold+1; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := wrapper.Do(req)
		if err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", resp.StatusCode)
		}
	}

	if wrapper.IsOpen() {
		t.Error("Circuit breaker should not open on 4xx responses")
	}
}
