package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/carewire/triage/internal/config"
	"github.com/carewire/triage/model"
)

func testServiceConfig(baseURL string) config.ServiceConfig {
	return config.ServiceConfig{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		},
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			BackoffInitial: time.Millisecond,
			BackoffMax:     5 * time.Millisecond,
		},
	}
}

func TestClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("role") != "on_call_clinician" {
			t.Errorf("role = %q", r.URL.Query().Get("role"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value": 42}`))
	}))
	defer srv.Close()

	c := New("test", testServiceConfig(srv.URL), zap.NewNop())

	var out struct {
		Value int `json:"value"`
	}
	q := url.Values{"role": {"on_call_clinician"}}
	if err := c.GetJSON(context.Background(), "/staff", q, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Value != 42 {
		t.Errorf("value = %d", out.Value)
	}
}

func TestClient_GetJSON_retriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New("test", testServiceConfig(srv.URL), zap.NewNop())
	if err := c.GetJSON(context.Background(), "/x", nil, nil); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_GetJSON_noRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New("test", testServiceConfig(srv.URL), zap.NewNop())
	err := c.GetJSON(context.Background(), "/x", nil, nil)
	if !model.IsCode(err, model.ErrBadRequest) {
		t.Fatalf("err = %v, want BAD_REQUEST", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (4xx is not retried)", calls.Load())
	}
}

func TestClient_PostJSON_neverRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("test", testServiceConfig(srv.URL), zap.NewNop())
	err := c.PostJSON(context.Background(), "/notifications", map[string]string{"to": "x"}, nil)
	if !model.IsCode(err, model.ErrBackendUnavailable) {
		t.Fatalf("err = %v, want BACKEND_UNAVAILABLE", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want exactly 1 (sends never retry)", calls.Load())
	}
}

func TestClient_breakerOpensAndRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testServiceConfig(srv.URL)
	cfg.Retry.MaxAttempts = 1
	c := New("test", cfg, zap.NewNop())

	for i := 0; i < 3; i++ {
		_ = c.PostJSON(context.Background(), "/x", nil, nil)
	}
	if c.Breaker().State() != BreakerOpen {
		t.Fatalf("breaker = %s, want open", c.Breaker().State())
	}

	err := c.PostJSON(context.Background(), "/x", nil, nil)
	if !model.IsCode(err, model.ErrBackendUnavailable) {
		t.Errorf("err = %v, want BACKEND_UNAVAILABLE from open breaker", err)
	}
}

func TestClient_timeoutMapsToBackendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testServiceConfig(srv.URL)
	c := New("test", cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.PostJSON(ctx, "/x", nil, nil)
	if !model.IsCode(err, model.ErrBackendTimeout) {
		t.Errorf("err = %v, want BACKEND_TIMEOUT", err)
	}
}
