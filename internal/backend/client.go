package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/carewire/triage/internal/config"
	"github.com/carewire/triage/internal/observability"
	"github.com/carewire/triage/model"
)

// Client calls one collaborator service with circuit breaker protection.
// Reads retry with exponential backoff; sends never retry, since a delivery
// that timed out may still have reached the recipient.
type Client struct {
	name    string
	baseURL string
	cfg     config.ServiceConfig
	client  *http.Client
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// New creates a client for the named service.
func New(name string, cfg config.ServiceConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	cb := cfg.CircuitBreaker
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		breaker: NewCircuitBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout),
		logger:  logger.With(zap.String("service", name)),
	}
}

// Breaker exposes the circuit breaker for readiness reporting.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// GetJSON performs a GET with bounded retry and decodes the JSON response
// into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return model.NewBackendTimeoutError(fmt.Sprintf("%s: %v", c.name, ctx.Err()))
			case <-time.After(c.backoff(attempt)):
			}
		}

		err := c.doOnce(ctx, http.MethodGet, reqURL, nil, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		c.logger.Debug("retrying request",
			zap.Int("attempt", attempt+1),
			zap.Int("max", maxAttempts),
			zap.Error(err),
		)
	}
	return lastErr
}

// PostJSON performs a single POST without retry.
func (c *Client) PostJSON(ctx context.Context, path string, body any, out any) error {
	return c.doOnce(ctx, http.MethodPost, c.baseURL+path, body, out)
}

// doOnce performs a single HTTP request with circuit breaker protection.
func (c *Client) doOnce(ctx context.Context, method, reqURL string, body, out any) error {
	if err := c.breaker.Allow(); err != nil {
		return model.NewBackendUnavailableError(fmt.Sprintf("%s circuit open", c.name))
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal body: %w", c.name, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.CorrelationID != "" {
		req.Header.Set("X-Correlation-Id", rctx.CorrelationID)
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		if isConnectionError(err) {
			return model.NewBackendUnavailableError(fmt.Sprintf("%s unreachable", c.name))
		}
		if ctx.Err() != nil || isTimeout(err) {
			return model.NewBackendTimeoutError(fmt.Sprintf("%s timed out", c.name))
		}
		return fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("%s: read response: %w", c.name, err)
	}

	switch {
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
		return model.NewBackendUnavailableError(
			fmt.Sprintf("%s returned %d", c.name, resp.StatusCode),
		)
	case resp.StatusCode >= 400:
		// Client errors are not infrastructure failures; leave the
		// breaker alone.
		return model.NewBadRequestError(
			fmt.Sprintf("%s rejected request with %d", c.name, resp.StatusCode),
		)
	}

	c.breaker.RecordSuccess()

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", c.name, err)
		}
	}
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	initial := c.cfg.Retry.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	max := c.cfg.Retry.BackoffMax
	if max <= 0 {
		max = 2 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > max {
			return max
		}
	}
	return delay
}

// isRetryable reports whether a failed call may be retried. Breaker-open and
// client-side rejections are not; transient transport failures are.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if model.IsCode(err, model.ErrBadRequest) {
		return false
	}
	if model.IsCode(err, model.ErrBackendUnavailable) {
		var ee *model.ErrorEnvelope
		if errors.As(err, &ee) && strings.Contains(ee.Message, "circuit open") {
			return false
		}
		return true
	}
	return true
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
