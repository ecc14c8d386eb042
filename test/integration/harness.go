// Package integration provides a reusable test harness for end-to-end
// testing of the triage service. It starts a full HTTP server with mock
// collaborator backends, in-memory stores, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/carewire/triage/internal/casestore"
	"github.com/carewire/triage/internal/config"
	"github.com/carewire/triage/internal/dedupe"
	"github.com/carewire/triage/internal/directory"
	"github.com/carewire/triage/internal/escalation"
	"github.com/carewire/triage/internal/notify"
	"github.com/carewire/triage/internal/observability"
	"github.com/carewire/triage/internal/orchestrator"
	"github.com/carewire/triage/internal/scheduler"
	"github.com/carewire/triage/internal/transport"
	"github.com/carewire/triage/model"
)

// Collaborator service IDs used by the harness.
const (
	SvcStaffDirectory   = "staff_directory"
	SvcBookingDirectory = "booking_directory"
	SvcDelivery         = "delivery"
	SvcReminderSink     = "reminder_sink"
)

// TestHarness encapsulates a fully wired triage instance with mock
// collaborator backends for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Store     *casestore.MemoryStore
	Dedupe    *dedupe.MemoryStore
	Engine    *orchestrator.Engine
	Reminders *scheduler.Scheduler

	backends map[string]*MockBackend
	cfg      *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	dispatchTimeout  time.Duration
	recipientTimeout time.Duration
	serviceTuning    func(*config.ServiceConfig)
	policyTuning     func(*config.PolicyConfig)
}

// WithDispatchTimeout caps the asynchronous dispatch phase per case.
func WithDispatchTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.dispatchTimeout = d
	}
}

// WithRecipientTimeout caps each staff notification delivery.
func WithRecipientTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.recipientTimeout = d
	}
}

// WithServiceTuning adjusts the collaborator client settings, for example to
// lower circuit breaker thresholds in resilience tests.
func WithServiceTuning(fn func(*config.ServiceConfig)) HarnessOption {
	return func(c *harnessConfig) {
		c.serviceTuning = fn
	}
}

// WithPolicyTuning adjusts the triage policy, for example follow-up offsets.
func WithPolicyTuning(fn func(*config.PolicyConfig)) HarnessOption {
	return func(c *harnessConfig) {
		c.policyTuning = fn
	}
}

// NewTestHarness creates and starts a full triage test instance. The server
// and its mock backends are cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		dispatchTimeout:  10 * time.Second,
		recipientTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{
		t:        t,
		backends: make(map[string]*MockBackend),
	}

	h.backends[SvcStaffDirectory] = newMockBackend(t, SvcStaffDirectory, StaffDirectoryRoutes())
	h.backends[SvcBookingDirectory] = newMockBackend(t, SvcBookingDirectory, BookingDirectoryRoutes())
	h.backends[SvcDelivery] = newMockBackend(t, SvcDelivery, DeliveryRoutes())
	h.backends[SvcReminderSink] = newMockBackend(t, SvcReminderSink, ReminderSinkRoutes())

	serviceConfig := func(serviceID string) config.ServiceConfig {
		cfg := config.ServiceConfig{
			BaseURL: h.backends[serviceID].URL(),
			Timeout: 2 * time.Second,
			CircuitBreaker: config.CircuitBreakerConfig{
				FailureThreshold: 10,
				SuccessThreshold: 1,
				Timeout:          time.Second,
			},
			Retry: config.RetryConfig{
				MaxAttempts:    1,
				BackoffInitial: time.Millisecond,
				BackoffMax:     10 * time.Millisecond,
			},
		}
		if hc.serviceTuning != nil {
			hc.serviceTuning(&cfg)
		}
		return cfg
	}

	policy := config.Defaults().Policy
	if hc.policyTuning != nil {
		hc.policyTuning(&policy)
	}

	h.Store = casestore.NewMemoryStore()
	h.Dedupe = dedupe.NewMemoryStore()

	logger := zap.NewNop()
	staffDir := directory.NewStaffDirectory(serviceConfig(SvcStaffDirectory), policy.EscalationRoleFilter, logger)
	bookingDir := directory.NewBookingDirectory(serviceConfig(SvcBookingDirectory), policy.BookingSpecialization, logger)
	delivery := notify.NewDeliveryClient(serviceConfig(SvcDelivery), logger)
	reminderSink := notify.NewReminderSink(serviceConfig(SvcReminderSink), logger)

	fanout := escalation.NewFanOut(staffDir, deliverySender{delivery}, hc.recipientTimeout, logger)

	dispatch := config.DispatchConfig{
		Timeout:          hc.dispatchTimeout,
		RecipientTimeout: hc.recipientTimeout,
	}
	h.Engine = orchestrator.NewEngine(h.Store, fanout, bookingDir, delivery, policy, dispatch, nil, logger)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Engine.Shutdown(shutdownCtx)
	})

	// Not started: tests drive the reminder scheduler via RunDue.
	h.Reminders = scheduler.New(h.Store, reminderSink, time.Minute, nil, logger)

	h.issuer = newTokenIssuer(t)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = 10 * time.Second
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity = config.IdentityConfig{
		Issuer:       h.issuer.Issuer(),
		Audience:     h.issuer.Audience(),
		JWKSURL:      h.issuer.JWKSURL(),
		JWKSCacheTTL: time.Hour,
		Algorithms:   []string{"RS256"},
	}
	h.cfg.Observability.Metrics.Enabled = false

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), time.Hour)
	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Engine:       h.Engine,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Ready: observability.HandleReady(observability.ReadinessChecks{
			CaseStore:   h.Store,
			DedupeStore: h.Dedupe,
		}),
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// deliverySender adapts the delivery client to the escalation fan-out.
type deliverySender struct {
	client *notify.DeliveryClient
}

func (s deliverySender) Send(ctx context.Context, recipientID, channel, caseID, body string) error {
	return s.client.Send(ctx, notify.Notification{
		RecipientID: recipientID,
		Channel:     channel,
		CaseID:      caseID,
		Kind:        "staff_escalation",
		Subject:     "Critical triage case requires attention",
		Body:        body,
	})
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// MockBackend returns the mock backend for the given service ID.
func (h *TestHarness) MockBackend(serviceID string) *MockBackend {
	mb, ok := h.backends[serviceID]
	if !ok {
		h.t.Fatalf("mock backend %q not configured", serviceID)
	}
	return mb
}

// GenerateToken creates a valid JWT with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// WaitForAction polls the case until the action of the given kind reaches a
// terminal status, and returns it. Dispatch runs in the background, so tests
// must wait before asserting on outcomes.
func (h *TestHarness) WaitForAction(t *testing.T, caseID, kind string) model.ScheduledAction {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		detail, err := h.Store.GetCaseDetail(context.Background(), caseID)
		if err != nil {
			t.Fatalf("load case %s: %v", caseID, err)
		}
		for _, a := range detail.Actions {
			if a.Kind == kind && a.Status != model.ActionStatusPending {
				return a
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("action %s on case %s never left pending", kind, caseID)
	return model.ScheduledAction{}
}

// PendingAction returns the pending action of the given kind, failing the
// test if it is absent.
func (h *TestHarness) PendingAction(t *testing.T, caseID, kind string) model.ScheduledAction {
	t.Helper()

	detail, err := h.Store.GetCaseDetail(context.Background(), caseID)
	if err != nil {
		t.Fatalf("load case %s: %v", caseID, err)
	}
	for _, a := range detail.Actions {
		if a.Kind == kind && a.Status == model.ActionStatusPending {
			return a
		}
	}
	t.Fatalf("no pending %s action on case %s", kind, caseID)
	return model.ScheduledAction{}
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with extra headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the expected status and parses the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// ClinicianClaims returns TestClaims for an on-call clinician.
func ClinicianClaims() TestClaims {
	return TestClaims{
		SubjectID: "staff-clinician",
		Email:     "clinician@clinic.example.com",
		Roles:     []string{"on_call_clinician"},
	}
}

// CoordinatorClaims returns TestClaims for a triage coordinator.
func CoordinatorClaims() TestClaims {
	return TestClaims{
		SubjectID: "staff-coordinator",
		Email:     "coordinator@clinic.example.com",
		Roles:     []string{"triage_coordinator"},
	}
}

// --- Fixtures ---

// StaffFixture returns a staff directory response with the given recipients,
// all reachable over the pager channel.
func StaffFixture(recipientIDs ...string) map[string]any {
	staff := make([]map[string]any, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		staff = append(staff, map[string]any{
			"recipient_id": id,
			"channel":      "pager",
		})
	}
	return map[string]any{"staff": staff}
}

// ProvidersFixture returns a booking directory response with the given
// provider IDs.
func ProvidersFixture(providerIDs ...string) map[string]any {
	providers := make([]map[string]any, 0, len(providerIDs))
	for _, id := range providerIDs {
		providers = append(providers, map[string]any{
			"provider_id": id,
			"name":        "Dr. " + id,
		})
	}
	return map[string]any{"providers": providers}
}

// CriticalEvent returns a classifier event that scores critical.
func CriticalEvent(eventID, subjectID string) map[string]any {
	return map[string]any{
		"event_id":      eventID,
		"subject_id":    subjectID,
		"priority_hint": "RED",
		"red_flags":     []string{"chest pain"},
		"symptoms":      []string{"crushing chest pain", "shortness of breath"},
	}
}

// UrgentEvent returns a classifier event that scores urgent.
func UrgentEvent(eventID, subjectID string) map[string]any {
	return map[string]any{
		"event_id":      eventID,
		"subject_id":    subjectID,
		"priority_hint": "AMBER",
		"symptoms":      []string{"persistent fever"},
	}
}

// MildEvent returns a classifier event that scores mild.
func MildEvent(eventID, subjectID string) map[string]any {
	return map[string]any{
		"event_id":      eventID,
		"subject_id":    subjectID,
		"priority_hint": "GREEN",
		"symptoms":      []string{"runny nose"},
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
