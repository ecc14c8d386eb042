package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockBackend is a configurable HTTP test server standing in for one of the
// collaborator services. It allows configuring per-operation responses and
// records every received request for later assertion.
type MockBackend struct {
	t         *testing.T
	serviceID string
	server    *httptest.Server

	mu           sync.RWMutex
	operations   map[string]*operationConfig
	receivedByOp map[string][]*RecordedRequest
}

// RecordedRequest captures one request received by the mock backend.
type RecordedRequest struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Headers     http.Header
	Body        map[string]any
	RawBody     []byte
	ReceivedAt  time.Time
}

// operationConfig holds the configured responses for a single operation.
// Responses are consumed in order; the last one repeats.
type operationConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status    int
	body      any
	delay     time.Duration
	connError bool
}

// OperationMock is a builder for configuring responses for one operation.
type OperationMock struct {
	backend *MockBackend
	opID    string
}

// operationRoute maps an operation ID to its HTTP method and path pattern.
type operationRoute struct {
	method      string
	pathPattern string
}

// StaffDirectoryRoutes returns the routes the staff directory client calls.
func StaffDirectoryRoutes() map[string]operationRoute {
	return map[string]operationRoute{
		"onCallStaff": {method: "GET", pathPattern: "/staff"},
	}
}

// BookingDirectoryRoutes returns the routes the booking directory client calls.
func BookingDirectoryRoutes() map[string]operationRoute {
	return map[string]operationRoute{
		"listProviders": {method: "GET", pathPattern: "/providers"},
	}
}

// DeliveryRoutes returns the routes the delivery client calls.
func DeliveryRoutes() map[string]operationRoute {
	return map[string]operationRoute{
		"sendNotification": {method: "POST", pathPattern: "/notifications"},
	}
}

// ReminderSinkRoutes returns the routes the reminder sink client calls.
func ReminderSinkRoutes() map[string]operationRoute {
	return map[string]operationRoute{
		"deliverReminder": {method: "POST", pathPattern: "/reminders"},
	}
}

// newMockBackend creates a mock backend and starts its HTTP test server.
func newMockBackend(t *testing.T, serviceID string, routes map[string]operationRoute) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:            t,
		serviceID:    serviceID,
		operations:   make(map[string]*operationConfig),
		receivedByOp: make(map[string][]*RecordedRequest),
	}

	mux := http.NewServeMux()
	for opID, route := range routes {
		mux.HandleFunc(route.method+" "+route.pathPattern, mb.handleOperation(opID))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": fmt.Sprintf("mock %s: no operation registered for %s %s", serviceID, r.Method, r.URL.Path),
		})
	})

	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)

	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// OnOperation returns a builder for configuring responses for the named
// operation.
func (mb *MockBackend) OnOperation(operationID string) *OperationMock {
	return &OperationMock{
		backend: mb,
		opID:    operationID,
	}
}

// RespondWith configures the operation to respond with the given status and
// JSON body.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		status: status,
		body:   body,
	})
	return om
}

// RespondWithError configures the operation to respond with an error envelope.
func (om *OperationMock) RespondWithError(status int, code, message string) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		status: status,
		body: map[string]any{
			"code":    code,
			"message": message,
		},
	})
	return om
}

// RespondWithDelay configures a delayed response to simulate a slow backend.
func (om *OperationMock) RespondWithDelay(delay time.Duration, status int, body any) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		status: status,
		body:   body,
		delay:  delay,
	})
	return om
}

// RespondWithConnectionError configures the operation to close the connection
// to simulate a backend failure.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		connError: true,
	})
	return om
}

func (mb *MockBackend) addResponse(opID string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.operations[opID]
	if !ok {
		cfg = &operationConfig{}
		mb.operations[opID] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mb *MockBackend) handleOperation(opID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &RecordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			QueryParams: make(map[string]string),
			Headers:     r.Header.Clone(),
			ReceivedAt:  time.Now(),
		}
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				rec.QueryParams[key] = values[0]
			}
		}
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			rec.RawBody = body
			if len(body) > 0 {
				var parsed map[string]any
				if err := json.Unmarshal(body, &parsed); err == nil {
					rec.Body = parsed
				}
			}
		}

		mb.mu.Lock()
		mb.receivedByOp[opID] = append(mb.receivedByOp[opID], rec)
		mb.mu.Unlock()

		resp := mb.getNextResponse(opID)
		if resp == nil {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
			return
		}

		if resp.connError {
			// Hijack the connection and close it to simulate a failure.
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				if conn != nil {
					conn.Close()
				}
			}
			return
		}

		if resp.delay > 0 {
			time.Sleep(resp.delay)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		if resp.body != nil {
			json.NewEncoder(w).Encode(resp.body)
		}
	}
}

func (mb *MockBackend) getNextResponse(opID string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.operations[opID]
	mb.mu.RUnlock()
	if !ok || cfg == nil {
		return nil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if len(cfg.responses) == 0 {
		return nil
	}

	idx := cfg.current
	if idx >= len(cfg.responses) {
		// Repeat the last response for subsequent calls.
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that the operation was called the expected number of
// times.
func (mb *MockBackend) AssertCalled(t *testing.T, operationID string, expectedCount int) {
	t.Helper()
	mb.mu.RLock()
	actual := len(mb.receivedByOp[operationID])
	mb.mu.RUnlock()
	if actual != expectedCount {
		t.Errorf("mock %s: operation %q called %d times, want %d", mb.serviceID, operationID, actual, expectedCount)
	}
}

// AssertNotCalled verifies that the operation was never called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, operationID string) {
	t.Helper()
	mb.AssertCalled(t, operationID, 0)
}

// LastRequest returns the last request received for the given operation, or
// nil if none were recorded.
func (mb *MockBackend) LastRequest(operationID string) *RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedByOp[operationID]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// AllRequests returns all requests received for the given operation.
func (mb *MockBackend) AllRequests(operationID string) []*RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedByOp[operationID]
	copied := make([]*RecordedRequest, len(reqs))
	copy(copied, reqs)
	return copied
}

// CallCount returns how many times the operation was called.
func (mb *MockBackend) CallCount(operationID string) int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.receivedByOp[operationID])
}
