package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/carewire/triage/internal/config"
	"github.com/carewire/triage/model"
)

func serviceConfig(baseURL string) config.ServiceConfig {
	return config.ServiceConfig{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
		Retry:   config.RetryConfig{MaxAttempts: 1},
	}
}

func TestStaffDirectory_OnCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/staff" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("role") != "on_call_clinician" || r.URL.Query().Get("on_call") != "true" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"staff": [
			{"recipient_id": "staff-1", "channel": "pager"},
			{"recipient_id": "staff-2", "channel": "sms"}
		]}`))
	}))
	defer srv.Close()

	d := NewStaffDirectory(serviceConfig(srv.URL), "on_call_clinician", zap.NewNop())
	staff, err := d.OnCall(context.Background())
	if err != nil {
		t.Fatalf("OnCall: %v", err)
	}
	if len(staff) != 2 || staff[0].RecipientID != "staff-1" {
		t.Errorf("staff = %+v", staff)
	}
}

func TestStaffDirectory_OnCall_emptyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"staff": []}`))
	}))
	defer srv.Close()

	d := NewStaffDirectory(serviceConfig(srv.URL), "on_call_clinician", zap.NewNop())
	staff, err := d.OnCall(context.Background())
	if err != nil {
		t.Fatalf("OnCall: %v", err)
	}
	if len(staff) != 0 {
		t.Errorf("staff = %+v", staff)
	}
}

func TestStaffDirectory_OnCall_serverErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewStaffDirectory(serviceConfig(srv.URL), "on_call_clinician", zap.NewNop())
	_, err := d.OnCall(context.Background())
	if !model.IsCode(err, model.ErrBackendUnavailable) {
		t.Errorf("err = %v, want BACKEND_UNAVAILABLE", err)
	}
}

func TestBookingDirectory_Providers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/providers" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("specialization") != "general" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"providers": [{"provider_id": "gp-1", "name": "Dr. Osei"}]}`))
	}))
	defer srv.Close()

	d := NewBookingDirectory(serviceConfig(srv.URL), "general", zap.NewNop())
	providers, err := d.Providers(context.Background())
	if err != nil {
		t.Fatalf("Providers: %v", err)
	}
	if len(providers) != 1 || providers[0].ProviderID != "gp-1" {
		t.Errorf("providers = %+v", providers)
	}
}
