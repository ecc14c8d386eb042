// Package directory resolves escalation recipients and bookable providers
// from the staff and booking directory services.
package directory

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/carewire/triage/internal/backend"
	"github.com/carewire/triage/internal/config"
	"github.com/carewire/triage/model"
)

// StaffDirectory queries the staff directory for on-call escalation
// recipients.
type StaffDirectory struct {
	client *backend.Client
	role   string
}

// NewStaffDirectory creates a staff directory client. role filters recipients
// to the escalation rota.
func NewStaffDirectory(cfg config.ServiceConfig, role string, logger *zap.Logger) *StaffDirectory {
	return &StaffDirectory{
		client: backend.New("staff_directory", cfg, logger),
		role:   role,
	}
}

// OnCall returns the currently eligible escalation recipients. An empty list
// is a valid answer, distinct from a lookup failure.
func (d *StaffDirectory) OnCall(ctx context.Context) ([]model.Staff, error) {
	var resp struct {
		Staff []model.Staff `json:"staff"`
	}
	q := url.Values{}
	q.Set("role", d.role)
	q.Set("on_call", "true")
	if err := d.client.GetJSON(ctx, "/staff", q, &resp); err != nil {
		return nil, err
	}
	return resp.Staff, nil
}

// Breaker exposes the underlying circuit breaker for readiness reporting.
func (d *StaffDirectory) Breaker() *backend.CircuitBreaker {
	return d.client.Breaker()
}
