package directory

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/carewire/triage/internal/backend"
	"github.com/carewire/triage/internal/config"
	"github.com/carewire/triage/model"
)

// BookingDirectory queries the booking service for providers that can take an
// appointment suggestion.
type BookingDirectory struct {
	client         *backend.Client
	specialization string
}

// NewBookingDirectory creates a booking directory client.
func NewBookingDirectory(cfg config.ServiceConfig, specialization string, logger *zap.Logger) *BookingDirectory {
	return &BookingDirectory{
		client:         backend.New("booking_directory", cfg, logger),
		specialization: specialization,
	}
}

// Providers returns bookable providers, optionally filtered by the configured
// specialization.
func (d *BookingDirectory) Providers(ctx context.Context) ([]model.Provider, error) {
	var resp struct {
		Providers []model.Provider `json:"providers"`
	}
	q := url.Values{}
	if d.specialization != "" {
		q.Set("specialization", d.specialization)
	}
	if err := d.client.GetJSON(ctx, "/providers", q, &resp); err != nil {
		return nil, err
	}
	return resp.Providers, nil
}

// Breaker exposes the underlying circuit breaker for readiness reporting.
func (d *BookingDirectory) Breaker() *backend.CircuitBreaker {
	return d.client.Breaker()
}
