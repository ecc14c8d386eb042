// Package notify sends outbound messages: staff escalation notifications,
// subject-facing notices, and follow-up reminders.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/carewire/triage/internal/backend"
	"github.com/carewire/triage/internal/config"
)

// Notification is one outbound message to a staff recipient or subject.
type Notification struct {
	RecipientID string `json:"recipient_id"`
	Channel     string `json:"channel,omitempty"`
	CaseID      string `json:"case_id"`
	Kind        string `json:"kind"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

// DeliveryClient sends notifications through the delivery service. Sends are
// never retried: a send that timed out may still have been delivered, and a
// duplicate page is worse than a logged failure.
type DeliveryClient struct {
	client *backend.Client
}

// NewDeliveryClient creates a delivery client.
func NewDeliveryClient(cfg config.ServiceConfig, logger *zap.Logger) *DeliveryClient {
	return &DeliveryClient{client: backend.New("delivery", cfg, logger)}
}

// Send delivers one notification. The context carries the per-recipient
// deadline set by the caller.
func (d *DeliveryClient) Send(ctx context.Context, n Notification) error {
	return d.client.PostJSON(ctx, "/notifications", n, nil)
}

// Breaker exposes the underlying circuit breaker for readiness reporting.
func (d *DeliveryClient) Breaker() *backend.CircuitBreaker {
	return d.client.Breaker()
}

// Reminder is a follow-up nudge handed to the reminder sink when due.
type Reminder struct {
	ActionID string `json:"action_id"`
	CaseID   string `json:"case_id"`
	Body     string `json:"body"`
}

// ReminderSink hands due follow-up reminders to the downstream reminder
// service.
type ReminderSink struct {
	client *backend.Client
}

// NewReminderSink creates a reminder sink client.
func NewReminderSink(cfg config.ServiceConfig, logger *zap.Logger) *ReminderSink {
	return &ReminderSink{client: backend.New("reminder_sink", cfg, logger)}
}

// Deliver hands one due reminder to the sink. Not retried within a cycle;
// the scheduler marks the action failed and moves on.
func (s *ReminderSink) Deliver(ctx context.Context, r Reminder) error {
	return s.client.PostJSON(ctx, "/reminders", r, nil)
}

// Breaker exposes the underlying circuit breaker for readiness reporting.
func (s *ReminderSink) Breaker() *backend.CircuitBreaker {
	return s.client.Breaker()
}
