// Package escalation notifies on-call staff about critical cases. Recipients
// are resolved from the staff directory and notified in parallel, each under
// its own deadline, so one slow channel cannot starve the rest of the batch.
package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carewire/triage/model"
)

// Recipients resolves the current escalation rota.
type Recipients interface {
	OnCall(ctx context.Context) ([]model.Staff, error)
}

// Sender delivers one notification to one recipient.
type Sender interface {
	Send(ctx context.Context, recipientID, channel, caseID, body string) error
}

// Outcome is the aggregate result of one fan-out batch.
type Outcome struct {
	// Status is the resulting action status: dispatched, failed, or
	// skipped (no eligible recipients).
	Status string
	// Reason explains failed and skipped outcomes.
	Reason string
	// Deliveries holds the per-recipient results for the audit trail.
	Deliveries []model.NotificationOutcome
}

// FanOut notifies escalation recipients in parallel.
type FanOut struct {
	recipients       Recipients
	sender           Sender
	recipientTimeout time.Duration
	logger           *zap.Logger
}

// NewFanOut creates an escalation fan-out.
func NewFanOut(recipients Recipients, sender Sender, recipientTimeout time.Duration, logger *zap.Logger) *FanOut {
	if recipientTimeout <= 0 {
		recipientTimeout = 5 * time.Second
	}
	return &FanOut{
		recipients:       recipients,
		sender:           sender,
		recipientTimeout: recipientTimeout,
		logger:           logger,
	}
}

// Notify resolves recipients and sends the escalation to each in parallel.
// One successful delivery makes the batch dispatched; zero eligible
// recipients make it skipped, and zero successes out of one or more
// attempts make it failed. Recipient lookup failure is returned as an error
// so the caller can mark the action failed with the lookup error.
func (f *FanOut) Notify(ctx context.Context, caseID, body string) (Outcome, error) {
	staff, err := f.recipients.OnCall(ctx)
	if err != nil {
		return Outcome{}, err
	}

	if len(staff) == 0 {
		f.logger.Warn("no eligible escalation recipients",
			zap.String("case_id", caseID),
		)
		return Outcome{
			Status: model.ActionStatusSkipped,
			Reason: "no eligible recipients",
		}, nil
	}

	outcomes := f.sendAll(ctx, staff, caseID, body)

	delivered := 0
	for _, o := range outcomes {
		if o.Delivered {
			delivered++
		}
	}

	f.logger.Info("escalation fan-out complete",
		zap.String("case_id", caseID),
		zap.Int("recipients", len(staff)),
		zap.Int("delivered", delivered),
	)

	if delivered == 0 {
		return Outcome{
			Status:     model.ActionStatusFailed,
			Reason:     fmt.Sprintf("all %d deliveries failed", len(staff)),
			Deliveries: outcomes,
		}, nil
	}
	return Outcome{
		Status:     model.ActionStatusDispatched,
		Deliveries: outcomes,
	}, nil
}

// sendAll notifies every recipient concurrently and collects the outcomes.
func (f *FanOut) sendAll(ctx context.Context, staff []model.Staff, caseID, body string) []model.NotificationOutcome {
	ch := make(chan model.NotificationOutcome, len(staff))
	var wg sync.WaitGroup

	for _, s := range staff {
		wg.Add(1)
		go func(s model.Staff) {
			defer wg.Done()
			ch <- f.sendOne(ctx, s, caseID, body)
		}(s)
	}

	go func() {
		wg.Wait()
		close(ch)
	}()

	var outcomes []model.NotificationOutcome
	for o := range ch {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// sendOne notifies a single recipient under its own deadline.
func (f *FanOut) sendOne(ctx context.Context, s model.Staff, caseID, body string) model.NotificationOutcome {
	ctx, cancel := context.WithTimeout(ctx, f.recipientTimeout)
	defer cancel()

	if err := f.sender.Send(ctx, s.RecipientID, s.Channel, caseID, body); err != nil {
		f.logger.Warn("escalation delivery failed",
			zap.String("case_id", caseID),
			zap.String("recipient_id", s.RecipientID),
			zap.Error(err),
		)
		return model.NotificationOutcome{
			RecipientID: s.RecipientID,
			Delivered:   false,
			Error:       err.Error(),
		}
	}
	return model.NotificationOutcome{
		RecipientID: s.RecipientID,
		Delivered:   true,
	}
}
