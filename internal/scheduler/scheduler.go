// Package scheduler dispatches deferred actions when they fall due. It polls
// the store on an interval; follow-up reminders that were superseded in the
// meantime never reach the sink because their status already left pending.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carewire/triage/internal/casestore"
	"github.com/carewire/triage/internal/notify"
	"github.com/carewire/triage/model"
)

// Sink receives due reminders.
type Sink interface {
	Deliver(ctx context.Context, r notify.Reminder) error
}

// Recorder receives dispatch outcome metrics.
type Recorder interface {
	RecordDispatch(kind, status string)
}

// NopRecorder discards metrics.
type NopRecorder struct{}

func (NopRecorder) RecordDispatch(string, string) {}

// Scheduler polls for due actions and hands them to the sink.
type Scheduler struct {
	store    casestore.Store
	sink     Sink
	interval time.Duration
	metrics  Recorder
	logger   *zap.Logger
}

// New creates a scheduler.
func New(store casestore.Store, sink Sink, interval time.Duration, metrics Recorder, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if metrics == nil {
		metrics = NopRecorder{}
	}
	return &Scheduler{
		store:    store,
		sink:     sink,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run polls until the context is cancelled. Intended to run as a goroutine
// from main.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunDue(ctx, time.Now().UTC()); err != nil {
				s.logger.Error("reminder sweep failed", zap.Error(err))
			}
		}
	}
}

// RunDue dispatches every pending action due at or before now. Failures are
// recorded per action; one broken reminder never blocks the rest.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) error {
	due, err := s.store.FindDueActions(ctx, now)
	if err != nil {
		return fmt.Errorf("find due actions: %w", err)
	}

	for _, a := range due {
		if a.Kind != model.ActionFollowupReminder {
			s.logger.Warn("unexpected deferred action kind",
				zap.String("action_id", a.ID),
				zap.String("kind", a.Kind),
			)
			continue
		}
		s.dispatchReminder(ctx, a)
	}
	return nil
}

func (s *Scheduler) dispatchReminder(ctx context.Context, a model.ScheduledAction) {
	err := s.sink.Deliver(ctx, notify.Reminder{
		ActionID: a.ID,
		CaseID:   a.CaseID,
		Body:     "This is a follow-up on your recent triage case. Please let us know how you are feeling.",
	})

	status := model.ActionStatusDispatched
	reason := ""
	if err != nil {
		status = model.ActionStatusFailed
		reason = err.Error()
		s.logger.Warn("reminder delivery failed",
			zap.String("action_id", a.ID),
			zap.String("case_id", a.CaseID),
			zap.Error(err),
		)
	}

	if err := s.store.UpdateActionStatus(ctx, a.ID, status, reason); err != nil {
		// Superseded between the sweep and the send; the terminal status
		// stands.
		if model.IsCode(err, model.ErrConflict) {
			s.logger.Debug("reminder already terminal", zap.String("action_id", a.ID))
			return
		}
		s.logger.Error("record reminder outcome",
			zap.String("action_id", a.ID),
			zap.Error(err),
		)
		return
	}

	s.metrics.RecordDispatch(model.ActionFollowupReminder, status)
	s.appendEvent(ctx, a.CaseID, model.ActionFollowupReminder+"_"+status, map[string]any{
		"action_id": a.ID,
	})
}

func (s *Scheduler) appendEvent(ctx context.Context, caseID, event string, data map[string]any) {
	err := s.store.AppendCaseEvent(ctx, model.CaseEvent{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		Event:     event,
		ActorID:   "system",
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("append case event",
			zap.String("case_id", caseID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}
