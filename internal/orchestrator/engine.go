// Package orchestrator coordinates the triage pipeline: it accepts
// classifier events, persists assessments with their planned actions in one
// atomic step, and dispatches the immediate actions asynchronously under a
// bounded deadline.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carewire/triage/internal/casestore"
	"github.com/carewire/triage/internal/config"
	"github.com/carewire/triage/internal/escalation"
	"github.com/carewire/triage/internal/notify"
	"github.com/carewire/triage/internal/observability"
	"github.com/carewire/triage/internal/triage"
	"github.com/carewire/triage/model"
)

// Escalator fans an escalation out to on-call staff.
type Escalator interface {
	Notify(ctx context.Context, caseID, body string) (escalation.Outcome, error)
}

// BookingFinder resolves bookable providers for appointment suggestions.
type BookingFinder interface {
	Providers(ctx context.Context) ([]model.Provider, error)
}

// NoticeSender delivers subject-facing notices.
type NoticeSender interface {
	Send(ctx context.Context, n notify.Notification) error
}

// Recorder receives domain metrics. The orchestrator never depends on a
// concrete metrics backend.
type Recorder interface {
	RecordClassification(level string)
	RecordDispatch(kind, status string)
}

// NopRecorder discards all metrics.
type NopRecorder struct{}

func (NopRecorder) RecordClassification(string) {}
func (NopRecorder) RecordDispatch(string, string) {}

// Engine orchestrates case intake, assessment, and action dispatch.
type Engine struct {
	store     casestore.Store
	escalator Escalator
	booking   BookingFinder
	delivery  NoticeSender
	policy    config.PolicyConfig
	dispatch  config.DispatchConfig
	metrics   Recorder
	logger    *zap.Logger

	// locks serializes processing per case so concurrent classifications
	// for the same case cannot interleave score/persist cycles.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// wg tracks in-flight dispatch goroutines for clean shutdown.
	wg sync.WaitGroup
}

// NewEngine creates an orchestrator engine.
func NewEngine(
	store casestore.Store,
	escalator Escalator,
	booking BookingFinder,
	delivery NoticeSender,
	policy config.PolicyConfig,
	dispatch config.DispatchConfig,
	metrics Recorder,
	logger *zap.Logger,
) *Engine {
	if metrics == nil {
		metrics = NopRecorder{}
	}
	return &Engine{
		store:     store,
		escalator: escalator,
		booking:   booking,
		delivery:  delivery,
		policy:    policy,
		dispatch:  dispatch,
		metrics:   metrics,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// SubmitClassification processes one classifier event: it validates, scores,
// persists the assessment with its pending actions atomically, and kicks off
// asynchronous dispatch. The returned detail reflects the committed state,
// with immediate actions still pending.
func (e *Engine) SubmitClassification(ctx context.Context, ev model.ClassifierEvent) (model.CaseDetail, error) {
	ctx, span := observability.StartSpan(ctx, "triage.submit_classification",
		observability.AttrSubjectID.String(ev.SubjectID),
	)
	detail, err := e.submitClassification(ctx, ev)
	if err == nil && len(detail.Assessments) > 0 {
		span.SetAttributes(
			observability.AttrCaseID.String(detail.Case.ID),
			observability.AttrPriorityLevel.String(detail.Assessments[len(detail.Assessments)-1].PriorityLevel),
		)
	}
	observability.EndSpanWithError(span, err)
	return detail, err
}

func (e *Engine) submitClassification(ctx context.Context, ev model.ClassifierEvent) (model.CaseDetail, error) {
	if err := ev.Validate(); err != nil {
		return model.CaseDetail{}, err
	}

	caseID := ev.CaseID
	if caseID == "" {
		caseID = uuid.New().String()
	}

	unlock := e.lockCase(caseID)
	defer unlock()

	c, created, err := e.findOrCreateCase(ctx, caseID, ev)
	if err != nil {
		return model.CaseDetail{}, err
	}

	if c.Status == model.CaseStatusResolved || c.Status == model.CaseStatusClosed {
		return model.CaseDetail{}, model.NewInvalidTransitionError(
			fmt.Sprintf("case %q is %s; reopen it before submitting a new classification", caseID, c.Status),
		)
	}

	result := triage.Score(triage.Input{
		Symptoms:         ev.Symptoms,
		RedFlags:         ev.RedFlags,
		PriorityHint:     ev.NormalizedHint(),
		ReportedSeverity: ev.ReportedSeverity,
	})
	e.metrics.RecordClassification(result.Level)

	var priorFlags []string
	if !created {
		if prev, err := e.store.LatestAssessment(ctx, caseID); err == nil {
			priorFlags = prev.RedFlags
		}
	}

	now := time.Now().UTC()
	resolved, ok := triage.Resolve(result.Level, triage.CaseState{
		Status:        c.Status,
		PriorRedFlags: priorFlags,
	}, result.RedFlags, now, triage.Policy{
		UrgentFollowupAfter:  e.policy.UrgentFollowupAfter,
		RoutineFollowupAfter: e.policy.RoutineFollowupAfter,
	})

	assessment := model.TriageAssessment{
		ID:                   uuid.New().String(),
		CaseID:               caseID,
		AssessedAt:           now,
		PriorityLevel:        result.Level,
		TriageScore:          result.Score,
		RedFlags:             result.RedFlags,
		RecommendedAction:    result.RecommendedAction,
		EstimatedWaitMinutes: e.policy.WaitMinutesByPriority[result.Level],
	}

	if !ok {
		// Repeated critical result without red-flag growth: record the
		// assessment for the audit trail but schedule nothing.
		if err := e.store.AppendAssessment(ctx, c, assessment, nil); err != nil {
			return model.CaseDetail{}, err
		}
		e.appendEvent(ctx, caseID, "invariant_violation", actorFrom(ctx), map[string]any{
			"assessment_id": assessment.ID,
			"detail":        "repeated critical assessment without new red flags",
		}, "")
		e.logger.Warn("re-escalation suppressed",
			zap.String("case_id", caseID),
			zap.Strings("red_flags", result.RedFlags),
		)
		return e.store.GetCaseDetail(ctx, caseID)
	}

	actions := make([]model.ScheduledAction, 0, len(resolved))
	schedulesReminder := false
	for _, ra := range resolved {
		if ra.Kind == model.ActionFollowupReminder {
			schedulesReminder = true
		}
		actions = append(actions, model.ScheduledAction{
			ID:           uuid.New().String(),
			CaseID:       caseID,
			AssessmentID: assessment.ID,
			Kind:         ra.Kind,
			DueAt:        ra.DueAt,
			Status:       model.ActionStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	// A new reminder supersedes any still-pending one, so at most one
	// reminder is ever pending per case.
	if schedulesReminder {
		superseded, err := e.store.SupersedePendingReminder(ctx, caseID)
		if err != nil {
			return model.CaseDetail{}, err
		}
		if superseded != "" {
			e.appendEvent(ctx, caseID, "reminder_superseded", actorFrom(ctx), map[string]any{
				"action_id": superseded,
			}, "")
		}
	}

	next := triage.StatusAfter(result.Level)
	if !model.CanTransition(c.Status, next) {
		return model.CaseDetail{}, model.NewInvalidTransitionError(
			fmt.Sprintf("case %q cannot move from %s to %s", caseID, c.Status, next),
		)
	}
	prevStatus := c.Status
	c.Status = next
	if len(ev.Symptoms) > 0 {
		c.ReportedSymptoms = append(c.ReportedSymptoms, ev.Symptoms...)
	}
	if c.ChiefComplaint == "" {
		c.ChiefComplaint = ev.ChiefComplaint
	}

	if err := e.store.AppendAssessment(ctx, c, assessment, actions); err != nil {
		return model.CaseDetail{}, err
	}

	e.appendEvent(ctx, caseID, "assessment_recorded", actorFrom(ctx), map[string]any{
		"assessment_id":  assessment.ID,
		"priority_level": result.Level,
		"triage_score":   result.Score,
	}, "")
	if next == model.CaseStatusEscalated && prevStatus != model.CaseStatusEscalated {
		e.appendEvent(ctx, caseID, "escalated", actorFrom(ctx), nil, "")
	}

	e.dispatchAsync(caseID, result.Level, actions)

	return e.store.GetCaseDetail(ctx, caseID)
}

// findOrCreateCase loads the referenced case or creates a new one.
func (e *Engine) findOrCreateCase(ctx context.Context, caseID string, ev model.ClassifierEvent) (model.Case, bool, error) {
	if ev.CaseID != "" {
		c, err := e.store.GetCase(ctx, caseID)
		if err != nil {
			return model.Case{}, false, err
		}
		return c, false, nil
	}

	subjectID := ev.SubjectID
	if subjectID == "" {
		// Walk-in classifications without an identified subject still get
		// a traceable case.
		subjectID = "anon-" + uuid.New().String()
	}

	now := time.Now().UTC()
	c := model.Case{
		ID:               caseID,
		SubjectID:        subjectID,
		ChiefComplaint:   ev.ChiefComplaint,
		ReportedSymptoms: ev.Symptoms,
		Status:           model.CaseStatusOpen,
		CreatedAt:        now,
		LastActivityAt:   now,
		Version:          1,
	}
	if err := e.store.CreateCase(ctx, c); err != nil {
		return model.Case{}, false, err
	}
	e.appendEvent(ctx, caseID, "case_created", actorFrom(ctx), map[string]any{
		"subject_id": subjectID,
	}, "")
	// Symptoms are already on the created case.
	c.ReportedSymptoms = nil
	return c, true, nil
}

// dispatchAsync runs the immediate actions in the background under the
// dispatch deadline. Reminders stay pending for the scheduler.
func (e *Engine) dispatchAsync(caseID, level string, actions []model.ScheduledAction) {
	var immediate []model.ScheduledAction
	for _, a := range actions {
		if a.DueAt == nil {
			immediate = append(immediate, a)
		}
	}
	if len(immediate) == 0 {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		// Detached from the request: dispatch survives the caller's
		// response but never the deadline.
		ctx, cancel := context.WithTimeout(
			model.WithRequestContext(context.Background(), model.SystemContext()),
			e.dispatch.Timeout,
		)
		defer cancel()

		var wg sync.WaitGroup
		for _, a := range immediate {
			wg.Add(1)
			go func(a model.ScheduledAction) {
				defer wg.Done()
				e.dispatchOne(ctx, caseID, level, a)
			}(a)
		}
		wg.Wait()
	}()
}

// dispatchOne executes a single immediate action and records its terminal
// status.
func (e *Engine) dispatchOne(ctx context.Context, caseID, level string, a model.ScheduledAction) {
	var status, reason string
	var data map[string]any

	switch a.Kind {
	case model.ActionEscalateStaff:
		status, reason, data = e.dispatchEscalation(ctx, caseID)
	case model.ActionSuggestBooking:
		status, reason = e.dispatchBookingSuggestion(ctx, caseID)
	case model.ActionSelfCareNotice:
		status, reason = e.dispatchSelfCare(ctx, caseID, level)
	default:
		e.logger.Error("unknown immediate action kind",
			zap.String("case_id", caseID),
			zap.String("kind", a.Kind),
		)
		return
	}

	if ctx.Err() != nil && status != model.ActionStatusDispatched {
		status = model.ActionStatusFailed
		reason = model.ReasonDeadlineExceeded
	}

	// Outcome writes must land even when the dispatch deadline has passed.
	recordCtx := context.WithoutCancel(ctx)

	if err := e.store.UpdateActionStatus(recordCtx, a.ID, status, reason); err != nil {
		// Terminal status already set by a competing writer; nothing to do.
		if !model.IsCode(err, model.ErrConflict) {
			e.logger.Error("record action outcome",
				zap.String("action_id", a.ID),
				zap.Error(err),
			)
		}
		return
	}

	e.metrics.RecordDispatch(a.Kind, status)

	if data == nil {
		data = map[string]any{}
	}
	data["action_id"] = a.ID
	data["status"] = status
	if reason != "" {
		data["reason"] = reason
	}
	e.appendEvent(recordCtx, caseID, a.Kind+"_"+status, "system", data, "")
}

func (e *Engine) dispatchEscalation(ctx context.Context, caseID string) (string, string, map[string]any) {
	body := fmt.Sprintf("Case %s was triaged critical and requires immediate review.", caseID)
	outcome, err := e.escalator.Notify(ctx, caseID, body)
	if err != nil {
		return model.ActionStatusFailed, err.Error(), nil
	}

	var data map[string]any
	if len(outcome.Deliveries) > 0 {
		deliveries := make([]map[string]any, 0, len(outcome.Deliveries))
		for _, d := range outcome.Deliveries {
			entry := map[string]any{
				"recipient_id": d.RecipientID,
				"delivered":    d.Delivered,
			}
			if d.Error != "" {
				entry["error"] = d.Error
			}
			deliveries = append(deliveries, entry)
		}
		data = map[string]any{"deliveries": deliveries}
	}
	return outcome.Status, outcome.Reason, data
}

func (e *Engine) dispatchBookingSuggestion(ctx context.Context, caseID string) (string, string) {
	body := "Your symptoms should be reviewed soon. Please book an appointment with your clinic."
	// Provider lookup enriches the suggestion but never blocks it.
	if providers, err := e.booking.Providers(ctx); err != nil {
		e.logger.Warn("booking directory lookup failed",
			zap.String("case_id", caseID),
			zap.Error(err),
		)
	} else if len(providers) > 0 {
		names := make([]string, 0, len(providers))
		for _, p := range providers {
			names = append(names, p.Name)
		}
		body = fmt.Sprintf(
			"Your symptoms should be reviewed soon. Available providers: %s.",
			strings.Join(names, ", "),
		)
	}

	err := e.delivery.Send(ctx, notify.Notification{
		CaseID:  caseID,
		Kind:    "booking_suggestion",
		Subject: "Please book an appointment",
		Body:    body,
	})
	if err != nil {
		return model.ActionStatusFailed, err.Error()
	}
	return model.ActionStatusDispatched, ""
}

func (e *Engine) dispatchSelfCare(ctx context.Context, caseID, level string) (string, string) {
	err := e.delivery.Send(ctx, notify.Notification{
		CaseID:  caseID,
		Kind:    "self_care_notice",
		Subject: "Care guidance for your symptoms",
		Body:    triage.Advice(level) + "\n\n" + triage.Disclaimer,
	})
	if err != nil {
		return model.ActionStatusFailed, err.Error()
	}
	return model.ActionStatusDispatched, ""
}

// Reopen moves a resolved or closed case back to open.
func (e *Engine) Reopen(ctx context.Context, caseID, comment string) (model.Case, error) {
	unlock := e.lockCase(caseID)
	defer unlock()

	c, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return model.Case{}, err
	}
	if !model.CanReopen(c.Status) {
		return model.Case{}, model.NewInvalidTransitionError(
			fmt.Sprintf("case %q is %s and cannot be reopened", caseID, c.Status),
		)
	}

	if err := e.store.UpdateCaseStatus(ctx, caseID, c.Version, model.CaseStatusOpen); err != nil {
		return model.Case{}, err
	}
	e.appendEvent(ctx, caseID, "reopened", actorFrom(ctx), nil, comment)

	return e.store.GetCase(ctx, caseID)
}

// Resolve marks a case resolved and supersedes any pending reminder, which
// has no recipient need once the case is settled.
func (e *Engine) Resolve(ctx context.Context, caseID, comment string) (model.Case, error) {
	return e.settle(ctx, caseID, model.CaseStatusResolved, "resolved", comment)
}

// Close marks a case closed.
func (e *Engine) Close(ctx context.Context, caseID, comment string) (model.Case, error) {
	return e.settle(ctx, caseID, model.CaseStatusClosed, "closed", comment)
}

func (e *Engine) settle(ctx context.Context, caseID, status, event, comment string) (model.Case, error) {
	unlock := e.lockCase(caseID)
	defer unlock()

	c, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return model.Case{}, err
	}
	if !model.CanTransition(c.Status, status) {
		return model.Case{}, model.NewInvalidTransitionError(
			fmt.Sprintf("case %q cannot move from %s to %s", caseID, c.Status, status),
		)
	}

	if err := e.store.UpdateCaseStatus(ctx, caseID, c.Version, status); err != nil {
		return model.Case{}, err
	}

	if superseded, err := e.store.SupersedePendingReminder(ctx, caseID); err == nil && superseded != "" {
		e.appendEvent(ctx, caseID, "reminder_superseded", actorFrom(ctx), map[string]any{
			"action_id": superseded,
		}, "")
	}

	e.appendEvent(ctx, caseID, event, actorFrom(ctx), nil, comment)
	return e.store.GetCase(ctx, caseID)
}

// GetCase returns a case with its full history.
func (e *Engine) GetCase(ctx context.Context, caseID string) (model.CaseDetail, error) {
	return e.store.GetCaseDetail(ctx, caseID)
}

// ListActive returns the active-case queue for the dashboard.
func (e *Engine) ListActive(ctx context.Context, filters model.CaseFilters) ([]model.CaseDetail, error) {
	return e.store.FindActiveCases(ctx, filters)
}

// Events returns a case's audit trail.
func (e *Engine) Events(ctx context.Context, caseID string) ([]model.CaseEvent, error) {
	return e.store.GetCaseEvents(ctx, caseID)
}

// Shutdown waits for in-flight dispatches to finish or the context to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockCase acquires the per-case mutex and returns its release func.
func (e *Engine) lockCase(caseID string) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[caseID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[caseID] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// appendEvent records an audit entry; audit failures are logged, never fatal.
func (e *Engine) appendEvent(ctx context.Context, caseID, event, actorID string, data map[string]any, comment string) {
	err := e.store.AppendCaseEvent(ctx, model.CaseEvent{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		Event:     event,
		ActorID:   actorID,
		Data:      data,
		Comment:   comment,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("append case event",
			zap.String("case_id", caseID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func actorFrom(ctx context.Context) string {
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.ActorID != "" {
		return rctx.ActorID
	}
	return "system"
}
