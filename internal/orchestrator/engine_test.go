package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/carewire/triage/internal/casestore"
	"github.com/carewire/triage/internal/config"
	"github.com/carewire/triage/internal/escalation"
	"github.com/carewire/triage/internal/notify"
	"github.com/carewire/triage/model"
)

type stubEscalator struct {
	mu      sync.Mutex
	calls   int
	outcome escalation.Outcome
	err     error
}

func (s *stubEscalator) Notify(_ context.Context, _, _ string) (escalation.Outcome, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.outcome, s.err
}

func (s *stubEscalator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubBooking struct {
	providers []model.Provider
	err       error
}

func (s *stubBooking) Providers(_ context.Context) ([]model.Provider, error) {
	return s.providers, s.err
}

type stubDelivery struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (s *stubDelivery) Send(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *stubDelivery) notifications() []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Notification, len(s.sent))
	copy(out, s.sent)
	return out
}

type testEnv struct {
	engine    *Engine
	store     *casestore.MemoryStore
	escalator *stubEscalator
	booking   *stubBooking
	delivery  *stubDelivery
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := casestore.NewMemoryStore()
	escalator := &stubEscalator{outcome: escalation.Outcome{
		Status: model.ActionStatusDispatched,
		Deliveries: []model.NotificationOutcome{
			{RecipientID: "staff-1", Delivered: true},
		},
	}}
	booking := &stubBooking{providers: []model.Provider{{ProviderID: "gp-1", Name: "Dr. Osei"}}}
	delivery := &stubDelivery{}

	cfg := config.Defaults()
	engine := NewEngine(store, escalator, booking, delivery,
		cfg.Policy, config.DispatchConfig{Timeout: 2 * time.Second, RecipientTimeout: time.Second},
		nil, zap.NewNop())
	return &testEnv{engine: engine, store: store, escalator: escalator, booking: booking, delivery: delivery}
}

// drain waits for the async dispatch phase to finish.
func (env *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.engine.Shutdown(ctx); err != nil {
		t.Fatalf("dispatch did not drain: %v", err)
	}
}

func actionsByKind(detail model.CaseDetail) map[string]model.ScheduledAction {
	out := make(map[string]model.ScheduledAction)
	for _, a := range detail.Actions {
		out[a.Kind] = a
	}
	return out
}

func TestSubmitClassification_criticalEscalates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	detail, err := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		EventID:   "evt-1",
		SubjectID: "patient-1",
		Symptoms:  []string{"severe chest pain", "shortness of breath"},
	})
	if err != nil {
		t.Fatalf("SubmitClassification: %v", err)
	}

	if detail.Case.Status != model.CaseStatusEscalated {
		t.Errorf("status = %s, want escalated", detail.Case.Status)
	}
	if len(detail.Assessments) != 1 {
		t.Fatalf("assessments = %d", len(detail.Assessments))
	}
	a := detail.Assessments[0]
	if a.PriorityLevel != model.PriorityCritical || a.TriageScore < 9 {
		t.Errorf("assessment = %s/%d, want critical/>=9", a.PriorityLevel, a.TriageScore)
	}
	if a.EstimatedWaitMinutes != 0 {
		t.Errorf("wait = %d, want 0 for critical", a.EstimatedWaitMinutes)
	}

	kinds := actionsByKind(detail)
	if len(kinds) != 1 {
		t.Fatalf("actions = %v, want escalate_staff only", kinds)
	}
	if _, ok := kinds[model.ActionEscalateStaff]; !ok {
		t.Fatal("missing escalate_staff action")
	}

	env.drain(t)

	after, _ := env.engine.GetCase(ctx, detail.Case.ID)
	esc := actionsByKind(after)[model.ActionEscalateStaff]
	if esc.Status != model.ActionStatusDispatched {
		t.Errorf("escalation status = %s, want dispatched", esc.Status)
	}
	if env.escalator.callCount() != 1 {
		t.Errorf("escalator calls = %d", env.escalator.callCount())
	}
}

func TestSubmitClassification_urgentBooksAndSchedulesReminder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	before := time.Now().UTC()
	detail, err := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		SubjectID:    "patient-1",
		PriorityHint: "AMBER",
	})
	if err != nil {
		t.Fatalf("SubmitClassification: %v", err)
	}

	if detail.Case.Status != model.CaseStatusAwaitingFollowup {
		t.Errorf("status = %s", detail.Case.Status)
	}
	kinds := actionsByKind(detail)
	reminder, ok := kinds[model.ActionFollowupReminder]
	if !ok {
		t.Fatal("missing followup_reminder")
	}
	if reminder.DueAt == nil {
		t.Fatal("reminder has no due time")
	}
	due := reminder.DueAt.Sub(before)
	if due < 23*time.Hour || due > 25*time.Hour {
		t.Errorf("reminder due in %v, want ~24h", due)
	}
	if _, ok := kinds[model.ActionSuggestBooking]; !ok {
		t.Fatal("missing suggest_booking")
	}

	env.drain(t)

	after, _ := env.engine.GetCase(ctx, detail.Case.ID)
	kinds = actionsByKind(after)
	if kinds[model.ActionSuggestBooking].Status != model.ActionStatusDispatched {
		t.Errorf("booking status = %s", kinds[model.ActionSuggestBooking].Status)
	}
	// The reminder is deferred: dispatch never touches it.
	if kinds[model.ActionFollowupReminder].Status != model.ActionStatusPending {
		t.Errorf("reminder status = %s, want pending", kinds[model.ActionFollowupReminder].Status)
	}

	sent := env.delivery.notifications()
	if len(sent) != 1 || sent[0].Kind != "booking_suggestion" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestSubmitClassification_greenHintSelfCare(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	detail, err := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		SubjectID:    "patient-1",
		PriorityHint: "GREEN",
		Symptoms:     []string{"mild headache"},
	})
	if err != nil {
		t.Fatalf("SubmitClassification: %v", err)
	}

	if detail.Assessments[0].PriorityLevel != model.PriorityMild {
		t.Errorf("level = %s", detail.Assessments[0].PriorityLevel)
	}
	kinds := actionsByKind(detail)
	if _, ok := kinds[model.ActionSelfCareNotice]; !ok {
		t.Fatal("missing self_care_notice")
	}
	reminder := kinds[model.ActionFollowupReminder]
	if reminder.DueAt == nil {
		t.Fatal("reminder has no due time")
	}
	if due := time.Until(*reminder.DueAt); due < 47*time.Hour || due > 49*time.Hour {
		t.Errorf("reminder due in %v, want ~48h", due)
	}

	env.drain(t)

	sent := env.delivery.notifications()
	if len(sent) != 1 || sent[0].Kind != "self_care_notice" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestSubmitClassification_repeatCriticalIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		SubjectID: "patient-1",
		Symptoms:  []string{"severe chest pain", "shortness of breath"},
	})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	env.drain(t)

	second, err := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		CaseID:   first.Case.ID,
		Symptoms: []string{"severe chest pain", "shortness of breath"},
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	env.drain(t)

	// The repeated assessment is recorded, but no second escalation runs.
	if len(second.Assessments) != 2 {
		t.Errorf("assessments = %d, want 2", len(second.Assessments))
	}
	escalations := 0
	for _, a := range second.Actions {
		if a.Kind == model.ActionEscalateStaff {
			escalations++
		}
	}
	if escalations != 1 {
		t.Errorf("escalate actions = %d, want 1", escalations)
	}
	if env.escalator.callCount() != 1 {
		t.Errorf("escalator calls = %d, want 1", env.escalator.callCount())
	}

	events, _ := env.engine.Events(ctx, first.Case.ID)
	var violated bool
	for _, ev := range events {
		if ev.Event == "invariant_violation" {
			violated = true
		}
	}
	if !violated {
		t.Error("missing invariant_violation audit event")
	}
}

func TestSubmitClassification_newRedFlagReescalates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		SubjectID: "patient-1",
		RedFlags:  []string{"chest pain"},
		Symptoms:  []string{"severe chest pain", "shortness of breath"},
	})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	env.drain(t)

	_, err = env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		CaseID:   first.Case.ID,
		RedFlags: []string{"chest pain", "severe bleeding"},
		Symptoms: []string{"severe chest pain", "shortness of breath"},
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	env.drain(t)

	if env.escalator.callCount() != 2 {
		t.Errorf("escalator calls = %d, want 2 (new red flag re-escalates)", env.escalator.callCount())
	}
}

func TestSubmitClassification_newReminderSupersedesOld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		SubjectID:    "patient-1",
		PriorityHint: "GREEN",
	})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	env.drain(t)

	second, err := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		CaseID:       first.Case.ID,
		PriorityHint: "AMBER",
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	env.drain(t)

	var pending, superseded int
	for _, a := range second.Actions {
		if a.Kind != model.ActionFollowupReminder {
			continue
		}
		switch {
		case a.Status == model.ActionStatusPending:
			pending++
		case a.Status == model.ActionStatusFailed && a.Reason == model.ReasonSuperseded:
			superseded++
		}
	}
	if pending != 1 {
		t.Errorf("pending reminders = %d, want exactly 1", pending)
	}
	if superseded != 1 {
		t.Errorf("superseded reminders = %d, want 1", superseded)
	}
}

func TestSubmitClassification_zeroRecipientsFlagsAttention(t *testing.T) {
	env := newTestEnv(t)
	env.escalator.outcome = escalation.Outcome{
		Status: model.ActionStatusSkipped,
		Reason: "no eligible recipients",
	}
	ctx := context.Background()

	detail, err := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		SubjectID: "patient-1",
		Symptoms:  []string{"severe chest pain", "shortness of breath"},
	})
	if err != nil {
		t.Fatalf("SubmitClassification: %v", err)
	}
	env.drain(t)

	after, _ := env.engine.GetCase(ctx, detail.Case.ID)
	esc := actionsByKind(after)[model.ActionEscalateStaff]
	if esc.Status != model.ActionStatusSkipped {
		t.Errorf("escalation status = %s, want skipped", esc.Status)
	}
	if !after.NeedsAttention {
		t.Error("skipped escalation must flag the case for attention")
	}

	queue, err := env.engine.ListActive(ctx, model.CaseFilters{AttentionOnly: true})
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(queue) != 1 {
		t.Errorf("attention queue = %d, want 1", len(queue))
	}
}

func TestSubmitClassification_validationRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.SubmitClassification(context.Background(), model.ClassifierEvent{
		SubjectID:    "patient-1",
		PriorityHint: "PURPLE",
	})
	if !model.IsCode(err, model.ErrValidationError) {
		t.Errorf("err = %v, want VALIDATION_ERROR", err)
	}
	if env.store.Len() != 0 {
		t.Error("invalid event must not create a case")
	}
}

func TestSubmitClassification_settledCaseRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	detail, _ := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		SubjectID:    "patient-1",
		PriorityHint: "GREEN",
	})
	env.drain(t)

	if _, err := env.engine.Resolve(ctx, detail.Case.ID, "feeling better"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	_, err := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		CaseID:   detail.Case.ID,
		Symptoms: []string{"headache"},
	})
	if !model.IsCode(err, model.ErrInvalidTransition) {
		t.Errorf("err = %v, want INVALID_TRANSITION", err)
	}
}

func TestLifecycle_reopenResolveClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	detail, _ := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		SubjectID:    "patient-1",
		PriorityHint: "GREEN",
	})
	env.drain(t)
	caseID := detail.Case.ID

	// Reopen on an active case is invalid.
	if _, err := env.engine.Reopen(ctx, caseID, ""); !model.IsCode(err, model.ErrInvalidTransition) {
		t.Errorf("reopen active: err = %v, want INVALID_TRANSITION", err)
	}

	c, err := env.engine.Resolve(ctx, caseID, "recovered")
	if err != nil || c.Status != model.CaseStatusResolved {
		t.Fatalf("Resolve: %v, status %s", err, c.Status)
	}

	c, err = env.engine.Reopen(ctx, caseID, "symptoms returned")
	if err != nil || c.Status != model.CaseStatusOpen {
		t.Fatalf("Reopen: %v, status %s", err, c.Status)
	}

	c, err = env.engine.Close(ctx, caseID, "administrative close")
	if err != nil || c.Status != model.CaseStatusClosed {
		t.Fatalf("Close: %v, status %s", err, c.Status)
	}

	// Closed is terminal except for reopen.
	if _, err := env.engine.Resolve(ctx, caseID, ""); !model.IsCode(err, model.ErrInvalidTransition) {
		t.Errorf("resolve closed: err = %v, want INVALID_TRANSITION", err)
	}

	events, _ := env.engine.Events(ctx, caseID)
	var names []string
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	for _, want := range []string{"case_created", "assessment_recorded", "resolved", "reopened", "closed"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing %q event in %v", want, names)
		}
	}
}

func TestResolve_supersedesPendingReminder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	detail, _ := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		SubjectID:    "patient-1",
		PriorityHint: "AMBER",
	})
	env.drain(t)

	if _, err := env.engine.Resolve(ctx, detail.Case.ID, "seen by clinician"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	after, _ := env.engine.GetCase(ctx, detail.Case.ID)
	reminder := actionsByKind(after)[model.ActionFollowupReminder]
	if reminder.Status != model.ActionStatusFailed || reminder.Reason != model.ReasonSuperseded {
		t.Errorf("reminder = %s/%s, want failed/superseded", reminder.Status, reminder.Reason)
	}
}

func TestSubmitClassification_concurrentSameCaseSerialized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
		SubjectID:    "patient-1",
		PriorityHint: "GREEN",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	env.drain(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.SubmitClassification(ctx, model.ClassifierEvent{
				CaseID:       first.Case.ID,
				PriorityHint: "AMBER",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent submit: %v", err)
		}
	}

	after, _ := env.engine.GetCase(ctx, first.Case.ID)
	if len(after.Assessments) != n+1 {
		t.Errorf("assessments = %d, want %d", len(after.Assessments), n+1)
	}

	var pending int
	for _, a := range after.Actions {
		if a.Kind == model.ActionFollowupReminder && a.Status == model.ActionStatusPending {
			pending++
		}
	}
	if pending != 1 {
		t.Errorf("pending reminders = %d, want exactly 1 under concurrency", pending)
	}
}
