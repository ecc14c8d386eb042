package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/carewire/triage/internal/config"
	"github.com/carewire/triage/internal/dedupe"
	"github.com/carewire/triage/model"
)

type stubSubmitter struct {
	mu     sync.Mutex
	events []model.ClassifierEvent
	err    error
}

func (s *stubSubmitter) SubmitClassification(_ context.Context, ev model.ClassifierEvent) (model.CaseDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.CaseDetail{}, s.err
	}
	s.events = append(s.events, ev)
	return model.CaseDetail{Case: model.Case{ID: "case-1"}}, nil
}

func (s *stubSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestConsumer(submitter Submitter) *Consumer {
	return &Consumer{
		cfg:       config.Defaults().Ingest,
		dedupeTTL: time.Minute,
		submitter: submitter,
		dedupe:    dedupe.NewMemoryStore(),
		logger:    zap.NewNop(),
	}
}

func TestHandle_submitsDecodedEvent(t *testing.T) {
	submitter := &stubSubmitter{}
	c := newTestConsumer(submitter)

	c.handle(&nats.Msg{
		Subject: "triage.classifications",
		Data:    []byte(`{"event_id": "evt-1", "subject_id": "patient-1", "symptoms": ["fever"]}`),
	})

	if submitter.count() != 1 {
		t.Fatalf("submitted = %d, want 1", submitter.count())
	}
	if submitter.events[0].EventID != "evt-1" || submitter.events[0].Symptoms[0] != "fever" {
		t.Errorf("event = %+v", submitter.events[0])
	}
}

func TestHandle_dropsMalformedPayload(t *testing.T) {
	submitter := &stubSubmitter{}
	c := newTestConsumer(submitter)

	c.handle(&nats.Msg{Subject: "triage.classifications", Data: []byte(`{not json`)})

	if submitter.count() != 0 {
		t.Errorf("submitted = %d, want 0", submitter.count())
	}
}

func TestHandle_duplicateEventIDDropped(t *testing.T) {
	submitter := &stubSubmitter{}
	c := newTestConsumer(submitter)

	payload := []byte(`{"event_id": "evt-1", "subject_id": "patient-1"}`)
	c.handle(&nats.Msg{Data: payload})
	c.handle(&nats.Msg{Data: payload})

	if submitter.count() != 1 {
		t.Errorf("submitted = %d, want 1 (duplicate dropped)", submitter.count())
	}
}

func TestHandle_missingEventIDSkipsDedupe(t *testing.T) {
	submitter := &stubSubmitter{}
	c := newTestConsumer(submitter)

	payload := []byte(`{"subject_id": "patient-1"}`)
	c.handle(&nats.Msg{Data: payload})
	c.handle(&nats.Msg{Data: payload})

	if submitter.count() != 2 {
		t.Errorf("submitted = %d, want 2 (no event ID, no dedupe)", submitter.count())
	}
}

func TestHandle_rejectedEventDropped(t *testing.T) {
	submitter := &stubSubmitter{err: model.NewValidationError([]model.FieldError{
		{Field: "priority_hint", Code: "invalid_enum", Message: "bad"},
	})}
	c := newTestConsumer(submitter)

	// Must not panic or retry; the event is logged and dropped.
	c.handle(&nats.Msg{Data: []byte(`{"event_id": "evt-1", "priority_hint": "PURPLE"}`)})
}
