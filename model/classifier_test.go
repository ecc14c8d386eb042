package model

import "testing"

func TestClassifierEvent_Validate_ok(t *testing.T) {
	tests := []ClassifierEvent{
		{SubjectID: "patient-1", Symptoms: []string{"headache"}},
		{SubjectID: "patient-1", PriorityHint: "AMBER"},
		{SubjectID: "patient-1", PriorityHint: "amber"}, // case-insensitive
		{SubjectID: "patient-1", Symptoms: []string{"cough"}, ReportedSeverity: 3},
		{}, // empty input is valid and scores as mild
	}
	for i, ev := range tests {
		if err := ev.Validate(); err != nil {
			t.Errorf("event %d: unexpected error: %v", i, err)
		}
	}
}

func TestClassifierEvent_Validate_badHint(t *testing.T) {
	ev := ClassifierEvent{SubjectID: "p", PriorityHint: "PURPLE"}
	err := ev.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	ee, ok := err.(*ErrorEnvelope)
	if !ok || ee.Code != ErrValidationError {
		t.Fatalf("error = %v, want VALIDATION_ERROR envelope", err)
	}
	if len(ee.Details) != 1 || ee.Details[0].Field != "priority_hint" {
		t.Errorf("details = %+v", ee.Details)
	}
}

func TestClassifierEvent_Validate_severityRange(t *testing.T) {
	for _, sev := range []int{-1, 6, 100} {
		ev := ClassifierEvent{SubjectID: "p", ReportedSeverity: sev}
		if err := ev.Validate(); err == nil {
			t.Errorf("severity %d: expected validation error", sev)
		}
	}
}

func TestClassifierEvent_Validate_blankSymptom(t *testing.T) {
	ev := ClassifierEvent{SubjectID: "p", Symptoms: []string{"fever", "  "}}
	err := ev.Validate()
	if err == nil {
		t.Fatal("expected validation error for blank symptom")
	}
}

func TestClassifierEvent_NormalizedHint(t *testing.T) {
	ev := ClassifierEvent{PriorityHint: "red"}
	if got := ev.NormalizedHint(); got != HintRed {
		t.Errorf("NormalizedHint() = %q, want RED", got)
	}
	empty := ClassifierEvent{}
	if got := empty.NormalizedHint(); got != "" {
		t.Errorf("NormalizedHint() = %q, want empty", got)
	}
}
