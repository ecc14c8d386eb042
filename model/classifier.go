package model

import (
	"fmt"
	"strings"
)

// Severity hints produced by the upstream classifier when it has already
// banded the input. A hint short-circuits symptom scoring.
const (
	HintRed   = "RED"
	HintAmber = "AMBER"
	HintGreen = "GREEN"
)

// ClassifierEvent is the inbound classification signal for one intake
// interaction. Either Symptoms (raw symptom list, optionally with
// ReportedSeverity 1..5) or PriorityHint (pre-classified RED/AMBER/GREEN)
// must carry the signal; both may be empty, which scores as mild.
type ClassifierEvent struct {
	EventID          string   `json:"event_id"`
	CaseID           string   `json:"case_id,omitempty"`
	SubjectID        string   `json:"subject_id"`
	ChiefComplaint   string   `json:"chief_complaint,omitempty"`
	Symptoms         []string `json:"symptoms,omitempty"`
	RedFlags         []string `json:"red_flags,omitempty"`
	PriorityHint     string   `json:"priority_hint,omitempty"`
	ReportedSeverity int      `json:"reported_severity,omitempty"`
}

// Validate checks the event for structural problems. A failing event is
// rejected before anything is persisted.
func (e *ClassifierEvent) Validate() error {
	var details []FieldError

	if e.PriorityHint != "" {
		switch strings.ToUpper(e.PriorityHint) {
		case HintRed, HintAmber, HintGreen:
		default:
			details = append(details, FieldError{
				Field:   "priority_hint",
				Code:    "invalid_enum",
				Message: fmt.Sprintf("unknown priority hint %q (expected RED, AMBER, or GREEN)", e.PriorityHint),
			})
		}
	}

	if e.ReportedSeverity < 0 || e.ReportedSeverity > 5 {
		details = append(details, FieldError{
			Field:   "reported_severity",
			Code:    "out_of_range",
			Message: fmt.Sprintf("reported severity %d out of range 1..5", e.ReportedSeverity),
		})
	}

	for i, s := range e.Symptoms {
		if strings.TrimSpace(s) == "" {
			details = append(details, FieldError{
				Field:   fmt.Sprintf("symptoms[%d]", i),
				Code:    "empty",
				Message: "symptom entries must be non-empty",
			})
		}
	}

	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}

// NormalizedHint returns the upper-cased priority hint, or "" if none.
func (e *ClassifierEvent) NormalizedHint() string {
	if e.PriorityHint == "" {
		return ""
	}
	return strings.ToUpper(e.PriorityHint)
}
