package model

import "time"

// Case status constants. Transitions are monotonic except the explicit
// reopen operation (resolved/closed -> open), which is audited separately.
const (
	CaseStatusOpen             = "open"
	CaseStatusEscalated        = "escalated"
	CaseStatusAwaitingFollowup = "awaiting_followup"
	CaseStatusResolved         = "resolved"
	CaseStatusClosed           = "closed"
)

// Priority levels, ordered from most to least acute. The moderate band is
// split in two internally for wait-time estimation; both halves map to the
// same action set.
const (
	PriorityCritical     = "critical"
	PriorityUrgent       = "urgent"
	PriorityModerateHigh = "moderate_high"
	PriorityModerateLow  = "moderate_low"
	PriorityMild         = "mild"
)

// priorityRank orders levels for comparison; lower rank = more acute.
var priorityRank = map[string]int{
	PriorityCritical:     0,
	PriorityUrgent:       1,
	PriorityModerateHigh: 2,
	PriorityModerateLow:  3,
	PriorityMild:         4,
}

// PriorityRank returns the ordering rank for a priority level, or -1 for an
// unknown level.
func PriorityRank(level string) int {
	if r, ok := priorityRank[level]; ok {
		return r
	}
	return -1
}

// IsValidPriority reports whether the given string is a known priority level.
func IsValidPriority(level string) bool {
	_, ok := priorityRank[level]
	return ok
}

// Scheduled action kinds.
const (
	ActionEscalateStaff    = "escalate_staff"
	ActionSuggestBooking   = "suggest_booking"
	ActionSelfCareNotice   = "self_care_notice"
	ActionFollowupReminder = "followup_reminder"
)

// Scheduled action statuses.
const (
	ActionStatusPending    = "pending"
	ActionStatusDispatched = "dispatched"
	ActionStatusFailed     = "failed"
	ActionStatusSkipped    = "skipped"
)

// Supersede and deadline reasons recorded on failed actions.
const (
	ReasonSuperseded       = "superseded"
	ReasonDeadlineExceeded = "deadline exceeded"
)

// Case is one clinical intake episode. ReportedSymptoms preserves the order
// symptoms were reported in, for audit.
type Case struct {
	ID               string    `json:"id"`
	SubjectID        string    `json:"subject_id"`
	ChiefComplaint   string    `json:"chief_complaint,omitempty"`
	ReportedSymptoms []string  `json:"reported_symptoms,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
	Version          int       `json:"version"`
}

// TriageAssessment is one scoring event for a case. A case may have many,
// ordered by AssessedAt; the most recent is authoritative for action
// resolution. Score and level are a pure function of the inputs as of
// assessment time, so recomputing with identical inputs yields an identical
// assessment.
type TriageAssessment struct {
	ID                   string    `json:"id"`
	CaseID               string    `json:"case_id"`
	AssessedAt           time.Time `json:"assessed_at"`
	PriorityLevel        string    `json:"priority_level"`
	TriageScore          int       `json:"triage_score"`
	RedFlags             []string  `json:"red_flags,omitempty"`
	RecommendedAction    string    `json:"recommended_action"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
}

// ScheduledAction is a deferred or fanned-out side effect tied to one
// assessment. DueAt is nil for immediate actions. A failed action carries
// the failure reason for operator review.
type ScheduledAction struct {
	ID           string     `json:"id"`
	CaseID       string     `json:"case_id"`
	AssessmentID string     `json:"assessment_id"`
	Kind         string     `json:"kind"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NotificationOutcome records one staff recipient's delivery result within an
// escalation fan-out batch. Ephemeral: logged and returned, not persisted.
type NotificationOutcome struct {
	RecipientID string `json:"recipient_id"`
	Delivered   bool   `json:"delivered"`
	Error       string `json:"error,omitempty"`
}

// CaseEvent records an entry in a case's audit trail.
type CaseEvent struct {
	ID        string         `json:"id"`
	CaseID    string         `json:"case_id"`
	Event     string         `json:"event"`
	ActorID   string         `json:"actor_id"`
	Data      map[string]any `json:"data,omitempty"`
	Comment   string         `json:"comment,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CaseDetail bundles a case with its history for dashboard queries.
// NeedsAttention is set when any critical-path action failed, in particular
// an escalation with zero successful deliveries or a skipped escalation.
type CaseDetail struct {
	Case           Case               `json:"case"`
	Assessments    []TriageAssessment `json:"assessments"`
	Actions        []ScheduledAction  `json:"actions"`
	NeedsAttention bool               `json:"needs_attention"`
}

// CaseFilters are optional filters for listing active cases.
type CaseFilters struct {
	Priority      string
	AttentionOnly bool
	Limit         int
	Offset        int
}

// Staff is one eligible escalation recipient resolved from the directory.
type Staff struct {
	RecipientID string `json:"recipient_id"`
	Channel     string `json:"channel"`
}

// Provider is one bookable provider returned by the booking directory.
type Provider struct {
	ProviderID string `json:"provider_id"`
	Name       string `json:"name"`
}

// validTransitions enumerates the allowed case status moves driven by
// assessments and staff actions. Reopen is deliberately absent: it is a
// distinct audited operation, not a transition a re-triage may cause.
var validTransitions = map[string]map[string]bool{
	CaseStatusOpen: {
		CaseStatusEscalated:        true,
		CaseStatusAwaitingFollowup: true,
		CaseStatusResolved:         true,
		CaseStatusClosed:           true,
	},
	CaseStatusEscalated: {
		CaseStatusAwaitingFollowup: true,
		CaseStatusResolved:         true,
		CaseStatusClosed:           true,
	},
	CaseStatusAwaitingFollowup: {
		CaseStatusEscalated: true,
		CaseStatusResolved:  true,
		CaseStatusClosed:    true,
	},
	CaseStatusResolved: {
		CaseStatusClosed: true,
	},
	// closed is terminal.
}

// CanTransition reports whether a case may move from one status to another
// through normal (non-reopen) processing.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	return validTransitions[from][to]
}

// CanReopen reports whether a case in the given status may be explicitly
// reopened.
func CanReopen(status string) bool {
	return status == CaseStatusResolved || status == CaseStatusClosed
}
