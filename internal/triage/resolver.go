package triage

import (
	"time"

	"github.com/carewire/triage/model"
)

// Policy carries the tunable offsets for resolved actions. Values come from
// configuration; the resolution table itself is fixed.
type Policy struct {
	UrgentFollowupAfter  time.Duration
	RoutineFollowupAfter time.Duration
}

// ResolvedAction is one action the resolver wants scheduled. DueAt is nil
// for immediate actions.
type ResolvedAction struct {
	Kind  string
	DueAt *time.Time
}

// CaseState is the slice of case context the resolver needs to apply the
// re-escalation rule. PriorRedFlags holds the canonical red flags from the
// assessment that last escalated the case.
type CaseState struct {
	Status        string
	PriorRedFlags []string
}

// Resolve maps a priority level to the actions it requires.
//
// A critical level on an already-escalated case only escalates again when
// the new assessment carries a red flag the prior one did not; otherwise it
// returns (nil, false) and the caller records an invariant violation instead
// of scheduling anything.
func Resolve(level string, state CaseState, redFlags []string, now time.Time, pol Policy) ([]ResolvedAction, bool) {
	switch level {
	case model.PriorityCritical:
		if state.Status == model.CaseStatusEscalated && len(NewRedFlags(state.PriorRedFlags, redFlags)) == 0 {
			return nil, false
		}
		return []ResolvedAction{{Kind: model.ActionEscalateStaff}}, true

	case model.PriorityUrgent:
		due := now.Add(pol.UrgentFollowupAfter)
		return []ResolvedAction{
			{Kind: model.ActionSuggestBooking},
			{Kind: model.ActionFollowupReminder, DueAt: &due},
		}, true

	default:
		// moderate_high, moderate_low and mild share the routine pathway.
		due := now.Add(pol.RoutineFollowupAfter)
		return []ResolvedAction{
			{Kind: model.ActionSelfCareNotice},
			{Kind: model.ActionFollowupReminder, DueAt: &due},
		}, true
	}
}

// StatusAfter returns the case status implied by an accepted assessment.
func StatusAfter(level string) string {
	if level == model.PriorityCritical {
		return model.CaseStatusEscalated
	}
	return model.CaseStatusAwaitingFollowup
}
