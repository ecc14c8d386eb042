package model

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{CaseStatusOpen, CaseStatusEscalated, true},
		{CaseStatusOpen, CaseStatusAwaitingFollowup, true},
		{CaseStatusEscalated, CaseStatusAwaitingFollowup, true},
		{CaseStatusAwaitingFollowup, CaseStatusEscalated, true},
		{CaseStatusAwaitingFollowup, CaseStatusResolved, true},
		{CaseStatusResolved, CaseStatusClosed, true},
		{CaseStatusOpen, CaseStatusOpen, true}, // self-loop is a no-op

		// Reopen is not a transition; it is a separate audited operation.
		{CaseStatusResolved, CaseStatusOpen, false},
		{CaseStatusClosed, CaseStatusOpen, false},
		// closed is terminal.
		{CaseStatusClosed, CaseStatusEscalated, false},
		{CaseStatusClosed, CaseStatusResolved, false},
		// no demotion back to open.
		{CaseStatusEscalated, CaseStatusOpen, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanReopen(t *testing.T) {
	if !CanReopen(CaseStatusResolved) || !CanReopen(CaseStatusClosed) {
		t.Error("resolved and closed cases must be reopenable")
	}
	for _, s := range []string{CaseStatusOpen, CaseStatusEscalated, CaseStatusAwaitingFollowup} {
		if CanReopen(s) {
			t.Errorf("CanReopen(%s) = true, want false", s)
		}
	}
}

func TestPriorityRank_ordering(t *testing.T) {
	ordered := []string{
		PriorityCritical, PriorityUrgent, PriorityModerateHigh,
		PriorityModerateLow, PriorityMild,
	}
	for i := 1; i < len(ordered); i++ {
		if PriorityRank(ordered[i-1]) >= PriorityRank(ordered[i]) {
			t.Errorf("rank(%s) should be < rank(%s)", ordered[i-1], ordered[i])
		}
	}
	if PriorityRank("bogus") != -1 {
		t.Errorf("rank of unknown level = %d, want -1", PriorityRank("bogus"))
	}
	if IsValidPriority("bogus") {
		t.Error("bogus should not be a valid priority")
	}
}
