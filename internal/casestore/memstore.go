package casestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carewire/triage/model"
)

// MemoryStore is an in-memory Store for testing and single-node deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	cases       map[string]model.Case               // key: case ID
	assessments map[string][]model.TriageAssessment // key: case ID, append order
	actions     map[string]model.ScheduledAction    // key: action ID
	events      map[string][]model.CaseEvent        // key: case ID
}

// NewMemoryStore creates a new in-memory case store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:       make(map[string]model.Case),
		assessments: make(map[string][]model.TriageAssessment),
		actions:     make(map[string]model.ScheduledAction),
		events:      make(map[string][]model.CaseEvent),
	}
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// CreateCase persists a new case.
func (s *MemoryStore) CreateCase(_ context.Context, c model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("case %q already exists", c.ID))
	}
	s.cases[c.ID] = c
	return nil
}

// GetCase retrieves a case by ID.
func (s *MemoryStore) GetCase(_ context.Context, caseID string) (model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.cases[caseID]
	if !exists {
		return model.Case{}, model.NewNotFoundError(fmt.Sprintf("case %q not found", caseID))
	}
	return c, nil
}

// GetCaseDetail retrieves a case with its full history.
func (s *MemoryStore) GetCaseDetail(_ context.Context, caseID string) (model.CaseDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.cases[caseID]
	if !exists {
		return model.CaseDetail{}, model.NewNotFoundError(fmt.Sprintf("case %q not found", caseID))
	}
	return s.detailLocked(c), nil
}

// detailLocked assembles a CaseDetail. Callers must hold at least the read
// lock.
func (s *MemoryStore) detailLocked(c model.Case) model.CaseDetail {
	assessments := make([]model.TriageAssessment, len(s.assessments[c.ID]))
	copy(assessments, s.assessments[c.ID])

	var actions []model.ScheduledAction
	for _, a := range s.actions {
		if a.CaseID == c.ID {
			actions = append(actions, a)
		}
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})

	return model.CaseDetail{
		Case:           c,
		Assessments:    assessments,
		Actions:        actions,
		NeedsAttention: needsAttention(actions),
	}
}

// needsAttention reports whether the case has an escalation that never
// reached anyone.
func needsAttention(actions []model.ScheduledAction) bool {
	for _, a := range actions {
		if a.Kind != model.ActionEscalateStaff {
			continue
		}
		if a.Status == model.ActionStatusFailed || a.Status == model.ActionStatusSkipped {
			return true
		}
	}
	return false
}

// FindActiveCases returns cases that are not resolved or closed.
func (s *MemoryStore) FindActiveCases(_ context.Context, filters model.CaseFilters) ([]model.CaseDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CaseDetail
	for _, c := range s.cases {
		if c.Status == model.CaseStatusResolved || c.Status == model.CaseStatusClosed {
			continue
		}
		detail := s.detailLocked(c)
		if filters.Priority != "" && latestPriority(detail.Assessments) != filters.Priority {
			continue
		}
		if filters.AttentionOnly && !detail.NeedsAttention {
			continue
		}
		result = append(result, detail)
	}

	// Most acute first; oldest activity first within a level so stale
	// cases surface.
	sort.Slice(result, func(i, j int) bool {
		ri := priorityRankOf(result[i].Assessments)
		rj := priorityRankOf(result[j].Assessments)
		if ri != rj {
			return ri < rj
		}
		return result[i].Case.LastActivityAt.Before(result[j].Case.LastActivityAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.CaseDetail{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, nil
}

func latestPriority(assessments []model.TriageAssessment) string {
	if len(assessments) == 0 {
		return ""
	}
	return assessments[len(assessments)-1].PriorityLevel
}

// priorityRankOf ranks by the latest assessment; unassessed cases sort last.
func priorityRankOf(assessments []model.TriageAssessment) int {
	level := latestPriority(assessments)
	if r := model.PriorityRank(level); r >= 0 {
		return r
	}
	return 100
}

// AppendAssessment atomically records an assessment, its pending actions and
// the updated case.
func (s *MemoryStore) AppendAssessment(_ context.Context, c model.Case, assessment model.TriageAssessment, actions []model.ScheduledAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.cases[c.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("case %q not found", c.ID))
	}
	if existing.Version != c.Version {
		return model.NewConflictError(
			fmt.Sprintf("case %q version conflict (expected %d, got %d)", c.ID, c.Version, existing.Version),
		)
	}

	c.Version++
	c.LastActivityAt = assessment.AssessedAt
	s.cases[c.ID] = c
	s.assessments[c.ID] = append(s.assessments[c.ID], assessment)
	for _, a := range actions {
		s.actions[a.ID] = a
	}
	return nil
}

// LatestAssessment returns the most recent assessment for a case.
func (s *MemoryStore) LatestAssessment(_ context.Context, caseID string) (model.TriageAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.assessments[caseID]
	if len(list) == 0 {
		return model.TriageAssessment{}, model.NewNotFoundError(
			fmt.Sprintf("case %q has no assessments", caseID),
		)
	}
	return list[len(list)-1], nil
}

// UpdateCaseStatus moves a case to a new status with optimistic locking.
func (s *MemoryStore) UpdateCaseStatus(_ context.Context, caseID string, version int, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.cases[caseID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("case %q not found", caseID))
	}
	if c.Version != version {
		return model.NewConflictError(
			fmt.Sprintf("case %q version conflict (expected %d, got %d)", caseID, version, c.Version),
		)
	}

	c.Status = status
	c.Version++
	c.LastActivityAt = time.Now().UTC()
	s.cases[caseID] = c
	return nil
}

// UpdateActionStatus transitions an action out of PENDING.
func (s *MemoryStore) UpdateActionStatus(_ context.Context, actionID, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.actions[actionID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("action %q not found", actionID))
	}
	if a.Status != model.ActionStatusPending {
		return model.NewConflictError(
			fmt.Sprintf("action %q is already %s", actionID, a.Status),
		)
	}

	a.Status = status
	a.Reason = reason
	a.Attempts++
	a.UpdatedAt = time.Now().UTC()
	s.actions[actionID] = a
	return nil
}

// SupersedePendingReminder marks the pending follow-up reminder for a case
// as failed with the superseded reason.
func (s *MemoryStore) SupersedePendingReminder(_ context.Context, caseID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.actions {
		if a.CaseID != caseID || a.Kind != model.ActionFollowupReminder {
			continue
		}
		if a.Status != model.ActionStatusPending {
			continue
		}
		a.Status = model.ActionStatusFailed
		a.Reason = model.ReasonSuperseded
		a.UpdatedAt = time.Now().UTC()
		s.actions[id] = a
		return id, nil
	}
	return "", nil
}

// FindDueActions returns pending actions due at or before the cutoff.
func (s *MemoryStore) FindDueActions(_ context.Context, cutoff time.Time) ([]model.ScheduledAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ScheduledAction
	for _, a := range s.actions {
		if a.Status != model.ActionStatusPending || a.DueAt == nil {
			continue
		}
		if a.DueAt.After(cutoff) {
			continue
		}
		result = append(result, a)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DueAt.Before(*result[j].DueAt)
	})
	return result, nil
}

// AppendCaseEvent adds an entry to a case's audit trail.
func (s *MemoryStore) AppendCaseEvent(_ context.Context, event model.CaseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.CaseID] = append(s.events[event.CaseID], event)
	return nil
}

// GetCaseEvents retrieves a case's audit trail ordered by timestamp.
func (s *MemoryStore) GetCaseEvents(_ context.Context, caseID string) ([]model.CaseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.cases[caseID]; !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("case %q not found", caseID))
	}

	events := s.events[caseID]
	result := make([]model.CaseEvent, len(events))
	copy(result, events)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// Len returns the total number of cases. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cases)
}
