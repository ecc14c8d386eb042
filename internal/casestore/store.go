// Package casestore persists triage cases, assessments, scheduled actions
// and the per-case audit trail. Two implementations exist: an in-memory
// store for tests and single-node use, and a PostgreSQL store for
// production.
package casestore

import (
	"context"
	"time"

	"github.com/carewire/triage/model"
)

// Store persists cases and everything hanging off them.
type Store interface {
	// CreateCase persists a new case. Returns CONFLICT if the ID exists.
	CreateCase(ctx context.Context, c model.Case) error

	// GetCase retrieves a case by ID. Returns NOT_FOUND if absent.
	GetCase(ctx context.Context, caseID string) (model.Case, error)

	// GetCaseDetail retrieves a case with its assessments (oldest first)
	// and actions (oldest first).
	GetCaseDetail(ctx context.Context, caseID string) (model.CaseDetail, error)

	// FindActiveCases returns cases that are not resolved or closed,
	// ordered by most acute latest priority first, then by oldest
	// LastActivityAt within the same level.
	FindActiveCases(ctx context.Context, filters model.CaseFilters) ([]model.CaseDetail, error)

	// AppendAssessment atomically records an assessment, its PENDING
	// actions and the new case status. The case version must match the
	// caller's read; returns CONFLICT on a version mismatch so the caller
	// can re-read and retry. No partial state is ever visible.
	AppendAssessment(ctx context.Context, c model.Case, assessment model.TriageAssessment, actions []model.ScheduledAction) error

	// LatestAssessment returns the most recent assessment for a case, or
	// NOT_FOUND if the case has none.
	LatestAssessment(ctx context.Context, caseID string) (model.TriageAssessment, error)

	// UpdateCaseStatus moves a case to a new status with optimistic
	// locking on the version.
	UpdateCaseStatus(ctx context.Context, caseID string, version int, status string) error

	// UpdateActionStatus transitions an action out of PENDING. Terminal
	// statuses never change: updating an already-terminal action returns
	// CONFLICT.
	UpdateActionStatus(ctx context.Context, actionID, status, reason string) error

	// SupersedePendingReminder marks the pending follow-up reminder for a
	// case, if any, as FAILED with the superseded reason. Compare-and-swap
	// on the PENDING status: a reminder that was dispatched concurrently
	// is left alone. Returns the superseded action ID, or "" if none.
	SupersedePendingReminder(ctx context.Context, caseID string) (string, error)

	// FindDueActions returns PENDING actions whose DueAt is at or before
	// the cutoff, oldest due first.
	FindDueActions(ctx context.Context, cutoff time.Time) ([]model.ScheduledAction, error)

	// AppendCaseEvent adds an entry to a case's audit trail.
	AppendCaseEvent(ctx context.Context, event model.CaseEvent) error

	// GetCaseEvents retrieves a case's audit trail ordered by timestamp.
	GetCaseEvents(ctx context.Context, caseID string) ([]model.CaseEvent, error)

	// HealthCheck verifies the store is reachable. Used by readiness.
	HealthCheck(ctx context.Context) error
}
