package casestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carewire/triage/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL case store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const caseColumns = `id, subject_id, chief_complaint, reported_symptoms,
       status, created_at, last_activity_at, version`

// HealthCheck pings the connection pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateCase inserts a new case.
func (s *PgStore) CreateCase(ctx context.Context, c model.Case) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cases (
			id, subject_id, chief_complaint, reported_symptoms,
			status, created_at, last_activity_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.SubjectID, c.ChiefComplaint, c.ReportedSymptoms,
		c.Status, c.CreatedAt, c.LastActivityAt, c.Version,
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// GetCase retrieves a case by ID.
func (s *PgStore) GetCase(ctx context.Context, caseID string) (model.Case, error) {
	var c model.Case
	err := s.pool.QueryRow(ctx, `
		SELECT `+caseColumns+`
		FROM cases
		WHERE id = $1`,
		caseID,
	).Scan(
		&c.ID, &c.SubjectID, &c.ChiefComplaint, &c.ReportedSymptoms,
		&c.Status, &c.CreatedAt, &c.LastActivityAt, &c.Version,
	)
	if err == pgx.ErrNoRows {
		return model.Case{}, model.NewNotFoundError(fmt.Sprintf("case %q not found", caseID))
	}
	if err != nil {
		return model.Case{}, fmt.Errorf("query case: %w", err)
	}
	return c, nil
}

// GetCaseDetail retrieves a case with its assessments and actions.
func (s *PgStore) GetCaseDetail(ctx context.Context, caseID string) (model.CaseDetail, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return model.CaseDetail{}, err
	}

	assessments, err := s.queryAssessments(ctx, `
		SELECT id, case_id, assessed_at, priority_level, triage_score,
		       red_flags, recommended_action, estimated_wait_minutes
		FROM triage_assessments
		WHERE case_id = $1
		ORDER BY assessed_at ASC`, caseID)
	if err != nil {
		return model.CaseDetail{}, err
	}

	actions, err := s.queryActions(ctx, `
		SELECT id, case_id, assessment_id, kind, due_at, status,
		       attempts, reason, created_at, updated_at
		FROM scheduled_actions
		WHERE case_id = $1
		ORDER BY created_at ASC`, caseID)
	if err != nil {
		return model.CaseDetail{}, err
	}

	return model.CaseDetail{
		Case:           c,
		Assessments:    assessments,
		Actions:        actions,
		NeedsAttention: needsAttention(actions),
	}, nil
}

// FindActiveCases returns cases that are not resolved or closed, most acute
// latest assessment first. Filtering on attention happens in memory since it
// derives from the action set.
func (s *PgStore) FindActiveCases(ctx context.Context, filters model.CaseFilters) ([]model.CaseDetail, error) {
	query := `
		SELECT c.id
		FROM cases c
		LEFT JOIN LATERAL (
			SELECT priority_level
			FROM triage_assessments
			WHERE case_id = c.id
			ORDER BY assessed_at DESC
			LIMIT 1
		) latest ON true
		WHERE c.status NOT IN ('resolved', 'closed')`
	args := []any{}
	argIdx := 1

	if filters.Priority != "" {
		query += fmt.Sprintf(" AND latest.priority_level = $%d", argIdx)
		args = append(args, filters.Priority)
		argIdx++
	}

	query += `
		ORDER BY CASE latest.priority_level
			WHEN 'critical' THEN 0
			WHEN 'urgent' THEN 1
			WHEN 'moderate_high' THEN 2
			WHEN 'moderate_low' THEN 3
			WHEN 'mild' THEN 4
			ELSE 5
		END ASC, c.last_activity_at ASC`

	if filters.Limit > 0 && !filters.AttentionOnly {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 && !filters.AttentionOnly {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query active cases: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan case id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var result []model.CaseDetail
	for _, id := range ids {
		detail, err := s.GetCaseDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		if filters.AttentionOnly && !detail.NeedsAttention {
			continue
		}
		result = append(result, detail)
	}

	if filters.AttentionOnly {
		if filters.Offset > 0 {
			if filters.Offset >= len(result) {
				return []model.CaseDetail{}, nil
			}
			result = result[filters.Offset:]
		}
		if filters.Limit > 0 && filters.Limit < len(result) {
			result = result[:filters.Limit]
		}
	}

	return result, nil
}

// AppendAssessment records an assessment, its pending actions and the case
// update in a single transaction with optimistic locking on the case version.
func (s *PgStore) AppendAssessment(ctx context.Context, c model.Case, assessment model.TriageAssessment, actions []model.ScheduledAction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE cases SET
			chief_complaint = $1,
			reported_symptoms = $2,
			status = $3,
			last_activity_at = $4,
			version = $5
		WHERE id = $6 AND version = $7`,
		c.ChiefComplaint, c.ReportedSymptoms, c.Status,
		assessment.AssessedAt, c.Version+1,
		c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("case %q version conflict (expected %d)", c.ID, c.Version),
		)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO triage_assessments (
			id, case_id, assessed_at, priority_level, triage_score,
			red_flags, recommended_action, estimated_wait_minutes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		assessment.ID, assessment.CaseID, assessment.AssessedAt,
		assessment.PriorityLevel, assessment.TriageScore,
		assessment.RedFlags, assessment.RecommendedAction, assessment.EstimatedWaitMinutes,
	)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}

	for _, a := range actions {
		_, err = tx.Exec(ctx, `
			INSERT INTO scheduled_actions (
				id, case_id, assessment_id, kind, due_at, status,
				attempts, reason, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			a.ID, a.CaseID, a.AssessmentID, a.Kind, a.DueAt, a.Status,
			a.Attempts, a.Reason, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert scheduled action: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// LatestAssessment returns the most recent assessment for a case.
func (s *PgStore) LatestAssessment(ctx context.Context, caseID string) (model.TriageAssessment, error) {
	assessments, err := s.queryAssessments(ctx, `
		SELECT id, case_id, assessed_at, priority_level, triage_score,
		       red_flags, recommended_action, estimated_wait_minutes
		FROM triage_assessments
		WHERE case_id = $1
		ORDER BY assessed_at DESC
		LIMIT 1`, caseID)
	if err != nil {
		return model.TriageAssessment{}, err
	}
	if len(assessments) == 0 {
		return model.TriageAssessment{}, model.NewNotFoundError(
			fmt.Sprintf("case %q has no assessments", caseID),
		)
	}
	return assessments[0], nil
}

// UpdateCaseStatus moves a case to a new status with optimistic locking.
func (s *PgStore) UpdateCaseStatus(ctx context.Context, caseID string, version int, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cases SET
			status = $1,
			last_activity_at = $2,
			version = $3
		WHERE id = $4 AND version = $5`,
		status, time.Now().UTC(), version+1, caseID, version,
	)
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("case %q version conflict (expected %d)", caseID, version),
		)
	}
	return nil
}

// UpdateActionStatus transitions an action out of PENDING. The status guard
// in the WHERE clause keeps terminal actions terminal.
func (s *PgStore) UpdateActionStatus(ctx context.Context, actionID, status, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_actions SET
			status = $1,
			reason = $2,
			attempts = attempts + 1,
			updated_at = $3
		WHERE id = $4 AND status = 'pending'`,
		status, reason, time.Now().UTC(), actionID,
	)
	if err != nil {
		return fmt.Errorf("update action status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("action %q is not pending", actionID),
		)
	}
	return nil
}

// SupersedePendingReminder marks the pending follow-up reminder for a case as
// failed with the superseded reason. The status guard makes this a
// compare-and-swap: a concurrently dispatched reminder is left alone.
func (s *PgStore) SupersedePendingReminder(ctx context.Context, caseID string) (string, error) {
	var actionID string
	err := s.pool.QueryRow(ctx, `
		UPDATE scheduled_actions SET
			status = 'failed',
			reason = $1,
			updated_at = $2
		WHERE case_id = $3 AND kind = 'followup_reminder' AND status = 'pending'
		RETURNING id`,
		model.ReasonSuperseded, time.Now().UTC(), caseID,
	).Scan(&actionID)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("supersede reminder: %w", err)
	}
	return actionID, nil
}

// FindDueActions returns pending actions due at or before the cutoff.
func (s *PgStore) FindDueActions(ctx context.Context, cutoff time.Time) ([]model.ScheduledAction, error) {
	return s.queryActions(ctx, `
		SELECT id, case_id, assessment_id, kind, due_at, status,
		       attempts, reason, created_at, updated_at
		FROM scheduled_actions
		WHERE status = 'pending' AND due_at IS NOT NULL AND due_at <= $1
		ORDER BY due_at ASC`, cutoff)
}

// AppendCaseEvent adds an entry to the case audit trail.
func (s *PgStore) AppendCaseEvent(ctx context.Context, event model.CaseEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO case_events (
			id, case_id, event, actor_id, data, comment, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.CaseID, event.Event, event.ActorID,
		dataJSON, event.Comment, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert case event: %w", err)
	}
	return nil
}

// GetCaseEvents retrieves a case's audit trail.
func (s *PgStore) GetCaseEvents(ctx context.Context, caseID string) ([]model.CaseEvent, error) {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, case_id, event, actor_id, data, comment, created_at
		FROM case_events
		WHERE case_id = $1
		ORDER BY created_at ASC`,
		caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("query case events: %w", err)
	}
	defer rows.Close()

	var events []model.CaseEvent
	for rows.Next() {
		var evt model.CaseEvent
		var dataJSON []byte
		if err := rows.Scan(
			&evt.ID, &evt.CaseID, &evt.Event, &evt.ActorID,
			&dataJSON, &evt.Comment, &evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan case event: %w", err)
		}
		if dataJSON != nil {
			_ = json.Unmarshal(dataJSON, &evt.Data)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func (s *PgStore) queryAssessments(ctx context.Context, query string, args ...any) ([]model.TriageAssessment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	var assessments []model.TriageAssessment
	for rows.Next() {
		var a model.TriageAssessment
		if err := rows.Scan(
			&a.ID, &a.CaseID, &a.AssessedAt, &a.PriorityLevel, &a.TriageScore,
			&a.RedFlags, &a.RecommendedAction, &a.EstimatedWaitMinutes,
		); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		assessments = append(assessments, a)
	}
	return assessments, rows.Err()
}

func (s *PgStore) queryActions(ctx context.Context, query string, args ...any) ([]model.ScheduledAction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var actions []model.ScheduledAction
	for rows.Next() {
		var a model.ScheduledAction
		if err := rows.Scan(
			&a.ID, &a.CaseID, &a.AssessmentID, &a.Kind, &a.DueAt, &a.Status,
			&a.Attempts, &a.Reason, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
