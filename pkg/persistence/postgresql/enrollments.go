package postgresql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flywheelhq/flywheel/pkg/models"
)

func (s *Store) EnrollmentsByUser(ctx context.Context, orgID, userID string) ([]*models.FlowEnrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state FROM enrollments
		WHERE organization_id = $1 AND user_id = $2
		ORDER BY enrolled_at
	`, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer s.closeRows(ctx, rows)

	enrollments := make([]*models.FlowEnrollment, 0)

	for rows.Next() {
		var state []byte

		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		e := &models.FlowEnrollment{}
		if err := json.Unmarshal(state, e); err != nil {
			return nil, fmt.Errorf("failed to decode enrollment state: %w", err)
		}

		enrollments = append(enrollments, e)
	}

	return enrollments, rows.Err()
}

func (s *Store) SaveEnrollment(ctx context.Context, enrollment *models.FlowEnrollment) error {
	state, err := json.Marshal(enrollment)
	if err != nil {
		return fmt.Errorf("failed to encode enrollment state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO enrollments (id, organization_id, flow_id, user_id, status,
			next_process_at, state, enrolled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			next_process_at = EXCLUDED.next_process_at,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`, enrollment.ID, enrollment.OrganizationID, enrollment.FlowID, enrollment.UserID,
		enrollment.Status, enrollment.NextProcessAt, state,
		enrollment.EnrolledAt, enrollment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}

	return nil
}

func (s *Store) DueEnrollments(ctx context.Context, now time.Time, limit int) ([]*models.FlowEnrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state FROM enrollments
		WHERE status = $1 AND next_process_at IS NOT NULL AND next_process_at <= $2
		ORDER BY next_process_at
		LIMIT $3
	`, models.EnrollmentActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due enrollments: %w", err)
	}
	defer s.closeRows(ctx, rows)

	enrollments := make([]*models.FlowEnrollment, 0)

	for rows.Next() {
		var state []byte

		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		e := &models.FlowEnrollment{}
		if err := json.Unmarshal(state, e); err != nil {
			return nil, fmt.Errorf("failed to decode enrollment state: %w", err)
		}

		enrollments = append(enrollments, e)
	}

	return enrollments, rows.Err()
}
