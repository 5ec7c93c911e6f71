package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/flywheelhq/flywheel/pkg/models"
)

func (s *Store) ActiveSegments(ctx context.Context, orgID string) ([]*models.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT definition FROM segments
		WHERE organization_id = $1 AND active = true
		ORDER BY created_at
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer s.closeRows(ctx, rows)

	segments := make([]*models.Segment, 0)

	for rows.Next() {
		var definition []byte

		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}

		seg := &models.Segment{}
		if err := json.Unmarshal(definition, seg); err != nil {
			return nil, fmt.Errorf("failed to decode segment definition: %w", err)
		}

		segments = append(segments, seg)
	}

	return segments, rows.Err()
}

func (s *Store) SegmentByID(ctx context.Context, orgID, id string) (*models.Segment, error) {
	var definition []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM segments WHERE organization_id = $1 AND id = $2`,
		orgID, id).Scan(&definition)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("segment %s not found", id)
		}

		return nil, fmt.Errorf("failed to query segment: %w", err)
	}

	seg := &models.Segment{}
	if err := json.Unmarshal(definition, seg); err != nil {
		return nil, fmt.Errorf("failed to decode segment definition: %w", err)
	}

	return seg, nil
}

func (s *Store) SaveSegment(ctx context.Context, segment *models.Segment) error {
	definition, err := json.Marshal(segment)
	if err != nil {
		return fmt.Errorf("failed to encode segment definition: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO segments (id, organization_id, name, active, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at
	`, segment.ID, segment.OrganizationID, segment.Name, segment.Active,
		definition, segment.CreatedAt, segment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save segment: %w", err)
	}

	return nil
}

func (s *Store) UpsertMembership(ctx context.Context, orgID string, membership *models.SegmentMembership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segment_memberships (organization_id, segment_id, user_id, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, segment_id, user_id) DO NOTHING
	`, orgID, membership.SegmentID, membership.UserID, membership.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}

	return nil
}

func (s *Store) RemoveMembership(ctx context.Context, orgID, segmentID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM segment_memberships
		WHERE organization_id = $1 AND segment_id = $2 AND user_id = $3
	`, orgID, segmentID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}

	return nil
}

func (s *Store) IsMember(ctx context.Context, orgID, segmentID, userID string) (bool, error) {
	var exists bool

	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM segment_memberships
			WHERE organization_id = $1 AND segment_id = $2 AND user_id = $3
		)
	`, orgID, segmentID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}

	return exists, nil
}
