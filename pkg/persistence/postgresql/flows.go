package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/persistence"
)

func (s *Store) FlowsByStatus(ctx context.Context, orgID string, status models.FlowStatus) ([]*models.FlowDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT definition FROM flows
		WHERE organization_id = $1 AND status = $2
		ORDER BY created_at
	`, orgID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer s.closeRows(ctx, rows)

	flows := make([]*models.FlowDefinition, 0)

	for rows.Next() {
		var definition []byte

		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		f := &models.FlowDefinition{}
		if err := json.Unmarshal(definition, f); err != nil {
			return nil, fmt.Errorf("failed to decode flow definition: %w", err)
		}

		flows = append(flows, f)
	}

	return flows, rows.Err()
}

func (s *Store) FlowByID(ctx context.Context, orgID, id string) (*models.FlowDefinition, error) {
	var definition []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM flows WHERE organization_id = $1 AND id = $2`,
		orgID, id).Scan(&definition)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrFlowNotFound
		}

		return nil, fmt.Errorf("failed to query flow: %w", err)
	}

	f := &models.FlowDefinition{}
	if err := json.Unmarshal(definition, f); err != nil {
		return nil, fmt.Errorf("failed to decode flow definition: %w", err)
	}

	return f, nil
}

func (s *Store) SaveFlow(ctx context.Context, flow *models.FlowDefinition) error {
	definition, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to encode flow definition: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flows (id, organization_id, name, status, version, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at
	`, flow.ID, flow.OrganizationID, flow.Name, flow.Status, flow.Version,
		definition, flow.CreatedAt, flow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	return nil
}

func (s *Store) DeleteFlow(ctx context.Context, orgID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM flows WHERE organization_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrFlowNotFound
	}

	return nil
}

func (s *Store) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		s.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
