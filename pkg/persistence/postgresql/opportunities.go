package postgresql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flywheelhq/flywheel/pkg/models"
)

func (s *Store) OpportunitiesByStatus(ctx context.Context, orgID, accountID string, status models.OpportunityStatus) ([]*models.ExpansionOpportunity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT detail FROM expansion_opportunities
		WHERE organization_id = $1 AND account_id = $2 AND status = $3
		ORDER BY created_at
	`, orgID, accountID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunities: %w", err)
	}
	defer s.closeRows(ctx, rows)

	opportunities := make([]*models.ExpansionOpportunity, 0)

	for rows.Next() {
		var detail []byte

		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}

		opp := &models.ExpansionOpportunity{}
		if err := json.Unmarshal(detail, opp); err != nil {
			return nil, fmt.Errorf("failed to decode opportunity: %w", err)
		}

		opportunities = append(opportunities, opp)
	}

	return opportunities, rows.Err()
}

func (s *Store) SaveOpportunity(ctx context.Context, opp *models.ExpansionOpportunity) error {
	detail, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("failed to encode opportunity: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO expansion_opportunities (id, organization_id, account_id, signal, status, detail, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			signal = EXCLUDED.signal,
			status = EXCLUDED.status,
			detail = EXCLUDED.detail,
			updated_at = EXCLUDED.updated_at
	`, opp.ID, opp.OrganizationID, opp.AccountID, string(opp.Signal), string(opp.Status),
		detail, opp.CreatedAt, opp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save opportunity: %w", err)
	}

	return nil
}
