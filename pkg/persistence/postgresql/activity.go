package postgresql

import (
	"context"
	"fmt"

	"github.com/flywheelhq/flywheel/pkg/models"
)

func (s *Store) AppendActivity(ctx context.Context, entry *models.ActivityEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, organization_id, user_id, kind, message, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
	`, entry.ID, entry.OrganizationID, entry.UserID, entry.Kind, entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}

	return nil
}
