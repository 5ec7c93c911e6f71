package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/persistence"
)

func (s *Store) WebhooksByOrg(ctx context.Context, orgID string) ([]*models.WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, url, secret, event_types, status,
		       success_count, failure_count, COALESCE(description, ''), created_at, updated_at
		FROM webhook_subscriptions
		WHERE organization_id = $1
		ORDER BY created_at
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook subscriptions: %w", err)
	}
	defer s.closeRows(ctx, rows)

	subs := make([]*models.WebhookSubscription, 0)

	for rows.Next() {
		sub, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}

		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func (s *Store) WebhookByID(ctx context.Context, orgID, id string) (*models.WebhookSubscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, url, secret, event_types, status,
		       success_count, failure_count, COALESCE(description, ''), created_at, updated_at
		FROM webhook_subscriptions
		WHERE organization_id = $1 AND id = $2
	`, orgID, id)

	sub, err := scanWebhook(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrWebhookNotFound
		}

		return nil, err
	}

	return sub, nil
}

func (s *Store) SaveWebhook(ctx context.Context, sub *models.WebhookSubscription) error {
	eventTypes := sub.EventTypes
	if eventTypes == nil {
		eventTypes = []string{}
	}

	types, err := json.Marshal(eventTypes)
	if err != nil {
		return fmt.Errorf("failed to encode event types: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions
			(id, organization_id, url, secret, event_types, status, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			secret = EXCLUDED.secret,
			event_types = EXCLUDED.event_types,
			status = EXCLUDED.status,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at
	`, sub.ID, sub.OrganizationID, sub.URL, sub.Secret, types,
		string(sub.Status), sub.Description, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save webhook subscription: %w", err)
	}

	return nil
}

func (s *Store) RecordDelivery(ctx context.Context, orgID, subscriptionID string, success bool) error {
	column := "failure_count"
	if success {
		column = "success_count"
	}

	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE webhook_subscriptions
		SET %s = %s + 1,
			status = CASE
				WHEN status = $3
					AND success_count + failure_count + 1 >= $4
					AND (success_count + CASE WHEN $6 THEN 1 ELSE 0 END)::float
						/ (success_count + failure_count + 1) < $5
				THEN $7
				ELSE status
			END,
			updated_at = NOW()
		WHERE organization_id = $1 AND id = $2
	`, column, column), orgID, subscriptionID,
		string(models.WebhookActive), models.WebhookFailingMinDeliveries,
		models.WebhookFailingRateFloor, success, string(models.WebhookFailing))
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delivery update: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWebhookNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhook(row rowScanner) (*models.WebhookSubscription, error) {
	var (
		sub          models.WebhookSubscription
		types        []byte
		status       string
		successCount int64
		failureCount int64
	)

	err := row.Scan(&sub.ID, &sub.OrganizationID, &sub.URL, &sub.Secret, &types,
		&status, &successCount, &failureCount, &sub.Description, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan webhook subscription: %w", err)
	}

	if err := json.Unmarshal(types, &sub.EventTypes); err != nil {
		return nil, fmt.Errorf("failed to decode event types: %w", err)
	}

	sub.Status = models.WebhookStatus(status)

	if total := successCount + failureCount; total > 0 {
		sub.SuccessRate = float64(successCount) / float64(total)
	}

	return &sub, nil
}
