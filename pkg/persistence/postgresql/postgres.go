// Package postgresql implements the engine's store on PostgreSQL.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/persistence"
	"github.com/flywheelhq/flywheel/pkg/persistence/sqlbase"
)

// Store implements persistence.Store on PostgreSQL. Rich document-ish
// structures (flow graphs, enrollment state, user snapshots) live in JSONB;
// the columns pulled out alongside exist for querying.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ persistence.Store = (*Store)(nil)

func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: database, logger: logger}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *Store) Close(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Users

func (s *Store) UserByExternalID(ctx context.Context, orgID, externalID string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM users WHERE organization_id = $1 AND external_id = $2`,
		orgID, externalID))
}

func (s *Store) UserByID(ctx context.Context, orgID, id string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM users WHERE organization_id = $1 AND id = $2`,
		orgID, id))
}

func (s *Store) scanUser(row *sql.Row) (*models.User, error) {
	var snapshot []byte

	if err := row.Scan(&snapshot); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrUserNotFound
		}

		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	user := &models.User{}
	if err := json.Unmarshal(snapshot, user); err != nil {
		return nil, fmt.Errorf("failed to decode user snapshot: %w", err)
	}

	return user, nil
}

func (s *Store) SaveUser(ctx context.Context, user *models.User) error {
	snapshot, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, organization_id, external_id, account_id, email, name,
			snapshot, lifecycle_state, churn_score, expansion_score, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			snapshot = EXCLUDED.snapshot,
			lifecycle_state = EXCLUDED.lifecycle_state,
			churn_score = EXCLUDED.churn_score,
			expansion_score = EXCLUDED.expansion_score,
			updated_at = EXCLUDED.updated_at
	`, user.ID, user.OrganizationID, user.ExternalID, user.AccountID, user.Email, user.Name,
		snapshot, user.LifecycleState, user.ChurnScore, user.ExpansionScore,
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	return nil
}

func (s *Store) UpdateUserFields(ctx context.Context, orgID, id string, fields map[string]any) error {
	user, err := s.UserByID(ctx, orgID, id)
	if err != nil {
		return err
	}

	// Merge the partial update through the JSON representation so incoming
	// field names line up with the wire format.
	current, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user snapshot: %w", err)
	}

	var asMap map[string]any
	if err := json.Unmarshal(current, &asMap); err != nil {
		return fmt.Errorf("failed to decode user snapshot: %w", err)
	}

	for k, v := range fields {
		asMap[k] = v
	}

	merged, err := json.Marshal(asMap)
	if err != nil {
		return fmt.Errorf("failed to encode merged snapshot: %w", err)
	}

	updated := &models.User{}
	if err := json.Unmarshal(merged, updated); err != nil {
		return fmt.Errorf("failed to decode merged snapshot: %w", err)
	}

	updated.UpdatedAt = time.Now().UTC()

	return s.SaveUser(ctx, updated)
}

// Accounts

func (s *Store) AccountByID(ctx context.Context, orgID, id string) (*models.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM accounts WHERE organization_id = $1 AND id = $2`,
		orgID, id))
}

func (s *Store) AccountByExternalID(ctx context.Context, orgID, externalID string) (*models.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM accounts WHERE organization_id = $1 AND external_id = $2`,
		orgID, externalID))
}

func (s *Store) scanAccount(row *sql.Row) (*models.Account, error) {
	var snapshot []byte

	if err := row.Scan(&snapshot); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrAccountNotFound
		}

		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	account := &models.Account{}
	if err := json.Unmarshal(snapshot, account); err != nil {
		return nil, fmt.Errorf("failed to decode account snapshot: %w", err)
	}

	return account, nil
}

func (s *Store) SaveAccount(ctx context.Context, account *models.Account) error {
	snapshot, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode account snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, organization_id, external_id, name, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
	`, account.ID, account.OrganizationID, account.ExternalID, account.Name,
		snapshot, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	return nil
}
