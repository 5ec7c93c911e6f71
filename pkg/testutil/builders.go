// Package testutil provides test data builders shared across package tests.
package testutil

import (
	"time"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/google/uuid"
)

// CreateTestUser creates a healthy activated user with default values that
// can be overridden.
func CreateTestUser(now time.Time, overrides ...func(*models.User)) *models.User {
	activated := now.AddDate(0, -2, 0)
	lastLogin := now.Add(-24 * time.Hour)

	user := &models.User{
		ID:                     uuid.New().String(),
		OrganizationID:         "org-1",
		ExternalID:             "ext-" + uuid.New().String(),
		Email:                  "user@example.com",
		Name:                   "Test User",
		LifecycleState:         models.StateActivated,
		ActivatedAt:            &activated,
		LastLoginAt:            &lastLogin,
		LoginsLast7Days:        4,
		LoginsLast30Days:       12,
		AvgSessionMinutes:      18,
		FeaturesUsedLast30Days: []string{"reports", "exports", "alerts"},
		SeatCount:              5,
		SeatLimit:              10,
		APICallsLast30:         1000,
		APICallLimit:           10000,
		PlanTier:               models.PlanGrowth,
		CreatedAt:              now.AddDate(0, -3, 0),
		UpdatedAt:              now,
	}

	for _, override := range overrides {
		override(user)
	}

	return user
}

// WithState sets the lifecycle state.
func WithState(state models.LifecycleState) func(*models.User) {
	return func(u *models.User) {
		u.LifecycleState = state
	}
}

// WithLastLogin sets the last login timestamp.
func WithLastLogin(at time.Time) func(*models.User) {
	return func(u *models.User) {
		u.LastLoginAt = &at
	}
}

// WithNoLogins zeroes every recency signal, modeling a fully dark user.
func WithNoLogins() func(*models.User) {
	return func(u *models.User) {
		u.LastLoginAt = nil
		u.LoginsLast7Days = 0
		u.LoginsLast30Days = 0
		u.AvgSessionMinutes = 0
	}
}

// WithPlan sets the plan tier.
func WithPlan(tier models.PlanTier) func(*models.User) {
	return func(u *models.User) {
		u.PlanTier = tier
	}
}

// CreateTestAccount creates a Growth-plan account with default values that
// can be overridden.
func CreateTestAccount(now time.Time, overrides ...func(*models.Account)) *models.Account {
	account := &models.Account{
		ID:             uuid.New().String(),
		OrganizationID: "org-1",
		ExternalID:     "acct-" + uuid.New().String(),
		Name:           "Test Account",
		PlanTier:       models.PlanGrowth,
		MRRCents:       models.TierMRRCents(models.PlanGrowth),
		SeatLimit:      10,
		UserCount:      5,
		Health:         models.HealthGood,
		CreatedAt:      now.AddDate(0, -6, 0),
		UpdatedAt:      now,
	}

	for _, override := range overrides {
		override(account)
	}

	return account
}

// CreateTestFlow creates a minimal valid trigger -> action -> exit flow.
func CreateTestFlow(overrides ...func(*models.FlowDefinition)) *models.FlowDefinition {
	f := &models.FlowDefinition{
		ID:             uuid.New().String(),
		OrganizationID: "org-1",
		Name:           "Test Flow",
		Status:         models.FlowStatusActive,
		Version:        1,
		Nodes: []models.FlowNode{
			{ID: "t1", Type: models.NodeTrigger, Config: map[string]any{"event_name": "signup"}},
			{ID: "a1", Type: models.NodeAction, Config: map[string]any{
				"kind":    "send_email",
				"subject": "Hello {{user.name}}",
				"body":    "Welcome.",
			}},
			{ID: "x1", Type: models.NodeExit, Config: map[string]any{}},
		},
		Edges: []models.FlowEdge{
			{ID: "e1", SourceID: "t1", TargetID: "a1"},
			{ID: "e2", SourceID: "a1", TargetID: "x1"},
		},
	}

	for _, override := range overrides {
		override(f)
	}

	return f
}
