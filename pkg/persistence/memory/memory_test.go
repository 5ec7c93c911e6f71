package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/persistence"
	"github.com/flywheelhq/flywheel/pkg/testutil"
)

var testNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func TestStoreReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	user := testutil.CreateTestUser(testNow)
	user.ID = "user-1"
	require.NoError(t, store.SaveUser(ctx, user))

	loaded, err := store.UserByID(ctx, "org-1", "user-1")
	require.NoError(t, err)

	// Mutating the returned copy must not leak into the store.
	loaded.Email = "mutated@example.com"

	again, err := store.UserByID(ctx, "org-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", again.Email)
}

func TestStoreTenantIsolation(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	user := testutil.CreateTestUser(testNow)
	user.ID = "user-1"
	require.NoError(t, store.SaveUser(ctx, user))

	_, err := store.UserByID(ctx, "org-2", "user-1")
	assert.ErrorIs(t, err, persistence.ErrUserNotFound)

	_, err = store.UserByExternalID(ctx, "org-2", user.ExternalID)
	assert.ErrorIs(t, err, persistence.ErrUserNotFound)
}

func TestUpdateUserFields(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	user := testutil.CreateTestUser(testNow)
	user.ID = "user-1"
	require.NoError(t, store.SaveUser(ctx, user))

	require.NoError(t, store.UpdateUserFields(ctx, "org-1", "user-1", map[string]any{
		"lifecycle_state": "at_risk",
		"churn_score":     77,
	}))

	loaded, err := store.UserByID(ctx, "org-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateAtRisk, loaded.LifecycleState)
	assert.Equal(t, 77, loaded.ChurnScore)

	// Untouched fields survive the partial update.
	assert.Equal(t, "user@example.com", loaded.Email)
}

func TestDueEnrollments(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Hour)

	enrollments := []*models.FlowEnrollment{
		{ID: "due-1", OrganizationID: "org-1", FlowID: "f1", UserID: "u1", Status: models.EnrollmentActive, NextProcessAt: &past},
		{ID: "due-2", OrganizationID: "org-2", FlowID: "f2", UserID: "u2", Status: models.EnrollmentActive, NextProcessAt: &past},
		{ID: "later", OrganizationID: "org-1", FlowID: "f1", UserID: "u3", Status: models.EnrollmentActive, NextProcessAt: &future},
		{ID: "done", OrganizationID: "org-1", FlowID: "f1", UserID: "u4", Status: models.EnrollmentCompleted, NextProcessAt: &past},
		{ID: "running", OrganizationID: "org-1", FlowID: "f1", UserID: "u5", Status: models.EnrollmentActive},
	}
	for _, e := range enrollments {
		require.NoError(t, store.SaveEnrollment(ctx, e))
	}

	// The sweep is global: due enrollments from every organization come back.
	due, err := store.DueEnrollments(ctx, testNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)

	ids := []string{due[0].ID, due[1].ID}
	assert.Contains(t, ids, "due-1")
	assert.Contains(t, ids, "due-2")

	limited, err := store.DueEnrollments(ctx, testNow, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordDeliveryComputesSuccessRate(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	sub := &models.WebhookSubscription{
		ID:             "wh-1",
		OrganizationID: "org-1",
		URL:            "https://example.com/hook",
		Secret:         "super-secret-signing-key",
		Status:         models.WebhookActive,
	}
	require.NoError(t, store.SaveWebhook(ctx, sub))

	require.NoError(t, store.RecordDelivery(ctx, "org-1", "wh-1", true))
	require.NoError(t, store.RecordDelivery(ctx, "org-1", "wh-1", true))
	require.NoError(t, store.RecordDelivery(ctx, "org-1", "wh-1", false))

	loaded, err := store.WebhookByID(ctx, "org-1", "wh-1")
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, loaded.SuccessRate, 0.001)

	err = store.RecordDelivery(ctx, "org-1", "missing", true)
	assert.ErrorIs(t, err, persistence.ErrWebhookNotFound)
}

func TestRecordDeliveryMarksFailing(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	sub := &models.WebhookSubscription{
		ID:             "wh-1",
		OrganizationID: "org-1",
		URL:            "https://example.com/hook",
		Secret:         "super-secret-signing-key",
		Status:         models.WebhookActive,
	}
	require.NoError(t, store.SaveWebhook(ctx, sub))

	// All failures, but below the sample floor: still active.
	for range models.WebhookFailingMinDeliveries - 1 {
		require.NoError(t, store.RecordDelivery(ctx, "org-1", "wh-1", false))
	}

	loaded, err := store.WebhookByID(ctx, "org-1", "wh-1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookActive, loaded.Status)

	// The delivery that crosses the floor with a degraded rate flips it.
	require.NoError(t, store.RecordDelivery(ctx, "org-1", "wh-1", false))

	loaded, err = store.WebhookByID(ctx, "org-1", "wh-1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookFailing, loaded.Status)
}

func TestSegmentMembership(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.UpsertMembership(ctx, "org-1", &models.SegmentMembership{
		SegmentID: "seg-1",
		UserID:    "user-1",
		JoinedAt:  testNow,
	}))

	// Upsert is idempotent.
	require.NoError(t, store.UpsertMembership(ctx, "org-1", &models.SegmentMembership{
		SegmentID: "seg-1",
		UserID:    "user-1",
		JoinedAt:  testNow.Add(time.Hour),
	}))

	member, err := store.IsMember(ctx, "org-1", "seg-1", "user-1")
	require.NoError(t, err)
	assert.True(t, member)

	member, err = store.IsMember(ctx, "org-2", "seg-1", "user-1")
	require.NoError(t, err)
	assert.False(t, member)

	require.NoError(t, store.RemoveMembership(ctx, "org-1", "seg-1", "user-1"))

	member, err = store.IsMember(ctx, "org-1", "seg-1", "user-1")
	require.NoError(t, err)
	assert.False(t, member)
}
