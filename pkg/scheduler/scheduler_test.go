package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywheelhq/flywheel/pkg/mailer"
	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/persistence/memory"
	"github.com/flywheelhq/flywheel/pkg/pipeline"
	"github.com/flywheelhq/flywheel/pkg/testutil"
)

var testStart = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

// seedDueEnrollment stores a flow, a user, and an enrollment parked on the
// flow's action node with a wake time already in the past.
func seedDueEnrollment(t *testing.T, store *memory.Store) *models.FlowEnrollment {
	t.Helper()

	ctx := context.Background()
	now := testStart

	flow := testutil.CreateTestFlow()
	require.NoError(t, store.SaveFlow(ctx, flow))

	user := testutil.CreateTestUser(now)
	require.NoError(t, store.SaveUser(ctx, user))

	due := now.Add(-time.Minute)
	enrollment := &models.FlowEnrollment{
		ID:             "enr-1",
		OrganizationID: user.OrganizationID,
		FlowID:         flow.ID,
		FlowVersion:    flow.Version,
		UserID:         user.ID,
		Status:         models.EnrollmentActive,
		CurrentNodeID:  "a1",
		NextProcessAt:  &due,
		EnrolledAt:     now.Add(-time.Hour),
		UpdatedAt:      now.Add(-time.Hour),
	}
	require.NoError(t, store.SaveEnrollment(ctx, enrollment))

	return enrollment
}

func newTestScheduler(t *testing.T, redisClient *redis.Client) (*Scheduler, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	logger := slog.Default()
	actions := pipeline.NewActionDispatcher(store, mailer.NewLogMailer(logger), logger)
	p := pipeline.New(store, actions, nil, nil, clockwork.NewFakeClockAt(testStart), logger)

	return New(p, redisClient, 0, logger), store
}

func TestRunSweepWithoutRedisAdvancesDueEnrollments(t *testing.T) {
	s, store := newTestScheduler(t, nil)
	ctx := context.Background()

	seeded := seedDueEnrollment(t, store)

	s.runSweep(ctx)

	enrollments, err := store.EnrollmentsByUser(ctx, seeded.OrganizationID, seeded.UserID)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, models.EnrollmentCompleted, enrollments[0].Status)
}

func TestRunSweepSkipsWhenLockUnavailable(t *testing.T) {
	// An unreachable redis makes lock acquisition fail, and a failed lock
	// must leave the enrollments untouched.
	unreachable := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = unreachable.Close() })

	s, store := newTestScheduler(t, unreachable)
	ctx := context.Background()

	seeded := seedDueEnrollment(t, store)

	s.runSweep(ctx)

	enrollments, err := store.EnrollmentsByUser(ctx, seeded.OrganizationID, seeded.UserID)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, models.EnrollmentActive, enrollments[0].Status)
}

func TestStartAndStop(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
