package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywheelhq/flywheel/pkg/eventbus"
	"github.com/flywheelhq/flywheel/pkg/events"
	"github.com/flywheelhq/flywheel/pkg/mailer"
	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/persistence/memory"
)

var testStart = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestPipeline(t *testing.T) (*Pipeline, *memory.Store, *clockwork.FakeClock) {
	t.Helper()

	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(testStart)
	logger := slog.Default()
	actions := NewActionDispatcher(store, mailer.NewLogMailer(logger), logger)

	return New(store, actions, nil, nil, clock, logger), store, clock
}

// healthyUser classifies as activated, matching its stored state, so
// pipeline runs against it produce no lifecycle transition.
func healthyUser(id string) *models.User {
	lastLogin := testStart.Add(-24 * time.Hour)
	activatedAt := testStart.Add(-30 * 24 * time.Hour)

	return &models.User{
		ID:                     id,
		OrganizationID:         "org-1",
		ExternalID:             "ext-" + id,
		Email:                  id + "@example.com",
		Name:                   "Test User",
		LifecycleState:         models.StateActivated,
		ActivatedAt:            &activatedAt,
		LastLoginAt:            &lastLogin,
		LoginsLast7Days:        4,
		LoginsLast30Days:       12,
		AvgSessionMinutes:      18,
		FeaturesUsedLast30Days: []string{"reports", "exports", "alerts"},
		PlanTier:               models.PlanGrowth,
		CreatedAt:              testStart.Add(-60 * 24 * time.Hour),
		UpdatedAt:              testStart,
	}
}

func trackedEvent(userExternalID, name string) *models.TrackedEvent {
	return &models.TrackedEvent{
		ID:             "evt-1",
		OrganizationID: "org-1",
		UserExternalID: userExternalID,
		Name:           name,
		OccurredAt:     testStart,
		ReceivedAt:     testStart,
	}
}

func notificationTypes(result *Result) []events.EventType {
	types := make([]events.EventType, 0, len(result.Notifications))
	for _, n := range result.Notifications {
		types = append(types, n.Event.GetType())
	}

	return types
}

func TestProcessEventChurnedUserEndToEnd(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	lastLogin := testStart.Add(-35 * 24 * time.Hour)
	user := &models.User{
		ID:             "user-1",
		OrganizationID: "org-1",
		ExternalID:     "ext-user-1",
		Email:          "dark@example.com",
		LifecycleState: models.StateActivated,
		LastLoginAt:    &lastLogin,
	}
	require.NoError(t, store.SaveUser(ctx, user))

	result := p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "billing_page_viewed"))

	require.Empty(t, result.Errors)
	require.NotNil(t, result.Transition)
	assert.True(t, result.Transition.Transitioned)
	assert.Equal(t, models.StateChurned, result.Transition.To)
	assert.Equal(t, 95, result.Transition.Confidence)

	require.NotNil(t, result.Churn)
	assert.Equal(t, 100, result.Churn.Score)

	// Detection runs against the post-transition snapshot, so the churned
	// short-circuit applies within the same run.
	types := notificationTypes(result)
	assert.Contains(t, types, events.UserLifecycleChanged)
	assert.Contains(t, types, events.UserRiskScoreChanged)
	assert.Contains(t, types, events.EventTracked)

	persisted, err := store.UserByID(ctx, "org-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateChurned, persisted.LifecycleState)
	assert.Equal(t, models.StateActivated, persisted.PreviousState)
	assert.Equal(t, 100, persisted.ChurnScore)
}

func TestProcessEventNoUserOnlyTracks(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	result := p.ProcessEvent(context.Background(), "org-1", trackedEvent("nobody", "page_view"))

	require.Empty(t, result.Errors)
	assert.Nil(t, result.User)
	assert.Nil(t, result.Transition)
	assert.Equal(t, []events.EventType{events.EventTracked}, notificationTypes(result))
}

func TestProcessEventExpansionDeDup(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	account := &models.Account{
		ID:             "acct-1",
		OrganizationID: "org-1",
		Name:           "Acme",
		PlanTier:       models.PlanGrowth,
		SeatLimit:      10,
	}
	require.NoError(t, store.SaveAccount(ctx, account))

	user := healthyUser("user-1")
	user.AccountID = "acct-1"
	user.SeatCount = 9
	user.SeatLimit = 10
	require.NoError(t, store.SaveUser(ctx, user))

	first := p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "seat_added"))
	require.Empty(t, first.Errors)
	require.NotEmpty(t, first.Signals)
	assert.Contains(t, notificationTypes(first), events.AccountExpansionSignal)

	opportunities, err := store.OpportunitiesByStatus(ctx, "org-1", "acct-1", models.OpportunityIdentified)
	require.NoError(t, err)
	require.Len(t, opportunities, 1)
	assert.Equal(t, models.SignalSeatCap, opportunities[0].Signal)
	assert.Equal(t, models.PlanBusiness, opportunities[0].SuggestedPlan)
	assert.Positive(t, opportunities[0].UpliftMRRCents)

	// A second run sees the identified opportunity and creates nothing new.
	second := p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "seat_added"))
	require.Empty(t, second.Errors)
	assert.NotContains(t, notificationTypes(second), events.AccountExpansionSignal)

	opportunities, err = store.OpportunitiesByStatus(ctx, "org-1", "acct-1", models.OpportunityIdentified)
	require.NoError(t, err)
	assert.Len(t, opportunities, 1)
}

func TestProcessEventSegmentMembership(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	seg := &models.Segment{
		ID:             "seg-1",
		OrganizationID: "org-1",
		Name:           "Growth plan users",
		Active:         true,
		FilterLogic:    models.FilterLogicAnd,
		Rules: []models.SegmentRule{
			{Field: "plan_tier", Operator: models.OpEquals, Value: "growth"},
		},
	}
	require.NoError(t, store.SaveSegment(ctx, seg))

	user := healthyUser("user-1")
	require.NoError(t, store.SaveUser(ctx, user))

	result := p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "login"))
	require.Empty(t, result.Errors)

	member, err := store.IsMember(ctx, "org-1", "seg-1", "user-1")
	require.NoError(t, err)
	assert.True(t, member)

	// Plan change removes the membership on the next run.
	require.NoError(t, store.UpdateUserFields(ctx, "org-1", "user-1", map[string]any{
		"plan_tier": "enterprise",
	}))

	result = p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "login"))
	require.Empty(t, result.Errors)

	member, err = store.IsMember(ctx, "org-1", "seg-1", "user-1")
	require.NoError(t, err)
	assert.False(t, member)
}

func welcomeFlow(allowReEnrollment bool) *models.FlowDefinition {
	return &models.FlowDefinition{
		ID:             "flow-1",
		OrganizationID: "org-1",
		Name:           "Welcome series",
		Status:         models.FlowStatusActive,
		Version:        1,
		Nodes: []models.FlowNode{
			{ID: "t1", Type: models.NodeTrigger, Config: map[string]any{"event_name": "signup"}},
			{ID: "a1", Type: models.NodeAction, Config: map[string]any{
				"kind":    "send_email",
				"subject": "Welcome {{user.name}}",
				"body":    "Glad to have you.",
			}},
			{ID: "x1", Type: models.NodeExit, Config: map[string]any{}},
		},
		Edges: []models.FlowEdge{
			{ID: "e1", SourceID: "t1", TargetID: "a1"},
			{ID: "e2", SourceID: "a1", TargetID: "x1"},
		},
		Settings: models.FlowSettings{AllowReEnrollment: allowReEnrollment},
	}
}

func TestProcessEventEnrollsAndCompletesFlow(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFlow(ctx, welcomeFlow(false)))
	require.NoError(t, store.SaveUser(ctx, healthyUser("user-1")))

	result := p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "signup"))
	require.Empty(t, result.Errors)
	require.Len(t, result.NewEnrollments, 1)

	types := notificationTypes(result)
	assert.Contains(t, types, events.FlowTriggered)
	assert.Contains(t, types, events.FlowCompleted)

	enrollments, err := store.EnrollmentsByUser(ctx, "org-1", "user-1")
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, models.EnrollmentCompleted, enrollments[0].Status)

	f, err := store.FlowByID(ctx, "org-1", "flow-1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Metrics.TotalEnrolled)
	assert.Equal(t, 1, f.Metrics.Completed)
	assert.Equal(t, 0, f.Metrics.CurrentlyActive)
}

func TestProcessEventReEnrollmentGuard(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFlow(ctx, welcomeFlow(false)))
	require.NoError(t, store.SaveUser(ctx, healthyUser("user-1")))

	first := p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "signup"))
	require.Len(t, first.NewEnrollments, 1)

	second := p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "signup"))
	assert.Empty(t, second.NewEnrollments)

	enrollments, err := store.EnrollmentsByUser(ctx, "org-1", "user-1")
	require.NoError(t, err)
	assert.Len(t, enrollments, 1)
}

func TestProcessEventReEnrollmentAllowed(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFlow(ctx, welcomeFlow(true)))
	require.NoError(t, store.SaveUser(ctx, healthyUser("user-1")))

	p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "signup"))
	p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "signup"))

	enrollments, err := store.EnrollmentsByUser(ctx, "org-1", "user-1")
	require.NoError(t, err)
	assert.Len(t, enrollments, 2)
}

func delayedFlow() *models.FlowDefinition {
	return &models.FlowDefinition{
		ID:             "flow-2",
		OrganizationID: "org-1",
		Name:           "Nudge after an hour",
		Status:         models.FlowStatusActive,
		Version:        1,
		Nodes: []models.FlowNode{
			{ID: "t1", Type: models.NodeTrigger, Config: map[string]any{"event_name": "signup"}},
			{ID: "d1", Type: models.NodeDelay, Config: map[string]any{
				"mode":             "fixed",
				"duration_minutes": 60,
			}},
			{ID: "x1", Type: models.NodeExit, Config: map[string]any{}},
		},
		Edges: []models.FlowEdge{
			{ID: "e1", SourceID: "t1", TargetID: "d1"},
			{ID: "e2", SourceID: "d1", TargetID: "x1"},
		},
	}
}

func TestSweepAdvancesDueEnrollments(t *testing.T) {
	p, store, clock := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFlow(ctx, delayedFlow()))
	require.NoError(t, store.SaveUser(ctx, healthyUser("user-1")))

	result := p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "signup"))
	require.Empty(t, result.Errors)
	require.Len(t, result.NewEnrollments, 1)

	enrollments, err := store.EnrollmentsByUser(ctx, "org-1", "user-1")
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, models.EnrollmentActive, enrollments[0].Status)
	require.NotNil(t, enrollments[0].NextProcessAt)

	// Not yet due: sweep is a no-op.
	sweep, err := p.ProcessDueEnrollments(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, sweep.Processed)

	clock.Advance(61 * time.Minute)

	sweep, err = p.ProcessDueEnrollments(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Processed)
	assert.Equal(t, 1, sweep.Terminated)

	enrollments, err = store.EnrollmentsByUser(ctx, "org-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentCompleted, enrollments[0].Status)

	f, err := store.FlowByID(ctx, "org-1", "flow-2")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Metrics.Completed)
	assert.Equal(t, 0, f.Metrics.CurrentlyActive)
}

func TestAdvanceWaitingOnMatchingEvent(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	f := delayedFlow()
	f.Nodes[1].Config = map[string]any{
		"mode":       "until_event",
		"event_name": "upgrade",
	}
	require.NoError(t, store.SaveFlow(ctx, f))
	require.NoError(t, store.SaveUser(ctx, healthyUser("user-1")))

	p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "signup"))

	// An unrelated event leaves the enrollment suspended.
	p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "login"))

	enrollments, err := store.EnrollmentsByUser(ctx, "org-1", "user-1")
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, models.EnrollmentActive, enrollments[0].Status)

	// The awaited event wakes it through to completion.
	p.ProcessEvent(ctx, "org-1", trackedEvent("ext-user-1", "upgrade"))

	enrollments, err = store.EnrollmentsByUser(ctx, "org-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentCompleted, enrollments[0].Status)
}

type capturingPublisher struct {
	published []eventbus.Event
}

func (c *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	c.published = append(c.published, event)

	return nil
}

func TestDispatchPublishesOutbox(t *testing.T) {
	store := memory.NewStore()
	logger := slog.Default()
	publisher := &capturingPublisher{}
	actions := NewActionDispatcher(store, mailer.NewLogMailer(logger), logger)
	p := New(store, actions, publisher, nil, clockwork.NewFakeClockAt(testStart), logger)

	result := p.ProcessEvent(context.Background(), "org-1", trackedEvent("nobody", "ping"))
	require.Len(t, result.Notifications, 1)

	p.Dispatch(context.Background(), result.Notifications)
	require.Len(t, publisher.published, 1)
	assert.Equal(t, events.EventTracked, publisher.published[0].GetType())
}
