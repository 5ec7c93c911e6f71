package flow

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywheelhq/flywheel/pkg/log"
	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/testutil"
)

var testStart = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testStart)

	return NewEngine(clock, log.WithModule("flow-test")), clock
}

func newEnrollment(f *models.FlowDefinition) *models.FlowEnrollment {
	return &models.FlowEnrollment{
		ID:             "enr-1",
		OrganizationID: f.OrganizationID,
		FlowID:         f.ID,
		FlowVersion:    f.Version,
		UserID:         "user-1",
		Status:         models.EnrollmentActive,
		CurrentNodeID:  f.TriggerNode().ID,
		Variables:      map[string]any{},
		EnrolledAt:     testStart,
		UpdatedAt:      testStart,
	}
}

func tickInput(f *models.FlowDefinition, enrollment *models.FlowEnrollment) TickInput {
	return TickInput{
		Flow:       f,
		Enrollment: enrollment,
		User:       testutil.CreateTestUser(testStart),
	}
}

func TestProcessEnrollmentRunsToCompletion(t *testing.T) {
	engine, _ := newTestEngine(t)

	f := testutil.CreateTestFlow()
	enrollment := newEnrollment(f)

	result, err := engine.ProcessEnrollment(tickInput(f, enrollment))
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentCompleted, enrollment.Status)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, models.ActionSendEmail, result.Actions[0].Kind)
	assert.Equal(t, "Hello Test User", result.Actions[0].Config.Subject)
	assert.NotNil(t, enrollment.CompletedAt)
	assert.False(t, result.CapHit)
}

func TestFixedDelaySuspendsAndResumes(t *testing.T) {
	engine, clock := newTestEngine(t)

	f := testutil.CreateTestFlow(func(f *models.FlowDefinition) {
		f.Nodes[1] = models.FlowNode{ID: "d1", Type: models.NodeDelay, Config: map[string]any{
			"mode":             "fixed",
			"duration_minutes": 60,
		}}
		f.Edges = []models.FlowEdge{
			{ID: "e1", SourceID: "t1", TargetID: "d1"},
			{ID: "e2", SourceID: "d1", TargetID: "x1"},
		}
	})
	enrollment := newEnrollment(f)

	result, err := engine.ProcessEnrollment(tickInput(f, enrollment))
	require.NoError(t, err)
	assert.Empty(t, result.Actions)

	require.NotNil(t, enrollment.NextProcessAt)
	assert.Equal(t, testStart.Add(time.Hour), *enrollment.NextProcessAt)
	assert.Equal(t, models.EnrollmentActive, enrollment.Status)

	// Still pending: nothing moves.
	clock.Advance(30 * time.Minute)

	_, err = engine.ProcessEnrollment(tickInput(f, enrollment))
	require.NoError(t, err)
	assert.NotNil(t, enrollment.NextProcessAt)

	clock.Advance(31 * time.Minute)

	_, err = engine.ProcessEnrollment(tickInput(f, enrollment))
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentCompleted, enrollment.Status)
	assert.Nil(t, enrollment.NextProcessAt)
}

func TestUntilEventDelayWakesOnMatchingEvent(t *testing.T) {
	engine, _ := newTestEngine(t)

	f := testutil.CreateTestFlow(func(f *models.FlowDefinition) {
		f.Nodes[1] = models.FlowNode{ID: "d1", Type: models.NodeDelay, Config: map[string]any{
			"mode":       "until_event",
			"event_name": "upgrade",
		}}
		f.Edges = []models.FlowEdge{
			{ID: "e1", SourceID: "t1", TargetID: "d1"},
			{ID: "e2", SourceID: "d1", TargetID: "x1"},
		}
	})
	enrollment := newEnrollment(f)

	_, err := engine.ProcessEnrollment(tickInput(f, enrollment))
	require.NoError(t, err)
	assert.Equal(t, "upgrade", enrollment.WaitingForEvent)
	require.NotNil(t, enrollment.NextProcessAt)

	// A different event does not wake the enrollment.
	in := tickInput(f, enrollment)
	in.Event = &models.TrackedEvent{Name: "login"}

	_, err = engine.ProcessEnrollment(in)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentActive, enrollment.Status)
	assert.NotNil(t, enrollment.NextProcessAt)

	in.Event = &models.TrackedEvent{Name: "upgrade"}

	_, err = engine.ProcessEnrollment(in)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentCompleted, enrollment.Status)
	assert.Empty(t, enrollment.WaitingForEvent)
}

func TestConditionRoutesByHandle(t *testing.T) {
	engine, _ := newTestEngine(t)

	f := testutil.CreateTestFlow(func(f *models.FlowDefinition) {
		f.Nodes = []models.FlowNode{
			{ID: "t1", Type: models.NodeTrigger, Config: map[string]any{"event_name": "signup"}},
			{ID: "c1", Type: models.NodeCondition, Config: map[string]any{
				"rules": []any{
					map[string]any{"field": "plan_tier", "operator": "equals", "value": "growth"},
				},
			}},
			{ID: "a-yes", Type: models.NodeAction, Config: map[string]any{"kind": "add_tag", "tag": "growth-track"}},
			{ID: "a-no", Type: models.NodeAction, Config: map[string]any{"kind": "add_tag", "tag": "other-track"}},
			{ID: "x1", Type: models.NodeExit, Config: map[string]any{}},
		}
		f.Edges = []models.FlowEdge{
			{ID: "e1", SourceID: "t1", TargetID: "c1"},
			{ID: "e2", SourceID: "c1", TargetID: "a-yes", Handle: HandleYes},
			{ID: "e3", SourceID: "c1", TargetID: "a-no", Handle: HandleNo},
			{ID: "e4", SourceID: "a-yes", TargetID: "x1"},
			{ID: "e5", SourceID: "a-no", TargetID: "x1"},
		}
	})
	enrollment := newEnrollment(f)

	result, err := engine.ProcessEnrollment(tickInput(f, enrollment))
	require.NoError(t, err)

	require.Len(t, result.Actions, 1)
	assert.Equal(t, "growth-track", result.Actions[0].Config.Tag)
	assert.Equal(t, models.EnrollmentCompleted, enrollment.Status)
}

func TestFilterRejectionExitsCleanly(t *testing.T) {
	engine, _ := newTestEngine(t)

	f := testutil.CreateTestFlow(func(f *models.FlowDefinition) {
		f.Nodes[1] = models.FlowNode{ID: "f1", Type: models.NodeFilter, Config: map[string]any{
			"rules": []any{
				map[string]any{"field": "plan_tier", "operator": "equals", "value": "enterprise"},
			},
		}}
		f.Edges = []models.FlowEdge{
			{ID: "e1", SourceID: "t1", TargetID: "f1"},
			{ID: "e2", SourceID: "f1", TargetID: "x1"},
		}
	})
	enrollment := newEnrollment(f)

	_, err := engine.ProcessEnrollment(tickInput(f, enrollment))
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentExited, enrollment.Status)
	assert.Empty(t, enrollment.ErrorMessage)
}

func TestSetVariableIsAppliedInline(t *testing.T) {
	engine, _ := newTestEngine(t)

	f := testutil.CreateTestFlow(func(f *models.FlowDefinition) {
		f.Nodes[1] = models.FlowNode{ID: "a1", Type: models.NodeAction, Config: map[string]any{
			"kind":     "set_variable",
			"variable": "track",
			"value":    "{{user.plan_tier}}",
		}}
	})
	enrollment := newEnrollment(f)

	result, err := engine.ProcessEnrollment(tickInput(f, enrollment))
	require.NoError(t, err)

	assert.Empty(t, result.Actions)
	assert.Equal(t, "growth", enrollment.Variables["track"])
}

func TestGotoRespectsLoopBudget(t *testing.T) {
	engine, _ := newTestEngine(t)

	f := testutil.CreateTestFlow(func(f *models.FlowDefinition) {
		f.Nodes = []models.FlowNode{
			{ID: "t1", Type: models.NodeTrigger, Config: map[string]any{"event_name": "signup"}},
			{ID: "a1", Type: models.NodeAction, Config: map[string]any{"kind": "send_notification", "message": "ping"}},
			{ID: "g1", Type: models.NodeGoto, Config: map[string]any{"target_node_id": "a1", "max_loops": 2}},
			{ID: "x1", Type: models.NodeExit, Config: map[string]any{}},
		}
		f.Edges = []models.FlowEdge{
			{ID: "e1", SourceID: "t1", TargetID: "a1"},
			{ID: "e2", SourceID: "a1", TargetID: "g1"},
			{ID: "e3", SourceID: "g1", TargetID: "x1"},
		}
	})
	enrollment := newEnrollment(f)

	result, err := engine.ProcessEnrollment(tickInput(f, enrollment))
	require.NoError(t, err)

	// Two jumps back plus the original pass: three notification intents.
	assert.Len(t, result.Actions, 3)
	assert.Equal(t, models.EnrollmentCompleted, enrollment.Status)
	assert.False(t, result.CapHit)
}

func TestProcessEnrollmentStopsAtTickCap(t *testing.T) {
	engine, _ := newTestEngine(t)

	// Goto allowance far above the tick cap makes the cycle inescapable
	// within a single processing pass.
	f := testutil.CreateTestFlow(func(f *models.FlowDefinition) {
		f.Nodes = []models.FlowNode{
			{ID: "t1", Type: models.NodeTrigger, Config: map[string]any{"event_name": "signup"}},
			{ID: "a1", Type: models.NodeAction, Config: map[string]any{"kind": "send_notification", "message": "ping"}},
			{ID: "g1", Type: models.NodeGoto, Config: map[string]any{"target_node_id": "a1", "max_loops": 1000}},
			{ID: "x1", Type: models.NodeExit, Config: map[string]any{}},
		}
		f.Edges = []models.FlowEdge{
			{ID: "e1", SourceID: "t1", TargetID: "a1"},
			{ID: "e2", SourceID: "a1", TargetID: "g1"},
			{ID: "e3", SourceID: "g1", TargetID: "x1"},
		}
	})
	enrollment := newEnrollment(f)

	result, err := engine.ProcessEnrollment(tickInput(f, enrollment))
	require.NoError(t, err)

	assert.Equal(t, maxTicksPerRun, result.Ticks)
	assert.True(t, result.CapHit)

	// The trigger consumes one tick; the action fires on every other tick of
	// the remaining 99.
	assert.Len(t, result.Actions, 50)

	// The enrollment is parked, not failed: still active, not suspended, and
	// eligible for the next processing pass.
	assert.Equal(t, models.EnrollmentActive, enrollment.Status)
	assert.Nil(t, enrollment.NextProcessAt)
	assert.Empty(t, enrollment.ErrorMessage)
}

func TestUnknownNodeFailsEnrollment(t *testing.T) {
	engine, _ := newTestEngine(t)

	f := testutil.CreateTestFlow()
	enrollment := newEnrollment(f)
	enrollment.CurrentNodeID = "missing"

	_, err := engine.ProcessEnrollment(tickInput(f, enrollment))
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentError, enrollment.Status)
	assert.Equal(t, "missing", enrollment.ErrorNodeID)
	assert.NotEmpty(t, enrollment.ErrorMessage)
}

func TestTerminalEnrollmentIsUntouched(t *testing.T) {
	engine, _ := newTestEngine(t)

	f := testutil.CreateTestFlow()
	enrollment := newEnrollment(f)
	enrollment.Status = models.EnrollmentCompleted

	result, err := engine.ProcessEnrollment(tickInput(f, enrollment))
	require.NoError(t, err)
	assert.Empty(t, result.Actions)
	assert.Equal(t, 1, result.Ticks)
}
