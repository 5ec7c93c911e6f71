package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flywheelhq/flywheel/pkg/log"
	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/testutil"
)

func TestMatcherMatches(t *testing.T) {
	matcher := NewMatcher(log.WithModule("trigger-test"))

	eventFlow := testutil.CreateTestFlow()

	lifecycleFlow := testutil.CreateTestFlow(func(f *models.FlowDefinition) {
		f.Nodes[0].Config = map[string]any{"lifecycle_to": "at_risk"}
	})

	segmentFlow := testutil.CreateTestFlow(func(f *models.FlowDefinition) {
		f.Nodes[0].Config = map[string]any{"segment_id": "seg-1"}
	})

	emptyTriggerFlow := testutil.CreateTestFlow(func(f *models.FlowDefinition) {
		f.Nodes[0].Config = map[string]any{}
	})

	tests := []struct {
		name string
		flow *models.FlowDefinition
		evt  TriggerEvent
		want bool
	}{
		{"event name match", eventFlow, TriggerEvent{EventName: "signup"}, true},
		{"event name mismatch", eventFlow, TriggerEvent{EventName: "login"}, false},
		{"lifecycle match", lifecycleFlow, TriggerEvent{LifecycleTo: models.StateAtRisk}, true},
		{"lifecycle mismatch", lifecycleFlow, TriggerEvent{LifecycleTo: models.StateChurned}, false},
		{
			"lifecycle trigger ignores the raw event name",
			lifecycleFlow,
			TriggerEvent{EventName: "signup"},
			false,
		},
		{"segment match", segmentFlow, TriggerEvent{SegmentID: "seg-1"}, true},
		{"empty trigger never matches", emptyTriggerFlow, TriggerEvent{EventName: "signup"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matcher.Matches(tt.flow, tt.evt))
		})
	}
}

func TestSeedVariables(t *testing.T) {
	now := testStart
	user := testutil.CreateTestUser(now, func(u *models.User) {
		u.Name = "Ada"
	})

	f := testutil.CreateTestFlow(func(f *models.FlowDefinition) {
		f.Variables = []models.FlowVariable{
			{Key: "greeting", Source: models.VariableSourceStatic, Value: "hello"},
			{Key: "name", Source: models.VariableSourceUserProperty, Path: "name"},
			{Key: "plan", Source: models.VariableSourceEventProperty, Path: "plan", Default: "starter"},
		}
	})

	evt := &models.TrackedEvent{Name: "signup", Properties: map[string]any{"plan": "growth"}}

	vars := SeedVariables(f, user, nil, evt)
	assert.Equal(t, "hello", vars["greeting"])
	assert.Equal(t, "Ada", vars["name"])
	assert.Equal(t, "growth", vars["plan"])

	// Missing event property falls back to the declared default.
	vars = SeedVariables(f, user, nil, &models.TrackedEvent{Name: "signup"})
	assert.Equal(t, "starter", vars["plan"])
}

func TestSeedVariablesNoDeclarations(t *testing.T) {
	vars := SeedVariables(testutil.CreateTestFlow(), testutil.CreateTestUser(testStart), nil, nil)
	assert.Empty(t, vars)
}
