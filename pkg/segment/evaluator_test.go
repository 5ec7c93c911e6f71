package segment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/testutil"
)

var testNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func testRecord() Record {
	user := testutil.CreateTestUser(testNow, func(u *models.User) {
		u.Email = "ada@example.com"
		u.Tags = []string{"beta", "design-partner"}
		u.ChurnScore = 42
		u.CustomProperties = map[string]any{"industry": "fintech", "employees": 250}
	})

	account := testutil.CreateTestAccount(testNow, func(a *models.Account) {
		a.PlanTier = models.PlanBusiness
		a.MRRCents = 49900
	})

	return NewRecord(user, account)
}

func TestEvaluateRuleOperators(t *testing.T) {
	rec := testRecord()

	tests := []struct {
		name string
		rule models.SegmentRule
		want bool
	}{
		{"equals string", models.SegmentRule{Field: "plan_tier", Operator: models.OpEquals, Value: "growth"}, true},
		{"equals numeric string coercion", models.SegmentRule{Field: "churn_score", Operator: models.OpEquals, Value: "42"}, true},
		{"not equals", models.SegmentRule{Field: "plan_tier", Operator: models.OpNotEquals, Value: "starter"}, true},
		{"contains on string slice", models.SegmentRule{Field: "tags", Operator: models.OpContains, Value: "beta"}, true},
		{"not contains on string slice", models.SegmentRule{Field: "tags", Operator: models.OpNotContains, Value: "vip"}, true},
		{"contains substring", models.SegmentRule{Field: "email", Operator: models.OpContains, Value: "@example"}, true},
		{"starts with", models.SegmentRule{Field: "email", Operator: models.OpStartsWith, Value: "ada"}, true},
		{"ends with", models.SegmentRule{Field: "email", Operator: models.OpEndsWith, Value: ".com"}, true},
		{"greater than", models.SegmentRule{Field: "churn_score", Operator: models.OpGreaterThan, Value: 40}, true},
		{"greater than fails", models.SegmentRule{Field: "churn_score", Operator: models.OpGreaterThan, Value: 42}, false},
		{"greater than or equal", models.SegmentRule{Field: "churn_score", Operator: models.OpGreaterThanOrEqual, Value: 42}, true},
		{"less than", models.SegmentRule{Field: "churn_score", Operator: models.OpLessThan, Value: 50}, true},
		{"in list", models.SegmentRule{Field: "plan_tier", Operator: models.OpInList, Values: []any{"starter", "growth"}}, true},
		{"not in list", models.SegmentRule{Field: "plan_tier", Operator: models.OpNotInList, Values: []any{"trial"}}, true},
		{"between inclusive", models.SegmentRule{Field: "churn_score", Operator: models.OpBetween, Values: []any{42, 60}}, true},
		{"between outside", models.SegmentRule{Field: "churn_score", Operator: models.OpBetween, Values: []any{50, 60}}, false},
		{"between malformed", models.SegmentRule{Field: "churn_score", Operator: models.OpBetween, Values: []any{50}}, false},
		{"is set", models.SegmentRule{Field: "email", Operator: models.OpIsSet}, true},
		{"is not set on missing field", models.SegmentRule{Field: "nps_score", Operator: models.OpIsNotSet}, true},
		{"dot path into custom properties", models.SegmentRule{Field: "custom_properties.industry", Operator: models.OpEquals, Value: "fintech"}, true},
		{"dot path numeric", models.SegmentRule{Field: "custom_properties.employees", Operator: models.OpGreaterThan, Value: 100}, true},
		{"missing field fails comparisons", models.SegmentRule{Field: "custom_properties.region", Operator: models.OpEquals, Value: "emea"}, false},
		{"account field source", models.SegmentRule{Field: "plan_tier", FieldSource: models.FieldSourceAccount, Operator: models.OpEquals, Value: "business"}, true},
		{"account mrr", models.SegmentRule{Field: "mrr_cents", FieldSource: models.FieldSourceAccount, Operator: models.OpGreaterThanOrEqual, Value: 49900}, true},
		{"unknown operator fails closed", models.SegmentRule{Field: "email", Operator: "fuzzy_match", Value: "ada"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate([]models.SegmentRule{tt.rule}, models.FilterLogicAnd, rec)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCombinators(t *testing.T) {
	rec := testRecord()

	match := models.SegmentRule{Field: "plan_tier", Operator: models.OpEquals, Value: "growth"}
	miss := models.SegmentRule{Field: "plan_tier", Operator: models.OpEquals, Value: "trial"}

	assert.True(t, Evaluate([]models.SegmentRule{match, miss}, models.FilterLogicOr, rec))
	assert.False(t, Evaluate([]models.SegmentRule{match, miss}, models.FilterLogicAnd, rec))

	// Lower-case stored logic still works.
	assert.True(t, Evaluate([]models.SegmentRule{match, miss}, "or", rec))
}

func TestEvaluateEmptyRulesMatchEverything(t *testing.T) {
	assert.True(t, Evaluate(nil, models.FilterLogicAnd, testRecord()))
}

func TestEvaluateAccountRuleWithoutAccount(t *testing.T) {
	rec := NewRecord(testutil.CreateTestUser(testNow), nil)

	rule := models.SegmentRule{Field: "plan_tier", FieldSource: models.FieldSourceAccount, Operator: models.OpEquals, Value: "growth"}
	assert.False(t, Evaluate([]models.SegmentRule{rule}, models.FilterLogicAnd, rec))

	// is_not_set treats the missing container as unset, not an error.
	unset := models.SegmentRule{Field: "plan_tier", FieldSource: models.FieldSourceAccount, Operator: models.OpIsNotSet}
	assert.True(t, Evaluate([]models.SegmentRule{unset}, models.FilterLogicAnd, rec))
}
