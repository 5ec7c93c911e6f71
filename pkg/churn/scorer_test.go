package churn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/testutil"
)

var testNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func TestScoreChurnedShortCircuits(t *testing.T) {
	user := testutil.CreateTestUser(testNow, testutil.WithState(models.StateChurned))

	result := Score(user, testNow)

	assert.Equal(t, 100, result.Score)
	assert.Equal(t, TierCritical, result.Tier)
	require.Len(t, result.Factors, 2)
}

func TestScoreHealthyUserIsLowRisk(t *testing.T) {
	user := testutil.CreateTestUser(testNow)
	nine := 9
	user.NPSScore = &nine

	result := Score(user, testNow)

	assert.Equal(t, TierLow, result.Tier)
	assert.LessOrEqual(t, result.Score, 10)
}

func TestScoreDarkUserIsCritical(t *testing.T) {
	detractor := 2
	user := testutil.CreateTestUser(testNow, testutil.WithNoLogins(), func(u *models.User) {
		u.LifecycleState = models.StateAtRisk
		u.FeaturesUsedLast30Days = nil
		u.NPSScore = &detractor
		u.SupportEscalations = 2
		u.SeatCount = 1
	})

	result := Score(user, testNow)

	assert.GreaterOrEqual(t, result.Score, 80)
	assert.Equal(t, TierCritical, result.Tier)
}

func TestScoreOnlyMaterialFactorsReported(t *testing.T) {
	user := testutil.CreateTestUser(testNow)
	nine := 9
	user.NPSScore = &nine

	result := Score(user, testNow)

	for _, factor := range result.Factors {
		assert.Greater(t, factor.SubScore, materialThreshold)
		assert.NotEmpty(t, factor.Detail)
	}
}

func TestScoreIsBounded(t *testing.T) {
	detractor := 0
	soon := 10
	user := testutil.CreateTestUser(testNow, testutil.WithNoLogins(), func(u *models.User) {
		u.LifecycleState = models.StateAtRisk
		u.FeaturesUsedLast30Days = nil
		u.NPSScore = &detractor
		u.SupportEscalations = 5
		u.DaysUntilRenewal = &soon
		u.SeatCount = 0
	})

	result := Score(user, testNow)

	assert.LessOrEqual(t, result.Score, 100)
	assert.GreaterOrEqual(t, result.Score, 0)
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		score int
		want  RiskTier
	}{
		{0, TierLow},
		{34, TierLow},
		{35, TierMedium},
		{59, TierMedium},
		{60, TierHigh},
		{79, TierHigh},
		{80, TierCritical},
		{100, TierCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.score), "score %d", tt.score)
	}
}

func TestRecommendDeduplicatesCategories(t *testing.T) {
	result := Result{
		Tier: TierMedium,
		Factors: []Factor{
			{Category: CategoryEngagement, Signal: "login_frequency_drop", SubScore: 70},
			{Category: CategoryEngagement, Signal: "session_depth_decrease", SubScore: 30},
			{Category: CategoryContract, Signal: "renewal_proximity", SubScore: 40},
		},
	}

	recs := Recommend(result)
	require.Len(t, recs, 4)

	categories := make(map[FactorCategory]int)
	for _, rec := range recs {
		categories[rec.Category]++
	}

	assert.Equal(t, 2, categories[CategoryEngagement])
	assert.Equal(t, 2, categories[CategoryContract])
}

func TestRecommendPromotesPriorityOnHighTiers(t *testing.T) {
	result := Result{
		Tier: TierCritical,
		Factors: []Factor{
			{Category: CategorySatisfaction, Signal: "nps", SubScore: 90},
		},
	}

	for _, rec := range Recommend(result) {
		assert.Equal(t, RatingHigh, rec.Priority)
	}
}

func TestRecommendSameFactorsSameActions(t *testing.T) {
	result := Result{
		Tier: TierMedium,
		Factors: []Factor{
			{Category: CategoryAdoption, Signal: "feature_usage_decline", SubScore: 60},
		},
	}

	assert.Equal(t, Recommend(result), Recommend(result))
}
