// Package churn scores churn risk from weighted behavioral signals and maps
// risk factors onto recommended retention actions.
package churn

import (
	"math"
	"time"

	"github.com/flywheelhq/flywheel/pkg/models"
)

// RiskTier buckets the 0-100 score.
type RiskTier string

const (
	TierCritical RiskTier = "critical"
	TierHigh     RiskTier = "high"
	TierMedium   RiskTier = "medium"
	TierLow      RiskTier = "low"
)

// FactorCategory groups risk factors for recommendation mapping.
type FactorCategory string

const (
	CategoryEngagement   FactorCategory = "engagement"
	CategoryAdoption     FactorCategory = "adoption"
	CategorySatisfaction FactorCategory = "satisfaction"
	CategoryContract     FactorCategory = "contract"
	CategoryLifecycle    FactorCategory = "lifecycle"
)

// Factor explains one material signal contribution.
type Factor struct {
	Category FactorCategory `json:"category"`
	Signal   string         `json:"signal"`
	SubScore int            `json:"sub_score"`
	Detail   string         `json:"detail"`
}

// Result is the outcome of one scoring run.
type Result struct {
	Score   int      `json:"score"`
	Tier    RiskTier `json:"tier"`
	Factors []Factor `json:"factors"`
}

// Signal weights; they sum to exactly 1.00.
const (
	weightLoginFrequency  = 0.25
	weightFeatureDecline  = 0.20
	weightSessionDepth    = 0.12
	weightNPS             = 0.12
	weightLifecycleBase   = 0.10
	weightSupport         = 0.08
	weightRenewal         = 0.08
	weightSeatUtilization = 0.05
)

// materialThreshold: sub-scores at or below this do not produce a factor.
const materialThreshold = 5

type signalScorer struct {
	weight   float64
	category FactorCategory
	name     string
	score    func(u *models.User, now time.Time) (int, string)
}

var scorers = []signalScorer{
	{weightLoginFrequency, CategoryEngagement, "login_frequency_drop", scoreLoginFrequency},
	{weightFeatureDecline, CategoryAdoption, "feature_usage_decline", scoreFeatureUsage},
	{weightSessionDepth, CategoryEngagement, "session_depth_decrease", scoreSessionDepth},
	{weightNPS, CategorySatisfaction, "nps", scoreNPS},
	{weightLifecycleBase, CategoryLifecycle, "lifecycle_state_risk", scoreLifecycleBase},
	{weightSupport, CategorySatisfaction, "support_escalation", scoreSupport},
	{weightRenewal, CategoryContract, "renewal_proximity", scoreRenewal},
	{weightSeatUtilization, CategoryAdoption, "seat_utilization_drop", scoreSeats},
}

// Score combines the eight weighted signals into a 0-100 risk score.
// Already-churned users short-circuit to a fixed critical result; re-deriving
// risk for a terminal state would only add noise.
func Score(u *models.User, now time.Time) Result {
	if u.LifecycleState == models.StateChurned {
		return Result{
			Score: 100,
			Tier:  TierCritical,
			Factors: []Factor{
				{Category: CategoryLifecycle, Signal: "lifecycle_state_risk", SubScore: 100, Detail: "user has churned"},
				{Category: CategoryEngagement, Signal: "login_frequency_drop", SubScore: 100, Detail: "no recent activity"},
			},
		}
	}

	weighted := 0.0

	var factors []Factor

	for _, s := range scorers {
		sub, detail := s.score(u, now)
		weighted += float64(sub) * s.weight

		if sub > materialThreshold {
			factors = append(factors, Factor{
				Category: s.category,
				Signal:   s.name,
				SubScore: sub,
				Detail:   detail,
			})
		}
	}

	score := int(math.Round(weighted))
	if score < 0 {
		score = 0
	}

	if score > 100 {
		score = 100
	}

	return Result{Score: score, Tier: TierFor(score), Factors: factors}
}

// TierFor maps a score to its risk tier.
func TierFor(score int) RiskTier {
	switch {
	case score >= 80:
		return TierCritical
	case score >= 60:
		return TierHigh
	case score >= 35:
		return TierMedium
	default:
		return TierLow
	}
}

func scoreLoginFrequency(u *models.User, now time.Time) (int, string) {
	days := u.DaysSinceLastLogin(now)

	switch {
	case days < 0:
		return 95, "never logged in"
	case days >= 21:
		return 90, "no login in 3+ weeks"
	case days >= 14:
		return 70, "no login in 2+ weeks"
	case days >= 7:
		return 45, "no login in the last week"
	case u.LoginsLast30Days < 4:
		return 35, "fewer than one login per week"
	default:
		return 0, ""
	}
}

func scoreFeatureUsage(u *models.User, _ time.Time) (int, string) {
	switch count := len(u.FeaturesUsedLast30Days); {
	case count == 0:
		return 90, "no features used in 30 days"
	case count == 1:
		return 60, "single feature dependence"
	case count == 2:
		return 30, "narrow feature adoption"
	default:
		return 0, ""
	}
}

func scoreSessionDepth(u *models.User, _ time.Time) (int, string) {
	switch {
	case u.AvgSessionMinutes == 0:
		return 80, "no measurable sessions"
	case u.AvgSessionMinutes < 3:
		return 60, "very shallow sessions"
	case u.AvgSessionMinutes < 8:
		return 30, "shallow sessions"
	default:
		return 0, ""
	}
}

func scoreNPS(u *models.User, _ time.Time) (int, string) {
	if u.NPSScore == nil {
		return 20, "no NPS response"
	}

	switch score := *u.NPSScore; {
	case score <= 3:
		return 90, "strong detractor"
	case score <= 6:
		return 60, "detractor"
	case score <= 8:
		return 20, "passive"
	default:
		return 0, ""
	}
}

func scoreLifecycleBase(u *models.User, _ time.Time) (int, string) {
	switch u.LifecycleState {
	case models.StateAtRisk:
		return 80, "currently at risk"
	case models.StateLead:
		return 50, "never activated"
	case models.StateTrial:
		return 40, "still in trial"
	case models.StateReactivated:
		return 30, "recently reactivated"
	default:
		return 0, ""
	}
}

func scoreSupport(u *models.User, _ time.Time) (int, string) {
	switch {
	case u.SupportEscalations >= 2:
		return 90, "multiple escalations in 90 days"
	case u.SupportEscalations == 1:
		return 60, "escalation in the last 90 days"
	case u.SupportTickets >= 5:
		return 40, "heavy ticket volume"
	default:
		return 0, ""
	}
}

func scoreRenewal(u *models.User, _ time.Time) (int, string) {
	if u.DaysUntilRenewal == nil {
		return 0, ""
	}

	switch days := *u.DaysUntilRenewal; {
	case days <= 30:
		return 70, "renewal within 30 days"
	case days <= 60:
		return 40, "renewal within 60 days"
	case days <= 90:
		return 20, "renewal within 90 days"
	default:
		return 0, ""
	}
}

func scoreSeats(u *models.User, _ time.Time) (int, string) {
	if u.SeatLimit <= 0 {
		return 0, ""
	}

	switch util := u.SeatUtilization(); {
	case util < 20:
		return 70, "seats largely unused"
	case util < 40:
		return 40, "low seat utilization"
	default:
		return 0, ""
	}
}
