package churn

// Rating is a coarse 1-3 scale used for priority, effort, and impact.
type Rating int

const (
	RatingLow Rating = iota + 1
	RatingMedium
	RatingHigh
)

// Recommendation is one suggested retention action.
type Recommendation struct {
	Action      string         `json:"action"`
	Category    FactorCategory `json:"category"`
	Automatable bool           `json:"automatable"`
	Priority    Rating         `json:"priority"`
	Effort      Rating         `json:"effort"`
	Impact      Rating         `json:"impact"`
}

// categoryActions is the fixed category -> action mapping. Rule-based, not
// learned; the same factors must always produce the same actions.
var categoryActions = map[FactorCategory][]Recommendation{
	CategoryEngagement: {
		{Action: "enroll in re-engagement email flow", Category: CategoryEngagement, Automatable: true, Priority: RatingHigh, Effort: RatingLow, Impact: RatingMedium},
		{Action: "send in-app usage tips for unused features", Category: CategoryEngagement, Automatable: true, Priority: RatingMedium, Effort: RatingLow, Impact: RatingMedium},
	},
	CategoryAdoption: {
		{Action: "schedule onboarding refresher session", Category: CategoryAdoption, Automatable: false, Priority: RatingMedium, Effort: RatingMedium, Impact: RatingHigh},
		{Action: "trigger feature-discovery campaign", Category: CategoryAdoption, Automatable: true, Priority: RatingMedium, Effort: RatingLow, Impact: RatingMedium},
	},
	CategorySatisfaction: {
		{Action: "open CSM outreach task", Category: CategorySatisfaction, Automatable: false, Priority: RatingHigh, Effort: RatingMedium, Impact: RatingHigh},
		{Action: "send NPS follow-up survey", Category: CategorySatisfaction, Automatable: true, Priority: RatingLow, Effort: RatingLow, Impact: RatingLow},
	},
	CategoryContract: {
		{Action: "flag account for renewal review", Category: CategoryContract, Automatable: false, Priority: RatingHigh, Effort: RatingLow, Impact: RatingHigh},
		{Action: "offer renewal incentive", Category: CategoryContract, Automatable: false, Priority: RatingMedium, Effort: RatingMedium, Impact: RatingHigh},
	},
	CategoryLifecycle: {
		{Action: "enroll in activation nurture flow", Category: CategoryLifecycle, Automatable: true, Priority: RatingMedium, Effort: RatingLow, Impact: RatingMedium},
	},
}

// Recommend maps the active factor categories plus the tier onto an ordered
// action list. Critical and high tiers promote every action to top priority.
func Recommend(result Result) []Recommendation {
	seen := make(map[FactorCategory]bool)

	var out []Recommendation

	for _, factor := range result.Factors {
		if seen[factor.Category] {
			continue
		}

		seen[factor.Category] = true

		for _, rec := range categoryActions[factor.Category] {
			if result.Tier == TierCritical || result.Tier == TierHigh {
				rec.Priority = RatingHigh
			}

			out = append(out, rec)
		}
	}

	return out
}
