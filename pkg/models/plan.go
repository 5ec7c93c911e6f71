package models

// PlanTier is one step on the fixed plan ladder.
type PlanTier string

const (
	PlanTrial      PlanTier = "trial"
	PlanStarter    PlanTier = "starter"
	PlanGrowth     PlanTier = "growth"
	PlanBusiness   PlanTier = "business"
	PlanEnterprise PlanTier = "enterprise"
)

// planLadder orders tiers from lowest to highest.
var planLadder = []PlanTier{PlanTrial, PlanStarter, PlanGrowth, PlanBusiness, PlanEnterprise}

// planMRRCents is the list-price monthly revenue per tier.
var planMRRCents = map[PlanTier]int64{
	PlanTrial:      0,
	PlanStarter:    4900,
	PlanGrowth:     19900,
	PlanBusiness:   49900,
	PlanEnterprise: 129900,
}

// NextTier returns the tier one step above the given one, or "" at the top.
func NextTier(current PlanTier) PlanTier {
	i := TierRank(current)
	if i < 0 || i+1 >= len(planLadder) {
		return ""
	}

	return planLadder[i+1]
}

// TierMRRCents returns the list MRR for a tier, zero for unknown tiers.
func TierMRRCents(tier PlanTier) int64 {
	return planMRRCents[tier]
}

// TierRank returns the ladder position of a tier, -1 for unknown tiers.
func TierRank(tier PlanTier) int {
	for i, t := range planLadder {
		if t == tier {
			return i
		}
	}

	return -1
}
