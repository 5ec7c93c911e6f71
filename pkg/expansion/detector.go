// Package expansion scans accounts and users for upsell signals and proposes
// plan upgrades with estimated MRR uplift.
package expansion

import (
	"fmt"

	"github.com/flywheelhq/flywheel/pkg/models"
)

type detector func(u *models.User, a *models.Account) *models.ExpansionSignal

var detectors = []detector{
	detectSeatCap,
	detectAPILimit,
	detectHeavyUsage,
	detectAPIThrottle,
	detectFeatureGate,
}

// Detect runs all five detectors and keeps signals whose suggested upgrade
// carries positive MRR uplift. Account may be nil for unattached users.
func Detect(u *models.User, a *models.Account) []models.ExpansionSignal {
	var signals []models.ExpansionSignal

	for _, detect := range detectors {
		signal := detect(u, a)
		if signal == nil {
			continue
		}

		if signal.UpliftMRRCents <= 0 {
			continue
		}

		signals = append(signals, *signal)
	}

	return signals
}

// CompositeScore aggregates signals into one 0-98 expansion score: the
// strongest single confidence plus 5 per extra signal, capped at +15.
func CompositeScore(signals []models.ExpansionSignal) int {
	if len(signals) == 0 {
		return 0
	}

	maxConfidence := 0
	for _, s := range signals {
		if s.Confidence > maxConfidence {
			maxConfidence = s.Confidence
		}
	}

	bonus := (len(signals) - 1) * 5
	if bonus > 15 {
		bonus = 15
	}

	score := maxConfidence + bonus
	if score > 98 {
		score = 98
	}

	return score
}

func currentTier(u *models.User, a *models.Account) models.PlanTier {
	if a != nil && a.PlanTier != "" {
		return a.PlanTier
	}

	return u.PlanTier
}

func currentMRR(u *models.User, a *models.Account) int64 {
	if a != nil && a.MRRCents > 0 {
		return a.MRRCents
	}

	return models.TierMRRCents(currentTier(u, a))
}

func upgrade(u *models.User, a *models.Account) (models.PlanTier, int64) {
	next := models.NextTier(currentTier(u, a))
	if next == "" {
		return "", 0
	}

	return next, models.TierMRRCents(next) - currentMRR(u, a)
}

func detectSeatCap(u *models.User, a *models.Account) *models.ExpansionSignal {
	seatCount, seatLimit := u.SeatCount, u.SeatLimit
	if a != nil && a.SeatLimit > 0 {
		seatCount, seatLimit = a.UserCount, a.SeatLimit
	}

	if seatLimit <= 0 {
		return nil
	}

	utilization := float64(seatCount) / float64(seatLimit) * 100
	if utilization < 85 {
		return nil
	}

	confidence := 75
	if utilization >= 95 {
		confidence = 90
	}

	next, uplift := upgrade(u, a)

	return &models.ExpansionSignal{
		Kind:           models.SignalSeatCap,
		Confidence:     confidence,
		SuggestedPlan:  next,
		UpliftMRRCents: uplift,
		Detail:         fmt.Sprintf("%d of %d seats in use", seatCount, seatLimit),
	}
}

func detectAPILimit(u *models.User, a *models.Account) *models.ExpansionSignal {
	util := u.APIUtilization()
	if util < 80 {
		return nil
	}

	confidence := 70
	if util >= 95 {
		confidence = 85
	}

	next, uplift := upgrade(u, a)

	return &models.ExpansionSignal{
		Kind:           models.SignalAPILimit,
		Confidence:     confidence,
		SuggestedPlan:  next,
		UpliftMRRCents: uplift,
		Detail:         fmt.Sprintf("API usage at %.0f%% of plan limit", util),
	}
}

func detectHeavyUsage(u *models.User, a *models.Account) *models.ExpansionSignal {
	if u.LoginsLast30Days < 25 || len(u.FeaturesUsedLast30Days) < 6 {
		return nil
	}

	next, uplift := upgrade(u, a)

	return &models.ExpansionSignal{
		Kind:           models.SignalHeavyUsage,
		Confidence:     65,
		SuggestedPlan:  next,
		UpliftMRRCents: uplift,
		Detail:         fmt.Sprintf("%d logins and %d features in 30 days", u.LoginsLast30Days, len(u.FeaturesUsedLast30Days)),
	}
}

func detectAPIThrottle(u *models.User, a *models.Account) *models.ExpansionSignal {
	if u.APIThrottledLast30 < 3 {
		return nil
	}

	confidence := 70
	if u.APIThrottledLast30 >= 10 {
		confidence = 85
	}

	next, uplift := upgrade(u, a)

	return &models.ExpansionSignal{
		Kind:           models.SignalAPIThrottle,
		Confidence:     confidence,
		SuggestedPlan:  next,
		UpliftMRRCents: uplift,
		Detail:         fmt.Sprintf("throttled %d times in 30 days", u.APIThrottledLast30),
	}
}

func detectFeatureGate(u *models.User, a *models.Account) *models.ExpansionSignal {
	if u.FeatureGateHits < 2 {
		return nil
	}

	next, uplift := upgrade(u, a)

	return &models.ExpansionSignal{
		Kind:           models.SignalFeatureGate,
		Confidence:     60,
		SuggestedPlan:  next,
		UpliftMRRCents: uplift,
		Detail:         fmt.Sprintf("hit gated features %d times in 30 days", u.FeatureGateHits),
	}
}
