// Package lifecycle classifies user behavioral snapshots into lifecycle
// states and guards state transitions with per-state cooldowns.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/flywheelhq/flywheel/pkg/models"
)

// Classification is the outcome of one classifier run.
type Classification struct {
	State      models.LifecycleState `json:"state"`
	Confidence int                   `json:"confidence"`
	Signals    []string              `json:"signals"`
}

// At-risk decline signal weights. A weighted total >= atRiskThreshold flips
// the user to AtRisk.
const (
	weightNoLogin14d     = 35
	weightLowFrequency   = 25
	weightFewFeatures    = 20
	weightShallowSession = 10
	weightLowNPS         = 10

	atRiskThreshold = 50
)

// Classify maps a snapshot to a lifecycle state. Rules are checked in strict
// priority order and the first match wins, so ordering here is load-bearing.
func Classify(u *models.User, now time.Time) Classification {
	daysSinceLogin := u.DaysSinceLastLogin(now)

	// Churned: fully dark for 30 days.
	if (daysSinceLogin >= 30 || daysSinceLogin < 0) &&
		u.LoginsLast30Days == 0 && len(u.FeaturesUsedLast30Days) == 0 {
		return Classification{
			State:      models.StateChurned,
			Confidence: 95,
			Signals:    []string{"no login in 30+ days", "zero 30-day logins", "zero feature usage"},
		}
	}

	// Reactivated: back from the dead within the last week.
	if u.PreviousState == models.StateChurned && daysSinceLogin >= 0 && daysSinceLogin <= 7 &&
		u.LoginsLast7Days >= 1 {
		return Classification{
			State:      models.StateReactivated,
			Confidence: 90,
			Signals:    []string{"previously churned", "login within 7 days"},
		}
	}

	// Lead: signed up, never really arrived.
	if len(u.FeaturesUsedLast30Days) == 0 && u.LoginsLast30Days <= 1 && u.AvgSessionMinutes == 0 {
		return Classification{
			State:      models.StateLead,
			Confidence: 85,
			Signals:    []string{"no feature usage", "at most one login in 30 days"},
		}
	}

	if atRisk, signals := scoreDecline(u, daysSinceLogin); atRisk {
		return Classification{
			State:      models.StateAtRisk,
			Confidence: 80,
			Signals:    signals,
		}
	}

	// ExpansionReady: pressing on limits while otherwise healthy.
	if (u.SeatUtilization() >= 80 || u.APIUtilization() >= 80) &&
		u.LoginsLast7Days >= 3 && len(u.FeaturesUsedLast30Days) >= 3 {
		return Classification{
			State:      models.StateExpansionReady,
			Confidence: 85,
			Signals:    []string{"seat or API utilization at 80%+", "healthy engagement"},
		}
	}

	if u.LoginsLast30Days >= 20 && len(u.FeaturesUsedLast30Days) >= 5 && u.AvgSessionMinutes >= 30 {
		return Classification{
			State:      models.StatePowerUser,
			Confidence: 90,
			Signals:    []string{"20+ logins in 30 days", "5+ features", "30+ minute sessions"},
		}
	}

	if u.ActivatedAt != nil || (len(u.FeaturesUsedLast30Days) >= 3 && u.AvgSessionMinutes >= 10) {
		return Classification{
			State:      models.StateActivated,
			Confidence: 80,
			Signals:    []string{"activation criteria met"},
		}
	}

	return Classification{
		State:      models.StateTrial,
		Confidence: 60,
		Signals:    []string{"default state"},
	}
}

// scoreDecline sums the five weighted decline signals.
func scoreDecline(u *models.User, daysSinceLogin int) (bool, []string) {
	total := 0

	var signals []string

	if daysSinceLogin >= 14 || daysSinceLogin < 0 {
		total += weightNoLogin14d

		signals = append(signals, "no login in 14+ days")
	}

	if u.LoginsLast30Days <= 4 {
		total += weightLowFrequency

		signals = append(signals, "low 30-day login frequency")
	}

	if len(u.FeaturesUsedLast30Days) <= 1 {
		total += weightFewFeatures

		signals = append(signals, "one or fewer features used")
	}

	if u.AvgSessionMinutes > 0 && u.AvgSessionMinutes < 5 {
		total += weightShallowSession

		signals = append(signals, "shallow sessions")
	}

	if u.NPSScore != nil && *u.NPSScore <= 5 {
		total += weightLowNPS

		signals = append(signals, "detractor NPS")
	}

	if total >= atRiskThreshold {
		signals = append(signals, fmt.Sprintf("decline score %d", total))

		return true, signals
	}

	return false, nil
}
