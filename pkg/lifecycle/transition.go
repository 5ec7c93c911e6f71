package lifecycle

import (
	"fmt"
	"time"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/jonboulle/clockwork"
)

// Transition is the outcome of a cooldown-guarded transition check.
type Transition struct {
	Transitioned bool                  `json:"transitioned"`
	From         models.LifecycleState `json:"from"`
	To           models.LifecycleState `json:"to"`
	Confidence   int                   `json:"confidence"`
	Signals      []string              `json:"signals"`
}

// Per-state minimum dwell times. A proposed transition out of a state is
// suppressed until the dwell has elapsed, except when moving into AtRisk or
// Churned, which always pass (safety over hysteresis).
var cooldowns = map[models.LifecycleState]time.Duration{
	models.StateLead:           24 * time.Hour,
	models.StateTrial:          24 * time.Hour,
	models.StateActivated:      72 * time.Hour,
	models.StatePowerUser:      72 * time.Hour,
	models.StateExpansionReady: 48 * time.Hour,
	models.StateAtRisk:         48 * time.Hour,
	models.StateChurned:        7 * 24 * time.Hour,
	models.StateReactivated:    48 * time.Hour,
}

// Detector wraps Classify with cooldown enforcement.
type Detector struct {
	clock clockwork.Clock
}

func NewDetector(clock clockwork.Clock) *Detector {
	return &Detector{clock: clock}
}

// DetectStateTransition classifies the user and decides whether the resulting
// state change may be applied now. Suppressed transitions report the original
// state with a diagnostic signal appended; nothing is persisted here.
func (d *Detector) DetectStateTransition(u *models.User) Transition {
	now := d.clock.Now()
	result := Classify(u, now)

	if result.State == u.LifecycleState {
		return Transition{
			Transitioned: false,
			From:         u.LifecycleState,
			To:           u.LifecycleState,
			Confidence:   result.Confidence,
			Signals:      result.Signals,
		}
	}

	bypassCooldown := result.State == models.StateAtRisk || result.State == models.StateChurned

	if !bypassCooldown && u.StateChangedAt != nil {
		dwell := now.Sub(*u.StateChangedAt)
		if minimum, ok := cooldowns[u.LifecycleState]; ok && dwell < minimum {
			signals := append(result.Signals, fmt.Sprintf(
				"transition to %s suppressed by cooldown (%s of %s elapsed)",
				result.State, dwell.Truncate(time.Minute), minimum))

			return Transition{
				Transitioned: false,
				From:         u.LifecycleState,
				To:           u.LifecycleState,
				Confidence:   result.Confidence,
				Signals:      signals,
			}
		}
	}

	return Transition{
		Transitioned: true,
		From:         u.LifecycleState,
		To:           result.State,
		Confidence:   result.Confidence,
		Signals:      result.Signals,
	}
}
