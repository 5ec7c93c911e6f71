package flow

import (
	"fmt"
	"time"

	"github.com/flywheelhq/flywheel/pkg/models"
)

// tickDelay suspends the enrollment on first visit and resumes it once the
// computed wake time has elapsed. A still-pending wake leaves the enrollment
// untouched.
func (e *Engine) tickDelay(in TickInput, node *models.FlowNode) (*TickResult, error) {
	cfg, err := node.DelayConfig()
	if err != nil {
		e.fail(in.Enrollment, node.ID, err.Error())

		return &TickResult{}, nil
	}

	now := e.clock.Now()
	enrollment := in.Enrollment

	if enrollment.NextProcessAt == nil {
		// First visit: compute the wake time and suspend.
		wake, waitEvent, err := e.computeWake(cfg, now)
		if err != nil {
			e.fail(enrollment, node.ID, err.Error())

			return &TickResult{}, nil
		}

		if !wake.After(now) {
			// Degenerate delay (past date, zero duration): fall through.
			e.record(enrollment, node, "completed", "delay already elapsed")

			return e.advance(in, node, "")
		}

		enrollment.NextProcessAt = &wake
		enrollment.WaitingForEvent = waitEvent
		enrollment.UpdatedAt = now

		e.record(enrollment, node, "waiting", fmt.Sprintf("until %s", wake.Format(time.RFC3339)))

		return &TickResult{}, nil
	}

	woken := !enrollment.NextProcessAt.After(now)

	if !woken && enrollment.WaitingForEvent != "" && in.Event != nil &&
		in.Event.Name == enrollment.WaitingForEvent {
		woken = true
	}

	if !woken {
		// Still suspended.
		return &TickResult{}, nil
	}

	enrollment.NextProcessAt = nil
	enrollment.WaitingForEvent = ""
	enrollment.UpdatedAt = now

	e.record(enrollment, node, "completed", "")

	return e.advance(in, node, "")
}

func (e *Engine) computeWake(cfg *models.DelayConfig, now time.Time) (time.Time, string, error) {
	switch cfg.Mode {
	case models.DelayFixed:
		return now.Add(time.Duration(cfg.DurationMinutes) * time.Minute), "", nil

	case models.DelayUntilTime:
		target, err := time.Parse("15:04", cfg.TimeOfDay)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("invalid time_of_day %q: %w", cfg.TimeOfDay, err)
		}

		wake := time.Date(now.Year(), now.Month(), now.Day(),
			target.Hour(), target.Minute(), 0, 0, now.Location())
		if !wake.After(now) {
			wake = wake.AddDate(0, 0, 1)
		}

		return wake, "", nil

	case models.DelayUntilDate:
		wake, err := time.Parse(time.RFC3339, cfg.Date)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("invalid date %q: %w", cfg.Date, err)
		}

		return wake, "", nil

	case models.DelayUntilEvent:
		if cfg.EventName == "" {
			return time.Time{}, "", fmt.Errorf("until_event delay requires event_name")
		}

		timeout := cfg.TimeoutMinutes
		if timeout <= 0 {
			timeout = 7 * 24 * 60
		}

		return now.Add(time.Duration(timeout) * time.Minute), cfg.EventName, nil

	case models.DelaySmartSend:
		start, end := cfg.WindowStartHour, cfg.WindowEndHour
		if start == 0 && end == 0 {
			start, end = 9, 17
		}

		if end <= start {
			return time.Time{}, "", fmt.Errorf("smart_send window [%d, %d) is empty", start, end)
		}

		// Wake at the midpoint of the next occurrence of the window.
		midpoint := start + (end-start)/2
		wake := time.Date(now.Year(), now.Month(), now.Day(), midpoint, 0, 0, 0, now.Location())

		if !wake.After(now) {
			wake = wake.AddDate(0, 0, 1)
		}

		return wake, "", nil

	default:
		return time.Time{}, "", fmt.Errorf("unknown delay mode %q", cfg.Mode)
	}
}
