package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/otelhelper"
	"github.com/flywheelhq/flywheel/pkg/persistence"
)

// defaultSweepBatch bounds how many due enrollments one sweep invocation
// processes.
const defaultSweepBatch = 500

// SweepResult summarizes one due-enrollment sweep across all organizations.
type SweepResult struct {
	Processed     int
	Terminated    int
	Notifications []Notification
	Errors        []StageError
}

// ProcessDueEnrollments advances every enrollment whose wake time has
// elapsed, re-resolving flow and user context per enrollment's own tenant.
// Caller dispatches the returned notifications.
func (p *Pipeline) ProcessDueEnrollments(ctx context.Context, limit int) (*SweepResult, error) {
	if limit <= 0 {
		limit = defaultSweepBatch
	}

	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "pipeline.sweep",
		attribute.Int("flywheel.sweep.limit", limit))
	defer span.End()

	due, err := p.store.DueEnrollments(ctx, p.clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load due enrollments: %w", err)
	}

	sweep := &SweepResult{}

	for _, e := range due {
		if err := p.sweepOne(ctx, sweep, e); err != nil {
			sweep.Errors = append(sweep.Errors, StageError{
				Stage: "sweep/" + e.ID,
				Err:   err.Error(),
			})

			p.logger.WarnContext(ctx, "due enrollment sweep failed",
				"enrollment_id", e.ID,
				"organization_id", e.OrganizationID,
				"error", err)
		}
	}

	if len(due) > 0 {
		p.logger.InfoContext(ctx, "due enrollment sweep finished",
			"processed", sweep.Processed,
			"terminated", sweep.Terminated,
			"errors", len(sweep.Errors))
	}

	return sweep, nil
}

func (p *Pipeline) sweepOne(ctx context.Context, sweep *SweepResult, e *models.FlowEnrollment) error {
	f, err := p.store.FlowByID(ctx, e.OrganizationID, e.FlowID)
	if err != nil {
		return fmt.Errorf("failed to resolve flow: %w", err)
	}

	user, err := p.store.UserByID(ctx, e.OrganizationID, e.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve user: %w", err)
	}

	var account *models.Account

	if user.AccountID != "" {
		account, err = p.store.AccountByID(ctx, e.OrganizationID, user.AccountID)
		if err != nil && !errors.Is(err, persistence.ErrAccountNotFound) {
			return fmt.Errorf("failed to resolve account: %w", err)
		}
	}

	// Collect the enrollment's notifications through a scratch result keyed
	// to its own tenant.
	scratch := &Result{OrganizationID: e.OrganizationID}

	if err := p.runEnrollment(ctx, scratch, f, e, user, account, nil); err != nil {
		return err
	}

	sweep.Processed++

	if e.Status.Terminal() {
		sweep.Terminated++
	}

	sweep.Notifications = append(sweep.Notifications, scratch.Notifications...)

	return nil
}
