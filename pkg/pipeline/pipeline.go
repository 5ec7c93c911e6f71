// Package pipeline orchestrates the per-event processing run: classification,
// scoring, segmentation, flow enrollment and notification fan-out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flywheelhq/flywheel/pkg/churn"
	"github.com/flywheelhq/flywheel/pkg/eventbus"
	"github.com/flywheelhq/flywheel/pkg/events"
	"github.com/flywheelhq/flywheel/pkg/expansion"
	"github.com/flywheelhq/flywheel/pkg/flow"
	"github.com/flywheelhq/flywheel/pkg/lifecycle"
	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/otelhelper"
	"github.com/flywheelhq/flywheel/pkg/persistence"
	"github.com/flywheelhq/flywheel/pkg/segment"
	"github.com/flywheelhq/flywheel/pkg/webhook"
)

// riskChangeThreshold: churn score movement beyond this emits a notification.
const riskChangeThreshold = 10

// StageError records one isolated stage failure.
type StageError struct {
	Stage string `json:"stage"`
	Err   string `json:"error"`
}

// Notification is one outbox entry awaiting dispatch.
type Notification struct {
	OrganizationID string
	Event          eventbus.Event
}

// Result is the outcome of one pipeline run. Notifications accumulate here
// and are only delivered when the caller invokes Dispatch, which keeps runs
// deterministic under test.
type Result struct {
	OrganizationID string
	Event          *models.TrackedEvent
	User           *models.User
	Transition     *lifecycle.Transition
	Churn          *churn.Result
	Signals        []models.ExpansionSignal
	NewEnrollments []string
	Notifications  []Notification
	Errors         []StageError
}

func (r *Result) notify(event eventbus.Event) {
	r.Notifications = append(r.Notifications, Notification{
		OrganizationID: r.OrganizationID,
		Event:          event,
	})
}

// Pipeline runs inbound events through the ordered processing stages. Each
// stage is failure-isolated: an error is recorded on the result and the
// remaining stages still run.
type Pipeline struct {
	store     persistence.Store
	engine    *flow.Engine
	matcher   *flow.Matcher
	detector  *lifecycle.Detector
	actions   *ActionDispatcher
	publisher eventbus.EventPublisher
	webhooks  *webhook.Dispatcher
	clock     clockwork.Clock
	tracer    trace.Tracer
	logger    *slog.Logger
}

func New(store persistence.Store, actions *ActionDispatcher, publisher eventbus.EventPublisher, webhooks *webhook.Dispatcher, clock clockwork.Clock, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		engine:    flow.NewEngine(clock, logger),
		matcher:   flow.NewMatcher(logger),
		detector:  lifecycle.NewDetector(clock),
		actions:   actions,
		publisher: publisher,
		webhooks:  webhooks,
		clock:     clock,
		tracer:    otel.Tracer("flywheel.pipeline"),
		logger:    logger.With("module", "pipeline"),
	}
}

// ProcessEvent runs one inbound event through all stages. Events without a
// resolvable user only reach the notification stage; unidentified users
// cannot be classified.
func (p *Pipeline) ProcessEvent(ctx context.Context, orgID string, evt *models.TrackedEvent) *Result {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "pipeline.process_event",
		attribute.String(otelhelper.OrganizationIDKey, orgID),
		attribute.String(otelhelper.EventNameKey, evt.Name))
	defer span.End()

	result := &Result{OrganizationID: orgID, Event: evt}

	user, err := p.store.UserByExternalID(ctx, orgID, evt.UserExternalID)
	if err != nil {
		if !errors.Is(err, persistence.ErrUserNotFound) {
			result.Errors = append(result.Errors, StageError{Stage: "resolve_user", Err: err.Error()})
		}

		p.runStage(ctx, result, "notify_event", func(context.Context) error {
			p.notifyTracked(result)

			return nil
		})

		return result
	}

	result.User = user
	account := p.resolveAccount(ctx, result, user)

	p.runStage(ctx, result, "lifecycle", func(ctx context.Context) error {
		return p.stageLifecycle(ctx, result, user)
	})
	p.runStage(ctx, result, "churn", func(ctx context.Context) error {
		return p.stageChurn(ctx, result, user)
	})
	p.runStage(ctx, result, "expansion", func(ctx context.Context) error {
		return p.stageExpansion(ctx, result, user, account)
	})
	p.runStage(ctx, result, "segments", func(ctx context.Context) error {
		return p.stageSegments(ctx, result, user, account)
	})
	p.runStage(ctx, result, "flow_enrollment", func(ctx context.Context) error {
		return p.stageEnroll(ctx, result, user, account, evt)
	})
	p.runStage(ctx, result, "advance_waiting", func(ctx context.Context) error {
		return p.stageAdvanceWaiting(ctx, result, user, account, evt)
	})
	p.runStage(ctx, result, "notify_lifecycle", func(context.Context) error {
		if result.Transition != nil && result.Transition.Transitioned {
			result.notify(events.LifecycleChanged{
				BaseEvent:  events.NewBaseEvent(events.UserLifecycleChanged, orgID),
				UserID:     user.ID,
				From:       result.Transition.From,
				To:         result.Transition.To,
				Confidence: result.Transition.Confidence,
				Signals:    result.Transition.Signals,
			})
		}

		return nil
	})
	p.runStage(ctx, result, "notify_event", func(context.Context) error {
		p.notifyTracked(result)

		return nil
	})
	p.runStage(ctx, result, "activity_log", func(ctx context.Context) error {
		return p.stageActivity(ctx, result, user)
	})

	return result
}

// Dispatch publishes the run's notifications to the event bus and the webhook
// dispatcher. Delivery is best effort; failures are logged and never fail the
// run that produced them.
func (p *Pipeline) Dispatch(ctx context.Context, notifications []Notification) {
	for _, n := range notifications {
		if p.publisher != nil {
			if err := p.publisher.Publish(ctx, n.OrganizationID, n.Event); err != nil {
				p.logger.WarnContext(ctx, "notification publish failed",
					"event_type", n.Event.GetType(), "error", err)
			}
		}

		if p.webhooks != nil {
			if err := p.webhooks.Dispatch(ctx, n.OrganizationID, n.Event); err != nil {
				p.logger.WarnContext(ctx, "webhook dispatch failed",
					"event_type", n.Event.GetType(), "error", err)
			}
		}
	}
}

func (p *Pipeline) runStage(ctx context.Context, result *Result, name string, fn func(ctx context.Context) error) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "pipeline.stage",
		attribute.String(otelhelper.StageKey, name))
	defer span.End()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("stage panic: %v", r)
			}
		}()

		return fn(ctx)
	}()

	if err != nil {
		otelhelper.SetError(span, err)
		result.Errors = append(result.Errors, StageError{Stage: name, Err: err.Error()})
		p.logger.ErrorContext(ctx, "pipeline stage failed", "stage", name, "error", err)
	}
}

func (p *Pipeline) resolveAccount(ctx context.Context, result *Result, user *models.User) *models.Account {
	if user.AccountID == "" {
		return nil
	}

	account, err := p.store.AccountByID(ctx, result.OrganizationID, user.AccountID)
	if err != nil {
		if !errors.Is(err, persistence.ErrAccountNotFound) {
			result.Errors = append(result.Errors, StageError{Stage: "resolve_account", Err: err.Error()})
		}

		return nil
	}

	return account
}

func (p *Pipeline) stageLifecycle(ctx context.Context, result *Result, user *models.User) error {
	transition := p.detector.DetectStateTransition(user)
	result.Transition = &transition

	if !transition.Transitioned {
		return nil
	}

	now := p.clock.Now().UTC()
	user.PreviousState = transition.From
	user.LifecycleState = transition.To
	user.StateChangedAt = &now

	return p.store.UpdateUserFields(ctx, result.OrganizationID, user.ID, map[string]any{
		"lifecycle_state":  string(transition.To),
		"previous_state":   string(transition.From),
		"state_changed_at": now,
	})
}

func (p *Pipeline) stageChurn(ctx context.Context, result *Result, user *models.User) error {
	scored := churn.Score(user, p.clock.Now())
	result.Churn = &scored

	previous := user.ChurnScore
	if delta := scored.Score - previous; delta > riskChangeThreshold || delta < -riskChangeThreshold {
		factors := make([]string, 0, len(scored.Factors))
		for _, f := range scored.Factors {
			factors = append(factors, f.Signal)
		}

		result.notify(events.RiskScoreChanged{
			BaseEvent:     events.NewBaseEvent(events.UserRiskScoreChanged, result.OrganizationID),
			UserID:        user.ID,
			PreviousScore: previous,
			Score:         scored.Score,
			Tier:          string(scored.Tier),
			Factors:       factors,
		})
	}

	if scored.Score == previous {
		return nil
	}

	user.ChurnScore = scored.Score

	return p.store.UpdateUserFields(ctx, result.OrganizationID, user.ID, map[string]any{
		"churn_score": scored.Score,
	})
}

func (p *Pipeline) stageExpansion(ctx context.Context, result *Result, user *models.User, account *models.Account) error {
	signals := expansion.Detect(user, account)
	result.Signals = signals

	if len(signals) == 0 {
		return nil
	}

	composite := expansion.CompositeScore(signals)
	if composite != user.ExpansionScore {
		user.ExpansionScore = composite

		if err := p.store.UpdateUserFields(ctx, result.OrganizationID, user.ID, map[string]any{
			"expansion_score": composite,
		}); err != nil {
			return err
		}
	}

	// Opportunities are account-scoped; signals for account-less users still
	// feed the expansion score but create nothing to hand to sales.
	if account == nil {
		return nil
	}

	existing, err := p.store.OpportunitiesByStatus(ctx, result.OrganizationID, account.ID, models.OpportunityIdentified)
	if err != nil {
		return fmt.Errorf("failed to load opportunities: %w", err)
	}

	identified := make(map[models.SignalKind]bool, len(existing))
	for _, o := range existing {
		identified[o.Signal] = true
	}

	var errs []error

	for _, sig := range signals {
		if identified[sig.Kind] {
			continue
		}

		now := p.clock.Now().UTC()
		opp := &models.ExpansionOpportunity{
			ID:             uuid.New().String(),
			OrganizationID: result.OrganizationID,
			AccountID:      account.ID,
			Signal:         sig.Kind,
			Confidence:     sig.Confidence,
			SuggestedPlan:  sig.SuggestedPlan,
			UpliftMRRCents: sig.UpliftMRRCents,
			Detail:         sig.Detail,
			Status:         models.OpportunityIdentified,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if err := p.store.SaveOpportunity(ctx, opp); err != nil {
			errs = append(errs, fmt.Errorf("failed to save opportunity for %s: %w", sig.Kind, err))

			continue
		}

		result.notify(events.ExpansionSignalDetected{
			BaseEvent:      events.NewBaseEvent(events.AccountExpansionSignal, result.OrganizationID),
			AccountID:      account.ID,
			UserID:         user.ID,
			Signal:         sig.Kind,
			Confidence:     sig.Confidence,
			SuggestedPlan:  sig.SuggestedPlan,
			UpliftMRRCents: sig.UpliftMRRCents,
		})
	}

	return errors.Join(errs...)
}

func (p *Pipeline) stageSegments(ctx context.Context, result *Result, user *models.User, account *models.Account) error {
	segments, err := p.store.ActiveSegments(ctx, result.OrganizationID)
	if err != nil {
		return fmt.Errorf("failed to load segments: %w", err)
	}

	rec := segment.NewRecord(user, account)

	var errs []error

	for _, seg := range segments {
		matches := segment.Evaluate(seg.Rules, seg.FilterLogic, rec)

		isMember, err := p.store.IsMember(ctx, result.OrganizationID, seg.ID, user.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("segment %s: %w", seg.ID, err))

			continue
		}

		switch {
		case matches && !isMember:
			err = p.store.UpsertMembership(ctx, result.OrganizationID, &models.SegmentMembership{
				SegmentID: seg.ID,
				UserID:    user.ID,
				JoinedAt:  p.clock.Now().UTC(),
			})
		case !matches && isMember:
			err = p.store.RemoveMembership(ctx, result.OrganizationID, seg.ID, user.ID)
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("segment %s: %w", seg.ID, err))
		}
	}

	return errors.Join(errs...)
}

func (p *Pipeline) stageEnroll(ctx context.Context, result *Result, user *models.User, account *models.Account, evt *models.TrackedEvent) error {
	trigEvt := flow.TriggerEvent{EventName: evt.Name}
	if result.Transition != nil && result.Transition.Transitioned {
		trigEvt.LifecycleTo = result.Transition.To
	}

	flows, err := p.store.FlowsByStatus(ctx, result.OrganizationID, models.FlowStatusActive)
	if err != nil {
		return fmt.Errorf("failed to load flows: %w", err)
	}

	enrollments, err := p.store.EnrollmentsByUser(ctx, result.OrganizationID, user.ID)
	if err != nil {
		return fmt.Errorf("failed to load enrollments: %w", err)
	}

	var errs []error

	for _, f := range flows {
		if !p.matcher.Matches(f, trigEvt) {
			continue
		}

		if !p.mayEnroll(f, enrollments) {
			continue
		}

		enrollment := p.newEnrollment(f, user, account, evt)
		result.NewEnrollments = append(result.NewEnrollments, enrollment.ID)

		result.notify(events.FlowEnrollmentTriggered{
			BaseEvent:    events.NewBaseEvent(events.FlowTriggered, result.OrganizationID),
			FlowID:       f.ID,
			FlowName:     f.Name,
			EnrollmentID: enrollment.ID,
			UserID:       user.ID,
		})

		f.Metrics.TotalEnrolled++
		f.Metrics.CurrentlyActive++

		if err := p.runEnrollment(ctx, result, f, enrollment, user, account, evt); err != nil {
			errs = append(errs, fmt.Errorf("flow %s: %w", f.ID, err))
		}
	}

	return errors.Join(errs...)
}

// mayEnroll applies the duplicate and re-enrollment guards: an active or
// paused enrollment blocks outright; a prior finished run blocks unless the
// flow allows re-enrollment.
func (p *Pipeline) mayEnroll(f *models.FlowDefinition, enrollments []*models.FlowEnrollment) bool {
	for _, e := range enrollments {
		if e.FlowID != f.ID {
			continue
		}

		if !e.Status.Terminal() {
			return false
		}

		if !f.Settings.AllowReEnrollment {
			return false
		}
	}

	return true
}

func (p *Pipeline) newEnrollment(f *models.FlowDefinition, user *models.User, account *models.Account, evt *models.TrackedEvent) *models.FlowEnrollment {
	now := p.clock.Now().UTC()

	return &models.FlowEnrollment{
		ID:             uuid.New().String(),
		OrganizationID: f.OrganizationID,
		FlowID:         f.ID,
		FlowVersion:    f.Version,
		UserID:         user.ID,
		Status:         models.EnrollmentActive,
		CurrentNodeID:  f.TriggerNode().ID,
		Variables:      flow.SeedVariables(f, user, account, evt),
		EnrolledAt:     now,
		UpdatedAt:      now,
	}
}

func (p *Pipeline) stageAdvanceWaiting(ctx context.Context, result *Result, user *models.User, account *models.Account, evt *models.TrackedEvent) error {
	enrollments, err := p.store.EnrollmentsByUser(ctx, result.OrganizationID, user.ID)
	if err != nil {
		return fmt.Errorf("failed to load enrollments: %w", err)
	}

	now := p.clock.Now()

	var errs []error

	for _, e := range enrollments {
		if e.Status != models.EnrollmentActive || e.NextProcessAt == nil {
			continue
		}

		// Skip enrollments this same run just created and suspended.
		if containsID(result.NewEnrollments, e.ID) {
			continue
		}

		woken := !e.NextProcessAt.After(now) ||
			(e.WaitingForEvent != "" && e.WaitingForEvent == evt.Name)
		if !woken {
			continue
		}

		f, err := p.store.FlowByID(ctx, result.OrganizationID, e.FlowID)
		if err != nil {
			errs = append(errs, fmt.Errorf("enrollment %s: %w", e.ID, err))

			continue
		}

		if err := p.runEnrollment(ctx, result, f, e, user, account, evt); err != nil {
			errs = append(errs, fmt.Errorf("enrollment %s: %w", e.ID, err))
		}
	}

	return errors.Join(errs...)
}

// runEnrollment processes one enrollment to suspension or termination,
// dispatches produced actions, and persists enrollment and flow metric
// changes.
func (p *Pipeline) runEnrollment(ctx context.Context, result *Result, f *models.FlowDefinition, e *models.FlowEnrollment, user *models.User, account *models.Account, evt *models.TrackedEvent) error {
	run, err := p.engine.ProcessEnrollment(flow.TickInput{
		Flow:       f,
		Enrollment: e,
		User:       user,
		Account:    account,
		Event:      evt,
	})
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	for _, dispatchErr := range p.actions.Dispatch(ctx, e.OrganizationID, user, run.Actions) {
		p.logger.WarnContext(ctx, "enrollment action failed",
			"enrollment_id", e.ID, "error", dispatchErr)
	}

	if e.Status.Terminal() {
		f.Metrics.CurrentlyActive--
		if f.Metrics.CurrentlyActive < 0 {
			f.Metrics.CurrentlyActive = 0
		}

		switch e.Status {
		case models.EnrollmentCompleted:
			f.Metrics.Completed++
		case models.EnrollmentExited:
			f.Metrics.ExitedEarly++
		case models.EnrollmentError:
			f.Metrics.ErrorCount++
		}

		result.notify(events.FlowEnrollmentCompleted{
			BaseEvent:    events.NewBaseEvent(events.FlowCompleted, e.OrganizationID),
			FlowID:       f.ID,
			EnrollmentID: e.ID,
			UserID:       e.UserID,
			Status:       e.Status,
		})
	}

	if err := p.store.SaveEnrollment(ctx, e); err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}

	if err := p.store.SaveFlow(ctx, f); err != nil {
		return fmt.Errorf("failed to save flow metrics: %w", err)
	}

	return nil
}

func (p *Pipeline) notifyTracked(result *Result) {
	evt := result.Event

	tracked := events.Tracked{
		BaseEvent:      events.NewBaseEvent(events.EventTracked, result.OrganizationID),
		UserExternalID: evt.UserExternalID,
		Name:           evt.Name,
		Properties:     evt.Properties,
	}

	result.notify(tracked)
}

func (p *Pipeline) stageActivity(ctx context.Context, result *Result, user *models.User) error {
	var messages []string

	if result.Transition != nil && result.Transition.Transitioned {
		messages = append(messages, fmt.Sprintf("lifecycle state changed from %s to %s",
			result.Transition.From, result.Transition.To))
	}

	for range result.NewEnrollments {
		messages = append(messages, "enrolled in flow")
	}

	for _, n := range result.Notifications {
		if n.Event.GetType() == events.AccountExpansionSignal {
			messages = append(messages, "expansion opportunity identified")
		}
	}

	var errs []error

	for _, msg := range messages {
		err := p.store.AppendActivity(ctx, &models.ActivityEntry{
			ID:             uuid.New().String(),
			OrganizationID: result.OrganizationID,
			UserID:         user.ID,
			Kind:           "pipeline",
			Message:        msg,
			CreatedAt:      p.clock.Now().UTC(),
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}

	return false
}
