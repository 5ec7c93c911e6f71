package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flywheelhq/flywheel/pkg/eventbus"
	"github.com/flywheelhq/flywheel/pkg/events"
	"github.com/flywheelhq/flywheel/pkg/webhook"
)

// notification is what the worker forwards: every bus payload carries its
// organization alongside the typed event.
type notification interface {
	eventbus.Event
	GetOrganizationID() string
}

// Worker consumes notifications from the event bus and hands each one to the
// webhook dispatcher for delivery to the owning organization's endpoints.
type Worker struct {
	bus      eventbus.EventBus
	webhooks *webhook.Dispatcher
	logger   *slog.Logger
}

func NewWorker(bus eventbus.EventBus, webhooks *webhook.Dispatcher, logger *slog.Logger) *Worker {
	return &Worker{
		bus:      bus,
		webhooks: webhooks,
		logger:   logger,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	for _, eventType := range []events.EventType{
		events.UserLifecycleChanged,
		events.UserRiskScoreChanged,
		events.AccountExpansionSignal,
		events.FlowTriggered,
		events.FlowCompleted,
		events.EventTracked,
	} {
		w.bus.Handle(eventType, w.handle)
	}

	err := w.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}

	w.logger.InfoContext(ctx, "Webhook delivery worker started")

	<-ctx.Done()

	return nil
}

func (w *Worker) handle(ctx context.Context, event any) error {
	n, ok := event.(notification)
	if !ok {
		w.logger.WarnContext(ctx, "Discarding bus message without organization", "event", fmt.Sprintf("%T", event))

		return nil
	}

	err := w.webhooks.Dispatch(ctx, n.GetOrganizationID(), n)
	if err != nil {
		w.logger.ErrorContext(ctx, "Webhook dispatch failed",
			"event_type", n.GetType(),
			"organization_id", n.GetOrganizationID(),
			"error", err)
	}

	return nil
}
