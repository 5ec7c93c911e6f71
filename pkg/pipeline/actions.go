package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/flywheelhq/flywheel/pkg/flow"
	"github.com/flywheelhq/flywheel/pkg/mailer"
	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/persistence"
)

const actionRequestTimeout = 10 * time.Second

// ActionDispatcher executes the side effects flow action nodes produce. The
// engine itself never performs I/O; everything observable happens here.
type ActionDispatcher struct {
	store  persistence.Store
	mailer mailer.Mailer
	client *http.Client
	logger *slog.Logger
}

func NewActionDispatcher(store persistence.Store, m mailer.Mailer, logger *slog.Logger) *ActionDispatcher {
	return &ActionDispatcher{
		store:  store,
		mailer: m,
		client: &http.Client{Timeout: actionRequestTimeout},
		logger: logger.With("module", "action_dispatcher"),
	}
}

// Dispatch runs every intent in order, collecting per-intent errors. One
// failing action never blocks the rest.
func (d *ActionDispatcher) Dispatch(ctx context.Context, orgID string, user *models.User, intents []flow.ActionIntent) []error {
	var errs []error

	for _, intent := range intents {
		if err := d.dispatchOne(ctx, orgID, user, intent); err != nil {
			errs = append(errs, fmt.Errorf("action %s on node %s: %w", intent.Kind, intent.NodeID, err))

			d.logger.WarnContext(ctx, "action dispatch failed",
				"kind", intent.Kind,
				"flow_id", intent.FlowID,
				"node_id", intent.NodeID,
				"error", err)
		}
	}

	return errs
}

func (d *ActionDispatcher) dispatchOne(ctx context.Context, orgID string, user *models.User, intent flow.ActionIntent) error {
	cfg := intent.Config

	switch intent.Kind {
	case models.ActionSendEmail:
		_, err := d.mailer.Send(ctx, mailer.Payload{
			To:      user.Email,
			Subject: cfg.Subject,
			HTML:    cfg.Body,
		})

		return err

	case models.ActionSendWebhook, models.ActionAPICall:
		return d.post(ctx, cfg)

	case models.ActionUpdateUser:
		if len(cfg.Updates) == 0 {
			return nil
		}

		return d.store.UpdateUserFields(ctx, orgID, user.ID, cfg.Updates)

	case models.ActionAddTag:
		if cfg.Tag == "" || slices.Contains(user.Tags, cfg.Tag) {
			return nil
		}

		user.Tags = append(user.Tags, cfg.Tag)

		return d.store.UpdateUserFields(ctx, orgID, user.ID, map[string]any{"tags": user.Tags})

	case models.ActionRemoveTag:
		if cfg.Tag == "" || !slices.Contains(user.Tags, cfg.Tag) {
			return nil
		}

		user.Tags = slices.DeleteFunc(slices.Clone(user.Tags), func(t string) bool { return t == cfg.Tag })

		return d.store.UpdateUserFields(ctx, orgID, user.ID, map[string]any{"tags": user.Tags})

	case models.ActionCreateTask:
		return d.store.AppendActivity(ctx, &models.ActivityEntry{
			ID:             uuid.New().String(),
			OrganizationID: orgID,
			UserID:         user.ID,
			Kind:           "task_created",
			Message:        fmt.Sprintf("task %q assigned to %s", cfg.Title, cfg.Assignee),
			CreatedAt:      time.Now().UTC(),
		})

	case models.ActionSendNotification:
		d.logger.InfoContext(ctx, "in-app notification",
			"user_id", user.ID, "channel", cfg.Channel, "message", cfg.Message)

		return nil

	case models.ActionSetVariable:
		// Handled inline by the engine; never reaches the dispatcher.
		return nil

	default:
		return fmt.Errorf("unknown action kind %q", intent.Kind)
	}
}

func (d *ActionDispatcher) post(ctx context.Context, cfg models.ActionConfig) error {
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader

	if len(cfg.Payload) > 0 {
		encoded, err := json.Marshal(cfg.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}

		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}

	return nil
}
