// Package web provides the HTTP surface: event ingest, flow, segment and
// webhook management. Handlers stay thin and forward into the pipeline and
// store.
package web

import (
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/flywheelhq/flywheel/pkg/flow"
	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/persistence"
	"github.com/flywheelhq/flywheel/pkg/pipeline"
	"github.com/flywheelhq/flywheel/pkg/webhook"
)

// OrgHeader identifies the tenant on every request.
const OrgHeader = "X-Organization-Id"

type Handlers struct {
	store     persistence.Store
	pipeline  *pipeline.Pipeline
	webhooks  *webhook.Dispatcher
	validator *validator.Validate
	logger    *slog.Logger
}

func NewHandlers(store persistence.Store, p *pipeline.Pipeline, webhooks *webhook.Dispatcher, validate *validator.Validate, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:     store,
		pipeline:  p,
		webhooks:  webhooks,
		validator: validate,
		logger:    logger.With("module", "web"),
	}
}

func orgID(c fiber.Ctx) string {
	return strings.TrimSpace(c.Get(OrgHeader))
}

// requireOrg rejects requests without a tenant header before any handler runs.
func (h *Handlers) RequireOrg(c fiber.Ctx) error {
	if orgID(c) == "" {
		return badRequest(c, OrgHeader+" header is required")
	}

	return c.Next()
}

// Events

func (h *Handlers) IngestEvent(c fiber.Ctx) error {
	var req IngestEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	resp := h.process(c, []IngestEventRequest{req})

	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *Handlers) IngestBatch(c fiber.Ctx) error {
	var req IngestBatchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	resp := h.process(c, req.Events)

	return c.Status(fiber.StatusAccepted).JSON(resp)
}

// process runs events through the pipeline strictly in order and dispatches
// each run's notification outbox before the next event starts.
func (h *Handlers) process(c fiber.Ctx, reqs []IngestEventRequest) IngestResponse {
	org := orgID(c)
	resp := IngestResponse{}

	for _, req := range reqs {
		occurred := time.Now().UTC()
		if req.OccurredAt != nil {
			occurred = req.OccurredAt.UTC()
		}

		evt := &models.TrackedEvent{
			ID:             uuid.New().String(),
			OrganizationID: org,
			UserExternalID: req.UserExternalID,
			Name:           req.Name,
			Properties:     req.Properties,
			OccurredAt:     occurred,
			ReceivedAt:     time.Now().UTC(),
		}

		result := h.pipeline.ProcessEvent(c.Context(), org, evt)
		h.pipeline.Dispatch(c.Context(), result.Notifications)

		resp.Processed++

		for _, stageErr := range result.Errors {
			resp.StageErrors = append(resp.StageErrors, stageErr.Stage+": "+stageErr.Err)
		}
	}

	return resp
}

// Flows

func (h *Handlers) ListFlows(c fiber.Ctx) error {
	status := models.FlowStatus(c.Query("status", string(models.FlowStatusActive)))

	flows, err := h.store.FlowsByStatus(c.Context(), orgID(c), status)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(flows)
}

func (h *Handlers) GetFlow(c fiber.Ctx) error {
	f, err := h.store.FlowByID(c.Context(), orgID(c), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(f)
}

func (h *Handlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	now := time.Now().UTC()
	f := &models.FlowDefinition{
		ID:             uuid.New().String(),
		OrganizationID: orgID(c),
		Name:           req.Name,
		Description:    req.Description,
		Status:         models.FlowStatusDraft,
		Version:        1,
		Nodes:          req.Nodes,
		Edges:          req.Edges,
		Variables:      req.Variables,
		Settings:       req.Settings,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if errs := flow.ValidateDefinition(f); len(errs) > 0 {
		return badRequest(c, joinErrors(errs))
	}

	if err := h.store.SaveFlow(c.Context(), f); err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(f)
}

func (h *Handlers) UpdateFlow(c fiber.Ctx) error {
	var req UpdateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.store.FlowByID(c.Context(), orgID(c), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	graphChanged := false

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Status != nil {
		existing.Status = *req.Status
	}

	if req.Nodes != nil {
		existing.Nodes = req.Nodes
		graphChanged = true
	}

	if req.Edges != nil {
		existing.Edges = req.Edges
		graphChanged = true
	}

	if req.Variables != nil {
		existing.Variables = req.Variables
	}

	if req.Settings != nil {
		existing.Settings = *req.Settings
	}

	if errs := flow.ValidateDefinition(existing); len(errs) > 0 {
		return badRequest(c, joinErrors(errs))
	}

	// Graph edits version the flow so in-flight enrollments can be told apart.
	if graphChanged {
		existing.Version++
	}

	existing.UpdatedAt = time.Now().UTC()

	if err := h.store.SaveFlow(c.Context(), existing); err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(existing)
}

func (h *Handlers) DeleteFlow(c fiber.Ctx) error {
	if err := h.store.DeleteFlow(c.Context(), orgID(c), c.Params("id")); err != nil {
		return handleStoreError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Segments

func (h *Handlers) ListSegments(c fiber.Ctx) error {
	segments, err := h.store.ActiveSegments(c.Context(), orgID(c))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(segments)
}

func (h *Handlers) GetSegment(c fiber.Ctx) error {
	seg, err := h.store.SegmentByID(c.Context(), orgID(c), c.Params("id"))
	if err != nil {
		return notFound(c, "segment not found")
	}

	return c.JSON(seg)
}

func (h *Handlers) CreateSegment(c fiber.Ctx) error {
	var req CreateSegmentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	now := time.Now().UTC()
	seg := &models.Segment{
		ID:             uuid.New().String(),
		OrganizationID: orgID(c),
		Name:           req.Name,
		Description:    req.Description,
		Rules:          req.Rules,
		FilterLogic:    req.FilterLogic.Normalize(),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.store.SaveSegment(c.Context(), seg); err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(seg)
}

func (h *Handlers) UpdateSegment(c fiber.Ctx) error {
	var req UpdateSegmentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	seg, err := h.store.SegmentByID(c.Context(), orgID(c), c.Params("id"))
	if err != nil {
		return notFound(c, "segment not found")
	}

	if req.Name != nil {
		seg.Name = *req.Name
	}

	if req.Description != nil {
		seg.Description = *req.Description
	}

	if req.Rules != nil {
		seg.Rules = req.Rules
	}

	if req.FilterLogic != nil {
		seg.FilterLogic = req.FilterLogic.Normalize()
	}

	if req.Active != nil {
		seg.Active = *req.Active
	}

	seg.UpdatedAt = time.Now().UTC()

	if err := h.store.SaveSegment(c.Context(), seg); err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(seg)
}

// Webhooks

func (h *Handlers) ListWebhooks(c fiber.Ctx) error {
	subs, err := h.store.WebhooksByOrg(c.Context(), orgID(c))
	if err != nil {
		return handleStoreError(c, err)
	}

	// Secrets never leave the API.
	for _, sub := range subs {
		sub.Secret = ""
	}

	return c.JSON(subs)
}

func (h *Handlers) CreateWebhook(c fiber.Ctx) error {
	var req CreateWebhookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	now := time.Now().UTC()
	sub := &models.WebhookSubscription{
		ID:             uuid.New().String(),
		OrganizationID: orgID(c),
		URL:            req.URL,
		Secret:         req.Secret,
		EventTypes:     req.EventTypes,
		Status:         models.WebhookActive,
		Description:    req.Description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.store.SaveWebhook(c.Context(), sub); err != nil {
		return handleStoreError(c, err)
	}

	created := *sub
	created.Secret = ""

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *Handlers) UpdateWebhook(c fiber.Ctx) error {
	var req UpdateWebhookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	sub, err := h.store.WebhookByID(c.Context(), orgID(c), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	if req.URL != nil {
		sub.URL = *req.URL
	}

	if req.Secret != nil {
		sub.Secret = *req.Secret
	}

	if req.EventTypes != nil {
		sub.EventTypes = req.EventTypes
	}

	if req.Status != nil {
		sub.Status = *req.Status
	}

	if req.Description != nil {
		sub.Description = *req.Description
	}

	sub.UpdatedAt = time.Now().UTC()

	if err := h.store.SaveWebhook(c.Context(), sub); err != nil {
		return handleStoreError(c, err)
	}

	updated := *sub
	updated.Secret = ""

	return c.JSON(updated)
}

func (h *Handlers) ListDeliveries(c fiber.Ctx) error {
	limit := fiber.Query(c, "limit", 100)

	return c.JSON(h.webhooks.RecentDeliveries(limit))
}

func (h *Handlers) ListDeadLetters(c fiber.Ctx) error {
	return c.JSON(h.webhooks.DeadLetters())
}

func (h *Handlers) ReplayDeadLetter(c fiber.Ctx) error {
	if err := h.webhooks.ReplayDeadLetter(c.Context(), orgID(c), c.Params("id")); err != nil {
		return badRequest(c, err.Error())
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Users

func (h *Handlers) GetUser(c fiber.Ctx) error {
	org := orgID(c)
	id := c.Params("id")

	user, err := h.store.UserByID(c.Context(), org, id)
	if err != nil {
		// Callers may only hold the external id.
		user, err = h.store.UserByExternalID(c.Context(), org, id)
		if err != nil {
			return handleStoreError(c, err)
		}
	}

	return c.JSON(user)
}

// Health

func (h *Handlers) HealthCheck(c fiber.Ctx) error {
	if err := h.store.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func joinErrors(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}

	return strings.Join(parts, "; ")
}
