package web

import (
	"time"

	"github.com/flywheelhq/flywheel/pkg/models"
)

// IngestEventRequest is one inbound behavioral event.
type IngestEventRequest struct {
	UserExternalID string         `json:"user_external_id"`
	Name           string         `json:"name" validate:"required,min=1"`
	Properties     map[string]any `json:"properties,omitempty"`
	OccurredAt     *time.Time     `json:"occurred_at,omitempty"`
}

// IngestBatchRequest carries an ordered batch; events are processed strictly
// sequentially to preserve causal ordering.
type IngestBatchRequest struct {
	Events []IngestEventRequest `json:"events" validate:"required,min=1,dive"`
}

// IngestResponse summarizes one ingest call.
type IngestResponse struct {
	Processed   int      `json:"processed"`
	StageErrors []string `json:"stage_errors,omitempty"`
}

type CreateFlowRequest struct {
	Name        string                `json:"name" validate:"required,min=3"`
	Description string                `json:"description,omitempty"`
	Nodes       []models.FlowNode     `json:"nodes" validate:"required,min=1"`
	Edges       []models.FlowEdge     `json:"edges"`
	Variables   []models.FlowVariable `json:"variables,omitempty"`
	Settings    models.FlowSettings   `json:"settings"`
}

type UpdateFlowRequest struct {
	Name        *string               `json:"name,omitempty" validate:"omitempty,min=3"`
	Description *string               `json:"description,omitempty"`
	Status      *models.FlowStatus    `json:"status,omitempty"`
	Nodes       []models.FlowNode     `json:"nodes,omitempty"`
	Edges       []models.FlowEdge     `json:"edges,omitempty"`
	Variables   []models.FlowVariable `json:"variables,omitempty"`
	Settings    *models.FlowSettings  `json:"settings,omitempty"`
}

type CreateSegmentRequest struct {
	Name        string               `json:"name" validate:"required,min=1"`
	Description string               `json:"description,omitempty"`
	Rules       []models.SegmentRule `json:"rules" validate:"dive"`
	FilterLogic models.FilterLogic   `json:"filter_logic"`
}

type UpdateSegmentRequest struct {
	Name        *string              `json:"name,omitempty" validate:"omitempty,min=1"`
	Description *string              `json:"description,omitempty"`
	Rules       []models.SegmentRule `json:"rules,omitempty" validate:"omitempty,dive"`
	FilterLogic *models.FilterLogic  `json:"filter_logic,omitempty"`
	Active      *bool                `json:"active,omitempty"`
}

type CreateWebhookRequest struct {
	URL         string   `json:"url" validate:"required,url"`
	Secret      string   `json:"secret" validate:"required,min=16"`
	EventTypes  []string `json:"event_types,omitempty"`
	Description string   `json:"description,omitempty"`
}

type UpdateWebhookRequest struct {
	URL         *string               `json:"url,omitempty" validate:"omitempty,url"`
	Secret      *string               `json:"secret,omitempty" validate:"omitempty,min=16"`
	EventTypes  []string              `json:"event_types,omitempty"`
	Status      *models.WebhookStatus `json:"status,omitempty"`
	Description *string               `json:"description,omitempty"`
}
