package models

import "time"

// TrackedEvent is one inbound behavioral event about an end user.
type TrackedEvent struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id" validate:"required"`
	UserExternalID string         `json:"user_external_id"`
	Name           string         `json:"name"            validate:"required,min=1"`
	Properties     map[string]any `json:"properties,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	ReceivedAt     time.Time      `json:"received_at"`
}

// ActivityEntry is one human-readable line in the per-org activity log.
type ActivityEntry struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id,omitempty"`
	Kind           string    `json:"kind"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}
