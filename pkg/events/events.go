// Package events defines the outbound notification taxonomy and payloads.
package events

import (
	"time"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic is the bus topic all notifications are published on.
const Topic = "flywheel.notifications"

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	UserLifecycleChanged   EventType = "user.lifecycle_changed"
	UserRiskScoreChanged   EventType = "user.risk_score_changed"
	AccountExpansionSignal EventType = "account.expansion_signal"
	FlowTriggered          EventType = "flow.triggered"
	FlowCompleted          EventType = "flow.completed"
	EventTracked           EventType = "event.tracked"
)

// legacyAliases maps retired event names onto their current forms. Subscriber
// event lists may still carry the old names.
var legacyAliases = map[string]EventType{
	"user.state_changed":      UserLifecycleChanged,
	"user.churn_risk_changed": UserRiskScoreChanged,
	"account.upsell_detected": AccountExpansionSignal,
	"workflow.enrolled":       FlowTriggered,
	"workflow.finished":       FlowCompleted,
	"event.received":          EventTracked,
}

// Canonical resolves a possibly-legacy event name to its current type.
func Canonical(name string) EventType {
	if canonical, ok := legacyAliases[name]; ok {
		return canonical
	}

	return EventType(name)
}

type BaseEvent struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	OrganizationID string    `json:"organization_id"`
}

func (e BaseEvent) GetOrganizationID() string { return e.OrganizationID }

type LifecycleChanged struct {
	BaseEvent

	UserID     string                `json:"user_id"`
	From       models.LifecycleState `json:"from"`
	To         models.LifecycleState `json:"to"`
	Confidence int                   `json:"confidence"`
	Signals    []string              `json:"signals,omitempty"`
}

func (e LifecycleChanged) GetType() EventType { return UserLifecycleChanged }

type RiskScoreChanged struct {
	BaseEvent

	UserID        string   `json:"user_id"`
	PreviousScore int      `json:"previous_score"`
	Score         int      `json:"score"`
	Tier          string   `json:"tier"`
	Factors       []string `json:"factors,omitempty"`
}

func (e RiskScoreChanged) GetType() EventType { return UserRiskScoreChanged }

type ExpansionSignalDetected struct {
	BaseEvent

	AccountID      string            `json:"account_id"`
	UserID         string            `json:"user_id,omitempty"`
	Signal         models.SignalKind `json:"signal"`
	Confidence     int               `json:"confidence"`
	SuggestedPlan  models.PlanTier   `json:"suggested_plan"`
	UpliftMRRCents int64             `json:"uplift_mrr_cents"`
}

func (e ExpansionSignalDetected) GetType() EventType { return AccountExpansionSignal }

type FlowEnrollmentTriggered struct {
	BaseEvent

	FlowID       string `json:"flow_id"`
	FlowName     string `json:"flow_name"`
	EnrollmentID string `json:"enrollment_id"`
	UserID       string `json:"user_id"`
}

func (e FlowEnrollmentTriggered) GetType() EventType { return FlowTriggered }

type FlowEnrollmentCompleted struct {
	BaseEvent

	FlowID       string                  `json:"flow_id"`
	EnrollmentID string                  `json:"enrollment_id"`
	UserID       string                  `json:"user_id"`
	Status       models.EnrollmentStatus `json:"status"`
}

func (e FlowEnrollmentCompleted) GetType() EventType { return FlowCompleted }

type Tracked struct {
	BaseEvent

	UserExternalID string         `json:"user_external_id,omitempty"`
	Name           string         `json:"name"`
	Properties     map[string]any `json:"properties,omitempty"`
}

func (e Tracked) GetType() EventType { return EventTracked }

func NewBaseEvent(eventType EventType, organizationID string) BaseEvent {
	return BaseEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		OrganizationID: organizationID,
	}
}
