package models

import "time"

// WebhookStatus is the operational state of a subscription.
type WebhookStatus string

const (
	WebhookActive   WebhookStatus = "active"
	WebhookFailing  WebhookStatus = "failing"
	WebhookInactive WebhookStatus = "inactive"
)

// A subscription degrades from active to failing once at least
// WebhookFailingMinDeliveries outcomes are recorded and the rolling success
// rate falls below WebhookFailingRateFloor. Reactivation is a manual status
// update.
const (
	WebhookFailingRateFloor     = 0.5
	WebhookFailingMinDeliveries = 20
)

// WebhookSubscription is one registered outbound endpoint.
type WebhookSubscription struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	URL            string        `json:"url"    validate:"required,url"`
	Secret         string        `json:"secret" validate:"required,min=16"`
	EventTypes     []string      `json:"event_types"`
	Status         WebhookStatus `json:"status"`
	SuccessRate    float64       `json:"success_rate"`
	Description    string        `json:"description,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// SubscribesTo reports whether the subscription wants the given event type.
// An empty event list subscribes to everything.
func (s *WebhookSubscription) SubscribesTo(eventType string) bool {
	if len(s.EventTypes) == 0 {
		return true
	}

	for _, t := range s.EventTypes {
		if t == eventType {
			return true
		}
	}

	return false
}

// DeliveryAttempt is one entry in the bounded delivery log.
type DeliveryAttempt struct {
	DeliveryID     string        `json:"delivery_id"`
	SubscriptionID string        `json:"subscription_id"`
	EventType      string        `json:"event_type"`
	Attempt        int           `json:"attempt"`
	StatusCode     int           `json:"status_code,omitempty"`
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
	Timestamp      time.Time     `json:"timestamp"`
}

// DeadLetterStatus tracks the replay state of a DLQ entry.
type DeadLetterStatus string

const (
	DeadLetterPending  DeadLetterStatus = "pending"
	DeadLetterReplayed DeadLetterStatus = "replayed"
)

// DeadLetter is a failed delivery retained for manual replay.
type DeadLetter struct {
	ID             string           `json:"id"`
	SubscriptionID string           `json:"subscription_id"`
	EventType      string           `json:"event_type"`
	Payload        []byte           `json:"payload"`
	Attempts       int              `json:"attempts"`
	LastError      string           `json:"last_error"`
	StatusCode     int              `json:"status_code,omitempty"`
	Status         DeadLetterStatus `json:"status"`
	FailedAt       time.Time        `json:"failed_at"`
}
