package models

import "time"

// SignalKind names one of the expansion detectors.
type SignalKind string

const (
	SignalSeatCap     SignalKind = "seat_cap"
	SignalAPILimit    SignalKind = "api_limit"
	SignalHeavyUsage  SignalKind = "heavy_usage"
	SignalAPIThrottle SignalKind = "api_throttle"
	SignalFeatureGate SignalKind = "feature_gate"
)

// ExpansionSignal is one detected upsell indicator.
type ExpansionSignal struct {
	Kind           SignalKind `json:"kind"`
	Confidence     int        `json:"confidence"`
	SuggestedPlan  PlanTier   `json:"suggested_plan"`
	UpliftMRRCents int64      `json:"uplift_mrr_cents"`
	Detail         string     `json:"detail"`
}

// OpportunityStatus tracks an expansion opportunity through sales follow-up.
type OpportunityStatus string

const (
	OpportunityIdentified OpportunityStatus = "identified"
	OpportunityContacted  OpportunityStatus = "contacted"
	OpportunityWon        OpportunityStatus = "won"
	OpportunityLost       OpportunityStatus = "lost"
)

// ExpansionOpportunity is a persisted upsell candidate for an account.
type ExpansionOpportunity struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	AccountID      string            `json:"account_id"`
	Signal         SignalKind        `json:"signal"`
	Confidence     int               `json:"confidence"`
	SuggestedPlan  PlanTier          `json:"suggested_plan"`
	UpliftMRRCents int64             `json:"uplift_mrr_cents"`
	Detail         string            `json:"detail"`
	Status         OpportunityStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
