// Package models defines the core domain models for lifecycle automation.
package models

import "time"

// LifecycleState represents where a user sits in the product lifecycle.
type LifecycleState string

const (
	StateLead           LifecycleState = "lead"
	StateTrial          LifecycleState = "trial"
	StateActivated      LifecycleState = "activated"
	StatePowerUser      LifecycleState = "power_user"
	StateExpansionReady LifecycleState = "expansion_ready"
	StateAtRisk         LifecycleState = "at_risk"
	StateChurned        LifecycleState = "churned"
	StateReactivated    LifecycleState = "reactivated"
)

// User is the behavioral snapshot classifiers operate on. Classifiers never
// mutate it; only the pipeline writes back through the store after a run.
type User struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	ExternalID     string `json:"external_id"`
	AccountID      string `json:"account_id,omitempty"`
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`

	LifecycleState LifecycleState `json:"lifecycle_state"`
	PreviousState  LifecycleState `json:"previous_state,omitempty"`
	StateChangedAt *time.Time     `json:"state_changed_at,omitempty"`
	ActivatedAt    *time.Time     `json:"activated_at,omitempty"`
	LastLoginAt    *time.Time     `json:"last_login_at,omitempty"`

	LoginsLast7Days        int      `json:"logins_last_7_days"`
	LoginsLast30Days       int      `json:"logins_last_30_days"`
	AvgSessionMinutes      float64  `json:"avg_session_minutes"`
	FeaturesUsedLast30Days []string `json:"features_used_last_30_days"`
	NPSScore               *int     `json:"nps_score,omitempty"`

	SeatCount          int `json:"seat_count"`
	SeatLimit          int `json:"seat_limit"`
	APICallsLast30     int `json:"api_calls_last_30_days"`
	APICallLimit       int `json:"api_call_limit"`
	APIThrottledLast30 int `json:"api_throttled_last_30_days"`
	FeatureGateHits    int `json:"feature_gate_hits_last_30_days"`

	SupportTickets     int  `json:"support_tickets_last_90_days"`
	SupportEscalations int  `json:"support_escalations_last_90_days"`
	DaysUntilRenewal   *int `json:"days_until_renewal,omitempty"`

	ChurnScore     int      `json:"churn_score"`
	ExpansionScore int      `json:"expansion_score"`
	PlanTier       PlanTier `json:"plan_tier"`

	Tags             []string       `json:"tags,omitempty"`
	CustomProperties map[string]any `json:"custom_properties,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DaysSinceLastLogin returns the whole days elapsed since the last login,
// or -1 when the user has never logged in.
func (u *User) DaysSinceLastLogin(now time.Time) int {
	if u.LastLoginAt == nil {
		return -1
	}

	return int(now.Sub(*u.LastLoginAt).Hours() / 24)
}

// SeatUtilization returns seat usage as a 0-100 percentage.
func (u *User) SeatUtilization() float64 {
	if u.SeatLimit <= 0 {
		return 0
	}

	return float64(u.SeatCount) / float64(u.SeatLimit) * 100
}

// APIUtilization returns API usage against the plan limit as a 0-100 percentage.
func (u *User) APIUtilization() float64 {
	if u.APICallLimit <= 0 {
		return 0
	}

	return float64(u.APICallsLast30) / float64(u.APICallLimit) * 100
}

// HealthTier buckets account health for reporting.
type HealthTier string

const (
	HealthGood     HealthTier = "good"
	HealthNeutral  HealthTier = "neutral"
	HealthAtRisk   HealthTier = "at_risk"
	HealthCritical HealthTier = "critical"
)

// Account aggregates the users of one paying customer.
type Account struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	ExternalID     string     `json:"external_id"`
	Name           string     `json:"name"`
	PlanTier       PlanTier   `json:"plan_tier"`
	MRRCents       int64      `json:"mrr_cents"`
	ARRCents       int64      `json:"arr_cents"`
	SeatLimit      int        `json:"seat_limit"`
	UserCount      int        `json:"user_count"`
	Health         HealthTier `json:"health"`
	ChurnScore     int        `json:"churn_score"`
	ExpansionScore int        `json:"expansion_score"`

	CustomProperties map[string]any `json:"custom_properties,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
