package models

import "time"

// EnrollmentStatus is the lifecycle state of one user's flow enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentExited    EnrollmentStatus = "exited"
	EnrollmentError     EnrollmentStatus = "error"
)

// Terminal reports whether no further ticks can advance the enrollment.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentExited || s == EnrollmentError
}

// HistoryEntry is one append-only record of a node transition.
type HistoryEntry struct {
	NodeID    string    `json:"node_id"`
	NodeType  NodeType  `json:"node_type"`
	Outcome   string    `json:"outcome"` // completed, waiting, exited, error
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FlowEnrollment tracks one user's position in one flow. NextProcessAt is set
// only while the enrollment is suspended on a delay or awaited event; absence
// means the enrollment is either mid-tick or terminal.
type FlowEnrollment struct {
	ID              string           `json:"id"`
	OrganizationID  string           `json:"organization_id"`
	FlowID          string           `json:"flow_id"`
	FlowVersion     int              `json:"flow_version"`
	UserID          string           `json:"user_id"`
	Status          EnrollmentStatus `json:"status"`
	CurrentNodeID   string           `json:"current_node_id"`
	Variables       map[string]any   `json:"variables,omitempty"`
	NextProcessAt   *time.Time       `json:"next_process_at,omitempty"`
	WaitingForEvent string           `json:"waiting_for_event,omitempty"`
	History         []HistoryEntry   `json:"history,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	ErrorNodeID     string           `json:"error_node_id,omitempty"`
	EnrolledAt      time.Time        `json:"enrolled_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// CompletedVisits counts prior completed passes through a node, used to bound
// goto loops.
func (e *FlowEnrollment) CompletedVisits(nodeID string) int {
	count := 0

	for _, h := range e.History {
		if h.NodeID == nodeID && h.Outcome == "completed" {
			count++
		}
	}

	return count
}
