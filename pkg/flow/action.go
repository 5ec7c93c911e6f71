package flow

import "github.com/flywheelhq/flywheel/pkg/models"

// ActionIntent is a side effect produced by an action node. The engine never
// performs the effect itself; the caller dispatches intents after the tick.
// set_variable is the one kind that also mutates the enrollment bag inline.
type ActionIntent struct {
	Kind         models.ActionKind   `json:"kind"`
	Config       models.ActionConfig `json:"config"`
	FlowID       string              `json:"flow_id"`
	EnrollmentID string              `json:"enrollment_id"`
	UserID       string              `json:"user_id"`
	NodeID       string              `json:"node_id"`
}
