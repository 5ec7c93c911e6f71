package models

import "time"

// FlowStatus represents the lifecycle state of a flow definition.
type FlowStatus string

const (
	FlowStatusDraft    FlowStatus = "draft"
	FlowStatusActive   FlowStatus = "active"
	FlowStatusPaused   FlowStatus = "paused"
	FlowStatusArchived FlowStatus = "archived"
)

// NodeType discriminates the node config variants.
type NodeType string

const (
	NodeTrigger   NodeType = "trigger"
	NodeAction    NodeType = "action"
	NodeCondition NodeType = "condition"
	NodeDelay     NodeType = "delay"
	NodeSplit     NodeType = "split"
	NodeFilter    NodeType = "filter"
	NodeGoto      NodeType = "goto"
	NodeExit      NodeType = "exit"
)

// FlowNode is one node instance in a flow graph. Config is decoded into the
// typed variant for its NodeType before execution; see node_config.go.
type FlowNode struct {
	ID     string         `json:"id"     validate:"required"`
	Type   NodeType       `json:"type"   validate:"required"`
	Name   string         `json:"name"`
	Config map[string]any `json:"config"`
}

// FlowEdge connects two nodes, optionally on a named handle such as
// "yes"/"no" for conditions or "variant-a" for splits.
type FlowEdge struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
	Handle   string `json:"handle,omitempty"`
}

// VariableSource names where a declared flow variable is seeded from.
type VariableSource string

const (
	VariableSourceStatic          VariableSource = "static"
	VariableSourceUserProperty    VariableSource = "user_property"
	VariableSourceAccountProperty VariableSource = "account_property"
	VariableSourceEventProperty   VariableSource = "event_property"
)

// FlowVariable declares one enrollment-scoped variable.
type FlowVariable struct {
	Key     string         `json:"key" validate:"required"`
	Source  VariableSource `json:"source"`
	Value   any            `json:"value,omitempty"`
	Path    string         `json:"path,omitempty"`
	Default any            `json:"default,omitempty"`
}

// FlowSettings carries per-flow execution policy.
type FlowSettings struct {
	AllowReEnrollment bool `json:"allow_re_enrollment"`
	MaxLoops          int  `json:"max_loops"`
	QuietHoursStart   int  `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd     int  `json:"quiet_hours_end,omitempty"`
}

// FlowMetrics is the running tally attached to a flow definition.
type FlowMetrics struct {
	TotalEnrolled   int `json:"total_enrolled"`
	CurrentlyActive int `json:"currently_active"`
	Completed       int `json:"completed"`
	ExitedEarly     int `json:"exited_early"`
	ErrorCount      int `json:"error_count"`
}

// FlowDefinition is a versioned directed node graph driving a workflow.
type FlowDefinition struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Name           string         `json:"name"    validate:"required,min=3"`
	Description    string         `json:"description,omitempty"`
	Status         FlowStatus     `json:"status"`
	Version        int            `json:"version"`
	Nodes          []FlowNode     `json:"nodes"`
	Edges          []FlowEdge     `json:"edges"`
	Variables      []FlowVariable `json:"variables,omitempty"`
	Settings       FlowSettings   `json:"settings"`
	Metrics        FlowMetrics    `json:"metrics"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NodeByID finds a node in the graph, nil when absent.
func (f *FlowDefinition) NodeByID(id string) *FlowNode {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}

	return nil
}

// TriggerNode returns the flow's trigger node, nil when the graph has none.
func (f *FlowDefinition) TriggerNode() *FlowNode {
	for i := range f.Nodes {
		if f.Nodes[i].Type == NodeTrigger {
			return &f.Nodes[i]
		}
	}

	return nil
}

// EdgesFrom returns all outgoing edges of a node in declaration order.
func (f *FlowDefinition) EdgesFrom(nodeID string) []FlowEdge {
	var out []FlowEdge

	for _, e := range f.Edges {
		if e.SourceID == nodeID {
			out = append(out, e)
		}
	}

	return out
}
