package models

import (
	"encoding/json"
	"fmt"
)

// Typed node configs. Raw FlowNode.Config maps are decoded into exactly one of
// these variants keyed by NodeType, so the engine can match exhaustively
// instead of probing for property presence.

// TriggerConfig describes what enrolls a user into the flow.
type TriggerConfig struct {
	// EventName matches inbound tracked events, e.g. "signup_completed".
	EventName string `json:"event_name,omitempty"`
	// LifecycleTo matches lifecycle transitions into the given state.
	LifecycleTo LifecycleState `json:"lifecycle_to,omitempty"`
	// SegmentID matches users entering the given segment.
	SegmentID string `json:"segment_id,omitempty"`
}

// ActionKind discriminates the side-effect an action node produces.
type ActionKind string

const (
	ActionSendEmail        ActionKind = "send_email"
	ActionSendWebhook      ActionKind = "send_webhook"
	ActionUpdateUser       ActionKind = "update_user"
	ActionAddTag           ActionKind = "add_tag"
	ActionRemoveTag        ActionKind = "remove_tag"
	ActionSetVariable      ActionKind = "set_variable"
	ActionAPICall          ActionKind = "api_call"
	ActionCreateTask       ActionKind = "create_task"
	ActionSendNotification ActionKind = "send_notification"
)

// ActionConfig is the union of per-kind action settings. Only the fields for
// the configured Kind are meaningful.
type ActionConfig struct {
	Kind ActionKind `json:"kind"`

	// send_email
	TemplateID string `json:"template_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`

	// send_webhook / api_call
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload map[string]any    `json:"payload,omitempty"`

	// update_user
	Updates map[string]any `json:"updates,omitempty"`

	// add_tag / remove_tag
	Tag string `json:"tag,omitempty"`

	// set_variable
	Variable string `json:"variable,omitempty"`
	Value    any    `json:"value,omitempty"`

	// create_task
	Title    string `json:"title,omitempty"`
	Assignee string `json:"assignee,omitempty"`

	// send_notification
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
}

// ConditionConfig evaluates segment rules and routes on the yes/no handles.
type ConditionConfig struct {
	Rules       []SegmentRule `json:"rules"`
	FilterLogic FilterLogic   `json:"filter_logic"`
}

// DelayMode discriminates how a delay node computes its wake time.
type DelayMode string

const (
	DelayFixed      DelayMode = "fixed"
	DelayUntilTime  DelayMode = "until_time"
	DelayUntilDate  DelayMode = "until_date"
	DelayUntilEvent DelayMode = "until_event"
	DelaySmartSend  DelayMode = "smart_send"
)

// DelayConfig suspends the enrollment until a computed wake time.
type DelayConfig struct {
	Mode DelayMode `json:"mode"`

	// fixed
	DurationMinutes int `json:"duration_minutes,omitempty"`

	// until_time: 24h clock "15:04" in the org timezone
	TimeOfDay string `json:"time_of_day,omitempty"`

	// until_date: RFC 3339
	Date string `json:"date,omitempty"`

	// until_event
	EventName      string `json:"event_name,omitempty"`
	TimeoutMinutes int    `json:"timeout_minutes,omitempty"`

	// smart_send: wake at the midpoint of [WindowStartHour, WindowEndHour)
	WindowStartHour int `json:"window_start_hour,omitempty"`
	WindowEndHour   int `json:"window_end_hour,omitempty"`
}

// SplitVariant is one weighted branch of an A/B split.
type SplitVariant struct {
	Handle string `json:"handle"`
	Weight int    `json:"weight"`
}

// SplitConfig buckets users deterministically across weighted variants.
type SplitConfig struct {
	Variants []SplitVariant `json:"variants"`
}

// FilterConfig re-checks entry criteria; failing users exit the flow.
type FilterConfig struct {
	Rules       []SegmentRule `json:"rules"`
	FilterLogic FilterLogic   `json:"filter_logic"`
}

// GotoConfig jumps to a named node, bounded by MaxLoops prior visits.
type GotoConfig struct {
	TargetNodeID string `json:"target_node_id"`
	MaxLoops     int    `json:"max_loops,omitempty"`
}

// ExitConfig terminates the enrollment as completed.
type ExitConfig struct {
	Reason string `json:"reason,omitempty"`
}

// decodeConfig round-trips a raw config map into a typed struct.
func decodeConfig(raw map[string]any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode node config: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode node config: %w", err)
	}

	return nil
}

// TriggerConfig decodes the node's raw config as a trigger variant.
func (n *FlowNode) TriggerConfig() (*TriggerConfig, error) {
	cfg := &TriggerConfig{}

	return cfg, decodeConfig(n.Config, cfg)
}

func (n *FlowNode) ActionConfig() (*ActionConfig, error) {
	cfg := &ActionConfig{}
	if err := decodeConfig(n.Config, cfg); err != nil {
		return nil, err
	}

	if cfg.Kind == "" {
		return nil, fmt.Errorf("action node %s has no kind configured", n.ID)
	}

	return cfg, nil
}

func (n *FlowNode) ConditionConfig() (*ConditionConfig, error) {
	cfg := &ConditionConfig{}
	if err := decodeConfig(n.Config, cfg); err != nil {
		return nil, err
	}

	cfg.FilterLogic = cfg.FilterLogic.Normalize()

	return cfg, nil
}

func (n *FlowNode) DelayConfig() (*DelayConfig, error) {
	cfg := &DelayConfig{}
	if err := decodeConfig(n.Config, cfg); err != nil {
		return nil, err
	}

	if cfg.Mode == "" {
		cfg.Mode = DelayFixed
	}

	return cfg, nil
}

func (n *FlowNode) SplitConfig() (*SplitConfig, error) {
	cfg := &SplitConfig{}
	if err := decodeConfig(n.Config, cfg); err != nil {
		return nil, err
	}

	if len(cfg.Variants) == 0 {
		return nil, fmt.Errorf("split node %s has no variants configured", n.ID)
	}

	return cfg, nil
}

func (n *FlowNode) FilterConfig() (*FilterConfig, error) {
	cfg := &FilterConfig{}
	if err := decodeConfig(n.Config, cfg); err != nil {
		return nil, err
	}

	cfg.FilterLogic = cfg.FilterLogic.Normalize()

	return cfg, nil
}

func (n *FlowNode) GotoConfig() (*GotoConfig, error) {
	cfg := &GotoConfig{}
	if err := decodeConfig(n.Config, cfg); err != nil {
		return nil, err
	}

	if cfg.TargetNodeID == "" {
		return nil, fmt.Errorf("goto node %s has no target configured", n.ID)
	}

	return cfg, nil
}

func (n *FlowNode) ExitConfig() (*ExitConfig, error) {
	cfg := &ExitConfig{}

	return cfg, decodeConfig(n.Config, cfg)
}
