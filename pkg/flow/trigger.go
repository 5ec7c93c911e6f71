package flow

import (
	"log/slog"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/segment"
)

// TriggerEvent is the structural event trigger nodes match against. A
// lifecycle transition takes priority over the raw tracked event when both
// are present on one pipeline run.
type TriggerEvent struct {
	EventName   string
	LifecycleTo models.LifecycleState
	SegmentID   string
}

// Matcher resolves which active flows an event should enroll a user into.
type Matcher struct {
	logger *slog.Logger
}

func NewMatcher(logger *slog.Logger) *Matcher {
	return &Matcher{logger: logger.With("module", "trigger_matcher")}
}

// Matches reports whether the flow's trigger node accepts the event.
// Flows without a trigger node never match.
func (m *Matcher) Matches(f *models.FlowDefinition, evt TriggerEvent) bool {
	node := f.TriggerNode()
	if node == nil {
		return false
	}

	cfg, err := node.TriggerConfig()
	if err != nil {
		m.logger.Warn("invalid trigger config",
			"flow_id", f.ID, "node_id", node.ID, "error", err)

		return false
	}

	switch {
	case cfg.LifecycleTo != "":
		return evt.LifecycleTo == cfg.LifecycleTo
	case cfg.EventName != "":
		return evt.EventName == cfg.EventName
	case cfg.SegmentID != "":
		return evt.SegmentID == cfg.SegmentID
	default:
		return false
	}
}

// SeedVariables builds the initial enrollment variable bag from the flow's
// declared variables.
func SeedVariables(f *models.FlowDefinition, user *models.User, account *models.Account, evt *models.TrackedEvent) map[string]any {
	if len(f.Variables) == 0 {
		return map[string]any{}
	}

	rec := segment.NewRecord(user, account)
	vars := make(map[string]any, len(f.Variables))

	for _, v := range f.Variables {
		var (
			value any
			found bool
		)

		switch v.Source {
		case models.VariableSourceStatic:
			value, found = v.Value, v.Value != nil
		case models.VariableSourceUserProperty:
			value, found = lookupPath(rec.User, v.Path)
		case models.VariableSourceAccountProperty:
			value, found = lookupPath(rec.Account, v.Path)
		case models.VariableSourceEventProperty:
			if evt != nil {
				value, found = lookupPath(evt.Properties, v.Path)
			}
		}

		if !found {
			value = v.Default
		}

		vars[v.Key] = value
	}

	return vars
}

func lookupPath(root map[string]any, path string) (any, bool) {
	if root == nil || path == "" {
		return nil, false
	}

	if v, ok := root[path]; ok {
		return v, true
	}

	return nil, false
}
