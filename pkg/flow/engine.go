// Package flow advances per-user workflow enrollments through a flow's node
// graph, one node per tick.
package flow

import (
	"fmt"
	"log/slog"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/flywheelhq/flywheel/pkg/segment"
	"github.com/flywheelhq/flywheel/pkg/template"
	"github.com/jonboulle/clockwork"
)

const (
	// HandleYes and HandleNo route condition outcomes.
	HandleYes = "yes"
	HandleNo  = "no"

	// defaultMaxLoops bounds goto cycles when the node config sets none.
	defaultMaxLoops = 3
)

// Engine executes single enrollment ticks. It is stateless; all mutable state
// lives on the enrollment passed in.
type Engine struct {
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewEngine(clock clockwork.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		clock:  clock,
		logger: logger.With("module", "flow_engine"),
	}
}

// TickInput carries everything one tick needs. Event is the waking event for
// until_event delays and may be nil.
type TickInput struct {
	Flow       *models.FlowDefinition
	Enrollment *models.FlowEnrollment
	User       *models.User
	Account    *models.Account
	Event      *models.TrackedEvent
}

// TickResult reports the outcome of one tick. The enrollment in the input is
// mutated in place; Actions are side effects for the caller to dispatch.
// Whether another tick should follow is read off the enrollment itself: a
// terminal status or a set NextProcessAt ends the processing pass.
type TickResult struct {
	Actions []ActionIntent
}

// Tick processes exactly the node at the enrollment's current position.
func (e *Engine) Tick(in TickInput) (*TickResult, error) {
	enrollment := in.Enrollment

	if enrollment.Status.Terminal() {
		return &TickResult{}, nil
	}

	node := in.Flow.NodeByID(enrollment.CurrentNodeID)
	if node == nil {
		e.fail(enrollment, enrollment.CurrentNodeID,
			fmt.Sprintf("node %s not found in flow %s version %d",
				enrollment.CurrentNodeID, in.Flow.ID, in.Flow.Version))

		return &TickResult{}, nil
	}

	switch node.Type {
	case models.NodeTrigger:
		return e.tickTrigger(in, node)
	case models.NodeAction:
		return e.tickAction(in, node)
	case models.NodeCondition:
		return e.tickCondition(in, node)
	case models.NodeDelay:
		return e.tickDelay(in, node)
	case models.NodeSplit:
		return e.tickSplit(in, node)
	case models.NodeFilter:
		return e.tickFilter(in, node)
	case models.NodeGoto:
		return e.tickGoto(in, node)
	case models.NodeExit:
		return e.tickExit(in, node)
	default:
		e.fail(enrollment, node.ID, fmt.Sprintf("unknown node type %q", node.Type))

		return &TickResult{}, nil
	}
}

// tickTrigger is a pass-through; the trigger already fired at enrollment time.
func (e *Engine) tickTrigger(in TickInput, node *models.FlowNode) (*TickResult, error) {
	e.record(in.Enrollment, node, "completed", "")

	return e.advance(in, node, "")
}

func (e *Engine) tickAction(in TickInput, node *models.FlowNode) (*TickResult, error) {
	cfg, err := node.ActionConfig()
	if err != nil {
		e.fail(in.Enrollment, node.ID, err.Error())

		return &TickResult{}, nil
	}

	resolved := e.resolveActionConfig(*cfg, in)

	var actions []ActionIntent

	if resolved.Kind == models.ActionSetVariable {
		// The single action kind with an immediate local effect.
		if in.Enrollment.Variables == nil {
			in.Enrollment.Variables = make(map[string]any)
		}

		in.Enrollment.Variables[resolved.Variable] = resolved.Value
	} else {
		actions = append(actions, ActionIntent{
			Kind:         resolved.Kind,
			Config:       resolved,
			FlowID:       in.Flow.ID,
			EnrollmentID: in.Enrollment.ID,
			UserID:       in.Enrollment.UserID,
			NodeID:       node.ID,
		})
	}

	e.record(in.Enrollment, node, "completed", string(resolved.Kind))

	result, err := e.advance(in, node, "")
	if err != nil {
		return nil, err
	}

	result.Actions = actions

	return result, nil
}

func (e *Engine) tickCondition(in TickInput, node *models.FlowNode) (*TickResult, error) {
	cfg, err := node.ConditionConfig()
	if err != nil {
		e.fail(in.Enrollment, node.ID, err.Error())

		return &TickResult{}, nil
	}

	rec := segment.NewRecord(in.User, in.Account)
	handle := HandleNo

	if segment.Evaluate(cfg.Rules, cfg.FilterLogic, rec) {
		handle = HandleYes
	}

	e.record(in.Enrollment, node, "completed", handle)

	return e.advance(in, node, handle)
}

func (e *Engine) tickSplit(in TickInput, node *models.FlowNode) (*TickResult, error) {
	cfg, err := node.SplitConfig()
	if err != nil {
		e.fail(in.Enrollment, node.ID, err.Error())

		return &TickResult{}, nil
	}

	handle := pickVariant(in.Enrollment.UserID, node.ID, cfg.Variants)

	e.record(in.Enrollment, node, "completed", handle)

	return e.advance(in, node, handle)
}

func (e *Engine) tickFilter(in TickInput, node *models.FlowNode) (*TickResult, error) {
	cfg, err := node.FilterConfig()
	if err != nil {
		e.fail(in.Enrollment, node.ID, err.Error())

		return &TickResult{}, nil
	}

	rec := segment.NewRecord(in.User, in.Account)
	if !segment.Evaluate(cfg.Rules, cfg.FilterLogic, rec) {
		// Filter rejection is a clean exit, not an error.
		e.record(in.Enrollment, node, "exited", "filter criteria no longer met")
		e.terminate(in.Enrollment, models.EnrollmentExited)

		return &TickResult{}, nil
	}

	e.record(in.Enrollment, node, "completed", "")

	return e.advance(in, node, "")
}

func (e *Engine) tickGoto(in TickInput, node *models.FlowNode) (*TickResult, error) {
	cfg, err := node.GotoConfig()
	if err != nil {
		e.fail(in.Enrollment, node.ID, err.Error())

		return &TickResult{}, nil
	}

	if in.Flow.NodeByID(cfg.TargetNodeID) == nil {
		e.fail(in.Enrollment, node.ID, fmt.Sprintf("goto target %s not found", cfg.TargetNodeID))

		return &TickResult{}, nil
	}

	maxLoops := cfg.MaxLoops
	if maxLoops <= 0 {
		maxLoops = defaultMaxLoops
	}

	if in.Flow.Settings.MaxLoops > 0 && in.Flow.Settings.MaxLoops < maxLoops {
		maxLoops = in.Flow.Settings.MaxLoops
	}

	if in.Enrollment.CompletedVisits(node.ID) >= maxLoops {
		// Loop limit reached: skip the jump and fall through the outgoing edge.
		e.record(in.Enrollment, node, "completed", "max loops reached, jump skipped")

		return e.advance(in, node, "")
	}

	e.record(in.Enrollment, node, "completed", "jumped to "+cfg.TargetNodeID)
	in.Enrollment.CurrentNodeID = cfg.TargetNodeID
	in.Enrollment.UpdatedAt = e.clock.Now()

	return &TickResult{}, nil
}

func (e *Engine) tickExit(in TickInput, node *models.FlowNode) (*TickResult, error) {
	cfg, err := node.ExitConfig()
	if err != nil {
		e.fail(in.Enrollment, node.ID, err.Error())

		return &TickResult{}, nil
	}

	e.record(in.Enrollment, node, "completed", cfg.Reason)
	e.terminate(in.Enrollment, models.EnrollmentCompleted)

	return &TickResult{}, nil
}

// advance follows the outgoing edge matching handle (first edge when handle is
// empty) and completes the enrollment implicitly when no edge exists.
func (e *Engine) advance(in TickInput, node *models.FlowNode, handle string) (*TickResult, error) {
	edges := in.Flow.EdgesFrom(node.ID)

	var next *models.FlowEdge

	for i := range edges {
		if handle == "" || edges[i].Handle == handle {
			next = &edges[i]

			break
		}
	}

	// A handled edge that is missing falls back to the first edge; a graph
	// with no outgoing edge at all completes the enrollment.
	if next == nil && handle != "" && len(edges) > 0 {
		next = &edges[0]
	}

	if next == nil {
		e.terminate(in.Enrollment, models.EnrollmentCompleted)

		return &TickResult{}, nil
	}

	target := in.Flow.NodeByID(next.TargetID)
	if target == nil {
		e.fail(in.Enrollment, node.ID, fmt.Sprintf("edge %s targets missing node %s", next.ID, next.TargetID))

		return &TickResult{}, nil
	}

	in.Enrollment.CurrentNodeID = target.ID
	in.Enrollment.UpdatedAt = e.clock.Now()

	return &TickResult{}, nil
}

func (e *Engine) resolveActionConfig(cfg models.ActionConfig, in TickInput) models.ActionConfig {
	rec := segment.NewRecord(in.User, in.Account)
	ctx := template.Context{
		Variables: in.Enrollment.Variables,
		User:      rec.User,
		Account:   rec.Account,
	}

	cfg.Subject = template.Resolve(cfg.Subject, ctx)
	cfg.Body = template.Resolve(cfg.Body, ctx)
	cfg.URL = template.Resolve(cfg.URL, ctx)
	cfg.Message = template.Resolve(cfg.Message, ctx)
	cfg.Title = template.Resolve(cfg.Title, ctx)
	cfg.Payload = template.ResolveMap(cfg.Payload, ctx)
	cfg.Updates = template.ResolveMap(cfg.Updates, ctx)

	if s, ok := cfg.Value.(string); ok {
		cfg.Value = template.Resolve(s, ctx)
	}

	return cfg
}

func (e *Engine) record(enrollment *models.FlowEnrollment, node *models.FlowNode, outcome, detail string) {
	enrollment.History = append(enrollment.History, models.HistoryEntry{
		NodeID:    node.ID,
		NodeType:  node.Type,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: e.clock.Now(),
	})
}

func (e *Engine) terminate(enrollment *models.FlowEnrollment, status models.EnrollmentStatus) {
	now := e.clock.Now()
	enrollment.Status = status
	enrollment.NextProcessAt = nil
	enrollment.WaitingForEvent = ""
	enrollment.CompletedAt = &now
	enrollment.UpdatedAt = now
}

func (e *Engine) fail(enrollment *models.FlowEnrollment, nodeID, message string) {
	e.logger.Warn("enrollment failed",
		"enrollment_id", enrollment.ID,
		"node_id", nodeID,
		"error", message)

	now := e.clock.Now()
	enrollment.Status = models.EnrollmentError
	enrollment.ErrorNodeID = nodeID
	enrollment.ErrorMessage = message
	enrollment.NextProcessAt = nil
	enrollment.WaitingForEvent = ""
	enrollment.UpdatedAt = now
	enrollment.History = append(enrollment.History, models.HistoryEntry{
		NodeID:    nodeID,
		Outcome:   "error",
		Detail:    message,
		Timestamp: now,
	})
}
