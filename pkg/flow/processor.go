package flow

// maxTicksPerRun bounds synchronous tick chaining so pathological
// goto/condition cycles cannot spin a processing pass forever.
const maxTicksPerRun = 100

// ProcessResult is the outcome of one full enrollment processing pass.
type ProcessResult struct {
	Actions []ActionIntent
	Ticks   int
	CapHit  bool
}

// ProcessEnrollment chains ticks until the enrollment terminates or suspends,
// up to the hard safety cap. Ticks are cheap by construction (action nodes
// produce intents, they do not perform I/O), so chaining synchronously is
// safe. At the cap the enrollment is left in whatever well-defined state the
// last tick produced, never forced into an error state.
func (e *Engine) ProcessEnrollment(in TickInput) (*ProcessResult, error) {
	result := &ProcessResult{}

	for result.Ticks < maxTicksPerRun {
		tick, err := e.Tick(in)
		if err != nil {
			return result, err
		}

		result.Ticks++
		result.Actions = append(result.Actions, tick.Actions...)

		if in.Enrollment.Status.Terminal() || in.Enrollment.NextProcessAt != nil {
			return result, nil
		}
	}

	result.CapHit = true

	e.logger.Warn("enrollment processing hit tick cap",
		"enrollment_id", in.Enrollment.ID,
		"flow_id", in.Flow.ID,
		"node_id", in.Enrollment.CurrentNodeID)

	return result, nil
}
