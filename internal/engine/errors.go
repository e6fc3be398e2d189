package engine

import "errors"

// Failures inside a turn surface as statuses on results, not as returned
// errors: tool runs carry a RunStatus, nodes an Error string, stages a
// status, turns a TurnStatus. The pipeline degrades and continues instead of
// unwinding. Sentinels exist only where a caller can branch on an error.
var (
	// ErrPlanValidation wraps a plan's shape violations. The planner retries
	// with the violations as feedback, then falls back to a simple plan.
	ErrPlanValidation = errors.New("plan validation failed")

	// ErrAllStagesFailed means no node in any stage produced output, so
	// there is nothing to synthesize.
	ErrAllStagesFailed = errors.New("all workflow stages failed")

	// ErrNoDefaultAgent means routing had nowhere to fall back to.
	ErrNoDefaultAgent = errors.New("no default agent configured")
)
