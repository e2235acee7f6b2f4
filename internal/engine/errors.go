package engine

import "errors"

// Sentinel errors returned by engine operations. Controllers map these to
// HTTP status codes; callers can distinguish wrong-actor from wrong-state.
var (
	// Validation errors, rejected before anything is persisted.
	ErrEmptySteps            = errors.New("workflow requires at least one step")
	ErrInvalidStepSequence   = errors.New("step orders must be contiguous starting at 1")
	ErrInvalidStepDefinition = errors.New("step requires a name, an assignee and requiredApprovals >= 1")

	// State errors.
	ErrNotFound     = errors.New("workflow not found")
	ErrTaskNotFound = errors.New("task not found")
	ErrInvalidState = errors.New("operation not permitted in current state")

	// Authorization errors.
	ErrForbidden = errors.New("actor is not permitted to perform this transition")

	// ErrWorkflowBusy is returned when the per-workflow lock could not be
	// acquired after retries. The caller should re-query and try again.
	ErrWorkflowBusy = errors.New("unable to acquire workflow lock")

	// ErrStepNotFound indicates the step pointer left the bounds of the
	// definition. The order-contiguity invariant makes this unreachable in
	// correct code; it is surfaced as an opaque internal error.
	ErrStepNotFound = errors.New("step definition missing for order")
)
