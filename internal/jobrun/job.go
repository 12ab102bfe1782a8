// Package jobrun is the atomic-job framework (SPEC_FULL §4.4, component D):
// a uniform lifecycle every atomic operation (place order, cancel, sync,
// verify) implements — startOrFail, compute, doubleCheck, complete,
// resolveException — plus the Runner that drives any implementer through
// it, retry/backoff, and the exception taxonomy every resolveException
// classifies into.
package jobrun

import (
	"context"
)

// Job is the contract every atomic operation implements. A Runner composes
// an exchange adapter and a planner call internally; it never subclasses a
// base type (SPEC_FULL §9 "replace inheritance with composition").
type Job interface {
	// Name identifies the job class for logging and the steps.class column.
	Name() string

	// StartOrFail is the precondition guard. Returning false means the step
	// is skipped, not failed — this is what makes workflow replay
	// idempotent under at-least-once step delivery.
	StartOrFail(ctx context.Context) (bool, error)

	// Compute performs the effect, typically one or more exchange adapter
	// calls. The returned value is a structured result logged by the
	// Runner and threaded to DoubleCheck/Complete.
	Compute(ctx context.Context) (interface{}, error)

	// DoubleCheck re-queries the exchange to verify Compute's effect
	// actually landed. Returning false (with a nil error) causes the
	// Runner to retry with backoff, up to MaxDoubleCheckAttempts.
	DoubleCheck(ctx context.Context, result interface{}) (bool, error)

	// Complete commits shadow-column updates and any follow-on state
	// transitions. Runs only after DoubleCheck returns true.
	Complete(ctx context.Context, result interface{}) error

	// ResolveException classifies a failure from any prior phase and
	// decides retry/abort/notify/record. It always has a chance to write
	// position.error_message before returning the classified error.
	ResolveException(ctx context.Context, err error) error
}

// Outcome describes what a single Run pass did, used by the step engine to
// decide whether to mark a step done, failed, or retry it later.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"   // StartOrFail returned false
	OutcomeCompleted Outcome = "completed" // ran through to Complete
	OutcomeRetry     Outcome = "retry"     // transient failure, try again later
	OutcomeFailed    Outcome = "failed"    // terminal failure (Fatal/JustResolve)
)

// Result is what Runner.Run returns.
type Result struct {
	Outcome    Outcome
	RetryAfter int // seconds; set when Outcome == OutcomeRetry and the failure carried a rate-limit hint
	Err        error
}
