package jobrun

import (
	"errors"
	"fmt"

	"github.com/martingalian/ladder-engine/internal/decimalmath"
	"github.com/martingalian/ladder-engine/internal/exchange"
)

// Classification is the atomic-job exception taxonomy (SPEC_FULL §7): the
// single vocabulary every ResolveException maps an underlying error onto.
type Classification string

const (
	Transient         Classification = "transient"
	RateLimited        Classification = "rate_limited"
	InvalidInput       Classification = "invalid_input"
	StatePrecondition  Classification = "state_precondition"
	NonNotifiable      Classification = "non_notifiable"
	JustResolve        Classification = "just_resolve"
	Fatal              Classification = "fatal"
)

// ClassifiedError wraps an underlying error with the taxonomy classification
// a resolveException produced. It is the single point of classification —
// callers compare Classification, never the underlying error's string.
type ClassifiedError struct {
	Classification Classification
	Job            string
	RetryAfter     int
	Err            error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Job, e.Classification, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err for job with the given classification.
func Classify(job string, c Classification, err error) *ClassifiedError {
	return &ClassifiedError{Classification: c, Job: job, Err: err}
}

// ClassifyAPIError maps an exchange.APIError's classification onto the
// jobrun taxonomy; every exchange-facing job's ResolveException starts here
// before applying job-specific refinements (e.g. "TP already filled" ->
// NonNotifiable).
func ClassifyAPIError(job string, err error) *ClassifiedError {
	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) {
		c := Classification(apiErr.Classification)
		if c == "" {
			c = Fatal
		}
		return &ClassifiedError{Classification: c, Job: job, RetryAfter: apiErr.RetryAfter, Err: err}
	}
	var decErr *decimalmath.InvalidDecimal
	if errors.As(err, &decErr) {
		return &ClassifiedError{Classification: Fatal, Job: job, Err: err}
	}
	return &ClassifiedError{Classification: Transient, Job: job, Err: err}
}

// Retryable reports whether the Runner should retry the job after backoff.
func (c Classification) Retryable() bool {
	return c == Transient || c == RateLimited
}

// Terminal reports whether the position should be marked failed and the
// workflow stopped without further retries.
func (c Classification) Terminal() bool {
	return c == Fatal || c == JustResolve
}
