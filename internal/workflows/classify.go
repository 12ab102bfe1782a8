package workflows

import (
	"errors"

	"github.com/martingalian/ladder-engine/internal/jobrun"
)

// classify normalizes err onto the jobrun taxonomy. If err is already a
// *jobrun.ClassifiedError (a job explicitly classified it in Compute, e.g.
// NonNotifiable for a pump-cooldown skip), that classification is kept
// as-is rather than being re-derived from an exchange.APIError that may not
// even be in its chain.
func classify(jobName string, err error) *jobrun.ClassifiedError {
	var already *jobrun.ClassifiedError
	if errors.As(err, &already) {
		return already
	}
	return jobrun.ClassifyAPIError(jobName, err)
}

// resolve is the default ResolveException every atomic job in this package
// delegates to: classify the error, and if it's terminal (Fatal or
// JustResolve), record it on the position so an operator can see why a
// workflow stopped. NonNotifiable/StatePrecondition/Transient/RateLimited
// all pass through without touching the position — the Runner already
// knows how to turn those into a skip or a retry.
func (d *Deps) resolve(jobName string, positionID int64, err error) error {
	c := classify(jobName, err)
	if c.Classification.Terminal() {
		_ = d.Positions.Fail(positionID, c.Error())
	}
	return c
}
