package jobrun

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// DoubleCheckBackoff is the fixed exponential schedule DoubleCheck polling
// uses (SPEC_FULL §5): 250ms, 500ms, 1s, 2s, 4s — capped at
// MaxDoubleCheckAttempts.
var DoubleCheckBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
}

// MaxDoubleCheckAttempts bounds DoubleCheck polling.
const MaxDoubleCheckAttempts = 5

// RunnerConfig tunes the Runner's per-job budgets.
type RunnerConfig struct {
	// JobTimeout bounds one atomic job's full Run call (SPEC_FULL §5
	// "workflow-level budget", default 120s).
	JobTimeout time.Duration
}

// DefaultRunnerConfig matches SPEC_FULL §5's stated defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{JobTimeout: 120 * time.Second}
}

// Runner drives any Job implementer through
// startOrFail -> compute -> doubleCheck -> complete -> resolveException.
// It never subclasses Job; composition only (SPEC_FULL §9).
type Runner struct {
	cfg RunnerConfig
	log zerolog.Logger
}

// NewRunner builds a Runner bound to cfg, logging under the "jobrun"
// component tag.
func NewRunner(cfg RunnerConfig, log zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, log: log.With().Str("component", "jobrun").Logger()}
}

// Run drives job through its full lifecycle once. It never itself loops on
// Transient/RateLimited failures — that is the caller's (step engine's)
// responsibility, since retries must be visible as step attempts for
// at-least-once replay accounting. Run's only internal retry loop is
// DoubleCheck polling, which is intrinsic to a single Compute's effect
// landing.
func (r *Runner) Run(ctx context.Context, job Job) Result {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	log := r.log.With().Str("job", job.Name()).Logger()

	ok, err := job.StartOrFail(ctx)
	if err != nil {
		return r.resolve(ctx, job, log, err)
	}
	if !ok {
		log.Debug().Msg("startOrFail declined, skipping")
		return Result{Outcome: OutcomeSkipped}
	}

	result, err := job.Compute(ctx)
	if err != nil {
		return r.resolve(ctx, job, log, err)
	}

	verified, err := r.doubleCheckWithBackoff(ctx, job, result, log)
	if err != nil {
		return r.resolve(ctx, job, log, err)
	}
	if !verified {
		return r.resolve(ctx, job, log, Classify(job.Name(), Transient, errDoubleCheckExhausted))
	}

	if err := job.Complete(ctx, result); err != nil {
		return r.resolve(ctx, job, log, err)
	}

	log.Info().Msg("job completed")
	return Result{Outcome: OutcomeCompleted}
}

func (r *Runner) doubleCheckWithBackoff(ctx context.Context, job Job, result interface{}, log zerolog.Logger) (bool, error) {
	for attempt := 0; attempt < MaxDoubleCheckAttempts; attempt++ {
		ok, err := job.DoubleCheck(ctx, result)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if attempt == MaxDoubleCheckAttempts-1 {
			break
		}
		wait := DoubleCheckBackoff[attempt]
		log.Debug().Int("attempt", attempt+1).Dur("wait", wait).Msg("doubleCheck not yet verified, backing off")
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
	}
	return false, nil
}

func (r *Runner) resolve(ctx context.Context, job Job, log zerolog.Logger, err error) Result {
	resolveErr := job.ResolveException(ctx, err)
	if resolveErr == nil {
		// ResolveException absorbed the error (SPEC_FULL §7: NonNotifiable
		// or a successful compensating action) — treat as a clean skip.
		log.Debug().Err(err).Msg("resolveException absorbed error")
		return Result{Outcome: OutcomeSkipped}
	}

	var classified *ClassifiedError
	if ce, ok := resolveErr.(*ClassifiedError); ok {
		classified = ce
	} else {
		classified = Classify(job.Name(), Fatal, resolveErr)
	}

	switch {
	case classified.Classification == NonNotifiable || classified.Classification == StatePrecondition:
		log.Debug().Err(classified).Msg("non-notifiable/precondition short-circuit")
		return Result{Outcome: OutcomeSkipped}
	case classified.Classification.Retryable():
		retryAfter := classified.RetryAfter
		if classified.Classification == RateLimited && retryAfter == 0 {
			retryAfter = jitteredRateLimitDelay()
		}
		log.Warn().Err(classified).Int("retry_after_s", retryAfter).Msg("retryable failure")
		return Result{Outcome: OutcomeRetry, RetryAfter: retryAfter, Err: classified}
	default:
		log.Error().Err(classified).Msg("terminal failure")
		return Result{Outcome: OutcomeFailed, Err: classified}
	}
}

// jitteredRateLimitDelay adds up to 1s of jitter on top of a 2s base delay
// for rate-limited retries lacking an explicit retry-after hint (SPEC_FULL
// §7 "retry with backoff × jitter").
func jitteredRateLimitDelay() int {
	return 2 + rand.Intn(2)
}

var errDoubleCheckExhausted = &doubleCheckExhaustedError{}

type doubleCheckExhaustedError struct{}

func (e *doubleCheckExhaustedError) Error() string {
	return "doubleCheck exhausted all attempts without verifying the effect"
}
