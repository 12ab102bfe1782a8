package stepengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/martingalian/ladder-engine/internal/jobrun"
)

// JobFactory builds the jobrun.Job a step's class maps to, from the step's
// persisted (JSON) arguments.
type JobFactory func(step *Step) (jobrun.Job, error)

// CancelCheck reports whether the position (or whatever unit of work a
// block belongs to) has left its legal state and in-flight steps should
// short-circuit at their next suspension point (SPEC_FULL §4.5
// "Cancellation").
type CancelCheck func(ctx context.Context) (bool, error)

// Engine drives persisted Step blocks through a registry of job factories,
// honoring index-based sequential ordering, same-index parallelism up to a
// concurrency cap, and child_block_uuid fan-out.
type Engine struct {
	repo     *Repository
	runner   *jobrun.Runner
	registry map[string]JobFactory
	log      zerolog.Logger
}

// NewEngine builds an Engine bound to repo and runner.
func NewEngine(repo *Repository, runner *jobrun.Runner, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, runner: runner, registry: map[string]JobFactory{}, log: log.With().Str("component", "stepengine").Logger()}
}

// Register binds a step class to the factory that builds its Job.
func (e *Engine) Register(class string, factory JobFactory) {
	e.registry[class] = factory
}

// RunBlockOpts tunes one RunBlock call.
type RunBlockOpts struct {
	Concurrency int // per-account cap on same-index parallel steps; 0 means unbounded
	Cancel      CancelCheck
}

// RunBlock loads blockUUID's steps and drives every non-terminal one to
// completion, ascending by index; same-index steps run concurrently (capped
// by opts.Concurrency). A step whose ChildBlockUUID is set fans out: once
// that step itself finishes, its child block is run to completion before
// the parent block's next index group starts (SPEC_FULL §4.5 "across
// blocks child_block_uuid establishes happens-before").
//
// RunBlock is safe to call repeatedly on the same blockUUID: steps already
// in a terminal status are skipped, giving at-least-once replay idempotence
// on top of each Job's own startOrFail guard.
func (e *Engine) RunBlock(ctx context.Context, blockUUID string, opts RunBlockOpts) error {
	steps, err := e.repo.ListBlock(blockUUID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return fmt.Errorf("stepengine: block %s has no steps", blockUUID)
	}

	groups := groupByIndex(steps)
	for _, group := range groups {
		if opts.Cancel != nil {
			cancelled, err := opts.Cancel(ctx)
			if err != nil {
				return fmt.Errorf("cancel check: %w", err)
			}
			if cancelled {
				e.log.Info().Str("block_uuid", blockUUID).Msg("block cancelled, stopping before next index group")
				return nil
			}
		}

		if err := e.runGroup(ctx, group, opts); err != nil {
			return err
		}

		for _, step := range group {
			if step.ChildBlockUUID == "" {
				continue
			}
			if err := e.RunBlock(ctx, step.ChildBlockUUID, opts); err != nil {
				return fmt.Errorf("child block %s (fanned out by step %d %q): %w", step.ChildBlockUUID, step.ID, step.Class, err)
			}
		}
	}
	return nil
}

func (e *Engine) runGroup(ctx context.Context, group []*Step, opts RunBlockOpts) error {
	sem := make(chan struct{}, concurrencyOrUnbounded(opts.Concurrency, len(group)))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, step := range group {
		if step.Status.Terminal() {
			continue
		}
		step := step
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := e.runStep(ctx, step); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func (e *Engine) runStep(ctx context.Context, step *Step) error {
	factory, ok := e.registry[step.Class]
	if !ok {
		err := fmt.Errorf("stepengine: no job factory registered for class %q", step.Class)
		_ = e.repo.Finish(step.ID, StatusFailed, "", err.Error())
		return err
	}

	job, err := factory(step)
	if err != nil {
		_ = e.repo.Finish(step.ID, StatusFailed, "", err.Error())
		return fmt.Errorf("build job for step %d (%s): %w", step.ID, step.Class, err)
	}

	if err := e.repo.MarkRunning(step.ID); err != nil {
		return err
	}

	result := e.runner.Run(ctx, job)

	switch result.Outcome {
	case jobrun.OutcomeCompleted:
		return e.repo.Finish(step.ID, StatusDone, resultJSON(result), "")
	case jobrun.OutcomeSkipped:
		return e.repo.Finish(step.ID, StatusSkipped, "", "")
	case jobrun.OutcomeRetry:
		// Left pending (not terminal) so a later RunBlock replay picks it
		// back up via startOrFail; the dispatcher's next tick finds the
		// block again through ListPendingRootBlocks. RetryAfter is only
		// reported in the returned error; nothing waits on it.
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		if err := e.repo.Finish(step.ID, StatusPending, "", errMsg); err != nil {
			return err
		}
		return fmt.Errorf("step %d (%s): retryable failure after %ds: %w", step.ID, step.Class, result.RetryAfter, result.Err)
	default: // OutcomeFailed
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		if err := e.repo.Finish(step.ID, StatusFailed, "", errMsg); err != nil {
			return err
		}
		return fmt.Errorf("step %d (%s): %w", step.ID, step.Class, result.Err)
	}
}

func resultJSON(result jobrun.Result) string {
	return fmt.Sprintf(`{"outcome":%q}`, result.Outcome)
}

func groupByIndex(steps []*Step) [][]*Step {
	var groups [][]*Step
	var current []*Step
	currentIdx := -1
	for _, s := range steps {
		if s.Index != currentIdx {
			if current != nil {
				groups = append(groups, current)
			}
			current = nil
			currentIdx = s.Index
		}
		current = append(current, s)
	}
	if current != nil {
		groups = append(groups, current)
	}
	return groups
}

func concurrencyOrUnbounded(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > fallback {
		return fallback
	}
	return limit
}
