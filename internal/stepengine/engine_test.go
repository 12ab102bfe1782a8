package stepengine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martingalian/ladder-engine/internal/jobrun"
	"github.com/martingalian/ladder-engine/internal/stepengine"
	ladtesting "github.com/martingalian/ladder-engine/internal/testing"
)

// recordingJob is a trivial jobrun.Job that appends its class to a shared,
// mutex-guarded slice on Compute, letting tests assert execution order.
type recordingJob struct {
	class string
	mu    *sync.Mutex
	order *[]string
}

func (j *recordingJob) Name() string                                  { return j.class }
func (j *recordingJob) StartOrFail(ctx context.Context) (bool, error) { return true, nil }
func (j *recordingJob) Compute(ctx context.Context) (interface{}, error) {
	j.mu.Lock()
	*j.order = append(*j.order, j.class)
	j.mu.Unlock()
	return nil, nil
}
func (j *recordingJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	return true, nil
}
func (j *recordingJob) Complete(ctx context.Context, result interface{}) error { return nil }
func (j *recordingJob) ResolveException(ctx context.Context, err error) error  { return err }

func newTestEngine(t *testing.T) (*stepengine.Engine, *stepengine.Repository, *sync.Mutex, *[]string) {
	db, cleanup := ladtesting.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)

	repo := stepengine.NewRepository(db.Conn(), zerolog.Nop())
	runner := jobrun.NewRunner(jobrun.DefaultRunnerConfig(), zerolog.Nop())
	engine := stepengine.NewEngine(repo, runner, zerolog.Nop())

	var mu sync.Mutex
	order := []string{}

	for _, class := range []string{"prepare", "verify-notional", "set-margin-mode", "determine-leverage",
		"set-leverage", "place-market", "l1", "l2", "l3", "place-profit", "place-stop-loss", "activate"} {
		class := class
		engine.Register(class, func(step *stepengine.Step) (jobrun.Job, error) {
			return &recordingJob{class: class, mu: &mu, order: &order}, nil
		})
	}

	return engine, repo, &mu, &order
}

func TestEngine_SequentialOrdering(t *testing.T) {
	engine, repo, _, order := newTestEngine(t)

	b := stepengine.NewBuilder()
	b.Then("prepare", "{}").
		Then("verify-notional", "{}").
		Then("set-margin-mode", "{}")

	steps := b.Steps()
	require.NoError(t, repo.CreateBlock(steps))

	require.NoError(t, engine.RunBlock(context.Background(), b.BlockUUID(), stepengine.RunBlockOpts{}))

	assert.Equal(t, []string{"prepare", "verify-notional", "set-margin-mode"}, *order)

	persisted, err := repo.ListBlock(b.BlockUUID())
	require.NoError(t, err)
	for _, s := range persisted {
		assert.Equal(t, stepengine.StatusDone, s.Status)
	}
}

func TestEngine_ParallelGroupRunsConcurrently(t *testing.T) {
	engine, repo, _, order := newTestEngine(t)

	b := stepengine.NewBuilder()
	b.Parallel(
		stepengine.StepSpec{Class: "l1", Arguments: "{}"},
		stepengine.StepSpec{Class: "l2", Arguments: "{}"},
		stepengine.StepSpec{Class: "l3", Arguments: "{}"},
	)
	steps := b.Steps()
	require.NoError(t, repo.CreateBlock(steps))

	require.NoError(t, engine.RunBlock(context.Background(), b.BlockUUID(), stepengine.RunBlockOpts{Concurrency: 3}))

	assert.ElementsMatch(t, []string{"l1", "l2", "l3"}, *order)
}

func TestEngine_ChildBlockFanOut(t *testing.T) {
	engine, repo, _, order := newTestEngine(t)

	child := stepengine.NewChildBuilder(stepengine.NewBlockUUID())
	child.Parallel(
		stepengine.StepSpec{Class: "l1", Arguments: "{}"},
		stepengine.StepSpec{Class: "l2", Arguments: "{}"},
	)
	childSteps := child.Steps()

	parent := stepengine.NewBuilder()
	parent.Then("place-market", "{}").
		ThenFanOut("place-profit", "{}", child.BlockUUID())

	parentSteps := parent.Steps()
	require.NoError(t, repo.CreateBlock(parentSteps))
	require.NoError(t, repo.CreateBlock(childSteps))

	require.NoError(t, engine.RunBlock(context.Background(), parent.BlockUUID(), stepengine.RunBlockOpts{}))

	assert.Equal(t, []string{"place-market", "place-profit"}, (*order)[:2])
	assert.ElementsMatch(t, []string{"l1", "l2"}, (*order)[2:])

	childPersisted, err := repo.ListBlock(child.BlockUUID())
	require.NoError(t, err)
	for _, s := range childPersisted {
		assert.Equal(t, stepengine.StatusDone, s.Status)
	}
}

func TestEngine_ReplaySkipsTerminalSteps(t *testing.T) {
	engine, repo, mu, order := newTestEngine(t)

	b := stepengine.NewBuilder()
	b.Then("prepare", "{}").Then("verify-notional", "{}")
	steps := b.Steps()
	require.NoError(t, repo.CreateBlock(steps))

	require.NoError(t, engine.RunBlock(context.Background(), b.BlockUUID(), stepengine.RunBlockOpts{}))

	mu.Lock()
	*order = nil
	mu.Unlock()

	// Replaying the same block must be a no-op: every step is already
	// terminal (StatusDone), so no job re-executes.
	require.NoError(t, engine.RunBlock(context.Background(), b.BlockUUID(), stepengine.RunBlockOpts{}))
	assert.Empty(t, *order)
}
