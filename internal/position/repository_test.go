package position_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martingalian/ladder-engine/internal/exchange"
	"github.com/martingalian/ladder-engine/internal/planner"
	"github.com/martingalian/ladder-engine/internal/position"
	ladtesting "github.com/martingalian/ladder-engine/internal/testing"
)

func newTestRepos(t *testing.T) (*position.Repository, *position.OrderRepository) {
	db, cleanup := ladtesting.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)
	return position.NewRepository(db.Conn(), zerolog.Nop()), position.NewOrderRepository(db.Conn(), zerolog.Nop())
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo, _ := newTestRepos(t)

	p := ladtesting.NewPosition(1, 1)
	id, err := repo.Create(p)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, position.StatusNew, got.Status)
	assert.Equal(t, planner.Long, got.Direction)
	assert.True(t, decimal.NewFromInt(50).Equal(got.Margin))
}

func TestRepository_TransitionHappyPath(t *testing.T) {
	repo, _ := newTestRepos(t)

	p := ladtesting.NewPosition(1, 1)
	id, err := repo.Create(p)
	require.NoError(t, err)

	require.NoError(t, repo.Transition(id, position.StatusNew, position.StatusOpening, nil))
	require.NoError(t, repo.Transition(id, position.StatusOpening, position.StatusActive, nil))

	got, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, position.StatusActive, got.Status)
}

func TestRepository_TransitionRejectsIllegalEdge(t *testing.T) {
	repo, _ := newTestRepos(t)

	p := ladtesting.NewPosition(1, 1)
	id, err := repo.Create(p)
	require.NoError(t, err)

	err = repo.Transition(id, position.StatusNew, position.StatusActive, nil)
	assert.Error(t, err)

	got, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, position.StatusNew, got.Status, "illegal transition must not mutate status")
}

func TestRepository_TransitionRejectsStaleSource(t *testing.T) {
	repo, _ := newTestRepos(t)

	p := ladtesting.NewPosition(1, 1)
	id, err := repo.Create(p)
	require.NoError(t, err)

	require.NoError(t, repo.Transition(id, position.StatusNew, position.StatusOpening, nil))

	// Caller still thinks the position is "new" (stale read) — the
	// optimistic-concurrency WHERE clause must reject this.
	err = repo.Transition(id, position.StatusNew, position.StatusOpening, nil)
	assert.ErrorIs(t, err, position.ErrStaleTransition)
}

func TestRepository_Fail(t *testing.T) {
	repo, _ := newTestRepos(t)

	p := ladtesting.NewPosition(1, 1)
	id, err := repo.Create(p)
	require.NoError(t, err)

	require.NoError(t, repo.Fail(id, "signature failure"))

	got, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, position.StatusFailed, got.Status)
	assert.Equal(t, "signature failure", got.ErrorMessage)
}

func TestOrderRepository_ApplySyncExposesDriftWithoutTouchingReference(t *testing.T) {
	positions, orders := newTestRepos(t)

	p := ladtesting.NewPosition(1, 1)
	posID, err := positions.Create(p)
	require.NoError(t, err)

	o := ladtesting.NewOrder(posID, exchange.Limit, 2, decimal.NewFromInt(96), decimal.NewFromFloat(0.624))
	orderID, err := orders.Create(o)
	require.NoError(t, err)

	require.NoError(t, orders.CommitIntendedChange(orderID, decimal.NewFromInt(96), decimal.NewFromFloat(0.624), exchange.StatusNew))

	require.NoError(t, orders.ApplySync(orderID, "exch-123", decimal.NewFromFloat(95.5), decimal.NewFromFloat(0.624), decimal.Zero, exchange.StatusNew))

	got, err := orders.Get(orderID)
	require.NoError(t, err)
	assert.True(t, got.Drifted())
	assert.True(t, got.ReferencePrice.Equal(decimal.NewFromInt(96)), "reference must be untouched by ApplySync")
	assert.True(t, got.Price.Equal(decimal.NewFromFloat(95.5)))
}

func TestOrderRepository_CommitIntendedChangeClearsDrift(t *testing.T) {
	positions, orders := newTestRepos(t)

	p := ladtesting.NewPosition(1, 1)
	posID, err := positions.Create(p)
	require.NoError(t, err)

	o := ladtesting.NewOrder(posID, exchange.Limit, 2, decimal.NewFromInt(96), decimal.NewFromFloat(0.624))
	orderID, err := orders.Create(o)
	require.NoError(t, err)

	require.NoError(t, orders.CommitIntendedChange(orderID, decimal.NewFromInt(96), decimal.NewFromFloat(0.624), exchange.StatusNew))
	require.NoError(t, orders.ApplySync(orderID, "exch-123", decimal.NewFromFloat(95.5), decimal.NewFromFloat(0.624), decimal.Zero, exchange.StatusNew))

	// CorrectModifiedOrder's completing commit realigns both sides.
	require.NoError(t, orders.CommitIntendedChange(orderID, decimal.NewFromInt(96), decimal.NewFromFloat(0.624), exchange.StatusNew))

	got, err := orders.Get(orderID)
	require.NoError(t, err)
	assert.False(t, got.Drifted())
}
