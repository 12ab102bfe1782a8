package position_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martingalian/ladder-engine/internal/exchange"
	"github.com/martingalian/ladder-engine/internal/position"
)

func withReference(o *position.Order, price, qty decimal.Decimal, status exchange.OrderStatus) *position.Order {
	o.ReferencePrice = price
	o.ReferenceQuantity = qty
	o.ReferenceStatus = status
	return o
}

func TestClassify_NoReferenceYetIsNoOp(t *testing.T) {
	o := &position.Order{Kind: exchange.Limit, Status: exchange.StatusNew}
	assert.Equal(t, position.Action(""), position.Classify(o))
}

func TestClassify_LimitFillTriggersWapRecalc(t *testing.T) {
	o := withReference(&position.Order{Kind: exchange.Limit, Status: exchange.StatusFilled,
		Price: decimal.NewFromInt(98), Quantity: decimal.NewFromFloat(0.312)},
		decimal.NewFromInt(98), decimal.NewFromFloat(0.312), exchange.StatusNew)

	assert.Equal(t, position.ActionWapRecalc, position.Classify(o))
}

func TestClassify_ProfitLimitFillTriggersClose(t *testing.T) {
	o := withReference(&position.Order{Kind: exchange.ProfitLimit, Status: exchange.StatusFilled,
		Price: decimal.NewFromInt(100), Quantity: decimal.NewFromFloat(1)},
		decimal.NewFromInt(100), decimal.NewFromFloat(1), exchange.StatusNew)

	assert.Equal(t, position.ActionClose, position.Classify(o))
}

func TestClassify_StopMarketFillTriggersClose(t *testing.T) {
	o := withReference(&position.Order{Kind: exchange.StopMarket, Status: exchange.StatusFilled,
		Price: decimal.NewFromInt(84), Quantity: decimal.NewFromFloat(1)},
		decimal.NewFromInt(84), decimal.NewFromFloat(1), exchange.StatusNew)

	assert.Equal(t, position.ActionClose, position.Classify(o))
}

func TestClassify_CancelledAwayTriggersRecreate(t *testing.T) {
	o := withReference(&position.Order{Kind: exchange.Limit, Status: exchange.StatusCancelled,
		Price: decimal.NewFromInt(96), Quantity: decimal.NewFromFloat(0.624)},
		decimal.NewFromInt(96), decimal.NewFromFloat(0.624), exchange.StatusNew)

	assert.Equal(t, position.ActionRecreateCancelled, position.Classify(o))
}

func TestClassify_ExpiredAwayTriggersRecreate(t *testing.T) {
	o := withReference(&position.Order{Kind: exchange.Limit, Status: exchange.StatusExpired,
		Price: decimal.NewFromInt(96), Quantity: decimal.NewFromFloat(0.624)},
		decimal.NewFromInt(96), decimal.NewFromFloat(0.624), exchange.StatusNew)

	assert.Equal(t, position.ActionRecreateCancelled, position.Classify(o))
}

func TestClassify_PriceDriftOnNonAlgoTriggersCorrectModified(t *testing.T) {
	o := withReference(&position.Order{Kind: exchange.Limit, Status: exchange.StatusNew, IsAlgo: false,
		Price: decimal.NewFromFloat(95.5), Quantity: decimal.NewFromFloat(0.624)},
		decimal.NewFromInt(96), decimal.NewFromFloat(0.624), exchange.StatusNew)

	assert.Equal(t, position.ActionCorrectModified, position.Classify(o))
}

func TestClassify_PriceDriftOnAlgoTriggersCancelRecreate(t *testing.T) {
	o := withReference(&position.Order{Kind: exchange.StopMarket, Status: exchange.StatusNew, IsAlgo: true,
		Price: decimal.NewFromFloat(85), Quantity: decimal.NewFromFloat(1)},
		decimal.NewFromInt(84), decimal.NewFromFloat(1), exchange.StatusNew)

	assert.Equal(t, position.ActionCancelRecreateAlgo, position.Classify(o))
}

func TestClassify_NoDriftIsNoOp(t *testing.T) {
	o := withReference(&position.Order{Kind: exchange.Limit, Status: exchange.StatusNew,
		Price: decimal.NewFromInt(96), Quantity: decimal.NewFromFloat(0.624)},
		decimal.NewFromInt(96), decimal.NewFromFloat(0.624), exchange.StatusNew)

	assert.Equal(t, position.Action(""), position.Classify(o))
}

func TestClassify_DuplicateFireAfterResolutionIsNoOp(t *testing.T) {
	// Simulates CommitIntendedChange having already realigned reference
	// columns to the corrected values — a second Evaluate call on the same
	// row must not re-fire (invariant: "duplicate observer fires, second
	// fire is a no-op").
	o := withReference(&position.Order{Kind: exchange.Limit, Status: exchange.StatusNew,
		Price: decimal.NewFromInt(96), Quantity: decimal.NewFromFloat(0.624)},
		decimal.NewFromInt(96), decimal.NewFromFloat(0.624), exchange.StatusNew)

	assert.Equal(t, position.Action(""), position.Classify(o))
}

type fakeEnqueuer struct {
	events []position.CorrectionEvent
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, event position.CorrectionEvent) error {
	f.events = append(f.events, event)
	return nil
}

func TestOrderChangeEvaluator_EvaluateEnqueuesClassifiedAction(t *testing.T) {
	enq := &fakeEnqueuer{}
	evaluator := position.NewOrderChangeEvaluator(enq, zerolog.Nop())

	o := withReference(&position.Order{ID: 7, PositionID: 3, Kind: exchange.Limit, Status: exchange.StatusFilled,
		Price: decimal.NewFromInt(98), Quantity: decimal.NewFromFloat(0.312)},
		decimal.NewFromInt(98), decimal.NewFromFloat(0.312), exchange.StatusNew)

	require.NoError(t, evaluator.Evaluate(context.Background(), o))
	require.Len(t, enq.events, 1)
	assert.Equal(t, position.ActionWapRecalc, enq.events[0].Action)
	assert.Equal(t, int64(3), enq.events[0].PositionID)
	assert.Equal(t, int64(7), enq.events[0].OrderID)
}

func TestOrderChangeEvaluator_EvaluateNoOpDoesNotEnqueue(t *testing.T) {
	enq := &fakeEnqueuer{}
	evaluator := position.NewOrderChangeEvaluator(enq, zerolog.Nop())

	o := withReference(&position.Order{ID: 1, PositionID: 1, Kind: exchange.Limit, Status: exchange.StatusNew,
		Price: decimal.NewFromInt(96), Quantity: decimal.NewFromFloat(0.624)},
		decimal.NewFromInt(96), decimal.NewFromFloat(0.624), exchange.StatusNew)

	require.NoError(t, evaluator.Evaluate(context.Background(), o))
	assert.Empty(t, enq.events)
}
