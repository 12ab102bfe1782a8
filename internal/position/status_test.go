package position_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/martingalian/ladder-engine/internal/position"
)

func TestCanTransition_HappyPathOpen(t *testing.T) {
	assert.True(t, position.CanTransition(position.StatusNew, position.StatusOpening))
	assert.True(t, position.CanTransition(position.StatusOpening, position.StatusActive))
}

func TestCanTransition_ActiveSyncingRoundTrip(t *testing.T) {
	assert.True(t, position.CanTransition(position.StatusActive, position.StatusSyncing))
	assert.True(t, position.CanTransition(position.StatusSyncing, position.StatusActive))
}

func TestCanTransition_WapingFlow(t *testing.T) {
	assert.True(t, position.CanTransition(position.StatusActive, position.StatusWaping))
	assert.True(t, position.CanTransition(position.StatusWaping, position.StatusWatching))
	assert.True(t, position.CanTransition(position.StatusWatching, position.StatusActive))
}

func TestCanTransition_AnyNonTerminalToCancelling(t *testing.T) {
	for _, s := range []position.Status{position.StatusNew, position.StatusOpening, position.StatusActive, position.StatusSyncing,
		position.StatusWaping, position.StatusWatching, position.StatusReplacing} {
		assert.True(t, position.CanTransition(s, position.StatusCancelling), "expected %s -> cancelling", s)
	}
	assert.True(t, position.CanTransition(position.StatusCancelling, position.StatusCancelled))
}

func TestCanTransition_TerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	for _, s := range []position.Status{position.StatusClosed, position.StatusCancelled, position.StatusFailed} {
		for _, to := range []position.Status{position.StatusNew, position.StatusOpening, position.StatusActive} {
			assert.False(t, position.CanTransition(s, to), "terminal state %s must have no outgoing edges", s)
		}
	}
}

func TestCanTransition_IllegalEdgeRejected(t *testing.T) {
	assert.False(t, position.CanTransition(position.StatusNew, position.StatusActive))
	assert.False(t, position.CanTransition(position.StatusClosed, position.StatusOpening))
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, position.StatusClosed.Terminal())
	assert.True(t, position.StatusCancelled.Terminal())
	assert.True(t, position.StatusFailed.Terminal())
	assert.False(t, position.StatusActive.Terminal())
}

func TestStatus_IsActiveAndIsOpened(t *testing.T) {
	assert.True(t, position.StatusOpening.IsActive())
	assert.True(t, position.StatusReplacing.IsActive())
	assert.False(t, position.StatusClosed.IsActive())

	assert.True(t, position.StatusActive.IsOpened())
	assert.True(t, position.StatusWaping.IsOpened())
	assert.False(t, position.StatusOpening.IsOpened())
}
