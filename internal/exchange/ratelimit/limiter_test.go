package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_SeparateBucketsPerAccount(t *testing.T) {
	l := New(1, 1)

	require.True(t, l.Allow(1, 1))
	assert.False(t, l.Allow(1, 1), "account 1's single-token bucket should be drained")
	assert.True(t, l.Allow(2, 1), "account 2 has an independent bucket")
}

func TestLimiter_WaitRespectsContextCancellation(t *testing.T) {
	l := New(1, 1)
	require.True(t, l.Allow(1, 1)) // drain the bucket

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, 1, 1)
	assert.Error(t, err)
}
