package jobrun_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martingalian/ladder-engine/internal/jobrun"
)

// fakeJob is a scriptable jobrun.Job double used to drive the Runner through
// every lifecycle branch without touching a real exchange adapter.
type fakeJob struct {
	name string

	startOrFailOK  bool
	startOrFailErr error

	computeResult interface{}
	computeErr    error

	doubleCheckSequence []bool
	doubleCheckErr      error
	doubleCheckCalls    int

	completeErr error

	resolveExceptionFn func(err error) error
	resolveExceptionErr error

	resolveExceptionCalled bool
}

func (f *fakeJob) Name() string { return f.name }

func (f *fakeJob) StartOrFail(ctx context.Context) (bool, error) {
	return f.startOrFailOK, f.startOrFailErr
}

func (f *fakeJob) Compute(ctx context.Context) (interface{}, error) {
	return f.computeResult, f.computeErr
}

func (f *fakeJob) DoubleCheck(ctx context.Context, result interface{}) (bool, error) {
	if f.doubleCheckErr != nil {
		return false, f.doubleCheckErr
	}
	idx := f.doubleCheckCalls
	f.doubleCheckCalls++
	if idx >= len(f.doubleCheckSequence) {
		return false, nil
	}
	return f.doubleCheckSequence[idx], nil
}

func (f *fakeJob) Complete(ctx context.Context, result interface{}) error {
	return f.completeErr
}

func (f *fakeJob) ResolveException(ctx context.Context, err error) error {
	f.resolveExceptionCalled = true
	if f.resolveExceptionFn != nil {
		return f.resolveExceptionFn(err)
	}
	return f.resolveExceptionErr
}

func newTestRunner() *jobrun.Runner {
	return jobrun.NewRunner(jobrun.DefaultRunnerConfig(), zerolog.Nop())
}

func TestRunner_HappyPath(t *testing.T) {
	job := &fakeJob{
		name:                "place-market",
		startOrFailOK:       true,
		computeResult:       "exchange-order-id",
		doubleCheckSequence: []bool{true},
	}

	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, jobrun.OutcomeCompleted, result.Outcome)
	assert.NoError(t, result.Err)
	assert.False(t, job.resolveExceptionCalled)
}

func TestRunner_StartOrFailDeclines(t *testing.T) {
	job := &fakeJob{name: "dispatch-limits", startOrFailOK: false}

	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, jobrun.OutcomeSkipped, result.Outcome)
	assert.False(t, job.resolveExceptionCalled)
}

func TestRunner_DoubleCheckRetriesThenVerifies(t *testing.T) {
	job := &fakeJob{
		name:                "place-profit",
		startOrFailOK:       true,
		doubleCheckSequence: []bool{false, false, true},
	}

	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, jobrun.OutcomeCompleted, result.Outcome)
	assert.Equal(t, 3, job.doubleCheckCalls)
}

func TestRunner_DoubleCheckExhaustedRoutesToResolveException(t *testing.T) {
	job := &fakeJob{
		name:                "place-stop-loss",
		startOrFailOK:       true,
		doubleCheckSequence: []bool{false, false, false, false, false},
		resolveExceptionFn: func(err error) error {
			return jobrun.Classify("place-stop-loss", jobrun.Transient, err)
		},
	}

	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, jobrun.OutcomeRetry, result.Outcome)
	assert.True(t, job.resolveExceptionCalled)
	assert.Equal(t, jobrun.MaxDoubleCheckAttempts, job.doubleCheckCalls)
}

func TestRunner_ComputeErrorClassifiedFatalFails(t *testing.T) {
	computeErr := errors.New("boom")
	job := &fakeJob{
		name:          "activate",
		startOrFailOK: true,
		computeErr:    computeErr,
		resolveExceptionFn: func(err error) error {
			return jobrun.Classify("activate", jobrun.Fatal, err)
		},
	}

	result := newTestRunner().Run(context.Background(), job)

	require.Equal(t, jobrun.OutcomeFailed, result.Outcome)
	var classified *jobrun.ClassifiedError
	require.ErrorAs(t, result.Err, &classified)
	assert.Equal(t, jobrun.Fatal, classified.Classification)
}

func TestRunner_ResolveExceptionAbsorbsError(t *testing.T) {
	job := &fakeJob{
		name:          "cancel-single-algo-order",
		startOrFailOK: true,
		computeErr:    errors.New("order already cancelled"),
		resolveExceptionFn: func(err error) error {
			return nil
		},
	}

	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, jobrun.OutcomeSkipped, result.Outcome)
}

func TestRunner_NonNotifiableShortCircuitsToSkipped(t *testing.T) {
	job := &fakeJob{
		name:          "verify-if-tp-is-filled",
		startOrFailOK: true,
		computeErr:    errors.New("tp already filled"),
		resolveExceptionFn: func(err error) error {
			return jobrun.Classify("verify-if-tp-is-filled", jobrun.NonNotifiable, err)
		},
	}

	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, jobrun.OutcomeSkipped, result.Outcome)
}

func TestRunner_RateLimitedRetryGetsJitteredDelay(t *testing.T) {
	job := &fakeJob{
		name:          "sync-position-orders",
		startOrFailOK: true,
		computeErr:    errors.New("429"),
		resolveExceptionFn: func(err error) error {
			return jobrun.Classify("sync-position-orders", jobrun.RateLimited, err)
		},
	}

	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, jobrun.OutcomeRetry, result.Outcome)
	assert.GreaterOrEqual(t, result.RetryAfter, 2)
	assert.LessOrEqual(t, result.RetryAfter, 3)
}

func TestClassifyAPIError_FallsBackToTransientWithoutAPIError(t *testing.T) {
	classified := jobrun.ClassifyAPIError("place-market", errors.New("plain error"))
	assert.Equal(t, jobrun.Transient, classified.Classification)
}

func TestClassification_RetryableAndTerminal(t *testing.T) {
	assert.True(t, jobrun.Transient.Retryable())
	assert.True(t, jobrun.RateLimited.Retryable())
	assert.False(t, jobrun.Fatal.Retryable())

	assert.True(t, jobrun.Fatal.Terminal())
	assert.True(t, jobrun.JustResolve.Terminal())
	assert.False(t, jobrun.Transient.Terminal())
}
