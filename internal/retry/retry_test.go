package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
)

type recordingSleeper struct {
	delays []time.Duration
	err    error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

func testPolicy() Policy {
	return Policy{
		MaxRetries:       3,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         30 * time.Second,
		Jitter:           0.2,
		BreakerThreshold: 5,
		BreakerCoolDown:  time.Minute,
	}
}

// failing returns an operation that fails with errs in order and then succeeds.
func failing(errs ...error) (func(context.Context) (string, error), *int) {
	calls := 0
	return func(context.Context) (string, error) {
		calls++
		if calls <= len(errs) {
			return "", errs[calls-1]
		}
		return "ok", nil
	}, &calls
}

func transientErr() error {
	return apperror.Transient("test.op", "503", nil)
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := NewExecutor(testPolicy(), WithSleeper(sleeper.Sleep))
	op, calls := failing()

	res := Do(context.Background(), e, Call{Class: "bank", Operation: "test.op"}, op)

	require.True(t, res.OK())
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, res.Delays)
	assert.Nil(t, res.Err)
}

func TestDo_RetriesTransientWithGrowingDelays(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := NewExecutor(testPolicy(), WithSleeper(sleeper.Sleep))
	op, _ := failing(transientErr(), transientErr())

	res := Do(context.Background(), e, Call{Class: "bank", Operation: "test.op"}, op)

	require.True(t, res.OK())
	assert.Equal(t, 3, res.Attempts)
	require.Len(t, res.Delays, 2)
	assert.Equal(t, sleeper.delays, res.Delays)

	assert.GreaterOrEqual(t, res.Delays[0], 400*time.Millisecond)
	assert.LessOrEqual(t, res.Delays[0], 600*time.Millisecond)
	assert.GreaterOrEqual(t, res.Delays[1], 800*time.Millisecond)
	assert.LessOrEqual(t, res.Delays[1], 1200*time.Millisecond)
	assert.Greater(t, res.Delays[1], res.Delays[0])
}

func TestDo_ExhaustsRetries(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := NewExecutor(testPolicy(), WithSleeper(sleeper.Sleep))
	op, calls := failing(transientErr(), transientErr(), transientErr(), transientErr(), transientErr())

	res := Do(context.Background(), e, Call{Class: "bank", Operation: "test.op"}, op)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 4, *calls)
	require.Len(t, res.Delays, 3)
	for i := 1; i < len(res.Delays); i++ {
		assert.GreaterOrEqual(t, res.Delays[i], res.Delays[i-1])
	}
	require.NotNil(t, res.Err)
	assert.Equal(t, apperror.KindTransient, res.Err.Kind)
	assert.Empty(t, res.Value)
}

func TestDo_NoRetryForValidationOrCritical(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind apperror.Kind
	}{
		{
			name:     "validation",
			err:      apperror.Validation("test.op", "bad amount", nil),
			wantKind: apperror.KindValidation,
		},
		{
			name:     "critical",
			err:      apperror.Critical("test.op", "misconfigured", nil),
			wantKind: apperror.KindCritical,
		},
		{
			name:     "unclassified is critical",
			err:      errors.New("boom"),
			wantKind: apperror.KindCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &recordingSleeper{}
			e := NewExecutor(testPolicy(), WithSleeper(sleeper.Sleep))
			op, calls := failing(tt.err)

			res := Do(context.Background(), e, Call{Class: "bank", Operation: "test.op"}, op)

			assert.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, 1, *calls)
			assert.Empty(t, sleeper.delays)
			require.NotNil(t, res.Err)
			assert.Equal(t, tt.wantKind, res.Err.Kind)
		})
	}
}

func TestDo_AuthRefreshesOnce(t *testing.T) {
	authErr := apperror.Auth("test.op", "401", nil)

	tests := []struct {
		name         string
		errs         []error
		refreshErr   error
		noRefresh    bool
		wantOK       bool
		wantAttempts int
		wantRefresh  int
	}{
		{
			name:         "refresh then success",
			errs:         []error{authErr},
			wantOK:       true,
			wantAttempts: 2,
			wantRefresh:  1,
		},
		{
			name:         "second auth failure is final",
			errs:         []error{authErr, authErr},
			wantAttempts: 2,
			wantRefresh:  1,
		},
		{
			name:         "refresh fails",
			errs:         []error{authErr},
			refreshErr:   errors.New("token endpoint down"),
			wantAttempts: 1,
			wantRefresh:  1,
		},
		{
			name:         "no refresher",
			errs:         []error{authErr},
			noRefresh:    true,
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &recordingSleeper{}
			e := NewExecutor(testPolicy(), WithSleeper(sleeper.Sleep))
			op, _ := failing(tt.errs...)

			refreshes := 0
			call := Call{Class: "bank", Operation: "test.op"}
			if !tt.noRefresh {
				call.Refresh = func(context.Context) error {
					refreshes++
					return tt.refreshErr
				}
			}

			res := Do(context.Background(), e, call, op)

			assert.Equal(t, tt.wantOK, res.OK())
			assert.Equal(t, tt.wantAttempts, res.Attempts)
			assert.Equal(t, tt.wantRefresh, refreshes)
			assert.Empty(t, sleeper.delays)
			if !tt.wantOK {
				require.NotNil(t, res.Err)
				assert.Equal(t, apperror.KindAuth, res.Err.Kind)
			}
		})
	}
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := NewExecutor(testPolicy(), WithSleeper(sleeper.Sleep))
	limited := apperror.Transient("test.op", "429", nil).WithRetryAfter(10 * time.Second)
	op, _ := failing(limited)

	res := Do(context.Background(), e, Call{Class: "bank", Operation: "test.op"}, op)

	require.True(t, res.OK())
	assert.Equal(t, []time.Duration{10 * time.Second}, res.Delays)
}

func TestDo_StopsWhenSleepInterrupted(t *testing.T) {
	sleeper := &recordingSleeper{err: context.Canceled}
	e := NewExecutor(testPolicy(), WithSleeper(sleeper.Sleep))
	op, calls := failing(transientErr(), transientErr())

	res := Do(context.Background(), e, Call{Class: "bank", Operation: "test.op"}, op)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, *calls)
	require.NotNil(t, res.Err)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestDo_CircuitOpensAndRecovers(t *testing.T) {
	p := testPolicy()
	p.MaxRetries = 0
	p.BreakerThreshold = 2
	p.BreakerCoolDown = 20 * time.Millisecond
	e := NewExecutor(p, WithSleeper((&recordingSleeper{}).Sleep))
	ctx := context.Background()
	call := Call{Class: "bank", Operation: "test.op"}

	for i := 0; i < 2; i++ {
		op, _ := failing(transientErr())
		res := Do(ctx, e, call, op)
		assert.Equal(t, StatusFailed, res.Status)
	}
	assert.Equal(t, gobreaker.StateOpen, e.BreakerState("bank"))

	op, calls := failing()
	res := Do(ctx, e, call, op)
	assert.Equal(t, StatusCircuitOpen, res.Status)
	assert.Equal(t, 0, *calls)
	assert.Equal(t, 0, res.Attempts)
	require.NotNil(t, res.Err)
	assert.Equal(t, apperror.KindTransient, res.Err.Kind)

	// Other classes are unaffected.
	other := Do(ctx, e, Call{Class: "gemini", Operation: "test.other"}, op)
	assert.True(t, other.OK())

	time.Sleep(40 * time.Millisecond)
	op, calls = failing()
	res = Do(ctx, e, call, op)
	assert.True(t, res.OK())
	assert.Equal(t, 1, *calls)
	assert.Equal(t, gobreaker.StateClosed, e.BreakerState("bank"))
}

func TestDo_ValidationDoesNotTripBreaker(t *testing.T) {
	p := testPolicy()
	p.BreakerThreshold = 1
	e := NewExecutor(p, WithSleeper((&recordingSleeper{}).Sleep))

	for i := 0; i < 3; i++ {
		op, _ := failing(apperror.Validation("test.op", "bad", nil))
		res := Do(context.Background(), e, Call{Class: "bank", Operation: "test.op"}, op)
		assert.Equal(t, StatusFailed, res.Status)
	}
	assert.Equal(t, gobreaker.StateClosed, e.BreakerState("bank"))
}

func TestRun(t *testing.T) {
	e := NewExecutor(testPolicy(), WithSleeper((&recordingSleeper{}).Sleep))
	calls := 0
	out := Run(context.Background(), e, Call{Class: "smtp", Operation: "mail.send"}, func(context.Context) error {
		calls++
		if calls == 1 {
			return transientErr()
		}
		return nil
	})

	assert.True(t, out.OK())
	assert.Equal(t, 2, out.Attempts)
	assert.Len(t, out.Delays, 1)
}

func TestNewExecutor_Defaults(t *testing.T) {
	e := NewExecutor(Policy{MaxRetries: -1})
	p := e.Policy()

	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, DefaultPolicy().BaseDelay, p.BaseDelay)
	assert.Equal(t, DefaultPolicy().BreakerThreshold, p.BreakerThreshold)
	assert.Equal(t, 0.2, p.Jitter)
}
