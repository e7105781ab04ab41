// Package retry runs calls to external services with exponential backoff,
// one credential refresh on authentication failures and a circuit breaker per
// operation class.
package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/logger"
)

// Policy configures retries and breakers for an Executor.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt for
	// transient failures.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter is the randomization factor applied to every delay (0.2 = ±20%).
	Jitter float64

	// BreakerThreshold is the number of consecutive failures that opens a
	// class's breaker.
	BreakerThreshold uint32
	BreakerCoolDown  time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:       3,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         30 * time.Second,
		Jitter:           0.2,
		BreakerThreshold: 5,
		BreakerCoolDown:  60 * time.Second,
	}
}

// Status is the final state of a call.
type Status string

const (
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusCircuitOpen Status = "circuit_open"
)

// Outcome describes how a call went. It is returned instead of raising so the
// caller decides whether to abort or degrade.
type Outcome struct {
	Operation string
	Class     string
	Status    Status
	// Attempts counts invocations of the wrapped operation.
	Attempts int
	// Delays holds the backoff waits in the order they were slept.
	Delays  []time.Duration
	Elapsed time.Duration
	Err     *apperror.Error
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool { return o.Status == StatusSucceeded }

// Result is an Outcome together with the operation's value.
type Result[T any] struct {
	Value T
	Outcome
}

// Call identifies one external call.
type Call struct {
	// Class groups operations that share a circuit breaker, e.g. "bank".
	Class string
	// Operation names the call in logs and errors, e.g. "bank.fetch_transactions".
	Operation string
	// Refresh renews credentials after an authentication failure. When nil,
	// authentication failures are not retried.
	Refresh func(ctx context.Context) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Executor runs calls under a Policy. It keeps one breaker per class and is
// safe for concurrent use.
type Executor struct {
	policy Policy
	sleep  Sleeper
	now    func() time.Time
	log    zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option customises an Executor.
type Option func(*Executor)

// WithSleeper replaces the wall-clock sleeper.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) { e.sleep = s }
}

// WithClock replaces time.Now for elapsed-time measurement.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// NewExecutor creates an Executor. Zero delay, jitter and breaker fields take
// DefaultPolicy values; MaxRetries is used as given.
func NewExecutor(p Policy, opts ...Option) *Executor {
	def := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Jitter <= 0 || p.Jitter >= 1 {
		p.Jitter = def.Jitter
	}
	if p.BreakerThreshold == 0 {
		p.BreakerThreshold = def.BreakerThreshold
	}
	if p.BreakerCoolDown <= 0 {
		p.BreakerCoolDown = def.BreakerCoolDown
	}

	e := &Executor{
		policy:   p,
		sleep:    sleepContext,
		now:      time.Now,
		log:      zerolog.Nop(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy { return e.policy }

// BreakerState returns the state of a class's breaker.
func (e *Executor) BreakerState(class string) gobreaker.State {
	return e.breaker(class).State()
}

func (e *Executor) breaker(class string) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[class]; ok {
		return cb
	}
	threshold := e.policy.BreakerThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        class,
		MaxRequests: 1,
		Timeout:     e.policy.BreakerCoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Rejected input says nothing about the health of the service.
		IsSuccessful: func(err error) bool {
			return err == nil || apperror.KindOf(err) == apperror.KindValidation
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.log.Warn().
				Str("class", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	e.breakers[class] = cb
	return cb
}

func (e *Executor) newBackOff() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(e.policy.BaseDelay),
		backoff.WithRandomizationFactor(e.policy.Jitter),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(e.policy.MaxDelay),
		backoff.WithMaxElapsedTime(0),
	)
}

// Do runs op under the executor's policy.
//
// Transient failures are retried up to MaxRetries times with exponential
// backoff, waiting at least the server's retry-after hint. An authentication
// failure triggers call.Refresh once followed by one immediate retry.
// Validation and critical failures are returned without retrying. While the
// class's breaker is open the operation is not invoked at all.
func Do[T any](ctx context.Context, e *Executor, call Call, op func(ctx context.Context) (T, error)) Result[T] {
	var res Result[T]
	res.Operation = call.Operation
	res.Class = call.Class

	start := e.now()
	cb := e.breaker(call.Class)
	b := e.newBackOff()
	refreshed := false
	retries := 0
	var prev time.Duration

	for {
		if err := ctx.Err(); err != nil {
			res.Status = StatusFailed
			res.Err = apperror.Transient(call.Operation, "context done before attempt", err)
			break
		}

		var value T
		_, err := cb.Execute(func() (interface{}, error) {
			res.Attempts++
			v, err := op(ctx)
			value = v
			return nil, err
		})
		if err == nil {
			res.Value = value
			res.Status = StatusSucceeded
			res.Err = nil
			break
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			res.Status = StatusCircuitOpen
			res.Err = apperror.Transient(call.Operation, "circuit open for "+call.Class, err)
			break
		}

		ae := apperror.Classify(call.Operation, err)
		res.Err = ae

		if ae.Kind == apperror.KindAuth && !refreshed && call.Refresh != nil {
			refreshed = true
			if rerr := call.Refresh(ctx); rerr != nil {
				res.Status = StatusFailed
				res.Err = apperror.Auth(call.Operation, "credential refresh failed", rerr)
				break
			}
			continue
		}

		if ae.Kind != apperror.KindTransient || retries >= e.policy.MaxRetries {
			res.Status = StatusFailed
			break
		}

		delay := b.NextBackOff()
		if delay < prev {
			delay = prev
		}
		if ae.RetryAfter > delay {
			delay = ae.RetryAfter
		}
		prev = delay
		retries++
		res.Delays = append(res.Delays, delay)

		if err := e.sleep(ctx, delay); err != nil {
			res.Status = StatusFailed
			res.Err = apperror.Transient(call.Operation, "interrupted while backing off", err)
			break
		}
	}

	res.Elapsed = e.now().Sub(start)
	logOutcome(ctx, res.Outcome)
	return res
}

// Run is Do for operations without a result value.
func Run(ctx context.Context, e *Executor, call Call, op func(ctx context.Context) error) Outcome {
	return Do(ctx, e, call, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}).Outcome
}

func logOutcome(ctx context.Context, o Outcome) {
	log := logger.FromContext(ctx)
	evt := log.Info()
	if !o.OK() {
		evt = log.Warn()
		if o.Err != nil {
			evt = evt.Str("error_kind", string(o.Err.Kind)).Err(o.Err)
		}
	}
	evt.Str("operation", o.Operation).
		Str("class", o.Class).
		Str("status", string(o.Status)).
		Int("attempts", o.Attempts).
		Int64("elapsed_ms", o.Elapsed.Milliseconds()).
		Msg("external call outcome")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
