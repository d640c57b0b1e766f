// Package degrade implements the deadline-bounded retry/recover/fallback
// pipeline that wraps any flaky remote action. The machine is generic over
// the action's payload and adapter-agnostic: recovery behavior is injected
// through the Recovery interface.
package degrade

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/internal/result"
)

// State is the pipeline's current stage.
type State string

const (
	StateHealthy   State = "HEALTHY"
	StateRetrying  State = "RETRYING"
	StateRebinding State = "REBINDING"
	StateReloading State = "RELOADING"
	StateFallback  State = "FALLBACK"
	StateFailed    State = "FAILED"
)

// Stage budgets. The total wall-clock budget is allocated across stages;
// checks happen before entering each stage and inside the retry loop, and
// exceeding the total short-circuits straight to fallback.
const (
	TotalBudget  = 60 * time.Second
	RetryBudget  = 12 * time.Second
	RebindBudget = 8 * time.Second
	ReloadBudget = 18 * time.Second

	retryAttempts        = 2
	retryInitialInterval = 2 * time.Second
	retryMaxInterval     = 4 * time.Second
)

// ErrFallbackSkipped may be returned by a Recovery.Fallback implementation
// to indicate it deliberately declined without that counting as a failure.
var ErrFallbackSkipped = errors.New("fallback skipped")

// Recovery supplies the escalating recovery actions. Implemented by the
// browser control adapter; the machine itself stays adapter-agnostic.
type Recovery interface {
	// Rebind re-establishes the binding behind the primary action.
	Rebind(ctx context.Context) error
	// Reload performs a heavier reset (page reload) behind the action.
	Reload(ctx context.Context) error
	// Fallback handles the terminal degradation, given the last failure.
	Fallback(ctx context.Context, last *result.Failure) error
}

// Snapshot is a serializable view of one pipeline run for diagnostics.
type Snapshot struct {
	State    State           `json:"state"`
	Elapsed  time.Duration   `json:"elapsedMs"`
	Attempts map[State]int   `json:"stageAttempts"`
	LastErr  *result.Failure `json:"lastError,omitempty"`
	// FallbackHandled is true when the fallback action accepted the work.
	FallbackHandled bool `json:"fallbackHandled"`
}

// Machine is a single-use pipeline invocation. Reset is required to reuse.
type Machine[T any] struct {
	primary  func(ctx context.Context) result.Result[T]
	recovery Recovery

	total        time.Duration
	retryBudget  time.Duration
	rebindBudget time.Duration
	reloadBudget time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time

	mu              sync.Mutex
	used            bool
	state           State
	start           time.Time
	attempts        map[State]int
	lastErr         *result.Failure
	fallbackHandled bool
}

// Option adjusts machine parameters, mainly for tests.
type Option func(*options)

type options struct {
	total, retry, rebind, reload time.Duration
	sleep                        func(ctx context.Context, d time.Duration) error
	now                          func() time.Time
}

// WithBudgets overrides the total and per-stage budgets.
func WithBudgets(total, retry, rebind, reload time.Duration) Option {
	return func(o *options) {
		o.total, o.retry, o.rebind, o.reload = total, retry, rebind, reload
	}
}

// WithSleep overrides the backoff sleep function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(o *options) { o.now = fn }
}

// New creates a machine around a primary action and its recovery actions.
func New[T any](primary func(ctx context.Context) result.Result[T], recovery Recovery, opts ...Option) *Machine[T] {
	o := options{
		total:  TotalBudget,
		retry:  RetryBudget,
		rebind: RebindBudget,
		reload: ReloadBudget,
		sleep:  defaultSleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Machine[T]{
		primary:      primary,
		recovery:     recovery,
		total:        o.total,
		retryBudget:  o.retry,
		rebindBudget: o.rebind,
		reloadBudget: o.reload,
		sleep:        o.sleep,
		now:          o.now,
		state:        StateHealthy,
		attempts:     make(map[State]int),
	}
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Execute runs the pipeline once. The returned Result is the primary
// action's success, or the last failure when every stage was exhausted;
// Snapshot distinguishes a handled fallback from a terminal failure.
func (m *Machine[T]) Execute(ctx context.Context) result.Result[T] {
	m.mu.Lock()
	if m.used {
		m.mu.Unlock()
		return result.Fail[T](result.CodeInternal, "degradation machine already used; Reset required")
	}
	m.used = true
	m.start = m.now()
	m.mu.Unlock()

	res := m.attempt(ctx, StateHealthy)
	if res.OK {
		return res
	}
	if !res.Err.Retryable {
		m.setState(StateFailed)
		return res
	}

	if res, done := m.retryStage(ctx); done {
		return res
	}
	if res, done := m.recoverStage(ctx, StateRebinding, m.recovery.Rebind, m.retryBudget+m.rebindBudget); done {
		return res
	}
	if res, done := m.recoverStage(ctx, StateReloading, m.recovery.Reload, m.retryBudget+m.rebindBudget+m.reloadBudget); done {
		return res
	}

	return m.fallbackStage(ctx)
}

// attempt invokes the primary action, bookkeeping the stage.
func (m *Machine[T]) attempt(ctx context.Context, stage State) result.Result[T] {
	m.mu.Lock()
	m.state = stage
	m.attempts[stage]++
	m.mu.Unlock()

	res := m.primary(ctx)
	if !res.OK {
		m.mu.Lock()
		m.lastErr = res.Err
		m.mu.Unlock()
	}
	return res
}

// retryStage re-invokes the primary action with escalating backoff: 2s,
// then 4s, the last value repeating for any further attempt.
func (m *Machine[T]) retryStage(ctx context.Context) (result.Result[T], bool) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	for i := 0; i < retryAttempts; i++ {
		if m.elapsed() >= m.retryBudget || m.overTotal() {
			return result.Result[T]{}, false
		}
		if err := m.sleep(ctx, b.NextBackOff()); err != nil {
			m.setState(StateFailed)
			return result.Fail[T](result.CodeTimeout, "cancelled during retry backoff"), true
		}

		res := m.attempt(ctx, StateRetrying)
		if res.OK {
			return res, true
		}
		if !res.Err.Retryable {
			m.setState(StateFailed)
			return res, true
		}
	}
	return result.Result[T]{}, false
}

// recoverStage runs one recovery action and, on its success, re-invokes the
// primary action once. The re-invocation is idempotency-safe because the
// primary dedupes by a stable turn identifier.
func (m *Machine[T]) recoverStage(ctx context.Context, stage State, action func(context.Context) error, deadline time.Duration) (result.Result[T], bool) {
	if m.elapsed() >= deadline || m.overTotal() {
		return result.Result[T]{}, false
	}

	m.mu.Lock()
	m.state = stage
	m.attempts[stage]++
	m.mu.Unlock()

	if err := action(ctx); err != nil {
		m.recordErr(err)
		logging.Debug().Str("stage", string(stage)).Err(err).Msg("recovery action failed")
		return result.Result[T]{}, false
	}

	res := m.primary(ctx)
	if !res.OK {
		m.recordErr(res.Err)
	}
	if res.OK {
		return res, true
	}
	if !res.Err.Retryable {
		m.setState(StateFailed)
		return res, true
	}
	return result.Result[T]{}, false
}

// fallbackStage hands the work to the fallback action. Its own failure
// (other than an explicit skip) is terminal.
func (m *Machine[T]) fallbackStage(ctx context.Context) result.Result[T] {
	m.mu.Lock()
	m.state = StateFallback
	m.attempts[StateFallback]++
	last := m.lastErr
	m.mu.Unlock()

	err := m.recovery.Fallback(ctx, last)
	switch {
	case err == nil:
		m.mu.Lock()
		m.fallbackHandled = true
		m.mu.Unlock()
	case errors.Is(err, ErrFallbackSkipped):
		// Declined without failing; machine stays in FALLBACK.
	default:
		m.recordErr(err)
		m.setState(StateFailed)
	}

	if last == nil {
		last = result.NewFailure(result.CodeInternal, "pipeline exhausted without a recorded failure")
	}
	return result.FailErr[T](last)
}

func (m *Machine[T]) recordErr(err error) {
	var failure *result.Failure
	if !errors.As(err, &failure) {
		failure = result.NewFailure(result.CodeInternal, err.Error())
	}
	m.mu.Lock()
	m.lastErr = failure
	m.mu.Unlock()
}

func (m *Machine[T]) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Machine[T]) elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.start)
}

func (m *Machine[T]) overTotal() bool {
	return m.elapsed() >= m.total
}

// Snapshot returns a serializable view of the run for diagnostics.
func (m *Machine[T]) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempts := make(map[State]int, len(m.attempts))
	for k, v := range m.attempts {
		attempts[k] = v
	}
	var elapsed time.Duration
	if !m.start.IsZero() {
		elapsed = m.now().Sub(m.start)
	}
	return Snapshot{
		State:           m.state,
		Elapsed:         elapsed,
		Attempts:        attempts,
		LastErr:         m.lastErr,
		FallbackHandled: m.fallbackHandled,
	}
}

// Reset returns the machine to its initial state for reuse.
func (m *Machine[T]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = false
	m.state = StateHealthy
	m.start = time.Time{}
	m.attempts = make(map[State]int)
	m.lastErr = nil
	m.fallbackHandled = false
}
