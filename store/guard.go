package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ineyio/inferrecovery"
)

const (
	defaultFailureThreshold = 3
	defaultFailureWindow    = 5 * time.Minute
	defaultOpenPeriod       = 30 * time.Second
)

// State describes the health of a guarded store.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Guarded wraps a Store with a per-call timeout and a circuit breaker. After
// repeated failures it stops calling the inner store for a cool-off period and
// fails fast with inferrecovery.ErrStoreUnavailable, so a degraded store cannot
// stall the decision path. Once the period ends a single trial call is let
// through while others keep failing fast. Calls abandoned by their caller's
// context do not count as store failures.
type Guarded struct {
	inner     inferrecovery.Store
	timeout   time.Duration
	threshold int
	window    time.Duration
	openFor   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures []time.Time // sliding window of failure timestamps
	openedAt time.Time
	trial    bool // a half-open trial call is in flight
}

var (
	_ inferrecovery.Store       = (*Guarded)(nil)
	_ inferrecovery.CountReader = (*Guarded)(nil)
)

// GuardOption configures Guarded.
type GuardOption func(*Guarded)

// WithTimeout bounds each call to the inner store (default 2s, 0 disables).
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guarded) { g.timeout = d }
}

// WithFailureThreshold sets how many failures within window open the breaker.
func WithFailureThreshold(n int, window time.Duration) GuardOption {
	return func(g *Guarded) {
		g.threshold = n
		g.window = window
	}
}

// WithOpenPeriod sets how long the breaker stays open before a trial call.
func WithOpenPeriod(d time.Duration) GuardOption {
	return func(g *Guarded) { g.openFor = d }
}

// WithGuardClock sets the time source.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guarded) { g.now = now }
}

// NewGuarded wraps inner.
func NewGuarded(inner inferrecovery.Store, opts ...GuardOption) *Guarded {
	g := &Guarded{
		inner:     inner,
		timeout:   inferrecovery.DefaultStoreTimeout,
		threshold: defaultFailureThreshold,
		window:    defaultFailureWindow,
		openFor:   defaultOpenPeriod,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the breaker state.
func (g *Guarded) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

// SetWithExpiry implements inferrecovery.Store.
func (g *Guarded) SetWithExpiry(ctx context.Context, key string, value any, ttl time.Duration) error {
	return g.do(ctx, "set", func(ctx context.Context) error {
		return g.inner.SetWithExpiry(ctx, key, value, ttl)
	})
}

// GetJSON implements inferrecovery.Store.
func (g *Guarded) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	var found bool
	err := g.do(ctx, "get", func(ctx context.Context) error {
		var err error
		found, err = g.inner.GetJSON(ctx, key, dst)
		return err
	})
	return found, err
}

// IncrementWithExpiry implements inferrecovery.Store.
func (g *Guarded) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := g.do(ctx, "incr", func(ctx context.Context) error {
		var err error
		n, err = g.inner.IncrementWithExpiry(ctx, key, ttl)
		return err
	})
	return n, err
}

// GetCounts implements inferrecovery.CountReader. Inner stores without batch
// support are read key by key within the same call.
func (g *Guarded) GetCounts(ctx context.Context, keys []string) ([]int64, error) {
	var counts []int64
	err := g.do(ctx, "get counts", func(ctx context.Context) error {
		var err error
		counts, err = inferrecovery.ReadCounts(ctx, g.inner, keys)
		return err
	})
	return counts, err
}

func (g *Guarded) do(ctx context.Context, op string, fn func(context.Context) error) error {
	trial, ok := g.acquire()
	if !ok {
		return fmt.Errorf("inferrecovery/store: %s: %w", op, inferrecovery.ErrStoreUnavailable)
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	err := fn(callCtx)
	switch {
	case err == nil:
		g.recordSuccess()
	case ctx.Err() != nil:
		// Caller gave up; not a store failure.
		g.release(trial)
	default:
		g.recordFailure()
	}
	return err
}

// acquire reports whether a call may proceed and whether it is the single
// half-open trial.
func (g *Guarded) acquire() (trial, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.stateLocked() {
	case StateOpen:
		return false, false
	case StateHalfOpen:
		if g.trial {
			return false, false
		}
		g.trial = true
		return true, true
	default:
		return false, true
	}
}

func (g *Guarded) release(trial bool) {
	if !trial {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trial = false
}

// stateLocked moves an open breaker to half-open once the open period has
// elapsed. Must be called with lock held.
func (g *Guarded) stateLocked() State {
	if g.state == StateOpen && g.now().Sub(g.openedAt) >= g.openFor {
		g.state = StateHalfOpen
	}
	return g.state
}

func (g *Guarded) recordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = StateClosed
	g.trial = false
	g.failures = g.failures[:0]
}

func (g *Guarded) recordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.trial = false

	// A failed trial call reopens immediately.
	if g.state == StateHalfOpen {
		g.state = StateOpen
		g.openedAt = now
		return
	}

	// Prune old failures outside the window.
	cutoff := now.Add(-g.window)
	valid := g.failures[:0]
	for _, t := range g.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	g.failures = append(valid, now)

	if len(g.failures) >= g.threshold {
		g.state = StateOpen
		g.openedAt = now
	}
}
