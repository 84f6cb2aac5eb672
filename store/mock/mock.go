// Package mock provides a programmable Store for testing failure handling.
package mock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/inferrecovery"
	"github.com/ineyio/inferrecovery/store"
)

// ErrInjected is returned by failing operations unless WithError sets another error.
var ErrInjected = errors.New("mock: injected store failure")

// Op names a Store operation.
type Op string

const (
	OpSet       Op = "set"
	OpGet       Op = "get"
	OpIncrement Op = "increment"
)

// Store is a mock Store backed by a MemoryStore. Failures and latency can be
// injected per operation, and every call is counted.
type Store struct {
	inner     *store.MemoryStore
	latency   time.Duration
	err       error
	failOn    map[Op]bool
	failAfter int

	calls atomic.Int64
	mu    sync.Mutex
	byOp  map[Op]int
	keys  []string
}

var _ inferrecovery.Store = (*Store)(nil)

// Option configures a mock Store.
type Option func(*Store)

// New creates a mock store with the given options.
func New(opts ...Option) *Store {
	s := &Store{
		inner:  store.NewMemoryStore(),
		err:    ErrInjected,
		failOn: make(map[Op]bool),
		byOp:   make(map[Op]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(s *Store) { s.latency = d }
}

// WithError makes every operation fail with err.
func WithError(err error) Option {
	return func(s *Store) {
		s.err = err
		s.failOn[OpSet] = true
		s.failOn[OpGet] = true
		s.failOn[OpIncrement] = true
	}
}

// WithFailOn makes only the given operations fail.
func WithFailOn(ops ...Op) Option {
	return func(s *Store) {
		for _, op := range ops {
			s.failOn[op] = true
		}
	}
}

// WithFailAfter makes every operation fail after n successful calls.
func WithFailAfter(n int) Option {
	return func(s *Store) { s.failAfter = n }
}

// WithMemoryStore sets the backing store, e.g. one with a fake clock.
func WithMemoryStore(m *store.MemoryStore) Option {
	return func(s *Store) { s.inner = m }
}

func (s *Store) SetWithExpiry(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := s.enter(ctx, OpSet, key); err != nil {
		return err
	}
	return s.inner.SetWithExpiry(ctx, key, value, ttl)
}

func (s *Store) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if err := s.enter(ctx, OpGet, key); err != nil {
		return false, err
	}
	return s.inner.GetJSON(ctx, key, dst)
}

func (s *Store) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := s.enter(ctx, OpIncrement, key); err != nil {
		return 0, err
	}
	return s.inner.IncrementWithExpiry(ctx, key, ttl)
}

func (s *Store) enter(ctx context.Context, op Op, key string) error {
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	count := s.calls.Add(1)

	s.mu.Lock()
	s.byOp[op]++
	s.keys = append(s.keys, key)
	s.mu.Unlock()

	if s.failOn[op] {
		return s.err
	}
	if s.failAfter > 0 && int(count) > s.failAfter {
		return s.err
	}
	return nil
}

// CallCount returns the number of calls made to the store.
func (s *Store) CallCount() int64 { return s.calls.Load() }

// OpCount returns the number of calls made for op.
func (s *Store) OpCount(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byOp[op]
}

// Keys returns the keys touched so far, in call order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Memory returns the backing store.
func (s *Store) Memory() *store.MemoryStore { return s.inner }
