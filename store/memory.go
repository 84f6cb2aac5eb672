// Package store provides Store implementations and wrappers for inferrecovery.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ineyio/inferrecovery"
)

// MemoryStore is an in-memory Store with lazy expiry. It suits tests and
// single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

var (
	_ inferrecovery.Store       = (*MemoryStore)(nil)
	_ inferrecovery.CountReader = (*MemoryStore)(nil)
)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetWithExpiry stores the JSON encoding of value under key.
func (s *MemoryStore) SetWithExpiry(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("inferrecovery/store: marshal %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &entry{value: data, expiresAt: s.now().Add(ttl)}
	return nil
}

// GetJSON decodes the value under key into dst.
func (s *MemoryStore) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	s.mu.Lock()
	e, ok := s.live(key)
	var data []byte
	if ok {
		data = append(data, e.value...)
	}
	s.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("inferrecovery/store: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// IncrementWithExpiry increments the counter under key. The expiry is set when
// the counter is created and left unchanged afterwards.
func (s *MemoryStore) IncrementWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		s.entries[key] = &entry{value: []byte("1"), expiresAt: s.now().Add(ttl)}
		return 1, nil
	}

	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("inferrecovery/store: increment %s: value is not an integer", key)
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

// GetCounts reads the counters under keys under a single lock.
func (s *MemoryStore) GetCounts(_ context.Context, keys []string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make([]int64, len(keys))
	for i, key := range keys {
		e, ok := s.live(key)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("inferrecovery/store: get counts %s: value is not an integer", key)
		}
		counts[i] = n
	}
	return counts, nil
}

// Len returns the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.entries {
		if _, ok := s.live(key); ok {
			n++
		}
	}
	return n
}

// live returns the entry under key, deleting it if expired. Must be called with lock held.
func (s *MemoryStore) live(key string) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}
