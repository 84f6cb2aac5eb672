// Package redis provides a Redis-backed Store for inferrecovery.
//
// Values are stored as JSON strings with a TTL. Counters are incremented by an
// atomic Lua script that sets the expiry only when the counter is created,
// which makes the fixed-window counters safe for multi-instance deployments.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/inferrecovery"
)

// Store is a Redis-backed Store.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var (
	_ inferrecovery.Store       = (*Store)(nil)
	_ inferrecovery.CountReader = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed Store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(key string) string {
	return s.keyPrefix + key
}

// incrScript atomically increments a counter and sets its expiry on creation.
// A counter left without a TTL is repaired on the next increment.
// KEYS[1] = counter key
// ARGV[1] = ttl (milliseconds)
var incrScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) == -1 then
    redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[1]))
end
return n
`)

// SetWithExpiry stores the JSON encoding of value under key.
func (s *Store) SetWithExpiry(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("inferrecovery/redis: marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("inferrecovery/redis: set: %w", err)
	}
	return nil
}

// GetJSON decodes the value under key into dst.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inferrecovery/redis: get: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("inferrecovery/redis: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// IncrementWithExpiry increments the counter under key.
func (s *Store) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("inferrecovery/redis: increment: %w", err)
	}
	return n, nil
}

// GetCounts reads the counters under keys in one pipelined round trip. GETs
// are pipelined rather than sent as MGET so keys may span cluster slots.
func (s *Store) GetCounts(ctx context.Context, keys []string) ([]int64, error) {
	if len(keys) == 0 {
		return []int64{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, s.key(key))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("inferrecovery/redis: get counts: %w", err)
	}

	counts := make([]int64, len(keys))
	for i, cmd := range cmds {
		n, err := cmd.Int64()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inferrecovery/redis: get counts %s: %w", keys[i], err)
		}
		counts[i] = n
	}
	return counts, nil
}
