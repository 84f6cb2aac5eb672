package inferrecovery

import (
	"context"
	"fmt"
	"time"
)

// Store is the key-value collaborator that holds advisory recovery state.
// Implementations must make IncrementWithExpiry atomic at the store level.
type Store interface {
	// SetWithExpiry JSON-encodes value under key with the given time to live.
	SetWithExpiry(ctx context.Context, key string, value any, ttl time.Duration) error

	// GetJSON decodes the value under key into dst. found is false when the key
	// is absent or expired.
	GetJSON(ctx context.Context, key string, dst any) (found bool, err error)

	// IncrementWithExpiry atomically increments the counter under key and returns
	// the new count. The expiry is set when the counter is created, so a window
	// is fixed from the first increment.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// CountReader is implemented by stores that can read many counters in one
// round trip. Absent or expired keys read as zero.
type CountReader interface {
	GetCounts(ctx context.Context, keys []string) ([]int64, error)
}

// ReadCounts reads the counters under keys from s, in one call when s is a
// CountReader and key by key otherwise.
func ReadCounts(ctx context.Context, s Store, keys []string) ([]int64, error) {
	if cr, ok := s.(CountReader); ok {
		return cr.GetCounts(ctx, keys)
	}
	counts := make([]int64, len(keys))
	for i, key := range keys {
		n, err := GetJSON[int64](ctx, s, key)
		if err != nil {
			return nil, err
		}
		if n != nil {
			counts[i] = *n
		}
	}
	return counts, nil
}

// GetJSON reads key from s and decodes it into a new T. It returns nil, nil
// when the key is absent.
func GetJSON[T any](ctx context.Context, s Store, key string) (*T, error) {
	var v T
	found, err := s.GetJSON(ctx, key, &v)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &v, nil
}

// Key namespace.

// ErrorContextKey is where the ErrorContext of an operation's last failure is kept.
func ErrorContextKey(operationID string) string {
	return "error:recovery:" + operationID
}

// RetryCountKey is where an operation's last retried attempt number is kept.
func RetryCountKey(operationID string) string {
	return "retry:count:" + operationID
}

// MetricsKey is the daily counter of failures of kind on day (UTC).
func MetricsKey(kind ErrorKind, day time.Time) string {
	return fmt.Sprintf("metrics:error:%s:%s", kind, day.UTC().Format(time.DateOnly))
}

// RateLimitKey is the recent-error counter of a (user, agent) pair.
func RateLimitKey(userID, agentID string) string {
	return "rate:limit:" + userID + ":" + agentID
}

// nopStore backs memory-only mode: writes are dropped and reads find nothing.
type nopStore struct{}

func (nopStore) SetWithExpiry(context.Context, string, any, time.Duration) error { return nil }
func (nopStore) GetJSON(context.Context, string, any) (bool, error)           { return false, nil }
func (nopStore) IncrementWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, nil
}
