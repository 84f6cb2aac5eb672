package inferrecovery

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultThrottleThreshold = 5
	defaultThrottleWindow    = 10 * time.Minute
)

// RateLimiter counts recent errors per (user, agent) pair in a fixed window and
// reports when a pair should stop attempting operations. It is independent of
// the Orchestrator's retry decision.
type RateLimiter struct {
	store     Store
	threshold int64
	window    time.Duration
	timeout   time.Duration
	meter     Meter
	logger    *slog.Logger
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithThreshold sets the count above which a pair is throttled (default 5).
func WithThreshold(n int64) RateLimiterOption {
	return func(r *RateLimiter) { r.threshold = n }
}

// WithWindow sets the counter window (default 10 minutes).
func WithWindow(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) { r.window = d }
}

// WithLimiterTimeout bounds each store call (default DefaultStoreTimeout).
func WithLimiterTimeout(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) { r.timeout = d }
}

// WithLimiterMeter sets the meter notified of throttled checks.
func WithLimiterMeter(m Meter) RateLimiterOption {
	return func(r *RateLimiter) { r.meter = m }
}

// WithLimiterLogger sets the logger.
func WithLimiterLogger(l *slog.Logger) RateLimiterOption {
	return func(r *RateLimiter) { r.logger = l }
}

// NewRateLimiter creates a RateLimiter. A nil store never throttles.
func NewRateLimiter(store Store, opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		store:     store,
		threshold: defaultThrottleThreshold,
		window:    defaultThrottleWindow,
		timeout:   DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = nopStore{}
	}
	if r.meter == nil {
		r.meter = noopMeter{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// ShouldThrottle reports whether the pair's recent error count exceeds the
// threshold. It fails open: a read error means not throttled.
func (r *RateLimiter) ShouldThrottle(ctx context.Context, userID, agentID string) bool {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	key := RateLimitKey(userID, agentID)
	var count int64
	found, err := r.store.GetJSON(ctx, key, &count)
	if err != nil {
		r.logger.Warn("recovery: rate limit read failed", "key", key, "error", err)
		return false
	}
	if !found || count <= r.threshold {
		return false
	}

	r.meter.OnThrottle(ThrottleEvent{UserID: userID, AgentID: agentID, Count: count})
	return true
}

// IncrementErrorCount records one more error for the pair. Failures are logged
// and swallowed.
func (r *RateLimiter) IncrementErrorCount(ctx context.Context, userID, agentID string) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	key := RateLimitKey(userID, agentID)
	if _, err := r.store.IncrementWithExpiry(ctx, key, r.window); err != nil {
		r.logger.Warn("recovery: rate limit increment failed", "key", key, "error", err)
	}
}

func (r *RateLimiter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}
