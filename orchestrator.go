package inferrecovery

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	errorContextTTL = 24 * time.Hour
	metricsTTL      = 24 * time.Hour
	retryCountTTL   = time.Hour

	// DefaultStoreTimeout bounds every store call made while deciding.
	DefaultStoreTimeout = 2 * time.Second
)

// Orchestrator decides how to recover from failed operations. It never retries
// or sleeps itself. Create one per process and share it; it is safe for
// concurrent use.
type Orchestrator struct {
	store        Store
	table        PolicyTable
	classifier   *Classifier
	backoff      Backoff
	meter        Meter
	logger       *slog.Logger
	storeTimeout time.Duration
	now          func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicyTable sets the policy table.
func WithPolicyTable(t PolicyTable) Option {
	return func(o *Orchestrator) { o.table = t }
}

// WithClassifier sets the error classifier.
func WithClassifier(c *Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithBackoff sets the delay calculator.
func WithBackoff(b Backoff) Option {
	return func(o *Orchestrator) { o.backoff = b }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(o *Orchestrator) { o.meter = m }
}

// WithLogger sets the logger used for swallowed store failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithStoreTimeout bounds each store call. Zero disables the bound.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.storeTimeout = d }
}

// WithClock sets the time source used for timestamps and metric days.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator backed by store. A nil store runs in memory-only
// mode: decisions are unchanged and no telemetry is persisted.
// DefaultPolicyTable, the default classifier and a no-op meter are used unless
// overridden via options.
func New(store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		table:        DefaultPolicyTable(),
		storeTimeout: DefaultStoreTimeout,
	}

	for _, opt := range opts {
		opt(o)
	}

	// Apply defaults after options.
	if o.store == nil {
		o.store = nopStore{}
	}
	if o.classifier == nil {
		o.classifier = defaultClassifier
	}
	if o.meter == nil {
		o.meter = noopMeter{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}

	return o
}

// Classify returns the ErrorKind of err.
func (o *Orchestrator) Classify(err error) ErrorKind {
	return o.classifier.Classify(err)
}

// Policy returns the policy applied to kind.
func (o *Orchestrator) Policy(kind ErrorKind) RecoveryPolicy {
	return o.table.Lookup(kind)
}

// HandleError decides how the caller should recover from err, raised by
// attempt number attempt (starting at 1) of operationID. Store failures are
// logged and never change the decision.
func (o *Orchestrator) HandleError(ctx context.Context, err error, operationID, userID, agentID string, attempt int) Decision {
	kind := o.classifier.Classify(err)

	policy, ok := o.table.get(kind)
	if !ok {
		d := Decision{
			Escalate:    true,
			UserMessage: rawMessage(err),
			Kind:        kind,
		}
		o.record(d, err, operationID, userID, agentID, attempt)
		return d
	}

	retryable := policy.Retry.Retryable(kind)
	now := o.now()

	o.persistContext(ctx, ErrorContext{
		ID:               uuid.New().String(),
		OperationID:      operationID,
		UserID:           userID,
		AgentID:          agentID,
		AttemptNumber:    attempt,
		TimestampMs:      now.UnixMilli(),
		ErrorKind:        kind,
		Retryable:        retryable,
		CreditsPreserved: policy.Fallback.PreserveCredits,
	})
	o.countMetric(ctx, kind, now)

	d := o.decide(ctx, kind, policy, retryable, operationID, attempt)
	o.record(d, err, operationID, userID, agentID, attempt)
	return d
}

func (o *Orchestrator) decide(ctx context.Context, kind ErrorKind, policy RecoveryPolicy, retryable bool, operationID string, attempt int) Decision {
	switch {
	case retryable && attempt <= policy.Retry.MaxRetries:
		delay := o.backoff.ComputeDelay(policy.Retry, attempt)
		o.storeSet(ctx, RetryCountKey(operationID), attempt, retryCountTTL)
		return Decision{
			ShouldRetry:      true,
			DelayMs:          Int64Ptr(delay),
			UserMessage:      retryMessage(policy, delay),
			CreditsPreserved: true,
			Kind:             kind,
		}

	case policy.Fallback.Enabled && attempt <= policy.Fallback.EscalateAfterAttempts:
		msg := policy.Messages.Fallback
		if msg == "" {
			msg = policy.Fallback.FallbackMessage
		}
		return Decision{
			ShouldFallback:   true,
			UserMessage:      nonEmpty(msg, policy.Messages.Immediate),
			CreditsPreserved: policy.Fallback.PreserveCredits,
			Kind:             kind,
		}

	default:
		return Decision{
			Escalate:         true,
			UserMessage:      nonEmpty(policy.Messages.Escalation, policy.Messages.Immediate),
			CreditsPreserved: policy.Fallback.PreserveCredits,
			Kind:             kind,
		}
	}
}

func (o *Orchestrator) persistContext(ctx context.Context, ec ErrorContext) {
	o.storeSet(ctx, ErrorContextKey(ec.OperationID), ec, errorContextTTL)
}

func (o *Orchestrator) countMetric(ctx context.Context, kind ErrorKind, now time.Time) {
	ctx, cancel := o.bound(context.WithoutCancel(ctx))
	defer cancel()

	key := MetricsKey(kind, now)
	if _, err := o.store.IncrementWithExpiry(ctx, key, metricsTTL); err != nil {
		o.logger.Warn("recovery: increment metric failed", "key", key, "error", err)
	}
}

func (o *Orchestrator) storeSet(ctx context.Context, key string, value any, ttl time.Duration) {
	ctx, cancel := o.bound(context.WithoutCancel(ctx))
	defer cancel()

	if err := o.store.SetWithExpiry(ctx, key, value, ttl); err != nil {
		o.logger.Warn("recovery: store write failed", "key", key, "error", err)
	}
}

// bound limits ctx by the store timeout. Writes detach from the caller's
// cancellation first, so a failure of a cancelled request is still recorded.
func (o *Orchestrator) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.storeTimeout)
}

func (o *Orchestrator) record(d Decision, err error, operationID, userID, agentID string, attempt int) {
	o.meter.OnDecision(DecisionEvent{
		OperationID:      operationID,
		UserID:           userID,
		AgentID:          agentID,
		Kind:             d.Kind,
		Action:           d.Action(),
		Attempt:          attempt,
		Delay:            d.Delay(),
		CreditsPreserved: d.CreditsPreserved,
		Err:              err,
	})
}

func retryMessage(policy RecoveryPolicy, delayMs int64) string {
	seconds := int64(math.Ceil(float64(delayMs) / 1000))
	msg := nonEmpty(policy.Messages.Retry, policy.Messages.Immediate)
	return strings.ReplaceAll(msg, "{delay}", strconv.FormatInt(seconds, 10))
}

func rawMessage(err error) string {
	if err == nil || err.Error() == "" {
		return "An unknown error occurred."
	}
	return err.Error()
}

func nonEmpty(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	if fallback != "" {
		return fallback
	}
	return "An unknown error occurred."
}

// Sleep waits for the decision's retry delay or until ctx is done. It returns
// ctx.Err() when cancelled and nil otherwise, including for non-retry decisions.
func Sleep(ctx context.Context, d Decision) error {
	delay := d.Delay()
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
