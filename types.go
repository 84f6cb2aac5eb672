package inferrecovery

import (
	"fmt"
	"time"
)

// ErrorKind classifies a failure into one of a closed set of categories.
type ErrorKind string

const (
	// Provider failures.
	KindRateLimitExceeded ErrorKind = "rate_limit_exceeded"
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindInvalidAPIKey     ErrorKind = "invalid_api_key"
	KindModelUnavailable  ErrorKind = "model_unavailable"
	KindContentFiltered   ErrorKind = "content_filtered"

	// Transport failures.
	KindNetworkError       ErrorKind = "network_error"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindTimeout            ErrorKind = "timeout"

	// Input failures.
	KindInvalidInput      ErrorKind = "invalid_input"
	KindPromptTooLong     ErrorKind = "prompt_too_long"
	KindUnsupportedFormat ErrorKind = "unsupported_format"

	// Storage failures.
	KindCacheError    ErrorKind = "cache_error"
	KindDatabaseError ErrorKind = "database_error"

	// Entitlement failures.
	KindUserLimitExceeded    ErrorKind = "user_limit_exceeded"
	KindMonthlyQuotaExceeded ErrorKind = "monthly_quota_exceeded"

	KindUnknown ErrorKind = "unknown_error"
)

var allKinds = []ErrorKind{
	KindRateLimitExceeded,
	KindQuotaExceeded,
	KindInvalidAPIKey,
	KindModelUnavailable,
	KindContentFiltered,
	KindNetworkError,
	KindServiceUnavailable,
	KindTimeout,
	KindInvalidInput,
	KindPromptTooLong,
	KindUnsupportedFormat,
	KindCacheError,
	KindDatabaseError,
	KindUserLimitExceeded,
	KindMonthlyQuotaExceeded,
	KindUnknown,
}

// AllErrorKinds returns every ErrorKind in declaration order.
func AllErrorKinds() []ErrorKind {
	out := make([]ErrorKind, len(allKinds))
	copy(out, allKinds)
	return out
}

func (k ErrorKind) String() string { return string(k) }

// Valid reports whether k is one of the declared kinds.
func (k ErrorKind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseErrorKind converts a configuration string into an ErrorKind.
func ParseErrorKind(s string) (ErrorKind, error) {
	k := ErrorKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("inferrecovery: unknown error kind %q", s)
	}
	return k, nil
}

// BackoffKind selects how a retry delay grows with the attempt number.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
	BackoffFixed       BackoffKind = "fixed"
)

// RetryStrategy describes when and how often a failure is retried.
// MaxDelayMs must be >= BaseDelayMs; Config.Validate enforces it for loaded policies.
type RetryStrategy struct {
	MaxRetries     int
	BaseDelayMs    int64
	MaxDelayMs     int64
	Backoff        BackoffKind
	Jitter         bool
	RetryableKinds []ErrorKind
}

// Retryable reports whether kind is in the strategy's retryable set.
func (s RetryStrategy) Retryable(kind ErrorKind) bool {
	for _, k := range s.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// FallbackStrategy describes the degraded continuation used when retries do not apply.
type FallbackStrategy struct {
	Enabled               bool
	FallbackMessage       string
	PreserveCredits       bool
	NotifyUser            bool
	EscalateAfterAttempts int
}

// Messages holds the user-facing templates of a policy.
// Retry may contain the {delay} placeholder, replaced by whole seconds.
type Messages struct {
	Immediate  string
	Retry      string
	Fallback   string
	Escalation string
}

// RecoveryPolicy is the retry, fallback and messaging rules for one ErrorKind.
type RecoveryPolicy struct {
	Retry    RetryStrategy
	Fallback FallbackStrategy
	Messages Messages
}

// ErrorContext is the advisory record written for every failed attempt.
type ErrorContext struct {
	ID               string    `json:"id"`
	OperationID      string    `json:"operation_id"`
	UserID           string    `json:"user_id"`
	AgentID          string    `json:"agent_id"`
	AttemptNumber    int       `json:"attempt_number"`
	TimestampMs      int64     `json:"timestamp_ms"`
	ErrorKind        ErrorKind `json:"error_kind"`
	Retryable        bool      `json:"retryable"`
	CreditsPreserved bool      `json:"credits_preserved"`
}

// Action is the single outcome carried by a Decision.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionFallback Action = "fallback"
	ActionEscalate Action = "escalate"
)

// Decision tells the caller how to proceed after a failed attempt.
// Exactly one of ShouldRetry, ShouldFallback and Escalate is true.
type Decision struct {
	Success          bool
	ShouldRetry      bool
	ShouldFallback   bool
	DelayMs          *int64 // set only when ShouldRetry
	UserMessage      string
	CreditsPreserved bool
	Escalate         bool
	Kind             ErrorKind
}

// Action returns the outcome selected by the decision.
func (d Decision) Action() Action {
	switch {
	case d.ShouldRetry:
		return ActionRetry
	case d.ShouldFallback:
		return ActionFallback
	default:
		return ActionEscalate
	}
}

// Delay returns the retry delay, or zero when the decision is not a retry.
func (d Decision) Delay() time.Duration {
	if !d.ShouldRetry || d.DelayMs == nil {
		return 0
	}
	return time.Duration(*d.DelayMs) * time.Millisecond
}

// Int64Ptr returns a pointer to the given int64.
func Int64Ptr(v int64) *int64 { return &v }
